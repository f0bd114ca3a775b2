// Package app assembles the engine: persistence, registry, live
// coordinator, notification policy, dispatcher, transport, and the
// introspection API, wired in dependency order behind one Start/Stop
// pair.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"coursepulse/internal/api"
	"coursepulse/internal/config"
	"coursepulse/internal/dispatch"
	"coursepulse/internal/live"
	"coursepulse/internal/notify"
	"coursepulse/internal/registry"
	"coursepulse/internal/store"
	"coursepulse/internal/sweep"
	"coursepulse/internal/transport"
)

type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store    *store.Store
	registry *registry.Registry
	live     *live.Coordinator
	notifier *notify.Notifier
	hooks    *notify.Hooks
	router   *dispatch.Router
	handler  *transport.Handler
	sweeper  *sweep.Sweeper

	httpServer *http.Server
}

// New builds the full dependency graph. The authenticator and the
// course access hook stay injectable: they belong to the surrounding
// platform, not to the engine.
func New(cfg *config.Config, logger *zap.Logger, auth transport.Authenticator, access dispatch.CourseAccess) (*App, error) {
	st, err := store.New(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	reg := registry.New(logger)
	liveCoord := live.NewCoordinator(reg, logger)
	notifier := notify.NewNotifier(reg, st, st, cfg.Notify.FlushWindow, logger)
	hooks := notify.NewHooks(notifier, reg, logger)
	router := dispatch.NewRouter(reg, liveCoord, notifier, hooks, st, access, cfg.Notify.AccessCheckTimeout, logger)
	handler := transport.NewHandler(reg, router, liveCoord, notifier, st, auth, cfg.WebSocket, logger)
	sweeper := sweep.New(reg, liveCoord, router.Limiter(), cfg.Sweep, logger)

	apiServer := api.NewServer(reg, liveCoord, st, logger)
	mux := chi.NewRouter()
	apiServer.Routes(mux)
	mux.Get("/ws", handler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		registry:   reg,
		live:       liveCoord,
		notifier:   notifier,
		hooks:      hooks,
		router:     router,
		handler:    handler,
		sweeper:    sweeper,
		httpServer: httpServer,
	}, nil
}

// Hooks exposes the typed entry-point surface for platform subsystems
// embedding the engine in-process.
func (a *App) Hooks() *notify.Hooks { return a.hooks }

// Registry exposes presence queries for embedding callers.
func (a *App) Registry() *registry.Registry { return a.registry }

// Start launches the maintenance sweep and the HTTP listener. Blocks
// until the listener stops.
func (a *App) Start(ctx context.Context) error {
	a.sweeper.Start(ctx)

	a.logger.Info("engine listening",
		zap.String("addr", a.httpServer.Addr),
		zap.String("environment", a.cfg.Environment))

	if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop shuts down in reverse dependency order: stop admitting, stop
// sweeping, then close persistence.
func (a *App) Stop(ctx context.Context) error {
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	a.sweeper.Stop()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	a.logger.Info("engine stopped")
	return nil
}
