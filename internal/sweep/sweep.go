// Package sweep runs the periodic maintenance pass: force-unregister
// connections the transport reports dead, clear their live-session
// roster entries, prune empty rosters, and expire idle rate-limit
// windows.
package sweep

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"coursepulse/internal/config"
	"coursepulse/internal/dispatch"
	"coursepulse/internal/live"
	"coursepulse/internal/registry"
)

type Sweeper struct {
	registry *registry.Registry
	live     *live.Coordinator
	limiter  *dispatch.RateLimiter
	cfg      config.SweepConfig
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(reg *registry.Registry, liveCoord *live.Coordinator, limiter *dispatch.RateLimiter, cfg config.SweepConfig, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		registry: reg,
		live:     liveCoord,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger.Named("sweep"),
	}
}

// Start launches the ticker loop. Safe to call once.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the loop and waits for the in-flight pass to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pass()
		case <-ctx.Done():
			return
		}
	}
}

// pass is one full maintenance sweep. The registry removal happens
// first so the roster cleanup sees the connections already gone from
// presence.
func (s *Sweeper) pass() {
	stale := s.registry.Sweep(s.cfg.IdleThreshold)
	for _, link := range stale {
		s.live.DropConnection(link)
		_ = link.Close()
	}

	pruned := s.live.PruneEmpty()
	s.limiter.Cleanup()

	if len(stale) > 0 || pruned > 0 {
		s.logger.Info("maintenance pass complete",
			zap.Int("stale_connections", len(stale)),
			zap.Int("pruned_rosters", pruned))
	}
}
