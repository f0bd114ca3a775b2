package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"coursepulse/internal/app"
	"coursepulse/internal/config"
	"coursepulse/internal/event"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "coursepulse: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var logger *zap.Logger
	if cfg.Production() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// The account service supplies real implementations in production;
	// the standalone binary runs with the development stubs below.
	engine, err := app.New(cfg, logger, devAuthenticator{}, devCourseAccess{})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return engine.Stop(shutdownCtx)
}

// devAuthenticator accepts "userID:role" bearer tokens. Development
// only.
type devAuthenticator struct{}

func (devAuthenticator) Authenticate(_ context.Context, token string) (event.Identity, error) {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 || parts[0] == "" || !event.ValidRole(parts[1]) {
		return event.Identity{}, errors.New("malformed development token")
	}
	return event.Identity{UserID: parts[0], Role: parts[1], IsActive: true}, nil
}

// devCourseAccess allows every join. Development only.
type devCourseAccess struct{}

func (devCourseAccess) CanAccessCourse(_ context.Context, _, _, _ string) (bool, error) {
	return true, nil
}
