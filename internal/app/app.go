// Package app orchestrates the lifecycle of the service components: the HTTP
// API server and the background task scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sendlater/sendlater/internal/api"
	"github.com/sendlater/sendlater/internal/worker"
)

// App runs the HTTP server and the scheduler, stopping both gracefully when
// the context is cancelled or either fails.
type App struct {
	logger    *slog.Logger
	server    *api.Server
	scheduler *worker.Scheduler
}

// New creates the application orchestrator.
func New(logger *slog.Logger, server *api.Server, scheduler *worker.Scheduler) *App {
	return &App{
		logger:    logger.With("component", "app"),
		server:    server,
		scheduler: scheduler,
	}
}

// Run starts all components and blocks until shutdown. It returns an error
// only when a component fails for a reason other than context cancellation.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler")

		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	a.logger.Info("Service running")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Service stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Service stopped gracefully")
	return nil
}
