// Package app wires configuration into the running service: gateway, stores,
// risk engine, reverse flow, manager, scheduler and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"guardian/internal/config"
	"guardian/internal/logger"
	"guardian/internal/manager"
	"guardian/internal/scheduler"
	"guardian/internal/store/cooldown"
	"guardian/internal/store/decisionlog"
	guardhttp "guardian/internal/transport/http"
)

// App owns the assembled service and its long-running parts.
type App struct {
	cfg *config.Config

	mgr       *manager.Manager
	http      *guardhttp.Server
	cooldowns *cooldown.Store
	decisions *decisionlog.Store

	tickInterval   time.Duration
	runImmediately bool
}

// NewApp builds the application from configuration without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return build(cfg)
}

// Run starts the tick loop and HTTP server and blocks until ctx ends or one
// of them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)

	if a.http != nil {
		group.Go(func() error {
			logger.Infof("HTTP API listening on %s", a.http.Addr())
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		sched := scheduler.NewIntervalScheduler(ctx, a.tickInterval)
		sched.RunImmediately = a.runImmediately
		sched.Start(a.runTick(ctx))
		return nil
	})

	return group.Wait()
}

func (a *App) runTick(ctx context.Context) func() {
	return func() {
		report, err := a.mgr.ManageTick(ctx)
		switch {
		case errors.Is(err, manager.ErrTickInProgress):
			logger.Warnf("previous tick still running, skipping this slot")
		case err != nil:
			logger.Errorf("manage tick failed: %v", err)
		default:
			for _, res := range report.Results {
				if res.Err != "" {
					logger.Warnf("tick %s: %s", res.Symbol, res.Err)
				}
			}
		}
	}
}

// Manager exposes the orchestrator (for tests and replay harnesses).
func (a *App) Manager() *manager.Manager {
	if a == nil {
		return nil
	}
	return a.mgr
}

// Close releases the durable stores.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cooldowns != nil {
		if err := a.cooldowns.Close(); err != nil {
			logger.Warnf("closing cooldown store: %v", err)
		}
	}
	if a.decisions != nil {
		if err := a.decisions.Close(); err != nil {
			logger.Warnf("closing decision journal: %v", err)
		}
	}
}
