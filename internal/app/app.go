// Package app assembles the relay's services and runs them.
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/Olgitta/kirk-ws/internal/config"
	"github.com/Olgitta/kirk-ws/internal/patterns"
	"github.com/Olgitta/kirk-ws/internal/relay"
	"github.com/Olgitta/kirk-ws/internal/server"
)

// App is the assembled relay.
type App struct {
	injector do.Injector
	logger   *slog.Logger

	mu      sync.Mutex
	closers []func() error
}

// New builds the dependency container. Nothing connects until a service is
// first used.
func New(deps Dependencies) (*App, error) {
	if deps.Config == nil {
		return nil, errors.New("app: config is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	a := &App{injector: do.New(), logger: deps.Logger}
	register(a.injector, deps, a.track)
	return a, nil
}

// Injector exposes the container.
func (a *App) Injector() do.Injector {
	return a.injector
}

// Relay returns the relay instance.
func (a *App) Relay() (*relay.Relay, error) {
	return do.Invoke[*relay.Relay](a.injector)
}

// Server returns the HTTP server.
func (a *App) Server() (*server.Server, error) {
	return do.Invoke[*server.Server](a.injector)
}

// Bus returns the bus connections.
func (a *App) Bus() (*Bus, error) {
	return do.Invoke[*Bus](a.injector)
}

// Patterns returns the pattern table.
func (a *App) Patterns() (*patterns.Table, error) {
	return do.Invoke[*patterns.Table](a.injector)
}

// Run subscribes the relay and serves HTTP until ctx is done, then shuts
// everything down. Subscribing and serving start together so clients can
// connect while subscriptions are still being confirmed.
func (a *App) Run(ctx context.Context) error {
	cfg := do.MustInvoke[*config.Config](a.injector)
	r, err := a.Relay()
	if err != nil {
		return err
	}
	srv, err := a.Server()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx, cfg.Addr)
	})
	g.Go(func() error {
		_, err := r.Start(gctx)
		return err
	})

	err = g.Wait()
	return errors.Join(err, a.Close())
}

func (a *App) track(closer func() error) {
	a.mu.Lock()
	a.closers = append(a.closers, closer)
	a.mu.Unlock()
}

// Close releases the bus connections and flushes traces, in the reverse
// order they were acquired. Services that were never built are skipped.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i]())
	}
	a.logger.Info("Relay stopped")
	return errors.Join(errs...)
}
