// Package app provides the top-level application lifecycle of the resolver.
// It wires together the settlement store, caches, blob storage, notifications
// and metrics, and runs the configured operating mode.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/config"
)

// Args carries the command-line inputs of the one-shot modes.
type Args struct {
	MarketID  string
	OutcomeID string
	// Actual is the observed value as a decimal string; required by resolve.
	Actual string
	// FixturesPath is the snapshot file imported by seed mode.
	FixturesPath string
	// Out receives the JSON result of resolve and preview. Defaults to stdout.
	Out io.Writer
}

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	args    Args
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, args Args, logger *slog.Logger) *App {
	if args.Out == nil {
		args.Out = os.Stdout
	}
	return &App{
		cfg:    cfg,
		args:   args,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, runs the configured mode and blocks until it
// finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("store_driver", a.cfg.StoreDriver),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		return a.ServerMode(ctx, deps)
	case "resolve":
		return a.ResolveMode(ctx, deps)
	case "preview":
		return a.PreviewMode(ctx, deps)
	case "migrate":
		return a.MigrateMode(ctx, deps)
	case "seed":
		return a.SeedMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
