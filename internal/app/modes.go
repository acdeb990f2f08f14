package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/server"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/server/handler"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/server/ws"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/service"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/store/memory"
)

// ErrRejected is returned by the one-shot modes when the result carries
// validation errors. The result itself is still printed.
var ErrRejected = errors.New("resolution rejected")

// ServerMode serves the HTTP API, and the WebSocket hub when a signal bus is
// available, until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	logger := a.logger.With(slog.String("mode", "server"))
	svc := deps.NewResolutionService(a.cfg, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Health, a.logger),
		Resolutions: handler.NewResolutionHandler(svc, a.logger),
		Audit:       handler.NewAuditHandler(deps.Audit, a.logger),
	}
	serverDeps := server.Deps{Limiter: deps.RateLimiter}

	if deps.Metrics != nil {
		handlers.Metrics = deps.Metrics.Handler()
		serverDeps.Observer = deps.Metrics
	}
	if deps.SignalBus != nil {
		handlers.Events = handler.NewEventsHandler(deps.SignalBus, service.ResolutionStream, a.logger)

		hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Channels:       []string{service.ResolutionChannel},
			Mode:           a.cfg.Mode,
			StartedAt:      time.Now().UTC(),
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		})
		serverDeps.Hub = hub
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		logger.InfoContext(ctx, "app: redis disabled, websocket hub and event replay are off")
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  time.Minute,
	}, handlers, serverDeps, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// ResolveMode commits one resolution from the command-line arguments and
// prints the result.
func (a *App) ResolveMode(ctx context.Context, deps *Dependencies) error {
	req := service.ResolveRequest{
		MarketID:         a.args.MarketID,
		WinningOutcomeID: a.args.OutcomeID,
	}
	if a.args.Actual != "" {
		v, err := decimal.NewFromString(a.args.Actual)
		if err != nil {
			return fmt.Errorf("app: parse actual value %q: %w", a.args.Actual, err)
		}
		req.ActualValue = &v
	}

	result, err := deps.NewResolutionService(a.cfg, a.logger).Resolve(ctx, req)
	if err != nil {
		return err
	}
	return a.printResult(result)
}

// PreviewMode computes one resolution without writing it and prints the
// result.
func (a *App) PreviewMode(ctx context.Context, deps *Dependencies) error {
	result, err := deps.NewResolutionService(a.cfg, a.logger).Preview(ctx, a.args.MarketID, a.args.OutcomeID)
	if err != nil {
		return err
	}
	return a.printResult(result)
}

// MigrateMode applies pending database migrations.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	if deps.Postgres == nil {
		return fmt.Errorf("app: migrate needs the postgres store driver")
	}
	applied, err := deps.Postgres.RunMigrations(ctx)
	if err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	a.logger.InfoContext(ctx, "app: migrations complete",
		slog.Int("applied", len(applied)),
		slog.Any("files", applied),
	)
	return nil
}

// SeedMode imports market snapshots from a fixtures file into PostgreSQL.
func (a *App) SeedMode(ctx context.Context, deps *Dependencies) error {
	if deps.PostgresStore == nil {
		return fmt.Errorf("app: seed needs the postgres store driver")
	}
	path := a.args.FixturesPath
	if path == "" {
		path = a.cfg.Memory.FixturesPath
	}
	if path == "" {
		return fmt.Errorf("app: seed needs a fixtures file")
	}

	snaps, err := memory.ReadFixtures(path)
	if err != nil {
		return fmt.Errorf("app: seed: %w", err)
	}
	for _, snap := range snaps {
		if err := deps.PostgresStore.ImportSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("app: seed market %s: %w", snap.Market.ID, err)
		}
	}
	a.logger.InfoContext(ctx, "app: seed complete",
		slog.String("path", path),
		slog.Int("markets", len(snaps)),
	)
	return nil
}

func (a *App) printResult(result *domain.ResolutionResult) error {
	enc := json.NewEncoder(a.args.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("app: write result: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("app: market %s: %w", result.MarketID, ErrRejected)
	}
	return nil
}
