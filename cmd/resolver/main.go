// Command resolver is the entry point of the market resolution service. It
// loads configuration, validates it, wires dependencies, sets up signal
// handling, and runs the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/app"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty for defaults)")
	mode := flag.String("mode", "", "override the configured mode: server, resolve, preview, migrate, seed")
	marketID := flag.String("market", "", "market id (resolve, preview)")
	outcomeID := flag.String("outcome", "", "winning outcome id (resolve, preview)")
	actual := flag.String("actual", "", "observed value as a decimal (resolve)")
	fixtures := flag.String("fixtures", "", "snapshot JSON file to import (seed)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	// One-shot modes print their result on stdout, so logs go to stderr.
	out := os.Stdout
	if cfg.Mode != "server" {
		out = os.Stderr
	}
	logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("resolver starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settlement", config.RedactedConfig(cfg).Settlement),
	)

	application := app.New(cfg, app.Args{
		MarketID:     *marketID,
		OutcomeID:    *outcomeID,
		Actual:       *actual,
		FixturesPath: *fixtures,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()
	application.Close()

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logger.Info("resolver shut down gracefully")
	case errors.Is(err, app.ErrRejected):
		os.Exit(2)
	default:
		logger.Error("resolver exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("resolver stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
