package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/y0f/primotiming/internal/checker"
	"github.com/y0f/primotiming/internal/config"
	"github.com/y0f/primotiming/internal/primo"
	"github.com/y0f/primotiming/internal/storage"
)

// cliEnv carries state shared by subcommands once flags are parsed.
type cliEnv struct {
	configPath *string
}

func (e *cliEnv) load(stderr io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadOrDefaults(*e.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, setupLogger(cfg.Logging, stderr), nil
}

func setupLogger(cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		store, err := storage.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		logger.Info("database opened", "driver", "postgres")
		return store, nil
	default:
		store, err := storage.NewSQLiteStore(cfg.Database.Path, cfg.Database.MaxReadConns)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.Info("database opened", "driver", "sqlite", "path", cfg.Database.Path)
		return store, nil
	}
}

func searchParams(cfg config.PrimoConfig) []primo.Param {
	out := make([]primo.Param, len(cfg.Params))
	for i, p := range cfg.Params {
		out[i] = primo.Param{Key: p.Key, FromTarget: p.FromTarget()}
		if !out[i].FromTarget {
			out[i].Value = *p.Value
		}
	}
	return out
}

func newMeasurer(cfg *config.Config) (*checker.HTTPClient, error) {
	return checker.NewHTTPClient(checker.Options{
		Scheme:          cfg.Primo.Scheme,
		Domain:          cfg.Primo.Domain,
		Params:          searchParams(cfg.Primo),
		Timeout:         cfg.Tracker.RequestTimeout,
		ProxyURL:        cfg.Tracker.ProxyURL,
		RateLimitPerSec: cfg.Tracker.RateLimitPerSec,
		AllowPrivate:    cfg.Tracker.AllowPrivate,
	})
}
