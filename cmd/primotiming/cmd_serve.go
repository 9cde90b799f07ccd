package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/y0f/primotiming/internal/config"
	"github.com/y0f/primotiming/internal/server"
	"github.com/y0f/primotiming/internal/storage"
	"github.com/y0f/primotiming/internal/tracker"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(env *cliEnv) *cobra.Command {
	var (
		noTracker    bool
		loadKeywords bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the measurement loop",
		Long: `Starts the HTTP API and, unless --no-tracker is given, the measurement loop
in the same process. The process stops on SIGINT or SIGTERM after the current
cycle has persisted what it measured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := env.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger, !noTracker, loadKeywords)
		},
	}
	cmd.Flags().BoolVar(&noTracker, "no-tracker", false, "serve the API without running the measurement loop")
	cmd.Flags().BoolVar(&loadKeywords, "keywords", false, "load keywords.file into the store before starting")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, withTracker, loadKeywords bool) error {
	logger.Info("starting primotiming", "version", version, "listen", cfg.Server.Listen)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if loadKeywords {
		if _, err := importKeywords(ctx, store, cfg.Keywords.File, cfg.Keywords.Column, 0, logger); err != nil {
			return err
		}
	}

	hub := tracker.NewHub(32)
	var trk *tracker.Tracker
	if withTracker {
		trk, err = newTracker(cfg, store, hub, logger)
		if err != nil {
			return err
		}
		if err := trk.Preflight(ctx); err != nil {
			return err
		}
	}

	var srv *server.Server
	if trk != nil {
		srv = server.NewServer(cfg, store, trk, hub, logger, version)
	} else {
		srv = server.NewServer(cfg, store, nil, hub, logger, version)
	}
	httpServer := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server", "listen", cfg.Server.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
		return nil
	})

	retention := storage.NewRetentionWorker(store, cfg.Database.RetentionDays, cfg.Database.RetentionPeriod, logger)
	g.Go(func() error { return retention.Run(gctx) })

	if trk != nil {
		g.Go(func() error { return ignoreCanceled(trk.Run(gctx)) })
	}

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func newTracker(cfg *config.Config, store storage.Store, hub *tracker.Hub, logger *slog.Logger) (*tracker.Tracker, error) {
	measurer, err := newMeasurer(cfg)
	if err != nil {
		return nil, fmt.Errorf("measurement client: %w", err)
	}
	var opts []tracker.Option
	if hub != nil {
		opts = append(opts, tracker.WithPublisher(hub))
	}
	return tracker.New(tracker.Config{
		DelayMin: cfg.Tracker.DelayMin,
		DelayMax: cfg.Tracker.DelayMax,
	}, store, measurer, logger, opts...)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
