package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newTrackCmd(env *cliEnv) *cobra.Command {
	var (
		once         bool
		loadKeywords bool
	)
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Run the measurement loop without the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := env.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

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

			trk, err := newTracker(cfg, store, nil, logger)
			if err != nil {
				return err
			}
			if err := trk.Preflight(ctx); err != nil {
				return err
			}

			if once {
				report, err := trk.RunCycle(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return ignoreCanceled(trk.Run(ctx))
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle, print its report and exit")
	cmd.Flags().BoolVar(&loadKeywords, "keywords", false, "load keywords.file into the store before starting")
	return cmd
}
