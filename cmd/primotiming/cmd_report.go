package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/y0f/primotiming/internal/analytics"
	"github.com/y0f/primotiming/internal/report"
	"github.com/y0f/primotiming/internal/storage"
)

func newReportCmd(env *cliEnv) *cobra.Command {
	var (
		hours        int
		format       string
		target       string
		measurements bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print latency statistics for the recent window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if hours < 1 {
				return fmt.Errorf("--hours must be positive")
			}
			mode, err := report.ParseMode(format)
			if err != nil {
				return err
			}

			cfg, logger, err := env.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			to := time.Now().UTC()
			from := to.Add(-time.Duration(hours) * time.Hour)
			rows, err := store.ListMeasurements(cmd.Context(), storage.MeasurementFilter{
				TargetID: target,
				From:     from,
				To:       to,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if measurements {
				return report.Measurements(out, rows, mode)
			}
			return report.Summaries(out, analytics.Summarize(rows), mode)
		},
	}
	f := cmd.Flags()
	f.IntVar(&hours, "hours", 24, "look-back window in hours")
	f.StringVar(&format, "format", "ascii", "output format: ascii or markdown")
	f.StringVar(&target, "target", "", "restrict to one target id")
	f.BoolVar(&measurements, "measurements", false, "list individual measurements instead of summaries")
	return cmd
}
