package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/y0f/primotiming/internal/keywords"
	"github.com/y0f/primotiming/internal/storage"
)

func newKeywordsCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keywords",
		Short: "Manage the search keywords used as test input",
	}
	cmd.AddCommand(newKeywordsLoadCmd(env), newKeywordsCountCmd(env))
	return cmd
}

func newKeywordsLoadCmd(env *cliEnv) *cobra.Command {
	var (
		column string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "load [file]",
		Short: "Load keywords from a CSV export of top searches",
		Long: `Reads one column of a CSV file and adds every distinct, non-empty value as
a keyword. Keywords already in the store are skipped. Without a file
argument keywords.file from the configuration is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := env.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			path := cfg.Keywords.File
			if len(args) == 1 {
				path = args[0]
			}
			if column == "" {
				column = cfg.Keywords.Column
			}

			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			inserted, err := importKeywords(cmd.Context(), store, path, column, limit, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d keywords added\n", inserted)
			return nil
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "CSV column holding the search text (default keywords.column)")
	cmd.Flags().IntVar(&limit, "limit", 0, "load at most this many keywords (0 loads all)")
	return cmd
}

func newKeywordsCountCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print how many keywords are stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := env.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.CountKeywords(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func importKeywords(ctx context.Context, store storage.Store, path, column string, limit int, logger *slog.Logger) (int64, error) {
	texts, err := keywords.LoadFile(path, column, limit)
	if err != nil {
		return 0, err
	}
	inserted, err := store.InsertKeywords(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("store keywords: %w", err)
	}
	logger.Info("keywords loaded", "file", path, "read", len(texts), "inserted", inserted)
	return inserted, nil
}
