package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/y0f/primotiming/internal/primo"
	"github.com/y0f/primotiming/internal/storage"
)

func newRegisterCmd(env *cliEnv) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "register [url...]",
		Short: "Register Primo VE search page URLs as targets",
		Long: `Parses each Primo VE search page URL and stores the target it identifies.
URLs may be given as arguments or read from a file with one URL per line;
blank lines and lines starting with # are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := append([]string(nil), args...)
			if file != "" {
				fromFile, err := readURLFile(file)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				return fmt.Errorf("no URLs given")
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

			return registerURLs(cmd.Context(), cmd.OutOrStdout(), store, cfg.Primo.HostSuffix, urls)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read URLs from this file, one per line")
	return cmd
}

func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return urls, nil
}

// registerURLs stores every valid URL and reports each outcome. It fails
// when at least one URL was rejected.
func registerURLs(ctx context.Context, out io.Writer, store storage.Store, hostSuffix string, urls []string) error {
	var rejected int
	for _, raw := range urls {
		t, err := primo.ParseUIURL(raw, hostSuffix)
		if err != nil {
			rejected++
			fmt.Fprintf(out, "invalid   %s (%v)\n", raw, err)
			continue
		}
		created, err := store.UpsertTarget(ctx, t)
		if err != nil {
			return fmt.Errorf("store target %s: %w", t.ID, err)
		}
		state := "exists "
		if created {
			state = "added  "
		}
		fmt.Fprintf(out, "%s   %s %s/%s\n", state, t.ID[:10], t.DomainPrefix, t.Scope)
	}
	if rejected > 0 {
		return fmt.Errorf("%d of %d URLs rejected", rejected, len(urls))
	}
	return nil
}
