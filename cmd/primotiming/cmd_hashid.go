package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/y0f/primotiming/internal/primo"
)

func newHashIDCmd() *cobra.Command {
	var (
		hostSuffix string
		parts      struct{ prefix, inst, vid, scope, tab string }
	)
	cmd := &cobra.Command{
		Use:   "hash-id [url]",
		Short: "Print the target id for a search page URL or its parts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				t, err := primo.ParseUIURL(args[0], hostSuffix)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.ID)
				return nil
			}
			if parts.prefix == "" || parts.vid == "" {
				return fmt.Errorf("give a URL or at least --prefix and --vid")
			}
			fmt.Fprintln(cmd.OutOrStdout(), primo.TargetID(parts.prefix, parts.inst, parts.vid, parts.scope, parts.tab))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&hostSuffix, "host-suffix", primo.DefaultHostSuffix, "hostname suffix a URL must carry")
	f.StringVar(&parts.prefix, "prefix", "", "domain prefix")
	f.StringVar(&parts.inst, "inst", "", "institution code")
	f.StringVar(&parts.vid, "vid", "", "view id")
	f.StringVar(&parts.scope, "scope", "", "search scope")
	f.StringVar(&parts.tab, "tab", "", "tab")
	return cmd
}
