package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "primotiming",
		Short: "Track search latency of Primo VE discovery instances",
		Long: "primotiming periodically runs one keyword search against every registered\n" +
			"Primo VE search page, records how long each search took, and serves the\n" +
			"results over a small HTTP API.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml",
		"path to configuration file (defaults are used when it does not exist)")

	env := &cliEnv{configPath: &configPath}
	root.AddCommand(
		newServeCmd(env),
		newTrackCmd(env),
		newRegisterCmd(env),
		newKeywordsCmd(env),
		newReportCmd(env),
		newHashIDCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
