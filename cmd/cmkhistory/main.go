// Package main provides the entry point for the cmkhistory CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jlk/checkmk-llm-server-sub000/cmd/cmkhistory/commands"
)

// Set at build time with -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	global := &commands.GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "cmkhistory",
		Short: "Extract historical service data from Checkmk",
		Long: `cmkhistory reads the time series behind Checkmk service graphs.

Commands:
  fetch     Extract the history of one service
  serve     Serve the history HTTP API`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&global.ConfigFile, "config", "c", "", "config file (default ./config.yaml, ./configs, /etc/cmk-history)")
	rootCmd.PersistentFlags().BoolVarP(&global.Verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(commands.NewFetchCommand(global))
	rootCmd.AddCommand(commands.NewServeCommand(global))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cmkhistory %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
