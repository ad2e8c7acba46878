package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rekindle",
		Short: "rekindle - supervised lifecycle for composed systems",
		Long: `rekindle supervises a composed system of named components, replacing
the running system atomically on every reset and degrading gracefully
on partial failure.

Features:
  - Transactional reset: construct, stop previous, start next, roll back on failure
  - Observable status: last transition outcome, queryable and streamable
  - Filesystem watching that triggers resets on configuration change
  - Transition history persisted to SQLite`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
