// Package cmd defines and implements the CLI commands for the sitecrawler
// executable.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coreindex/sitecrawler/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitecrawler",
		Short: "A site-scoped, headless-browser-driven web crawler.",
		Long: `sitecrawler walks a frontier of URLs rooted at one or more starting
pages, extracting page records with a headless browser and streaming them
to a local file and/or a search backend, terminating once the frontier
empties.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (optional; flags and env vars still apply without one)")
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	fallback, err := logging.New(true)
	if err != nil {
		panic(fmt.Sprintf("build fallback logger: %v", err))
	}
	if err := newRootCmd().Execute(); err != nil {
		fallback.Fatal("command execution failed", zap.Error(err))
	}
}
