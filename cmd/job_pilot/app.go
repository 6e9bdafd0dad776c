package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jonathan/job-pilot/internal/config"
	"github.com/jonathan/job-pilot/internal/observability"
)

// loadConfig reads the config file and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("debug") {
		cfg.Log.Debug = debugFlag
	}
	if cmd.Flags().Changed("log-file") {
		cfg.Log.File = logFile
	}
	return cfg, nil
}

// setupLogging builds the process logger from the log section.
func setupLogging(cfg *config.Config, out io.Writer) (*observability.Logging, error) {
	return observability.NewLogger(observability.LogConfig{
		Debug:       cfg.Log.Debug,
		File:        cfg.Log.File,
		Out:         out,
		RecentLines: cfg.Log.RecentLines,
	})
}
