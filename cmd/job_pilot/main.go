// Package main provides the job_pilot command line: run seekers, serve the
// control API and manage the submission ledger.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	debugFlag  bool
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:           "job_pilot",
	Short:         "Automated job application assistant",
	Long:          "job_pilot searches job boards in a real browser, asks a language model whether each posting fits your profile and greets the recruiter when it does.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml or config.json (default: <user config dir>/JobPilot/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Append log lines to this file")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
