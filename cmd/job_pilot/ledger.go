package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/job-pilot/internal/observability"
	"github.com/jonathan/job-pilot/internal/pipeline"
)

var blacklistCommand = &cobra.Command{
	Use:   "blacklist",
	Short: "Manage companies that are never applied to",
}

var blacklistListCommand = &cobra.Command{
	Use:   "list",
	Short: "List blacklisted companies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		l, err := pipeline.OpenLedger(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer l.Close()
		observability.NewPrinter(os.Stdout).PrintBlacklist(l.Blacklist())
		return nil
	},
}

var blacklistAddCommand = &cobra.Command{
	Use:   "add <company>...",
	Short: "Blacklist one or more companies",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		l, err := pipeline.OpenLedger(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer l.Close()
		for _, company := range args {
			company = strings.TrimSpace(company)
			if company == "" {
				continue
			}
			if err := l.AddToBlacklist(cmd.Context(), company); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Blacklisted %s\n", company)
		}
		return nil
	},
}

var blacklistRemoveCommand = &cobra.Command{
	Use:   "remove <company>...",
	Short: "Remove companies from the blacklist",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		l, err := pipeline.OpenLedger(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer l.Close()
		for _, company := range args {
			removed, err := l.RemoveFromBlacklist(cmd.Context(), company)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", company)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not blacklisted\n", company)
			}
		}
		return nil
	},
}

var historyLimit int

var historyCommand = &cobra.Command{
	Use:   "history",
	Short: "Show recorded submissions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		l, err := pipeline.OpenLedger(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer l.Close()
		observability.NewPrinter(os.Stdout).PrintSubmissions(l.Records(), historyLimit)
		return nil
	},
}

func init() {
	blacklistCommand.AddCommand(blacklistListCommand, blacklistAddCommand, blacklistRemoveCommand)
	historyCommand.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of submissions to show (0 for all)")
	rootCmd.AddCommand(blacklistCommand, historyCommand)
}
