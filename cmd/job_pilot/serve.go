package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/job-pilot/internal/pipeline"
	"github.com/jonathan/job-pilot/internal/runner"
	"github.com/jonathan/job-pilot/internal/server"
)

var servePort int

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Start the control API",
	Long: `Starts an HTTP server to start, stop and watch seeker runs and to manage the ledger.

Endpoints:
  GET    /health                 - Health check
  POST   /auth/token             - Exchange the operator password for a bearer token
  POST   /runs/{site}            - Start a run (JSON search criteria)
  DELETE /runs/{site}            - Stop a run
  GET    /runs/{site}            - Run status
  GET    /runs/{site}/events     - Status stream (SSE)
  GET    /runs/{site}/logs       - Recent log lines
  GET    /blacklist              - List blacklisted companies
  POST   /blacklist              - Add a company
  DELETE /blacklist/{company}    - Remove a company
  GET    /submissions            - Submission history`,
	RunE: runServe,
}

func init() {
	serveCommand.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default: server.port from config, 8080)")
	rootCmd.AddCommand(serveCommand)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	jwtCfg, err := cfg.Server.JWT()
	if err != nil {
		return fmt.Errorf("server.jwt_secret (or JWT_SECRET): %w", err)
	}
	passwords, err := cfg.Server.Passwords()
	if err != nil {
		return err
	}

	logging, err := setupLogging(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer logging.Close()
	log := logging.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := pipeline.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer env.Close()

	runs := runner.NewManager(env.Builder(), env.Locker, logging.Recent, log)
	srv, err := server.New(server.Config{
		Port:         cfg.Server.Port,
		JWT:          jwtCfg,
		Passwords:    passwords,
		PasswordHash: cfg.Server.PasswordHash,
		Logger:       log,
	}, runs, env.Ledger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if cfg.Server.PasswordHash == "" {
		log.Warn("server.password_hash is empty, token requests will be refused")
	}

	log.WithField("port", cfg.Server.Port).Info("serving control API")
	return srv.Start(ctx)
}
