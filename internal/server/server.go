package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/job-pilot/internal/config"
	"github.com/jonathan/job-pilot/internal/observability"
	"github.com/jonathan/job-pilot/internal/runner"
	"github.com/jonathan/job-pilot/internal/server/middleware"
	"github.com/jonathan/job-pilot/internal/types"
)

// DefaultShutdownTimeout bounds the graceful shutdown of listeners and runs.
const DefaultShutdownTimeout = 30 * time.Second

// RunManager starts and stops seeker runs.
type RunManager interface {
	Start(ctx context.Context, req runner.Request) (runner.Status, error)
	Stop(site string) error
	Status(site string) (runner.Status, error)
	Logs(site string) []observability.RecentLine
	Shutdown(ctx context.Context) error
}

// Ledger is the submission history and blacklist exposed by the API.
type Ledger interface {
	Records() []types.SubmissionRecord
	Blacklist() []string
	AddToBlacklist(ctx context.Context, company string) error
	RemoveFromBlacklist(ctx context.Context, company string) (bool, error)
}

// Config holds server configuration.
type Config struct {
	Port         int
	JWT          *config.JWTConfig
	Passwords    *config.PasswordConfig
	PasswordHash string
	Logger       logrus.FieldLogger
	// EventInterval is the status polling period of the event stream.
	EventInterval   time.Duration
	ShutdownTimeout time.Duration
}

// Server represents the HTTP server.
type Server struct {
	httpServer  *http.Server
	runs        RunManager
	ledger      Ledger
	jwtService  *JWTService
	authHandler *AuthHandler
	log         logrus.FieldLogger
	interval    time.Duration
	shutdown    time.Duration
}

// New creates a new server instance.
func New(cfg Config, runs RunManager, ledger Ledger) (*Server, error) {
	if runs == nil || ledger == nil {
		return nil, fmt.Errorf("run manager and ledger are required")
	}
	if cfg.JWT == nil || cfg.Passwords == nil {
		return nil, fmt.Errorf("jwt and password configuration are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.EventInterval <= 0 {
		cfg.EventInterval = time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		runs:       runs,
		ledger:     ledger,
		jwtService: NewJWTService(cfg.JWT),
		log:        cfg.Logger,
		interval:   cfg.EventInterval,
		shutdown:   cfg.ShutdownTimeout,
	}
	s.authHandler = NewAuthHandler(cfg.Passwords, cfg.PasswordHash, s.jwtService)

	protected := http.NewServeMux()
	protected.HandleFunc("POST /runs/{site}", s.handleStartRun)
	protected.HandleFunc("DELETE /runs/{site}", s.handleStopRun)
	protected.HandleFunc("GET /runs/{site}", s.handleRunStatus)
	protected.HandleFunc("GET /runs/{site}/logs", s.handleRunLogs)
	protected.HandleFunc("GET /runs/{site}/events", s.handleRunEvents)
	protected.HandleFunc("GET /blacklist", s.handleListBlacklist)
	protected.HandleFunc("POST /blacklist", s.handleAddBlacklist)
	protected.HandleFunc("DELETE /blacklist/{company}", s.handleRemoveBlacklist)
	protected.HandleFunc("GET /submissions", s.handleListSubmissions)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /auth/token", s.authHandler.Token)
	mux.Handle("/", middleware.AuthMiddleware(s.jwtService.AsTokenValidator())(protected))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withLogging(s.withCORS(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the event stream stays open for a whole run
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is done, then stops accepting requests and stops
// every active run.
func (s *Server) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.WithField("addr", s.httpServer.Addr).Info("server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down server")

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdown)
		defer cancel()

		var errs []error
		if err := s.httpServer.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
		}
		if err := s.runs.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping runs: %w", err))
		}
		s.log.Info("server stopped")
		return errors.Join(errs...)
	})

	return g.Wait()
}

// withCORS adds CORS headers.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start).String(),
		}).Debug("request completed")
	})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Warn("error encoding JSON response")
	}
}

// errorResponse writes an error JSON response.
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// fail maps err to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	s.errorResponse(w, status, err.Error())
}
