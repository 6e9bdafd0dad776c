// Package pipeline assembles seeker runs from configuration: it opens the
// long-lived services once (ledger, text service, run lock) and wires a fresh
// browser, limiter and orchestrator for every run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/job-pilot/internal/browser"
	"github.com/jonathan/job-pilot/internal/config"
	"github.com/jonathan/job-pilot/internal/ledger"
	"github.com/jonathan/job-pilot/internal/llm"
	"github.com/jonathan/job-pilot/internal/match"
	"github.com/jonathan/job-pilot/internal/ratelimit"
	"github.com/jonathan/job-pilot/internal/runlock"
	"github.com/jonathan/job-pilot/internal/runner"
	"github.com/jonathan/job-pilot/internal/seeker"
	"github.com/jonathan/job-pilot/internal/sites"
	"github.com/jonathan/job-pilot/internal/types"
)

// Env holds the services shared by every run of one process.
type Env struct {
	Config *config.Config
	Logger logrus.FieldLogger
	Ledger *ledger.Ledger
	Locker runlock.Locker
	// Client is nil when no API key is configured; Build then refuses to run.
	Client llm.Client

	// NewDriver and NewSite default to the real implementations.
	NewDriver func(kind browser.Kind, opts browser.Options) (browser.Driver, error)
	NewSite   func(name string) (seeker.Site, error)
	// Options is applied to every orchestrator's options, mainly for tests.
	Options func(*seeker.Options)

	closers []func() error
}

// OpenLedger opens the configured store and loads the ledger from it.
func OpenLedger(ctx context.Context, cfg *config.Config) (*ledger.Ledger, error) {
	store, err := ledger.Open(ctx, cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	l, err := ledger.New(ctx, store, ledger.WithCooldownDays(cfg.Ledger.CooldownDays))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return l, nil
}

// Open connects the ledger store, the text service and the run lock backend.
func Open(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Env, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	env := &Env{
		Config:    cfg,
		Logger:    log,
		NewDriver: browser.NewDriver,
		NewSite:   sites.New,
	}

	l, err := OpenLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env.Ledger = l
	env.closers = append(env.closers, l.Close)

	if cfg.LLM.APIKey != "" {
		settings, err := cfg.LLMSettings()
		if err != nil {
			_ = env.Close()
			return nil, err
		}
		client, err := llm.NewClient(ctx, settings, cfg.LLM.APIKey)
		if err != nil {
			_ = env.Close()
			return nil, fmt.Errorf("create text service client: %w", err)
		}
		env.Client = client
		env.closers = append(env.closers, client.Close)
	}

	if cfg.RunLock.RedisURL != "" {
		rdb, err := runlock.NewRedisClient(ctx, cfg.RunLock.RedisURL)
		if err != nil {
			_ = env.Close()
			return nil, err
		}
		env.Locker = runlock.NewRedis(rdb, cfg.RunLock.TTL, log)
		env.closers = append(env.closers, rdb.Close)
	} else {
		env.Locker = runlock.NewLocal()
	}

	log.WithFields(logrus.Fields{
		"ledger":   cfg.Ledger.Backend,
		"provider": cfg.LLM.Provider,
		"runlock":  lockKind(cfg),
	}).Debug("services ready")
	return env, nil
}

func lockKind(cfg *config.Config) string {
	if cfg.RunLock.RedisURL != "" {
		return "redis"
	}
	return "local"
}

// Close releases the services in reverse order of opening.
func (e *Env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Build wires an orchestrator for req. Problems with the request or the
// profile wrap runner.ErrInvalidRequest.
func (e *Env) Build(_ context.Context, req runner.Request, onProgress seeker.ProgressCallback) (*seeker.Orchestrator, error) {
	cfg := e.Config

	name, err := sites.Canonical(req.Site)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", runner.ErrInvalidRequest, err)
	}
	if err := cfg.ValidateForRun(req.Criteria); err != nil {
		return nil, fmt.Errorf("%w: %v", runner.ErrInvalidRequest, err)
	}
	if e.Client == nil {
		return nil, fmt.Errorf("%w: text service is not configured", runner.ErrInvalidRequest)
	}

	site, err := e.NewSite(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", runner.ErrInvalidRequest, err)
	}

	log := e.Logger.WithField("site", name)

	evaluator, err := match.NewEvaluator(e.Client,
		match.WithTemplate(cfg.Prompt()),
		match.WithRetries(cfg.LLM.Retries),
		match.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	bopts := cfg.BrowserOptions()
	bopts.Logger = log
	driver, err := e.NewDriver(browser.Kind(cfg.Seeker.Driver), bopts)
	if err != nil {
		return nil, err
	}
	facade := browser.NewFacade(driver,
		browser.WithRetries(cfg.Seeker.RetryTimes),
		browser.WithBaseDelay(cfg.Seeker.RetryDelay),
		browser.WithLogger(log),
	)

	opts := cfg.SeekerOptions()
	if req.DryRun != nil {
		opts.DryRun = *req.DryRun
	}
	opts.OnProgress = onProgress
	if e.Options != nil {
		e.Options(&opts)
	}

	return seeker.New(seeker.Deps{
		Site:      site,
		Browser:   facade,
		Ledger:    e.Ledger,
		Limiter:   ratelimit.NewLimiter(cfg.RateLimitFor(name)),
		Evaluator: evaluator,
		Criteria:  req.Criteria.Clone(),
		Profile:   cfg.SeekerProfile(),
		Logger:    log,
	}, opts)
}

// Builder adapts Build to the run manager.
func (e *Env) Builder() runner.Builder {
	return func(ctx context.Context, req runner.Request) (runner.Run, error) {
		o, err := e.Build(ctx, req, nil)
		if err != nil {
			return nil, err
		}
		return o, nil
	}
}

// SiteResult is the outcome of one site in RunSites.
type SiteResult struct {
	Site   string
	Result seeker.Result
	Err    error
}

// RunSites runs one seeker per site concurrently and waits for all of them.
// Ending ctx asks every seeker to stop at its next checkpoint, so browsers
// still shut down cleanly. A site that fails to start does not stop the others.
func (e *Env) RunSites(ctx context.Context, names []string, criteria types.SearchCriteria, dryRun *bool) []SiteResult {
	results := make([]SiteResult, len(names))
	runCtx := context.WithoutCancel(ctx)

	var (
		mu      sync.Mutex
		running []*seeker.Orchestrator
	)
	stopAll := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		for _, o := range running {
			o.Stop()
		}
	})
	defer stopAll()

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			results[i] = SiteResult{Site: name}

			o, err := e.Build(ctx, runner.Request{Site: name, Criteria: criteria, DryRun: dryRun}, nil)
			if err != nil {
				results[i].Err = err
				return nil
			}

			lock, err := e.Locker.Acquire(ctx, name)
			if err != nil {
				if errors.Is(err, runlock.ErrLocked) {
					err = fmt.Errorf("%s: %w", name, runner.ErrAlreadyRunning)
				}
				results[i].Err = err
				return nil
			}
			defer func() {
				if err := lock.Release(runCtx); err != nil {
					e.Logger.WithField("site", name).WithError(err).Warn("failed to release run lock")
				}
			}()

			mu.Lock()
			running = append(running, o)
			if ctx.Err() != nil {
				o.Stop()
			}
			mu.Unlock()

			res, err := o.Run(runCtx)
			results[i].Result = res
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	return results
}
