// Package seeker runs one job board session: open the browser, wait for the
// user to log in, then walk every keyword/city search, evaluate each job card
// and send a greeting where the profile matches.
package seeker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jonathan/job-pilot/internal/browser"
	"github.com/jonathan/job-pilot/internal/match"
	"github.com/jonathan/job-pilot/internal/ratelimit"
	"github.com/jonathan/job-pilot/internal/types"
)

// Ledger is the dedup and blacklist store consulted before each job.
type Ledger interface {
	CanProceed(company, title string) bool
	IsBlacklisted(company string) bool
	RecordSubmission(ctx context.Context, company, title string) error
}

// RateLimiter gates submissions.
type RateLimiter interface {
	Check() ratelimit.Decision
	RecordSubmission()
}

// Evaluator decides whether a job description matches the profile.
type Evaluator interface {
	Evaluate(ctx context.Context, req match.Request) (types.MatchVerdict, error)
}

// Profile is the user material sent along with every job description.
type Profile struct {
	Resume          string
	RejectionRules  string
	PreferenceRules string
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Site      Site
	Browser   *browser.Facade
	Ledger    Ledger
	Limiter   RateLimiter
	Evaluator Evaluator
	Criteria  types.SearchCriteria
	Profile   Profile
	Logger    logrus.FieldLogger
}

// Result summarizes a finished run.
type Result struct {
	RunID      string    `json:"run_id"`
	Site       string    `json:"site"`
	State      State     `json:"state"`
	Submitted  int       `json:"submitted"`
	Skipped    int       `json:"skipped"`
	Evaluated  int       `json:"evaluated"`
	DryRun     bool      `json:"dry_run,omitempty"`
	Errors     []error   `json:"-"`
	Messages   []string  `json:"errors,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Orchestrator drives one site. A value runs once.
type Orchestrator struct {
	site      Site
	browser   *browser.Facade
	ledger    Ledger
	limiter   RateLimiter
	evaluator Evaluator
	criteria  types.SearchCriteria
	profile   Profile
	opts      Options
	log       logrus.FieldLogger

	mu      sync.Mutex
	state   State
	result  Result
	stopped bool
	cancel  context.CancelFunc
}

// New validates deps and returns an Orchestrator in the CREATED state.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Site == nil:
		return nil, errors.New("seeker: site is required")
	case deps.Browser == nil:
		return nil, errors.New("seeker: browser is required")
	case deps.Ledger == nil:
		return nil, errors.New("seeker: ledger is required")
	case deps.Limiter == nil:
		return nil, errors.New("seeker: rate limiter is required")
	case deps.Evaluator == nil:
		return nil, errors.New("seeker: evaluator is required")
	}
	if err := deps.Criteria.Validate(); err != nil {
		return nil, err
	}

	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	opts = opts.withDefaults()
	runID := uuid.New().String()

	return &Orchestrator{
		site:      deps.Site,
		browser:   deps.Browser,
		ledger:    deps.Ledger,
		limiter:   deps.Limiter,
		evaluator: deps.Evaluator,
		criteria:  deps.Criteria.Clone(),
		profile:   deps.Profile,
		opts:      opts,
		log:       log.WithFields(logrus.Fields{"site": deps.Site.Name(), "run_id": runID}),
		state:     StateCreated,
		result:    Result{RunID: runID, Site: deps.Site.Name(), State: StateCreated, DryRun: opts.DryRun},
	}, nil
}

// RunID identifies this run in logs and results.
func (o *Orchestrator) RunID() string {
	return o.result.RunID
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Result returns a snapshot of the counters so far.
func (o *Orchestrator) Result() Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	res := o.result
	res.State = o.state
	res.Errors = append([]error(nil), o.result.Errors...)
	res.Messages = append([]string(nil), o.result.Messages...)
	return res
}

// Stop asks the run to end at its next checkpoint. An action already in
// flight sees its context cancelled.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes the whole session and always shuts the browser down before
// returning. Cancellation ends the run in CANCELLED with a nil error;
// initialization and login failures end it in FAILED and are returned.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.state != StateCreated {
		o.mu.Unlock()
		return o.Result(), fmt.Errorf("seeker: run %s already started", o.result.RunID)
	}
	o.cancel = cancel
	o.result.StartedAt = o.opts.Now()
	stopped := o.stopped
	o.mu.Unlock()
	if stopped {
		cancel()
	}

	o.log.WithFields(logrus.Fields{
		"keywords": o.criteria.Keywords,
		"cities":   o.criteria.Cities,
		"dry_run":  o.opts.DryRun,
	}).Info("seeker starting")

	err := o.run(runCtx)
	switch {
	case err == nil:
		o.setState(StateDone)
	case o.isCancelled(runCtx, err):
		o.setState(StateCancelled)
		err = nil
	default:
		o.log.WithError(err).Error("seeker failed")
		o.setState(StateFailed)
	}

	o.shutdown(ctx)

	o.mu.Lock()
	o.result.FinishedAt = o.opts.Now()
	final := o.state
	o.mu.Unlock()
	o.setState(StateShutdown)

	res := o.Result()
	res.State = final
	o.log.WithFields(logrus.Fields{
		"state":     final,
		"submitted": res.Submitted,
		"skipped":   res.Skipped,
		"errors":    len(res.Errors),
	}).Info("seeker finished")
	return res, err
}

func (o *Orchestrator) run(ctx context.Context) error {
	o.setState(StateInitializing)
	if err := o.checkpoint(ctx); err != nil {
		return err
	}
	o.progress("init", "starting browser", nil)
	if err := o.browser.Start(ctx); err != nil {
		if o.isCancelled(ctx, err) {
			return ErrCancelled
		}
		return &InitializationError{Cause: err}
	}

	o.setState(StateAwaitingLogin)
	o.progress("login", "waiting for login", nil)
	if err := o.awaitLogin(ctx); err != nil {
		return err
	}

	o.setState(StateSearching)
	o.progress("search", "searching", nil)
	return o.search(ctx)
}

func (o *Orchestrator) awaitLogin(ctx context.Context) error {
	if err := o.browser.Navigate(ctx, o.site.HomeURL()); err != nil {
		if o.isCancelled(ctx, err) {
			return ErrCancelled
		}
		o.log.WithError(err).Warn("could not open home page")
	} else if o.site.IsLoggedIn(ctx, o.browser) {
		o.log.Info("already logged in")
		return nil
	}

	if err := o.browser.Navigate(ctx, o.site.LoginURL()); err != nil {
		if o.isCancelled(ctx, err) {
			return ErrCancelled
		}
		o.log.WithError(err).Warn("could not open login page")
	}
	if p, ok := o.site.(LoginPreparer); ok {
		if err := p.PrepareLogin(ctx, o.browser, o.log); err != nil {
			if o.isCancelled(ctx, err) {
				return ErrCancelled
			}
			o.log.WithError(err).Warn("login page preparation failed")
		}
	}

	o.log.WithField("timeout", o.opts.LoginTimeout).Info("please complete login in the browser window")
	var waited time.Duration
	for !o.site.IsLoggedIn(ctx, o.browser) {
		if err := o.checkpoint(ctx); err != nil {
			return err
		}
		if waited >= o.opts.LoginTimeout {
			return &LoginTimeoutError{Site: o.site.Name(), Timeout: o.opts.LoginTimeout}
		}
		if err := o.opts.Sleep(ctx, o.opts.LoginPollInterval); err != nil {
			return ErrCancelled
		}
		waited += o.opts.LoginPollInterval
	}
	o.log.Info("login detected")
	return nil
}

func (o *Orchestrator) search(ctx context.Context) error {
	for _, city := range o.site.Cities(o.criteria) {
		if err := o.checkpoint(ctx); err != nil {
			return err
		}
		for _, keyword := range o.criteria.Keywords {
			if err := o.checkpoint(ctx); err != nil {
				return err
			}
			err := o.searchPair(ctx, keyword, city)
			if err == nil {
				continue
			}
			if o.isCancelled(ctx, err) {
				return ErrCancelled
			}

			serr := &SearchError{Keyword: keyword, City: city, Cause: err}
			o.log.WithFields(logrus.Fields{"keyword": keyword, "city": city}).WithError(err).Error("search failed")
			o.recordError(serr)
			if err := o.Pace(ctx); err != nil {
				return ErrCancelled
			}
		}
	}
	return nil
}

func (o *Orchestrator) searchPair(ctx context.Context, keyword, city string) error {
	log := o.log.WithFields(logrus.Fields{"keyword": keyword, "city": city})
	url := o.site.SearchURL(o.criteria, keyword, city)
	log.WithField("url", url).Info("searching")

	if err := o.browser.Navigate(ctx, url); err != nil {
		return fmt.Errorf("open search page: %w", err)
	}
	if err := o.browser.WaitForSelector(ctx, o.site.ResultsSelector(), o.opts.ResultsTimeout); err != nil {
		return fmt.Errorf("wait for results: %w", err)
	}
	count, err := o.loadAllCards(ctx)
	if err != nil {
		return err
	}
	log.WithField("cards", count).Info("job cards loaded")
	o.progress("search", fmt.Sprintf("%d jobs for %q", count, keyword), nil)

	return o.processCards(ctx, log, count)
}

// loadAllCards scrolls until two scrolls in a row add no cards or MaxScrolls is hit.
func (o *Orchestrator) loadAllCards(ctx context.Context) (int, error) {
	card := o.site.CardSelector()
	count, err := o.browser.Count(ctx, card)
	if err != nil {
		return 0, fmt.Errorf("count job cards: %w", err)
	}

	strikes := 0
	for scrolls := 0; strikes < 2 && scrolls < o.opts.MaxScrolls; scrolls++ {
		if err := o.checkpoint(ctx); err != nil {
			return 0, err
		}
		if err := o.browser.ScrollToBottom(ctx); err != nil {
			return 0, fmt.Errorf("scroll results: %w", err)
		}
		if err := o.opts.Sleep(ctx, o.opts.SettleDelay); err != nil {
			return 0, ErrCancelled
		}
		n, err := o.browser.Count(ctx, card)
		if err != nil {
			return 0, fmt.Errorf("count job cards: %w", err)
		}
		if n > count {
			count = n
			strikes = 0
		} else {
			strikes++
		}
	}
	return count, nil
}

// processCards walks the loaded cards. Only cancellation is returned; a
// rate-limit refusal abandons the rest of the page.
func (o *Orchestrator) processCards(ctx context.Context, log logrus.FieldLogger, count int) error {
	for i := 0; i < count; i++ {
		if i > 0 {
			if err := o.Pace(ctx); err != nil {
				return ErrCancelled
			}
		}
		if err := o.checkpoint(ctx); err != nil {
			return err
		}
		if d := o.limiter.Check(); !d.Allowed {
			log.WithField("gates", d.Refused).Warn("rate limit reached, leaving this page")
			return nil
		}
		if err := o.processCard(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) processCard(ctx context.Context, index int) error {
	o.setState(StateEvaluating)
	defer o.setState(StateSearching)

	job, err := o.site.ReadListing(ctx, o.browser, index)
	if err != nil {
		if o.isCancelled(ctx, err) {
			return ErrCancelled
		}
		o.fail(&ApplyError{Cause: fmt.Errorf("read card %d: %w", index, err)})
		return nil
	}
	log := o.log.WithFields(logrus.Fields{"company": job.Company, "title": job.Title})

	if !o.ledger.CanProceed(job.Company, job.Title) {
		reason := "applied within cooldown"
		if o.ledger.IsBlacklisted(job.Company) {
			reason = "company blacklisted"
		}
		o.skip(log, reason)
		return nil
	}

	if err := o.browser.OpenPage(ctx, job.DetailURL); err != nil {
		if o.isCancelled(ctx, err) {
			return ErrCancelled
		}
		o.fail(&ApplyError{Company: job.Company, Title: job.Title, Cause: fmt.Errorf("open detail page: %w", err)})
		return nil
	}
	defer o.closeDetail(ctx, log)

	return o.evaluateAndApply(ctx, log, job)
}

func (o *Orchestrator) evaluateAndApply(ctx context.Context, log logrus.FieldLogger, job types.JobListing) error {
	if ok, reason := o.site.CheckApplicable(ctx, o.browser); !ok {
		o.skip(log, reason)
		return nil
	}

	desc, err := o.site.ReadDescription(ctx, o.browser)
	if err != nil {
		if o.isCancelled(ctx, err) {
			return ErrCancelled
		}
		o.fail(&ApplyError{Company: job.Company, Title: job.Title, Cause: fmt.Errorf("read description: %w", err)})
		return nil
	}
	job.Description = desc

	verdict, err := o.evaluator.Evaluate(ctx, match.Request{
		JobDescription:  desc,
		Profile:         o.profile.Resume,
		RejectionRules:  o.profile.RejectionRules,
		PreferenceRules: o.profile.PreferenceRules,
	})
	if err != nil {
		if o.isCancelled(ctx, err) {
			return ErrCancelled
		}
		o.fail(&ApplyError{Company: job.Company, Title: job.Title, Cause: fmt.Errorf("evaluate: %w", err)})
		return nil
	}
	o.mu.Lock()
	o.result.Evaluated++
	o.mu.Unlock()

	if !verdict.Match {
		o.skip(log.WithField("reasoning", verdict.Reasoning), "not a match")
		return nil
	}

	o.setState(StateApplying)
	if o.opts.DryRun {
		log.WithField("greeting", verdict.Greeting).Info("[dry-run] would send greeting")
		o.countSubmitted()
		return nil
	}

	if err := o.site.Submit(ctx, o.browser, job, verdict.Greeting, o); err != nil {
		if o.isCancelled(ctx, err) {
			return ErrCancelled
		}
		o.fail(&ApplyError{Company: job.Company, Title: job.Title, Cause: err})
		return nil
	}

	o.countSubmitted()
	// The greeting is already out; the record must not be lost to a stop.
	if err := o.ledger.RecordSubmission(context.WithoutCancel(ctx), job.Company, job.Title); err != nil {
		log.WithError(err).Error("failed to record submission")
		o.recordError(&ApplyError{Company: job.Company, Title: job.Title, Cause: err})
	}
	o.limiter.RecordSubmission()
	log.Info("greeting sent")
	o.progress("apply", "applied to "+job.String(), job)

	if err := o.Pace(ctx); err != nil {
		return ErrCancelled
	}
	return nil
}

func (o *Orchestrator) closeDetail(ctx context.Context, log logrus.FieldLogger) {
	if err := o.browser.ClosePage(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).Warn("failed to close detail page")
	}
}

// shutdown releases the browser in order. Each step runs even if an earlier one failed.
func (o *Orchestrator) shutdown(ctx context.Context) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.ShutdownTimeout)
	defer cancel()

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"page", o.browser.ClosePage},
		{"context", o.browser.CloseContext},
		{"browser", o.browser.CloseBrowser},
	}
	for _, step := range steps {
		if err := step.fn(sctx); err != nil {
			o.log.WithField("resource", step.name).WithError(err).Warn("shutdown step failed")
		}
	}
	o.log.Info("browser resources released")
}

// Pace sleeps a random delay in [PaceMin, PaceMax].
func (o *Orchestrator) Pace(ctx context.Context) error {
	return o.opts.Sleep(ctx, o.opts.Random(o.opts.PaceMin, o.opts.PaceMax))
}

// TypeDelay returns a random per-character delay in [TypeDelayMin, TypeDelayMax].
func (o *Orchestrator) TypeDelay() time.Duration {
	return o.opts.Random(o.opts.TypeDelayMin, o.opts.TypeDelayMax)
}

func (o *Orchestrator) checkpoint(ctx context.Context) error {
	o.mu.Lock()
	stopped := o.stopped
	o.mu.Unlock()
	if stopped || ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// isCancelled separates a stop from an action that merely failed or timed out on its own.
func (o *Orchestrator) isCancelled(ctx context.Context, err error) bool {
	return errors.Is(err, ErrCancelled) || o.checkpoint(ctx) != nil
}

func (o *Orchestrator) setState(to State) {
	o.mu.Lock()
	from := o.state
	if from == to {
		o.mu.Unlock()
		return
	}
	if !IsTransitionAllowed(from, to) {
		o.mu.Unlock()
		o.log.WithFields(logrus.Fields{"from": from, "to": to}).Warn("unexpected state transition ignored")
		return
	}
	o.state = to
	o.result.State = to
	o.mu.Unlock()

	o.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("state changed")
	if o.opts.OnStateChange != nil {
		o.opts.OnStateChange(from, to)
	}
}

func (o *Orchestrator) skip(log logrus.FieldLogger, reason string) {
	o.setState(StateSkipping)
	o.countSkipped()
	log.WithField("reason", reason).Info("job skipped")
}

func (o *Orchestrator) fail(err error) {
	o.log.WithError(err).Warn("job failed")
	o.recordError(err)
	o.setState(StateSkipping)
	o.countSkipped()
}

func (o *Orchestrator) recordError(err error) {
	o.mu.Lock()
	o.result.Errors = append(o.result.Errors, err)
	o.result.Messages = append(o.result.Messages, err.Error())
	o.mu.Unlock()
}

func (o *Orchestrator) countSubmitted() {
	o.mu.Lock()
	o.result.Submitted++
	o.mu.Unlock()
}

func (o *Orchestrator) countSkipped() {
	o.mu.Lock()
	o.result.Skipped++
	o.mu.Unlock()
}

func (o *Orchestrator) progress(step, message string, content any) {
	if o.opts.OnProgress == nil {
		return
	}
	o.opts.OnProgress(ProgressEvent{Step: step, Message: message, RunID: o.result.RunID, Content: content})
}
