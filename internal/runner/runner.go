// Package runner starts and stops seeker runs on behalf of the control API,
// keeping at most one active run per site.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jonathan/job-pilot/internal/observability"
	"github.com/jonathan/job-pilot/internal/runlock"
	"github.com/jonathan/job-pilot/internal/seeker"
	"github.com/jonathan/job-pilot/internal/types"
)

var (
	// ErrAlreadyRunning is returned when the site already has an active run.
	ErrAlreadyRunning = errors.New("a run is already active for this site")
	// ErrNotRunning is returned by Stop when the site has no active run.
	ErrNotRunning = errors.New("no active run for this site")
	// ErrUnknownSite is returned for sites nothing has ever run on.
	ErrUnknownSite = errors.New("no run recorded for this site")
	// ErrInvalidRequest marks Builder failures caused by the request or the
	// configuration rather than the environment.
	ErrInvalidRequest = errors.New("invalid run request")
)

// Request starts one run.
type Request struct {
	Site     string               `json:"-"`
	Criteria types.SearchCriteria `json:"criteria"`
	DryRun   *bool                `json:"dry_run,omitempty"`
}

// Run is the part of a seeker the Manager drives.
type Run interface {
	Run(ctx context.Context) (seeker.Result, error)
	Stop()
	Result() seeker.Result
}

// Builder turns a request into a ready-to-run seeker. It is the place where
// configuration, browser, ledger and evaluator are wired together.
type Builder func(ctx context.Context, req Request) (Run, error)

// LogSource yields recent log lines for a site.
type LogSource interface {
	Lines(site string) []observability.RecentLine
}

// Status describes the latest run of a site.
type Status struct {
	Site    string        `json:"site"`
	Running bool          `json:"running"`
	Result  seeker.Result `json:"result"`
	Error   string        `json:"error,omitempty"`
}

type entry struct {
	run     Run
	lock    runlock.Lock
	done    chan struct{}
	running bool
	result  seeker.Result
	err     error
}

// Manager owns the background runs.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	build  Builder
	locker runlock.Locker
	logs   LogSource
	log    logrus.FieldLogger

	mu   sync.Mutex
	runs map[string]*entry
	wg   sync.WaitGroup
}

// NewManager creates a Manager. Runs live until Shutdown, independent of the
// context of the request that started them.
func NewManager(build Builder, locker runlock.Locker, logs LogSource, log logrus.FieldLogger) *Manager {
	if locker == nil {
		locker = runlock.NewLocal()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		build:  build,
		locker: locker,
		logs:   logs,
		log:    log,
		runs:   map[string]*entry{},
	}
}

// Start builds and launches a run for req.Site.
func (m *Manager) Start(ctx context.Context, req Request) (Status, error) {
	m.mu.Lock()
	if e, ok := m.runs[req.Site]; ok && e.running {
		m.mu.Unlock()
		return Status{}, ErrAlreadyRunning
	}
	// Reserve the slot before the slow parts so a concurrent Start fails fast.
	e := &entry{running: true, done: make(chan struct{})}
	prev := m.runs[req.Site]
	m.runs[req.Site] = e
	m.mu.Unlock()

	undo := func() {
		m.mu.Lock()
		if prev != nil {
			m.runs[req.Site] = prev
		} else {
			delete(m.runs, req.Site)
		}
		m.mu.Unlock()
	}

	lock, err := m.locker.Acquire(ctx, req.Site)
	if err != nil {
		undo()
		if errors.Is(err, runlock.ErrLocked) {
			return Status{}, ErrAlreadyRunning
		}
		return Status{}, err
	}

	r, err := m.build(ctx, req)
	if err != nil {
		_ = lock.Release(context.WithoutCancel(ctx))
		undo()
		return Status{}, fmt.Errorf("prepare run: %w", err)
	}

	m.mu.Lock()
	e.run = r
	e.lock = lock
	e.result = r.Result()
	m.mu.Unlock()

	m.wg.Add(1)
	go m.execute(req.Site, e)

	m.log.WithFields(logrus.Fields{"site": req.Site, "run_id": e.result.RunID}).Info("run started")
	return m.Status(req.Site)
}

func (m *Manager) execute(site string, e *entry) {
	defer m.wg.Done()
	defer close(e.done)

	res, err := e.run.Run(m.ctx)
	if rerr := e.lock.Release(context.Background()); rerr != nil {
		m.log.WithField("site", site).WithError(rerr).Warn("failed to release run lock")
	}

	m.mu.Lock()
	e.running = false
	e.result = res
	e.err = err
	m.mu.Unlock()
}

// Stop signals the active run of site and returns without waiting.
func (m *Manager) Stop(site string) error {
	var r Run
	m.mu.Lock()
	if e, ok := m.runs[site]; ok && e.running {
		r = e.run
	}
	m.mu.Unlock()
	if r == nil {
		return ErrNotRunning
	}
	r.Stop()
	m.log.WithField("site", site).Info("stop requested")
	return nil
}

// Wait blocks until the current run of site ends or ctx is done.
func (m *Manager) Wait(ctx context.Context, site string) error {
	m.mu.Lock()
	e, ok := m.runs[site]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSite
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the latest run of site.
func (m *Manager) Status(site string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.runs[site]
	if !ok {
		return Status{}, ErrUnknownSite
	}

	st := Status{Site: site, Running: e.running, Result: e.result}
	if e.running && e.run != nil {
		st.Result = e.run.Result()
	}
	if e.err != nil {
		st.Error = e.err.Error()
	}
	return st, nil
}

// Logs returns the recent log lines of site, newest first.
func (m *Manager) Logs(site string) []observability.RecentLine {
	if m.logs == nil {
		return nil
	}
	return m.logs.Lines(site)
}

// Shutdown stops every run and waits for them to finish or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, e := range m.runs {
		if e.running && e.run != nil {
			e.run.Stop()
		}
	}
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
