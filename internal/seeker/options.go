package seeker

import (
	"context"
	"time"

	"github.com/jonathan/job-pilot/internal/browser"
)

// Defaults for Options fields left at zero.
const (
	DefaultLoginTimeout      = 300 * time.Second
	DefaultLoginPollInterval = time.Second
	DefaultPaceMin           = 3 * time.Second
	DefaultPaceMax           = 10 * time.Second
	DefaultTypeDelayMin      = 80 * time.Millisecond
	DefaultTypeDelayMax      = 200 * time.Millisecond
	DefaultSettleDelay       = 2 * time.Second
	DefaultResultsTimeout    = 30 * time.Second
	DefaultMaxScrolls        = 50
	DefaultShutdownTimeout   = 30 * time.Second
)

// ProgressEvent is a coarse progress notification for observers such as the control API.
type ProgressEvent struct {
	Step    string `json:"step"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
	Content any    `json:"content,omitempty"`
}

// ProgressCallback receives progress events.
type ProgressCallback func(event ProgressEvent)

// Options tunes an Orchestrator run.
type Options struct {
	LoginTimeout      time.Duration
	LoginPollInterval time.Duration
	PaceMin           time.Duration
	PaceMax           time.Duration
	TypeDelayMin      time.Duration
	TypeDelayMax      time.Duration
	SettleDelay       time.Duration
	ResultsTimeout    time.Duration
	MaxScrolls        int
	ShutdownTimeout   time.Duration

	// DryRun evaluates jobs but never sends anything.
	DryRun bool

	OnStateChange func(from, to State)
	OnProgress    ProgressCallback

	// Sleep and Random replace the real clock-bound delays, mainly for tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	Random func(lo, hi time.Duration) time.Duration
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = DefaultLoginTimeout
	}
	if o.LoginPollInterval <= 0 {
		o.LoginPollInterval = DefaultLoginPollInterval
	}
	if o.PaceMin <= 0 && o.PaceMax <= 0 {
		o.PaceMin, o.PaceMax = DefaultPaceMin, DefaultPaceMax
	}
	if o.TypeDelayMin <= 0 && o.TypeDelayMax <= 0 {
		o.TypeDelayMin, o.TypeDelayMax = DefaultTypeDelayMin, DefaultTypeDelayMax
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.ResultsTimeout <= 0 {
		o.ResultsTimeout = DefaultResultsTimeout
	}
	if o.MaxScrolls <= 0 {
		o.MaxScrolls = DefaultMaxScrolls
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.Sleep == nil {
		o.Sleep = browser.Sleep
	}
	if o.Random == nil {
		o.Random = func(lo, hi time.Duration) time.Duration {
			return browser.RandomDelay(lo, hi)()
		}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
