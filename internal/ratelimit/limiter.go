// Package ratelimit paces application submissions. Spacing, the hourly cap and
// the daily cap are checked as independent gates.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate identifies one of the limiter's checks.
type Gate string

const (
	GateSpacing Gate = "spacing"
	GateHourly  Gate = "hourly"
	GateDaily   Gate = "daily"
)

// tokenEpsilon absorbs float rounding in the spacing limiter's refill.
const tokenEpsilon = 1e-9

// Decision is the outcome of a check. Refused lists every gate that failed.
type Decision struct {
	Allowed bool
	Refused []Gate
}

// Counters is a point-in-time view of the limiter state.
type Counters struct {
	Hourly          int       `json:"hourly"`
	Daily           int       `json:"daily"`
	HourWindowStart time.Time `json:"hour_window_start"`
	DayWindowStart  time.Time `json:"day_window_start"`
	LastSubmission  time.Time `json:"last_submission,omitempty"`
}

// Limiter tracks submission velocity for one seeker run.
type Limiter struct {
	mu      sync.Mutex
	config  Config
	now     func() time.Time
	spacing *rate.Limiter // nil when spacing is disabled

	hourly         int
	daily          int
	hourStart      time.Time
	dayStart       time.Time
	lastSubmission time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a limiter. Zero caps fall back to DefaultConfig; a zero
// MinInterval disables the spacing gate.
func NewLimiter(config Config, opts ...Option) *Limiter {
	l := &Limiter{
		config: config.withDefaults(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.config.MinInterval > 0 {
		l.spacing = rate.NewLimiter(rate.Every(l.config.MinInterval), 1)
	}

	start := l.now()
	l.hourStart = start
	l.dayStart = start
	return l
}

// CheckRateLimit reports whether a submission may happen now.
func (l *Limiter) CheckRateLimit() bool {
	return l.Check().Allowed
}

// Check evaluates all gates and reports which ones refused.
func (l *Limiter) Check() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollWindows(now)

	var refused []Gate
	if l.spacing != nil && l.spacing.TokensAt(now) < 1-tokenEpsilon {
		refused = append(refused, GateSpacing)
	}
	if l.hourly >= l.config.HourlyCap {
		refused = append(refused, GateHourly)
	}
	if l.daily >= l.config.DailyCap {
		refused = append(refused, GateDaily)
	}

	return Decision{Allowed: len(refused) == 0, Refused: refused}
}

// RecordSubmission counts a submission made now.
func (l *Limiter) RecordSubmission() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollWindows(now)

	if l.spacing != nil {
		l.spacing.AllowN(now, 1)
	}
	l.lastSubmission = now
	l.hourly++
	l.daily++
}

// Snapshot returns the current counters.
func (l *Limiter) Snapshot() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Counters{
		Hourly:          l.hourly,
		Daily:           l.daily,
		HourWindowStart: l.hourStart,
		DayWindowStart:  l.dayStart,
		LastSubmission:  l.lastSubmission,
	}
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.config
}

// rollWindows resets the hourly and (depending on policy) daily counters. Caller holds mu.
func (l *Limiter) rollWindows(now time.Time) {
	if now.Sub(l.hourStart) >= time.Hour {
		l.hourly = 0
		l.hourStart = now
	}

	if l.config.DailyReset == DailyResetCalendarDay && !sameDay(now, l.dayStart) {
		l.daily = 0
		l.dayStart = now
	}
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
