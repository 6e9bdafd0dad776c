// Package ledger answers "may I apply to this job?" from the submission history
// and the company blacklist, and persists both through a Store.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/job-pilot/internal/types"
)

// DefaultCooldownDays is the number of whole days that must pass before re-applying.
const DefaultCooldownDays = 15

// Ledger holds the in-memory view of the persisted submission history and blacklist.
// It is safe for concurrent use by several seekers.
type Ledger struct {
	mu           sync.RWMutex
	store        Store
	cooldownDays int
	now          func() time.Time

	records   []types.SubmissionRecord
	blacklist []string
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithCooldownDays overrides the cooldown period. Non-positive values keep the default.
func WithCooldownDays(days int) Option {
	return func(l *Ledger) {
		if days > 0 {
			l.cooldownDays = days
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a ledger and reads the persisted state once.
func New(ctx context.Context, store Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}

	l := &Ledger{
		store:        store,
		cooldownDays: DefaultCooldownDays,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.Reload(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// CooldownDays returns the configured cooldown period in days.
func (l *Ledger) CooldownDays() int {
	return l.cooldownDays
}

// CanProceed reports whether an application to (company, title) is allowed:
// the company is not blacklisted and the most recent submission, if any, is more than
// CooldownDays whole days old.
func (l *Ledger) CanProceed(company, title string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.isBlacklistedLocked(company) {
		return false
	}

	// Hand-edited files may repeat a key; the latest submission decides.
	var latest time.Time
	found := false
	for _, r := range l.records {
		if r.SameJob(company, title) && (!found || r.SubmittedAt.After(latest)) {
			latest = r.SubmittedAt
			found = true
		}
	}
	if !found {
		return true
	}
	days := int(l.now().Sub(latest) / (24 * time.Hour))
	return days > l.cooldownDays
}

// IsBlacklisted reports whether company is on the blacklist, ignoring case.
func (l *Ledger) IsBlacklisted(company string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isBlacklistedLocked(company)
}

// RecordSubmission replaces any record for (company, title) with one stamped now,
// persists the full ledger and re-reads it from the store.
//
// When the store write fails the in-memory record is kept so the same job is
// not applied to twice in this process.
func (l *Ledger) RecordSubmission(ctx context.Context, company, title string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.records[:0:0]
	for _, r := range l.records {
		if !r.SameJob(company, title) {
			kept = append(kept, r)
		}
	}
	kept = append(kept, types.SubmissionRecord{
		Company:     company,
		Title:       title,
		SubmittedAt: l.now(),
	})
	l.records = kept

	if err := l.store.Save(ctx, l.snapshotLocked()); err != nil {
		return &Error{Op: "record submission", Message: fmt.Sprintf("%s - %s", company, title), Cause: err}
	}
	return l.reloadLocked(ctx)
}

// AddToBlacklist appends company unless it is already listed (ignoring case).
func (l *Ledger) AddToBlacklist(ctx context.Context, company string) error {
	company = strings.TrimSpace(company)
	if company == "" {
		return &Error{Op: "add to blacklist", Message: "company name is empty"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isBlacklistedLocked(company) {
		return nil
	}

	l.blacklist = append(l.blacklist, company)
	if err := l.store.Save(ctx, l.snapshotLocked()); err != nil {
		return &Error{Op: "add to blacklist", Message: company, Cause: err}
	}
	return l.reloadLocked(ctx)
}

// RemoveFromBlacklist drops company from the blacklist. It is a user action; the
// engine itself never removes entries. Returns false when nothing matched.
func (l *Ledger) RemoveFromBlacklist(ctx context.Context, company string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := make([]string, 0, len(l.blacklist))
	for _, c := range l.blacklist {
		if !strings.EqualFold(c, company) {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(l.blacklist) {
		return false, nil
	}

	l.blacklist = kept
	if err := l.store.Save(ctx, l.snapshotLocked()); err != nil {
		return false, &Error{Op: "remove from blacklist", Message: company, Cause: err}
	}
	return true, l.reloadLocked(ctx)
}

// Reload replaces the in-memory state with the persisted one.
func (l *Ledger) Reload(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reloadLocked(ctx)
}

// Records returns a copy of the submission history in persisted order.
func (l *Ledger) Records() []types.SubmissionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]types.SubmissionRecord(nil), l.records...)
}

// Blacklist returns a copy of the blacklisted company names.
func (l *Ledger) Blacklist() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.blacklist...)
}

// Close releases the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

func (l *Ledger) reloadLocked(ctx context.Context) error {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return &Error{Op: "reload", Message: "failed to load ledger", Cause: err}
	}
	l.records = snap.Records
	l.blacklist = snap.Blacklist
	return nil
}

func (l *Ledger) snapshotLocked() Snapshot {
	return Snapshot{
		Records:   append([]types.SubmissionRecord(nil), l.records...),
		Blacklist: append([]string(nil), l.blacklist...),
	}
}

func (l *Ledger) isBlacklistedLocked(company string) bool {
	for _, c := range l.blacklist {
		if strings.EqualFold(c, company) {
			return true
		}
	}
	return false
}
