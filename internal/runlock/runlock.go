// Package runlock guarantees at most one active run per site, within one
// process (Local) or across processes sharing a Redis server (Redis).
package runlock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked means another run holds the lock.
var ErrLocked = errors.New("run lock is held by another run")

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out named locks.
type Locker interface {
	Acquire(ctx context.Context, name string) (Lock, error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal returns an empty in-process Locker.
func NewLocal() *Local {
	return &Local{held: map[string]bool{}}
}

func (l *Local) Acquire(_ context.Context, name string) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, ErrLocked
	}
	l.held[name] = true
	return &localLock{owner: l, name: name}, nil
}

// Held reports whether name is currently locked.
func (l *Local) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[name]
}

type localLock struct {
	owner *Local
	name  string
	once  sync.Once
}

func (k *localLock) Release(context.Context) error {
	k.once.Do(func() {
		k.owner.mu.Lock()
		delete(k.owner.held, k.name)
		k.owner.mu.Unlock()
	})
	return nil
}
