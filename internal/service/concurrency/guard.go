// Package concurrency provides per-owner mutual exclusion for queue runs.
package concurrency

import (
	"context"
	"errors"
	"sync"
)

// ErrLeaseLost is returned by Lease.Refresh when another holder took over.
var ErrLeaseLost = errors.New("concurrency: owner lease lost")

// Lease is held for the duration of a single owner run.
type Lease interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// OwnerGuard admits at most one active run per owner.
type OwnerGuard interface {
	// TryAcquire returns ok=false without error when the owner is already running.
	TryAcquire(ctx context.Context, ownerID string) (Lease, bool, error)
}

// OwnerSet is an in-process OwnerGuard.
type OwnerSet struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewOwnerSet constructs an empty set.
func NewOwnerSet() *OwnerSet {
	return &OwnerSet{active: make(map[string]struct{})}
}

func (s *OwnerSet) TryAcquire(_ context.Context, ownerID string) (Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.active[ownerID]; running {
		return nil, false, nil
	}
	s.active[ownerID] = struct{}{}
	return &setLease{set: s, ownerID: ownerID}, true, nil
}

// Active reports whether ownerID currently holds the guard.
func (s *OwnerSet) Active(ownerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[ownerID]
	return ok
}

type setLease struct {
	set     *OwnerSet
	ownerID string
	once    sync.Once
}

func (l *setLease) Refresh(context.Context) error { return nil }

func (l *setLease) Release(context.Context) error {
	l.once.Do(func() {
		l.set.mu.Lock()
		delete(l.set.active, l.ownerID)
		l.set.mu.Unlock()
	})
	return nil
}
