// Package lock provides per-account mutual exclusion acquired in a fixed
// global order (ascending account id), so that any two operations touching
// overlapping accounts serialize and can never wait on each other in a cycle.
package lock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Locker acquires a set of account locks. The returned release func must be
// called exactly once.
type Locker interface {
	Acquire(ctx context.Context, ids ...int64) (release func(), err error)
}

// Accounts is an in-process Locker keyed by account id.
type Accounts struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

var _ Locker = (*Accounts)(nil)

func NewAccounts() *Accounts {
	return &Accounts{locks: make(map[int64]*entry)}
}

// Acquire locks ids in ascending order, collapsing duplicates. It blocks
// until every lock is held or ctx is done; on failure nothing stays locked.
func (a *Accounts) Acquire(ctx context.Context, ids ...int64) (func(), error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	held := make([]int64, 0, len(ordered))
	for _, id := range ordered {
		e := a.ref(id)
		if err := e.sem.Acquire(ctx, 1); err != nil {
			a.unref(id)
			a.release(held)
			return nil, fmt.Errorf("acquire lock for account %d: %w", id, err)
		}
		held = append(held, id)
	}

	var once sync.Once
	return func() {
		once.Do(func() { a.release(held) })
	}, nil
}

// Held returns the number of accounts currently locked or waited on.
func (a *Accounts) Held() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}

func (a *Accounts) release(held []int64) {
	for i := len(held) - 1; i >= 0; i-- {
		a.mu.Lock()
		e := a.locks[held[i]]
		a.mu.Unlock()
		e.sem.Release(1)
		a.unref(held[i])
	}
}

func (a *Accounts) ref(id int64) *entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.locks[id]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		a.locks[id] = e
	}
	e.refs++
	return e
}

func (a *Accounts) unref(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e := a.locks[id]
	e.refs--
	if e.refs == 0 {
		delete(a.locks, id)
	}
}

// Nop is a Locker that never blocks. Useful when the store already
// serializes all writers.
type Nop struct{}

func (Nop) Acquire(context.Context, ...int64) (func(), error) { return func() {}, nil }
