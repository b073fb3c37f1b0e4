package lock

import "sync"

type entry struct {
	mu       sync.Mutex
	refCount int
}

// Registry hands out one mutual-exclusion lock per user ID.
//
// Entries are created on first request and reclaimed once no goroutine holds or
// waits for them. Lookup and creation both happen under the registry mutex, so two
// racing callers for the same user always end up on the same entry.
//
// Usage:
//
//	unlock := reg.Lock(userID)
//	defer unlock()
//
// Callers must never acquire a second user's lock while holding one.
type Registry struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{
		locks: make(map[int64]*entry),
	}
}

// Lock blocks until the user's lock is held and returns the function that releases it.
// The returned function must be called exactly once.
func (r *Registry) Lock(userID int64) func() {
	r.mu.Lock()
	e, ok := r.locks[userID]
	if !ok {
		e = &entry{}
		r.locks[userID] = e
	}
	e.refCount++
	r.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			r.release(userID)
		})
	}
}

// WithLock runs fn while holding the user's lock.
func (r *Registry) WithLock(userID int64, fn func() error) error {
	unlock := r.Lock(userID)
	defer unlock()
	return fn()
}

func (r *Registry) release(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.locks[userID]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount == 0 {
		delete(r.locks, userID)
	}
}

// Len returns the number of users that currently hold or wait for a lock.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
