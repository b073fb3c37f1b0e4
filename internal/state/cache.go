// Package state keeps the full game state of active users resident in memory.
//
// All access to one user's state goes through a Handle, which is only obtainable by
// acquiring that user's lock. Mutations update memory, append to the pending
// operation ledger and mark the user dirty; persistence happens later in a flush.
package state

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"vinzhub-gamestate/internal/ledger"
	"vinzhub-gamestate/internal/lock"
	"vinzhub-gamestate/internal/metrics"
	"vinzhub-gamestate/internal/model"
)

// entry is one resident user. state is guarded by the user's lock; lastActivity
// is read by sweeps without it.
type entry struct {
	state        *model.UserState
	lastActivity atomic.Int64
}

// Options configures a Cache.
type Options struct {
	// Now overrides the wall clock, for tests.
	Now func() time.Time
	// Locks and Ledger default to fresh instances.
	Locks  *lock.Registry
	Ledger *ledger.Ledger
}

// Cache is the resident map from user ID to full state.
type Cache struct {
	locks  *lock.Registry
	ledger *ledger.Ledger
	now    func() time.Time
	tokens atomic.Int64

	mu    sync.RWMutex
	users map[int64]*entry

	dirtyMu sync.Mutex
	dirty   map[int64]struct{}
}

// New creates an empty cache.
func New(opts Options) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Locks == nil {
		opts.Locks = lock.NewRegistry()
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.New()
	}
	c := &Cache{
		locks:  opts.Locks,
		ledger: opts.Ledger,
		now:    opts.Now,
		users:  make(map[int64]*entry),
		dirty:  make(map[int64]struct{}),
	}
	// Seeding from the clock keeps tokens minted after a restart above any token
	// restored from an older snapshot.
	c.tokens.Store(time.Now().UnixMicro())
	return c
}

// Lock acquires the user's lock and returns a handle to the user's state.
// The handle must be released with Unlock.
func (c *Cache) Lock(userID int64) *Handle {
	unlock := c.locks.Lock(userID)
	return &Handle{c: c, userID: userID, unlock: unlock}
}

// Do runs fn while holding the user's lock.
func (c *Cache) Do(userID int64, fn func(h *Handle) error) error {
	h := c.Lock(userID)
	defer h.Unlock()
	return fn(h)
}

// Ledger returns the pending operation ledger shared by all users.
func (c *Cache) Ledger() *ledger.Ledger { return c.ledger }

// Now returns the cache clock's current time.
func (c *Cache) Now() time.Time { return c.now() }

// HasUser reports whether the user is resident. It does not take the user's lock,
// so the answer may be stale by the time the caller acts on it.
func (c *Cache) HasUser(userID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.users[userID]
	return ok
}

// Get returns a deep copy of the user's state.
func (c *Cache) Get(userID int64) (*model.UserState, error) {
	var out *model.UserState
	err := c.Do(userID, func(h *Handle) error {
		st, err := h.State()
		if err != nil {
			return err
		}
		out = st.Clone()
		return nil
	})
	return out, err
}

// Set makes st the resident state of the user, replacing any clean previous
// value. A dirty resident user is refused with ErrDirty.
func (c *Cache) Set(userID int64, st *model.UserState) error {
	return c.Do(userID, func(h *Handle) error {
		return h.Load(st)
	})
}

// Remove evicts the user. Dirty users are never evicted.
func (c *Cache) Remove(userID int64) error {
	return c.Do(userID, func(h *Handle) error {
		return h.Evict()
	})
}

// UpdateField sets one scalar field of a resident user.
func (c *Cache) UpdateField(userID int64, f Field, value interface{}) error {
	return c.Do(userID, func(h *Handle) error {
		return h.UpdateField(f, value)
	})
}

// UpdateCombatField sets one combat field of a resident user.
func (c *Cache) UpdateCombatField(userID int64, f CombatField, value interface{}) error {
	return c.Do(userID, func(h *Handle) error {
		return h.UpdateCombatField(f, value)
	})
}

// Touch advances the user's activity clock without taking the lock. It returns
// false when the user is not resident.
func (c *Cache) Touch(userID int64) bool {
	e := c.lookup(userID)
	if e == nil {
		return false
	}
	e.lastActivity.Store(c.now().UnixNano())
	return true
}

// LastActivity returns the user's last activity time.
func (c *Cache) LastActivity(userID int64) (time.Time, bool) {
	e := c.lookup(userID)
	if e == nil {
		return time.Time{}, false
	}
	return time.Unix(0, e.lastActivity.Load()), true
}

// IdleUser is a resident user whose last activity is older than a cutoff.
type IdleUser struct {
	UserID       int64
	LastActivity time.Time
}

// IdleSince lists resident users whose last activity is before cutoff, oldest first.
func (c *Cache) IdleSince(cutoff time.Time) []IdleUser {
	c.mu.RLock()
	var out []IdleUser
	for id, e := range c.users {
		last := time.Unix(0, e.lastActivity.Load())
		if last.Before(cutoff) {
			out = append(out, IdleUser{UserID: id, LastActivity: last})
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.Before(out[j].LastActivity)
	})
	return out
}

// ResidentUsers lists resident user IDs in ascending order.
func (c *Cache) ResidentUsers() []int64 {
	c.mu.RLock()
	ids := make([]int64, 0, len(c.users))
	for id := range c.users {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ResidentCount returns the number of resident users.
func (c *Cache) ResidentCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}

// IsDirty reports whether the user has unflushed mutations or a failed flush.
func (c *Cache) IsDirty(userID int64) bool {
	c.dirtyMu.Lock()
	defer c.dirtyMu.Unlock()
	_, ok := c.dirty[userID]
	return ok
}

// DirtyUsers lists dirty user IDs in ascending order.
func (c *Cache) DirtyUsers() []int64 {
	c.dirtyMu.Lock()
	ids := make([]int64, 0, len(c.dirty))
	for id := range c.dirty {
		ids = append(ids, id)
	}
	c.dirtyMu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DirtyCount returns the size of the dirty set.
func (c *Cache) DirtyCount() int {
	c.dirtyMu.Lock()
	defer c.dirtyMu.Unlock()
	return len(c.dirty)
}

func (c *Cache) lookup(userID int64) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.users[userID]
}

func (c *Cache) put(userID int64, e *entry) {
	c.mu.Lock()
	c.users[userID] = e
	n := len(c.users)
	c.mu.Unlock()
	metrics.ResidentUsers.Set(float64(n))
}

func (c *Cache) drop(userID int64) {
	c.mu.Lock()
	delete(c.users, userID)
	n := len(c.users)
	c.mu.Unlock()
	metrics.ResidentUsers.Set(float64(n))
}

func (c *Cache) setDirty(userID int64, dirty bool) {
	c.dirtyMu.Lock()
	if dirty {
		c.dirty[userID] = struct{}{}
	} else {
		delete(c.dirty, userID)
	}
	n := len(c.dirty)
	c.dirtyMu.Unlock()
	metrics.DirtyUsers.Set(float64(n))
}

func (c *Cache) nextToken() int64 {
	return c.tokens.Add(1)
}

// reserveTokens makes sure future tokens are greater than max.
func (c *Cache) reserveTokens(max int64) {
	for {
		cur := c.tokens.Load()
		if cur >= max || c.tokens.CompareAndSwap(cur, max) {
			return
		}
	}
}
