// Package session moves users in and out of the resident cache: login loads state
// from a snapshot or the backing store, logout flushes and evicts, and sweeps
// handle idle and dirty users in the background.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vinzhub-gamestate/internal/cache"
	"vinzhub-gamestate/internal/flush"
	"vinzhub-gamestate/internal/logger"
	"vinzhub-gamestate/internal/metrics"
	"vinzhub-gamestate/internal/model"
	"vinzhub-gamestate/internal/repository"
	"vinzhub-gamestate/internal/state"
	"vinzhub-gamestate/internal/stateerr"
)

// PeerFlusher is a subsystem that buffers per-user work of its own and must
// drain it before the user is evicted. FlushUser is called without the user's
// lock held, so it may call back into the state cache.
type PeerFlusher interface {
	Name() string
	FlushUser(ctx context.Context, userID int64) error
}

// Recorder receives session activity entries. FlushUser is called with the
// user's lock held right before eviction, so it must not call back into the
// state cache.
type Recorder interface {
	Record(userID int64, action string, detail map[string]string)
	FlushUser(ctx context.Context, userID int64) error
}

// Source tells where a login found the user's state.
type Source string

const (
	SourceResident Source = "resident"
	SourceSnapshot Source = "snapshot"
	SourceStore    Source = "store"
)

// errBecameActive aborts an idle logout when the user was touched after being picked.
var errBecameActive = errors.New("user became active")

// Options configures a Lifecycle.
type Options struct {
	// InactivityThreshold is how long a user may stay idle before auto-logout.
	// Default: 15 minutes
	InactivityThreshold time.Duration

	// SweepParallelism bounds how many users a sweep processes at once.
	// Default: 8
	SweepParallelism int

	// Peers are flushed before every logout.
	Peers []PeerFlusher

	// Activity, when set, receives login and logout entries.
	Activity Recorder
}

// Lifecycle drives login, logout and the background sweeps.
type Lifecycle struct {
	cache     *state.Cache
	store     repository.Store
	snapshots cache.SnapshotCache
	flusher   *flush.Orchestrator
	peers     []PeerFlusher
	opts      Options
	logger    *logger.Logger
}

// New creates a lifecycle over the given cache, store and snapshot cache.
func New(c *state.Cache, store repository.Store, snapshots cache.SnapshotCache, flusher *flush.Orchestrator, opts Options) *Lifecycle {
	if opts.InactivityThreshold == 0 {
		opts.InactivityThreshold = 15 * time.Minute
	}
	if opts.SweepParallelism <= 0 {
		opts.SweepParallelism = 8
	}
	return &Lifecycle{
		cache:     c,
		store:     store,
		snapshots: snapshots,
		flusher:   flusher,
		peers:     opts.Peers,
		opts:      opts,
		logger:    logger.NewLogger("Session"),
	}
}

func (l *Lifecycle) record(userID int64, action string, detail map[string]string) {
	if l.opts.Activity != nil {
		l.opts.Activity.Record(userID, action, detail)
	}
}

// Login makes the user resident. A resident user is only touched. Otherwise
// the durable snapshot is restored unless it is marked stale and carries no
// pending work, in which case the backing store is read.
func (l *Lifecycle) Login(ctx context.Context, userID int64) (Source, error) {
	src, err := l.login(ctx, userID)
	if err == nil && src != SourceResident {
		l.record(userID, "login", map[string]string{"source": string(src)})
	}
	return src, err
}

func (l *Lifecycle) login(ctx context.Context, userID int64) (Source, error) {
	if l.cache.Touch(userID) {
		metrics.SessionEventsTotal.WithLabelValues("login", string(SourceResident)).Inc()
		return SourceResident, nil
	}

	h := l.cache.Lock(userID)
	defer h.Unlock()

	if h.Resident() {
		h.Touch()
		metrics.SessionEventsTotal.WithLabelValues("login", string(SourceResident)).Inc()
		return SourceResident, nil
	}

	if l.restoreSnapshot(ctx, h) {
		metrics.SessionEventsTotal.WithLabelValues("login", string(SourceSnapshot)).Inc()
		return SourceSnapshot, nil
	}

	st, err := l.loadFromStore(ctx, userID)
	if err != nil {
		metrics.SessionEventsTotal.WithLabelValues("login", "error").Inc()
		return "", err
	}
	if err := h.Load(st); err != nil {
		metrics.SessionEventsTotal.WithLabelValues("login", "error").Inc()
		return "", err
	}
	if err := l.writeSnapshot(ctx, h, "login"); err != nil {
		l.logger.Warnf("Snapshot after login failed for user %d: %v", userID, err)
	}

	metrics.SessionEventsTotal.WithLabelValues("login", string(SourceStore)).Inc()
	l.logger.Debugf("User %d loaded from store: %d rows, %d creatures", userID, len(st.Inventory), len(st.Creatures))
	return SourceStore, nil
}

// restoreSnapshot loads the user's snapshot into h. It reports false when the
// snapshot is absent, unusable or stale without pending work.
func (l *Lifecycle) restoreSnapshot(ctx context.Context, h *state.Handle) bool {
	userID := h.UserID()
	snap, err := l.snapshots.LoadSnapshot(ctx, userID)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			l.logger.Warnf("Snapshot cache unavailable for user %d, reading store: %v", userID, err)
		}
		return false
	}

	// Replaying pending work is idempotent, so a snapshot that still carries it
	// is restored even when stale.
	if !snap.HasPending() {
		stale, err := l.snapshots.IsStale(ctx, userID)
		if err != nil {
			l.logger.Warnf("Stale check failed for user %d, reading store: %v", userID, err)
			return false
		}
		if stale {
			l.logger.Debugf("Skipping stale snapshot of user %d", userID)
			return false
		}
	}

	if err := h.Restore(snap.State, snap.Pending); err != nil {
		l.logger.Errorf("Unusable snapshot for user %d (pending=%v): %v", userID, snap.HasPending(), err)
		return false
	}
	return true
}

func (l *Lifecycle) loadFromStore(ctx context.Context, userID int64) (*model.UserState, error) {
	st, err := l.store.LoadUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
		}
		return nil, stateerr.StoreUnavailable(userID, "session.login", err)
	}
	inv, err := l.store.FetchInventory(ctx, userID)
	if err != nil {
		return nil, stateerr.StoreUnavailable(userID, "session.login", err)
	}
	creatures, err := l.store.FetchCreatures(ctx, userID)
	if err != nil {
		return nil, stateerr.StoreUnavailable(userID, "session.login", err)
	}
	st.UserID = userID
	st.Inventory = inv
	st.Creatures = creatures
	return st, nil
}

// writeSnapshot stores the user's state together with its pending ledger.
func (l *Lifecycle) writeSnapshot(ctx context.Context, h *state.Handle, phase string) error {
	st, pending, err := h.Export()
	if err != nil {
		return err
	}
	snap := &cache.Snapshot{State: st, Pending: pending, StoredAt: l.cache.Now()}
	err = l.snapshots.StoreSnapshot(ctx, h.UserID(), snap)
	metrics.SnapshotWritesTotal.WithLabelValues(phase, metrics.Status(err)).Inc()
	return err
}

// markStale flags the user's snapshot after a snapshot write failed.
func (l *Lifecycle) markStale(ctx context.Context, userID int64, urgency cache.Urgency, priority cache.Priority) {
	if err := l.snapshots.MarkStale(ctx, userID, urgency, priority); err != nil {
		l.logger.Errorf("Failed to mark snapshot of user %d stale: %v", userID, err)
	}
}

// Flush drains the user's pending operations without evicting. A flush that
// issued store calls refreshes the snapshot.
func (l *Lifecycle) Flush(ctx context.Context, userID int64) (*flush.Result, error) {
	h := l.cache.Lock(userID)
	defer h.Unlock()
	return l.flushLocked(ctx, h)
}

func (l *Lifecycle) flushLocked(ctx context.Context, h *state.Handle) (*flush.Result, error) {
	res, err := l.flusher.Flush(ctx, h)
	if err != nil || res.Calls == 0 {
		return res, err
	}
	if serr := l.writeSnapshot(ctx, h, "flush"); serr != nil {
		l.logger.Warnf("Snapshot after flush failed for user %d: %v", h.UserID(), serr)
		l.markStale(ctx, h.UserID(), cache.UrgencyDeferred, cache.PriorityNormal)
	}
	return res, nil
}

// LogoutResult reports what a logout did.
type LogoutResult struct {
	UserID       int64         `json:"user_id"`
	Flush        *flush.Result `json:"flush,omitempty"`
	Evicted      bool          `json:"evicted"`
	PeerFailures int           `json:"peer_failures"`
}

// Logout flushes peers, snapshots, flushes the user and evicts it when no
// pending work remains. A failed flush leaves the user resident and dirty.
func (l *Lifecycle) Logout(ctx context.Context, userID int64) (*LogoutResult, error) {
	res, err := l.logout(ctx, userID, time.Time{})
	metrics.SessionEventsTotal.WithLabelValues("logout", logoutLabel(res, err)).Inc()
	return res, err
}

// logout implements Logout. A non-zero observed time makes it abort when the
// user's activity clock moved past it.
func (l *Lifecycle) logout(ctx context.Context, userID int64, observed time.Time) (*LogoutResult, error) {
	res := &LogoutResult{UserID: userID}
	if !l.cache.HasUser(userID) {
		return res, stateerr.ErrNotResident
	}

	// Peers run without the lock; they may write back into the cache.
	for _, p := range l.peers {
		if err := p.FlushUser(ctx, userID); err != nil {
			res.PeerFailures++
			l.logger.Warnf("Peer %s failed to flush user %d: %v", p.Name(), userID, err)
		}
	}

	h := l.cache.Lock(userID)
	defer h.Unlock()

	if !h.Resident() {
		return res, stateerr.ErrNotResident
	}
	if !observed.IsZero() {
		if last, ok := h.LastActivity(); ok && last.After(observed) {
			return res, errBecameActive
		}
	}

	if err := l.writeSnapshot(ctx, h, "pre_flush"); err != nil {
		l.logger.Warnf("Pre-flush snapshot failed for user %d: %v", userID, err)
	}

	fr, err := l.flusher.Flush(ctx, h)
	res.Flush = fr
	if err != nil {
		return res, err
	}

	if err := l.writeSnapshot(ctx, h, "post_flush"); err != nil {
		l.logger.Warnf("Post-flush snapshot failed for user %d: %v", userID, err)
		l.markStale(ctx, userID, cache.UrgencyImmediate, cache.PriorityHigh)
	}

	if h.IsDirty() {
		l.logger.Warnf("User %d still has pending work after flush, keeping resident", userID)
		return res, nil
	}
	if rec := l.opts.Activity; rec != nil {
		rec.Record(userID, "logout", nil)
		if err := rec.FlushUser(ctx, userID); err != nil {
			res.PeerFailures++
			l.logger.Warnf("Activity flush failed for user %d at logout: %v", userID, err)
		}
	}
	if err := h.Evict(); err != nil {
		return res, err
	}
	res.Evicted = true
	l.logger.Debugf("User %d logged out", userID)
	return res, nil
}

func logoutLabel(res *LogoutResult, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.Evicted:
		return "evicted"
	default:
		return "kept"
	}
}
