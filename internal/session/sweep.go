package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"vinzhub-gamestate/internal/cache"
	"vinzhub-gamestate/internal/metrics"
	"vinzhub-gamestate/internal/stateerr"
)

// SweepResult counts the outcome of one sweep.
type SweepResult struct {
	Scanned  int           `json:"scanned"`
	Evicted  int           `json:"evicted"`
	Flushed  int           `json:"flushed"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

type sweepCounters struct {
	evicted, flushed, skipped, failed atomic.Int64
}

func (c *sweepCounters) result(scanned int, start time.Time) SweepResult {
	return SweepResult{
		Scanned:  scanned,
		Evicted:  int(c.evicted.Load()),
		Flushed:  int(c.flushed.Load()),
		Skipped:  int(c.skipped.Load()),
		Failed:   int(c.failed.Load()),
		Duration: time.Since(start),
	}
}

// AutoLogoutSweep logs out every user idle for longer than the inactivity
// threshold. The activity time is re-checked before and after taking each
// user's lock; users touched in between are skipped.
func (l *Lifecycle) AutoLogoutSweep(ctx context.Context) SweepResult {
	start := time.Now()
	candidates := l.cache.IdleSince(l.cache.Now().Add(-l.opts.InactivityThreshold))

	var counters sweepCounters
	g := new(errgroup.Group)
	g.SetLimit(l.opts.SweepParallelism)

	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			last, ok := l.cache.LastActivity(cand.UserID)
			if !ok || last.After(cand.LastActivity) {
				counters.skipped.Add(1)
				return nil
			}

			res, err := l.logout(ctx, cand.UserID, cand.LastActivity)
			switch {
			case errors.Is(err, errBecameActive), errors.Is(err, stateerr.ErrNotResident):
				counters.skipped.Add(1)
			case err != nil:
				counters.failed.Add(1)
				l.logger.Warnf("Auto-logout of user %d failed: %v", cand.UserID, err)
			case res.Evicted:
				counters.evicted.Add(1)
			default:
				counters.skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := counters.result(len(candidates), start)
	metrics.SessionEventsTotal.WithLabelValues("auto_logout", "evicted").Add(float64(out.Evicted))
	metrics.SessionEventsTotal.WithLabelValues("auto_logout", "error").Add(float64(out.Failed))
	if out.Scanned > 0 {
		l.logger.Infof("Auto-logout sweep: %d idle, %d evicted, %d skipped, %d failed in %v",
			out.Scanned, out.Evicted, out.Skipped, out.Failed, out.Duration)
	}
	return out
}

// RetrySweep flushes every dirty user, up to SweepParallelism at a time.
func (l *Lifecycle) RetrySweep(ctx context.Context) SweepResult {
	start := time.Now()
	dirty := l.cache.DirtyUsers()

	var counters sweepCounters
	g := new(errgroup.Group)
	g.SetLimit(l.opts.SweepParallelism)

	for _, userID := range dirty {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			_, err := l.Flush(ctx, userID)
			switch {
			case errors.Is(err, stateerr.ErrNotResident):
				counters.skipped.Add(1)
			case err != nil:
				counters.failed.Add(1)
			default:
				counters.flushed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := counters.result(len(dirty), start)
	metrics.SessionEventsTotal.WithLabelValues("retry", "flushed").Add(float64(out.Flushed))
	metrics.SessionEventsTotal.WithLabelValues("retry", "error").Add(float64(out.Failed))
	if out.Scanned > 0 {
		l.logger.Infof("Retry sweep: %d dirty, %d flushed, %d failed in %v",
			out.Scanned, out.Flushed, out.Failed, out.Duration)
	}
	return out
}

// RefreshStale rewrites up to limit stale snapshots of non-resident users from
// the backing store. Snapshots that carry pending work are left for the next
// login to replay.
func (l *Lifecycle) RefreshStale(ctx context.Context, limit int) SweepResult {
	start := time.Now()
	entries, err := l.snapshots.StaleQueue(ctx, limit)
	if err != nil {
		l.logger.Warnf("Failed to read stale queue: %v", err)
		return SweepResult{Failed: 1, Duration: time.Since(start)}
	}

	var counters sweepCounters
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if err := l.refreshOne(ctx, e); err != nil {
			if errors.Is(err, errSkipRefresh) {
				counters.skipped.Add(1)
				continue
			}
			counters.failed.Add(1)
			l.logger.Warnf("Failed to refresh snapshot of user %d: %v", e.UserID, err)
			continue
		}
		counters.flushed.Add(1)
	}
	return counters.result(len(entries), start)
}

var errSkipRefresh = errors.New("refresh skipped")

func (l *Lifecycle) refreshOne(ctx context.Context, e cache.StaleEntry) error {
	h := l.cache.Lock(e.UserID)
	defer h.Unlock()

	if h.Resident() {
		return errSkipRefresh
	}
	snap, err := l.snapshots.LoadSnapshot(ctx, e.UserID)
	if err == nil && snap.HasPending() {
		return errSkipRefresh
	}
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return err
	}

	st, err := l.loadFromStore(ctx, e.UserID)
	if err != nil {
		return err
	}
	snapshot := &cache.Snapshot{State: st, StoredAt: l.cache.Now()}
	err = l.snapshots.StoreSnapshot(ctx, e.UserID, snapshot)
	metrics.SnapshotWritesTotal.WithLabelValues("refresh", metrics.Status(err)).Inc()
	return err
}
