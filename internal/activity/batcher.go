// Package activity buffers gameplay activity logs per user and writes them to a
// sink in batches.
package activity

import (
	"context"
	"errors"
	"sync"
	"time"

	"vinzhub-gamestate/internal/logger"
	"vinzhub-gamestate/internal/metrics"
	"vinzhub-gamestate/internal/model"
)

// Sink is where activity logs end up.
type Sink interface {
	WriteLogs(ctx context.Context, logs []model.ActivityLog) error
	Close() error
}

// Reader is implemented by sinks that can list what they stored.
type Reader interface {
	Recent(ctx context.Context, userID int64, limit int) ([]model.ActivityLog, error)
}

// BatcherConfig holds configuration for the batcher.
type BatcherConfig struct {
	// BatchSize triggers an early flush once this many entries are buffered.
	// Default: 500
	BatchSize int
	// FlushInterval is how often buffered entries are written.
	// Default: 5 seconds
	FlushInterval time.Duration
	// MaxBuffered caps the buffer while the sink is failing; the oldest entries
	// are dropped beyond it. Default: 50000
	MaxBuffered int
}

// Batcher collects activity logs in memory and flushes them to a Sink on a
// ticker, when the buffer fills up, and per user at logout.
type Batcher struct {
	sink   Sink
	config BatcherConfig
	logger *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[int64][]model.ActivityLog
	count   int

	// writeMu serialises sink writes so a user's entries stay in order.
	writeMu sync.Mutex

	full     chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewBatcher creates a new batcher writing to sink.
func NewBatcher(sink Sink, config BatcherConfig) *Batcher {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.MaxBuffered <= 0 {
		config.MaxBuffered = 50000
	}
	return &Batcher{
		sink:    sink,
		config:  config,
		logger:  logger.NewLogger("Activity"),
		now:     time.Now,
		pending: make(map[int64][]model.ActivityLog),
		full:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Name implements session.PeerFlusher.
func (b *Batcher) Name() string { return "activity" }

// Record buffers one entry. It never blocks on the sink.
func (b *Batcher) Record(userID int64, action string, detail map[string]string) {
	entry := model.ActivityLog{UserID: userID, Action: action, Detail: detail, CreatedAt: b.now()}

	b.mu.Lock()
	b.pending[userID] = append(b.pending[userID], entry)
	b.count++
	if b.count > b.config.MaxBuffered {
		b.dropOldestLocked()
	}
	full := b.count >= b.config.BatchSize
	b.mu.Unlock()

	if full {
		select {
		case b.full <- struct{}{}:
		default:
		}
	}
}

// dropOldestLocked discards the oldest buffered entry across all users.
func (b *Batcher) dropOldestLocked() {
	var victim int64
	var oldest time.Time
	found := false
	for userID, logs := range b.pending {
		if len(logs) == 0 {
			continue
		}
		if !found || logs[0].CreatedAt.Before(oldest) {
			victim, oldest, found = userID, logs[0].CreatedAt, true
		}
	}
	if !found {
		return
	}
	rest := b.pending[victim][1:]
	if len(rest) == 0 {
		delete(b.pending, victim)
	} else {
		b.pending[victim] = rest
	}
	b.count--
	b.logger.Warnf("Buffer full, dropped oldest entry of user %d", victim)
}

// Buffered returns the number of entries waiting for the sink.
func (b *Batcher) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Start begins the background flush loop.
func (b *Batcher) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go b.run()
	b.logger.Infof("Started - batch size %d, interval %v", b.config.BatchSize, b.config.FlushInterval)
}

func (b *Batcher) run() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-b.full:
		case <-b.stopCh:
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := b.Flush(ctx); err != nil {
			b.logger.Warnf("Flush failed, %d entries kept: %v", b.Buffered(), err)
		}
		cancel()
	}
}

// take removes the buffered entries of the given users, or of everyone when
// userIDs is nil.
func (b *Batcher) take(userIDs []int64) map[int64][]model.ActivityLog {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[int64][]model.ActivityLog)
	if userIDs == nil {
		out, b.pending = b.pending, make(map[int64][]model.ActivityLog)
		b.count = 0
		return out
	}
	for _, id := range userIDs {
		if logs, ok := b.pending[id]; ok {
			out[id] = logs
			b.count -= len(logs)
			delete(b.pending, id)
		}
	}
	return out
}

// requeue puts entries that failed to write back in front of newer ones,
// then trims the buffer to MaxBuffered.
func (b *Batcher) requeue(batch map[int64][]model.ActivityLog) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, logs := range batch {
		b.pending[id] = append(logs, b.pending[id]...)
		b.count += len(logs)
	}
	for b.count > b.config.MaxBuffered {
		b.dropOldestLocked()
	}
}

func (b *Batcher) write(ctx context.Context, batch map[int64][]model.ActivityLog) error {
	if len(batch) == 0 {
		return nil
	}
	var all []model.ActivityLog
	for _, logs := range batch {
		all = append(all, logs...)
	}
	if err := b.sink.WriteLogs(ctx, all); err != nil {
		b.requeue(batch)
		return err
	}
	metrics.ActivityLogsFlushed.Add(float64(len(all)))
	return nil
}

// Flush writes every buffered entry. On failure the entries stay buffered.
func (b *Batcher) Flush(ctx context.Context) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.write(ctx, b.take(nil))
}

// FlushUser writes the user's buffered entries. It implements session.PeerFlusher.
func (b *Batcher) FlushUser(ctx context.Context, userID int64) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.write(ctx, b.take([]int64{userID}))
}

// Stop stops the loop, writes what is left and closes the sink.
func (b *Batcher) Stop() error {
	var err error
	b.stopOnce.Do(func() {
		b.mu.Lock()
		started := b.started
		b.mu.Unlock()

		close(b.stopCh)
		if started {
			<-b.doneCh
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if ferr := b.Flush(ctx); ferr != nil {
			b.logger.Errorf("Final flush lost %d entries: %v", b.Buffered(), ferr)
			err = ferr
		}
		err = errors.Join(err, b.sink.Close())
	})
	return err
}
