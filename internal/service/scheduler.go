package service

import (
	"context"
	"sync"
	"time"

	"vinzhub-gamestate/internal/logger"
	"vinzhub-gamestate/internal/session"
)

// Sweeper is the part of the session lifecycle the scheduler drives.
type Sweeper interface {
	AutoLogoutSweep(ctx context.Context) session.SweepResult
	RetrySweep(ctx context.Context) session.SweepResult
	RefreshStale(ctx context.Context, limit int) session.SweepResult
}

// SchedulerConfig holds configuration for the sweep scheduler.
type SchedulerConfig struct {
	// SweepInterval is how often idle users are logged out.
	// Default: 1 minute
	SweepInterval time.Duration

	// RetryInterval is how often dirty users are flushed and stale snapshots refreshed.
	// Default: 30 seconds
	RetryInterval time.Duration

	// SweepTimeout bounds a single sweep.
	// Default: 2 minutes
	SweepTimeout time.Duration

	// StaleBatch is how many stale snapshots one retry tick refreshes.
	// Default: 100
	StaleBatch int
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SweepInterval: 1 * time.Minute,
		RetryInterval: 30 * time.Second,
		SweepTimeout:  2 * time.Minute,
		StaleBatch:    100,
	}
}

// Scheduler runs the auto-logout and retry sweeps on tickers.
type Scheduler struct {
	sweeper   Sweeper
	config    SchedulerConfig
	logger    *logger.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewScheduler creates a new sweep scheduler.
func NewScheduler(sweeper Sweeper, config SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if config.SweepInterval == 0 {
		config.SweepInterval = def.SweepInterval
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = def.RetryInterval
	}
	if config.SweepTimeout == 0 {
		config.SweepTimeout = def.SweepTimeout
	}
	if config.StaleBatch == 0 {
		config.StaleBatch = def.StaleBatch
	}

	return &Scheduler{
		sweeper: sweeper,
		config:  config,
		logger:  logger.NewLogger("Scheduler"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.logger.Infof("Started - sweep every %v, retry every %v", s.config.SweepInterval, s.config.RetryInterval)
	go s.run()
}

// run is the main sweep loop. Sweeps run one at a time.
func (s *Scheduler) run() {
	defer close(s.doneCh)

	sweep := time.NewTicker(s.config.SweepInterval)
	retry := time.NewTicker(s.config.RetryInterval)
	defer sweep.Stop()
	defer retry.Stop()

	for {
		select {
		case <-sweep.C:
			s.runSweep()
		case <-retry.C:
			s.runRetry()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SweepTimeout)
	defer cancel()
	s.sweeper.AutoLogoutSweep(ctx)
}

func (s *Scheduler) runRetry() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SweepTimeout)
	defer cancel()
	s.sweeper.RetrySweep(ctx)
	s.sweeper.RefreshStale(ctx, s.config.StaleBatch)
}

// Stop stops the loop and runs one final retry sweep so dirty users get a last
// chance to reach the store before shutdown.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		s.isRunning = false
		s.mu.Unlock()

		close(s.stopCh)
		if running {
			<-s.doneCh
		}

		res := s.RunRetryNow()
		if res.Failed > 0 {
			s.logger.Errorf("Final retry sweep left %d users unflushed", res.Failed)
		}
		s.logger.Infof("Stopped")
	})
}

// RunSweepNow triggers an immediate auto-logout sweep.
func (s *Scheduler) RunSweepNow() session.SweepResult {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SweepTimeout)
	defer cancel()
	return s.sweeper.AutoLogoutSweep(ctx)
}

// RunRetryNow triggers an immediate retry sweep.
func (s *Scheduler) RunRetryNow() session.SweepResult {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SweepTimeout)
	defer cancel()
	return s.sweeper.RetrySweep(ctx)
}
