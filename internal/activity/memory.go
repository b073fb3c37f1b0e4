package activity

import (
	"context"
	"sync"

	"vinzhub-gamestate/internal/model"
)

// MemorySink keeps written logs in memory. Use this for development/testing.
type MemorySink struct {
	mu     sync.Mutex
	logs   []model.ActivityLog
	faults []error
	writes int
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// FailNext makes the next write return err. Calls queue up.
func (s *MemorySink) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, err)
}

// WriteLogs implements Sink.
func (s *MemorySink) WriteLogs(ctx context.Context, logs []model.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if len(s.faults) > 0 {
		err := s.faults[0]
		s.faults = s.faults[1:]
		return err
	}
	s.logs = append(s.logs, logs...)
	return nil
}

// Logs returns the written logs of a user in write order.
func (s *MemorySink) Logs(userID int64) []model.ActivityLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ActivityLog
	for _, l := range s.logs {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out
}

// Writes returns how many WriteLogs calls were made.
func (s *MemorySink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Close implements Sink.
func (s *MemorySink) Close() error { return nil }

// Ensure MemorySink implements Sink
var _ Sink = (*MemorySink)(nil)

// Recent returns the user's newest entries, newest first.
func (s *MemorySink) Recent(ctx context.Context, userID int64, limit int) ([]model.ActivityLog, error) {
	logs := s.Logs(userID)
	out := make([]model.ActivityLog, 0, len(logs))
	for i := len(logs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, logs[i])
	}
	return out, nil
}
