package testutil

import (
	"context"
	"sync"
	"time"
)

// SleepRecorder replaces a real sleep in retry loops. It records every
// requested delay and returns immediately, or returns the context error
// when the context is already done.
//
// Thread-safety: SleepRecorder is safe for concurrent use.
type SleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

// Sleep records d. Its signature matches the sleep hook of the engine.
func (s *SleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

// Delays returns a copy of the recorded delays in call order.
func (s *SleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// Reset clears the recorded delays.
func (s *SleepRecorder) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = nil
}
