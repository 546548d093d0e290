package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func TestStepClock_Advances(t *testing.T) {
	c := NewStepClock(epoch, time.Second)

	assert.Equal(t, epoch, c.Current())
	assert.Equal(t, epoch.Add(time.Second), c.Now())
	assert.Equal(t, epoch.Add(2*time.Second), c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, epoch.Add(time.Minute+2*time.Second), c.Current())

	c.Reset()
	assert.Equal(t, epoch, c.Current())
}

func TestStepClock_ConcurrentCallsAreDistinct(t *testing.T) {
	c := NewStepClock(epoch, time.Millisecond)

	const n = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[time.Time]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := c.Now()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	assert.Equal(t, epoch.Add(n*time.Millisecond), c.Current())
}

func TestSleepRecorder(t *testing.T) {
	var s SleepRecorder
	ctx := context.Background()

	require.NoError(t, s.Sleep(ctx, time.Second))
	require.NoError(t, s.Sleep(ctx, 2*time.Second))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.Delays())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.Sleep(cancelled, time.Hour), context.Canceled)
	assert.Len(t, s.Delays(), 2)

	s.Reset()
	assert.Empty(t, s.Delays())
}
