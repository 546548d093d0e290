package engine

import (
	"context"
	"errors"
	"sync"
	"time"
)

// WatchOptions configures Watch.
type WatchOptions struct {
	// ProbeInterval is how often connectivity is checked.
	ProbeInterval time.Duration
	// SyncInterval triggers a periodic run while online. Zero disables
	// the timer; runs then happen only on offline->online transitions.
	SyncInterval time.Duration
	// OnSync, if set, receives the outcome of every triggered run.
	OnSync func(*Result, error)
}

// Watch probes the server and runs SyncAll when connectivity returns and
// on every SyncInterval tick while online. It blocks until ctx is done and
// waits for a run in flight before returning. Triggers that arrive while
// a run is active collapse into one more run after it finishes.
func (e *Engine) Watch(ctx context.Context, opts WatchOptions) error {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 15 * time.Second
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		active bool
		rerun  bool
	)
	defer wg.Wait()

	runLoop := func() {
		defer wg.Done()
		for {
			res, err := e.SyncAll(ctx)
			if !errors.Is(err, ErrSyncInProgress) && opts.OnSync != nil {
				opts.OnSync(res, err)
			}

			mu.Lock()
			if !rerun || ctx.Err() != nil {
				active, rerun = false, false
				mu.Unlock()
				return
			}
			rerun = false
			mu.Unlock()
			e.logger.Debug("sync re-run after triggers during previous run")
		}
	}

	trigger := func(reason string) {
		mu.Lock()
		defer mu.Unlock()
		if active {
			rerun = true
			e.logger.Debug("sync trigger deferred, run active", "reason", reason)
			return
		}
		active = true
		e.logger.Debug("sync triggered", "reason", reason)
		wg.Add(1)
		go runLoop()
	}

	online := false
	probe := func() {
		err := e.remote.Ping(ctx)
		up := err == nil
		switch {
		case up && !online:
			e.logger.Info("connectivity restored")
			online = true
			trigger("online")
		case !up && online:
			e.logger.Info("connectivity lost", "error", err)
			online = false
		}
	}

	probeTicker := time.NewTicker(opts.ProbeInterval)
	defer probeTicker.Stop()

	var syncTick <-chan time.Time
	if opts.SyncInterval > 0 {
		t := time.NewTicker(opts.SyncInterval)
		defer t.Stop()
		syncTick = t.C
	}

	probe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-probeTicker.C:
			probe()
		case <-syncTick:
			if online {
				trigger("interval")
			}
		}
	}
}
