package engine

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/anshul1007/vermillion/internal/api"
)

// Backoff is the bounded retry policy for a single network call.
type Backoff struct {
	// Base is the first retry delay; retry n waits Base * 2^n plus jitter.
	Base time.Duration
	// Max caps the exponential part of the delay.
	Max time.Duration
	// Attempts is the total number of tries, including the first.
	Attempts int
}

// DefaultBackoff tries five times: immediately, then after roughly
// 0.5s, 1s, 2s and 4s.
var DefaultBackoff = Backoff{
	Base:     500 * time.Millisecond,
	Max:      30 * time.Second,
	Attempts: 5,
}

// Delay returns the wait before retry number n (0-based), without jitter.
func (b Backoff) Delay(n int) time.Duration {
	if n > 30 {
		return b.Max
	}
	d := b.Base << n
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// uniformJitter returns a random duration in [0, max).
func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// retry runs fn until it succeeds, fails with a non-transient error, or
// the policy's attempts are used up. The last error is returned.
func (e *Engine) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for n := 0; n < e.backoff.Attempts; n++ {
		if n > 0 {
			delay := e.backoff.Delay(n-1) + e.jitter(e.backoff.Base)
			e.logger.Debug("retrying after transient failure",
				"op", op,
				"try", n+1,
				"delay", delay,
				"error", err,
			)
			if serr := e.sleep(ctx, delay); serr != nil {
				return err
			}
		}
		err = fn(ctx)
		if err == nil || !api.IsTransient(err) {
			return err
		}
	}
	return err
}

// call wraps fn in retry and a one-shot reauthentication: on a 401 the
// token is refreshed once and fn retried. If the refresh fails the
// original 401 is returned.
func (r *syncRun) call(ctx context.Context, op string, fn func(context.Context) error) error {
	err := r.e.retry(ctx, op, fn)
	if !api.IsUnauthorized(err) {
		return err
	}

	rerr := r.e.retry(ctx, "refresh token", r.e.remote.RefreshToken)
	if rerr != nil {
		r.e.logger.Warn("token refresh failed", "op", op, "error", rerr)
		r.authFailed = true
		return err
	}
	r.e.logger.Info("access token refreshed", "op", op)
	return r.e.retry(ctx, op, fn)
}
