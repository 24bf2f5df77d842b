package ingest

import (
	"context"
	"math/rand"
	"time"
)

// retry is a bounded exponential-backoff loop. The zero value is spent;
// construct with newRetry.
//
//	r := newRetry(3, time.Second, time.Second)
//	for r.more() {
//		...
//		if err := r.backoff(ctx); err != nil { return err }
//	}
type retry struct {
	maxAttempts int
	attempt     int
	baseDelay   time.Duration
	maxJitter   time.Duration

	// sleep is swappable for tests.
	sleep func(context.Context, time.Duration) error
}

func newRetry(maxAttempts int, baseDelay, maxJitter time.Duration) *retry {
	return &retry{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxJitter:   maxJitter,
		sleep:       sleepCtx,
	}
}

// more reports whether another attempt is allowed.
func (r *retry) more() bool { return r.attempt < r.maxAttempts }

// backoff consumes one attempt and, when another attempt will follow,
// sleeps base*2^attempt plus uniform jitter. It returns early if the
// context is done.
func (r *retry) backoff(ctx context.Context) error {
	d := r.baseDelay * (1 << r.attempt)
	if r.maxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(r.maxJitter)))
	}
	r.attempt++
	if !r.more() {
		return nil
	}
	return r.sleep(ctx, d)
}

// randomExponential is the wait strategy for throttled control-plane
// calls: uniform over (0, min(cap, base*2^attempt)).
func randomExponential(attempt int, base, cap time.Duration) time.Duration {
	d := base * (1 << attempt)
	if d > cap || d <= 0 {
		d = cap
	}
	return time.Duration(rand.Int63n(int64(d)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
