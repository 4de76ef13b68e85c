package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time so waits can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Limiter enforces a minimum interval between operations sharing a key.
// It is safe for concurrent use; callers on different keys never block
// each other.
type Limiter struct {
	interval time.Duration
	clock    Clock

	mu   sync.Mutex
	keys map[string]*rate.Limiter
}

// New returns a Limiter allowing one operation per interval for each key.
// A non-positive interval disables limiting.
func New(interval time.Duration, clock Clock) *Limiter {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Limiter{interval: interval, clock: clock, keys: make(map[string]*rate.Limiter)}
}

// Wait blocks until at least the interval has elapsed since the previous
// Wait for key returned. The first call for an unseen key returns at once.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.interval <= 0 {
		return nil
	}

	l.mu.Lock()
	lim, ok := l.keys[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.interval), 1)
		l.keys[key] = lim
	}
	now := l.clock.Now()
	r := lim.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	l.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	if err := l.clock.Sleep(ctx, delay); err != nil {
		r.CancelAt(l.clock.Now())
		return err
	}
	return nil
}
