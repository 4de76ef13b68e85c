package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galois26/procurement-ingester/internal/ratelimit"
	"github.com/galois26/procurement-ingester/internal/testutil"
)

var epoch = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestLimiter_FirstCallReturnsImmediately(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	l := ratelimit.New(time.Second, clock)

	require.NoError(t, l.Wait(context.Background(), "x"))
	assert.Empty(t, clock.Sleeps())
	assert.Equal(t, epoch, clock.Now())
}

func TestLimiter_BlocksUntilInterval(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	l := ratelimit.New(time.Second, clock)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "x"))
	clock.Advance(300 * time.Millisecond)

	// a different key never waits
	require.NoError(t, l.Wait(ctx, "y"))
	assert.Empty(t, clock.Sleeps())

	require.NoError(t, l.Wait(ctx, "x"))
	assert.Equal(t, []time.Duration{700 * time.Millisecond}, clock.Sleeps())
	assert.Equal(t, epoch.Add(time.Second), clock.Now())
}

func TestLimiter_NoWaitAfterIntervalElapsed(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	l := ratelimit.New(time.Second, clock)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "x"))
	clock.Advance(5 * time.Second)
	require.NoError(t, l.Wait(ctx, "x"))
	assert.Empty(t, clock.Sleeps())
}

func TestLimiter_ZeroIntervalDisabled(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	l := ratelimit.New(0, clock)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(context.Background(), "x"))
	}
	assert.Empty(t, clock.Sleeps())
}

func TestLimiter_CancelledContext(t *testing.T) {
	l := ratelimit.New(time.Hour, testutil.NewFakeClock(epoch))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Wait(ctx, "x"), context.Canceled)
}

func TestLimiter_ConcurrentKeys(t *testing.T) {
	l := ratelimit.New(20*time.Millisecond, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	start := time.Now()
	for _, key := range []string{"a", "b", "c", "d"} {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				assert.NoError(t, l.Wait(ctx, key))
			}
		}()
	}
	wg.Wait()

	// three waits per key serialize to >= 2 intervals; keys run in parallel
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 35*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}
