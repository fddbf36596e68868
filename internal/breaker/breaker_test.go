package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func newTestBreaker(clock *fakeClock, s Settings) *Breaker {
	return New("test", s, WithClock(clock.Now))
}

func TestBreaker_OpensAfterThresholdAndShortCircuits(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, Settings{FailureThreshold: 3, Window: time.Minute, Cooldown: 30 * time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	var calls int
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		err := b.Execute(ctx, func(context.Context) error { calls++; return nil })
		assert.ErrorIs(t, err, ErrOpen)
		assert.ErrorIs(t, err, models.ErrUnavailable)
	}
	assert.Zero(t, calls, "open circuit must not invoke the provider")
	assert.EqualValues(t, 10, b.Snapshot().Rejected)
}

func TestBreaker_FailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, Settings{FailureThreshold: 3, Window: 10 * time.Second, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, fail)
		clock.Advance(6 * time.Second)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, Settings{FailureThreshold: 3})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	require.NoError(t, b.Execute(ctx, succeed))
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, Settings{FailureThreshold: 1, Cooldown: 30 * time.Second})
	_ = b.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(30 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	done, err := b.Allow()
	require.NoError(t, err)
	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrOpen, "second caller must be rejected while the probe is in flight")

	done(nil)
	assert.Equal(t, StateClosed, b.State())
	_, err = b.Allow()
	assert.NoError(t, err)
}

func TestBreaker_FailedProbeReopensWithBackoff(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, Settings{
		FailureThreshold:  1,
		Cooldown:          10 * time.Second,
		MaxCooldown:       25 * time.Second,
		BackoffMultiplier: 2,
	})
	ctx := context.Background()
	_ = b.Execute(ctx, fail)

	clock.Advance(10 * time.Second)
	_ = b.Execute(ctx, fail) // probe fails
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 20*time.Second, b.Snapshot().Cooldown)

	clock.Advance(10 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, succeed), ErrOpen, "cool-down was doubled")

	clock.Advance(10 * time.Second)
	_ = b.Execute(ctx, fail)
	assert.Equal(t, 25*time.Second, b.Snapshot().Cooldown, "cool-down is capped")

	clock.Advance(25 * time.Second)
	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 10*time.Second, b.Snapshot().Cooldown, "success restores the base cool-down")
}

func TestBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, Settings{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_DeadlineCountsAsFailure(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, Settings{FailureThreshold: 1})
	err := b.Execute(context.Background(), func(context.Context) error { return context.DeadlineExceeded })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_CachedFailureIsNotCounted(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, Settings{FailureThreshold: 2})
	ctx := context.Background()
	cached := fmt.Errorf("replayed: %w: %w", models.ErrCachedFailure, errBoom)

	require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	for i := 0; i < 5; i++ {
		require.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return cached }), errBoom)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_HungHalfOpenCallIsAbandonedAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, Settings{FailureThreshold: 1, Cooldown: 30 * time.Second})
	_ = b.Execute(context.Background(), fail)

	clock.Advance(30 * time.Second)
	hung, err := b.Allow()
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, StateOpen, b.State(), "a probe outliving the cool-down reopens the circuit")

	clock.Advance(30 * time.Second)
	probe, err := b.Allow()
	require.NoError(t, err, "a new probe is admitted after the next cool-down")

	hung(nil)
	assert.Equal(t, StateHalfOpen, b.State(), "the abandoned probe's late result is ignored")
	probe(nil)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ConcurrentFailures(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, Settings{FailureThreshold: 5, Cooldown: time.Hour})
	var invoked atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(context.Context) error {
				invoked.Add(1)
				return errBoom
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, StateOpen, b.State())
	assert.GreaterOrEqual(t, invoked.Load(), int64(5))

	before := invoked.Load()
	_ = b.Execute(context.Background(), fail)
	assert.Equal(t, before, invoked.Load())
}

func TestBreaker_Reset(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, Settings{FailureThreshold: 1})
	_ = b.Execute(context.Background(), fail)
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Execute(context.Background(), succeed))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
}
