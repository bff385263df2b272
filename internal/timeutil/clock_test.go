package timeutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClock(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	assert.False(t, now.Before(before))
	assert.GreaterOrEqual(t, clock.Since(now.Add(-time.Second)), time.Second)

	start := time.Now()
	require.NoError(t, clock.Sleep(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	require.NoError(t, clock.Sleep(context.Background(), 0))
}

func TestRealClock_SleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	assert.ErrorIs(t, RealClock{}.Sleep(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, RealClock{}.Sleep(ctx, 0), context.Canceled)
}

func TestMockClock_BackoffSchedule(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ctx := context.Background()

	for _, d := range []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second} {
		require.NoError(t, clock.Sleep(ctx, d))
	}
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, clock.Sleeps())
	assert.Equal(t, start.Add(3500*time.Millisecond), clock.Now())
	assert.Equal(t, 3500*time.Millisecond, clock.Since(start))

	// the returned slice is a copy
	clock.Sleeps()[0] = 0
	assert.Equal(t, 500*time.Millisecond, clock.Sleeps()[0])
}

func TestMockClock_SleepCancelled(t *testing.T) {
	clock := NewMockClock(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, clock.Sleep(ctx, time.Second), context.Canceled)
	assert.Empty(t, clock.Sleeps())
	assert.True(t, clock.Now().IsZero())
}
