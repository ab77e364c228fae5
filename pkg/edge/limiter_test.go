package edge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/time/rate"
)

func TestVisitorsBurstThenDeny(t *testing.T) {
	v := newVisitors(rate.Limit(1), 3)
	now := time.Now()

	for want := 2; want >= 0; want-- {
		d := v.admit("key", now)
		require.True(t, d.allowed)
		assert.Equal(t, want, d.remaining)
	}

	d := v.admit("key", now)
	require.False(t, d.allowed)
	assert.Zero(t, d.remaining)
	assert.Greater(t, d.retryAfter, time.Duration(0))
	assert.True(t, d.resetAt.After(now))
}

func TestVisitorsRefill(t *testing.T) {
	v := newVisitors(rate.Limit(1), 2)
	now := time.Now()

	require.True(t, v.admit("key", now).allowed)
	require.True(t, v.admit("key", now).allowed)
	require.False(t, v.admit("key", now).allowed)

	// One token per second; waiting 1.5s buys exactly one admission.
	later := now.Add(1500 * time.Millisecond)
	require.True(t, v.admit("key", later).allowed)
	require.False(t, v.admit("key", later).allowed)
}

func TestVisitorsSeparateKeys(t *testing.T) {
	v := newVisitors(rate.Limit(1), 1)
	now := time.Now()

	require.True(t, v.admit("a", now).allowed)
	require.False(t, v.admit("a", now).allowed)

	assert.True(t, v.admit("b", now).allowed)
	assert.Equal(t, 2, v.size())
}

func TestVisitorsEvictIdle(t *testing.T) {
	v := newVisitors(rate.Limit(1), 1)
	now := time.Now()

	v.admit("old", now)
	require.Equal(t, 1, v.size())

	// The next admission is late enough to trigger a sweep, and "old"
	// has been idle past the TTL by then.
	v.admit("fresh", now.Add(visitorIdleTTL+sweepEvery))
	assert.Equal(t, 1, v.size())

	d := v.admit("old", now.Add(visitorIdleTTL+sweepEvery))
	assert.True(t, d.allowed, "evicted key starts over with a full bucket")
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(20*time.Millisecond))
	assert.Equal(t, 2, retryAfterSeconds(1200*time.Millisecond))
}
