package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/stretchr/testify/require"
)

func TestMemoryFixedWindowDeniesPastLimit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	limiter := NewMemoryFixedWindow(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "ip:203.0.113.7", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, res.Allowed)
		require.Equal(t, 3-(i+1), res.Remaining)
	}

	res, err := limiter.Allow(ctx, "ip:203.0.113.7", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 0, res.Remaining)
	require.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestMemoryFixedWindowResetsAfterExpiry(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	limiter := NewMemoryFixedWindow(clk)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "ip:198.51.100.4", 2, time.Minute)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := limiter.Allow(ctx, "ip:198.51.100.4", 2, time.Minute)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// The denial does not extend the window.
	clk.Advance(61 * time.Second)

	res, err = limiter.Allow(ctx, "ip:198.51.100.4", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 1, res.Remaining)
}

func TestMemoryFixedWindowKeysAreIndependent(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	limiter := NewMemoryFixedWindow(clk)
	ctx := context.Background()

	res, err := limiter.Allow(ctx, "validate:ip:10.0.0.1", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "validate:ip:10.0.0.1", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// A different IP and a different endpoint both get their own windows.
	res, err = limiter.Allow(ctx, "validate:ip:10.0.0.2", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "update:ip:10.0.0.1", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestMemoryFixedWindowSweepDropsExpired(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	limiter := NewMemoryFixedWindow(clk)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "ip:192.0.2.9", 5, time.Minute)
	require.NoError(t, err)
	require.Len(t, limiter.entries, 1)

	clk.Advance(2 * time.Minute)
	limiter.Sweep()
	require.Empty(t, limiter.entries)
}

func TestMemoryFixedWindowRejectsBadInput(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	limiter := NewMemoryFixedWindow(clk)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "", 5, time.Minute)
	require.Error(t, err)

	_, err = limiter.Allow(ctx, "ip:10.0.0.1", 0, time.Minute)
	require.Error(t, err)

	_, err = limiter.Allow(ctx, "ip:10.0.0.1", 5, 0)
	require.Error(t, err)
}
