package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/config"
	"github.com/shiftworks/gatekeeper/pkg/observability"
)

func testLimits() *config.RateLimitConfig {
	return &config.RateLimitConfig{
		Actions: map[string]config.ActionLimit{
			"payroll.lock_period": {MaxCalls: 5, WindowMinutes: 60},
		},
	}
}

func newTestLimiter(t *testing.T) (*Limiter, *MemoryStore, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := NewMemoryStore().WithClock(clock)
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	limiter := NewLimiter(testLimits(), store, logger, nil).WithClock(clock)
	return limiter, store, &now
}

func TestCheckAdmitsUpToMaxCalls(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, limiter.Check(ctx, "user-1", "payroll.lock_period"), "call %d", i)
	}

	err := limiter.Check(ctx, "user-1", "payroll.lock_period")
	require.Error(t, err)
	assert.Equal(t, apierr.KindResourceExhausted, apierr.KindOf(err))

	details := apierr.DetailsOf(err)
	assert.Equal(t, 5, details["max_calls"])
	assert.Equal(t, 60, details["window_minutes"])
	assert.Greater(t, details["retry_after_seconds"], 0)
	assert.Contains(t, err.Error(), "5")
	assert.Contains(t, err.Error(), "60")
}

func TestCheckWindowsAreIndependentPerPrincipalAndAction(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Check(ctx, "user-1", "payroll.lock_period"))
	}

	require.Error(t, limiter.Check(ctx, "user-1", "payroll.lock_period"))
	assert.NoError(t, limiter.Check(ctx, "user-2", "payroll.lock_period"))
}

func TestCheckResetsAfterWindowPasses(t *testing.T) {
	limiter, _, now := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Check(ctx, "user-1", "payroll.lock_period"))
	}
	require.Error(t, limiter.Check(ctx, "user-1", "payroll.lock_period"))

	*now = now.Add(61 * time.Minute)
	assert.NoError(t, limiter.Check(ctx, "user-1", "payroll.lock_period"))
}

func TestCheckUnconfiguredActionIsNoOp(t *testing.T) {
	limiter, store, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Check(ctx, "user-1", "fiduciary.client_dashboard"))
	}
	assert.Empty(t, store.entries, "no window should be written")
}

func TestCheckFailsOpenOnStoreErrors(t *testing.T) {
	limiter, store, _ := newTestLimiter(t)
	store.FailAll = errors.New("redis: connection refused")

	for i := 0; i < 10; i++ {
		assert.NoError(t, limiter.Check(context.Background(), "user-1", "payroll.lock_period"))
	}
}

func TestStatusDoesNotMutateWindow(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	require.NoError(t, limiter.Check(ctx, "user-1", "payroll.lock_period"))

	for i := 0; i < 20; i++ {
		status, err := limiter.Status(ctx, "user-1", "payroll.lock_period")
		require.NoError(t, err)
		assert.Equal(t, 4, status.Remaining)
		assert.False(t, status.Limited)
	}
}

func TestStatusReportsLimitAndReset(t *testing.T) {
	limiter, _, now := newTestLimiter(t)
	ctx := context.Background()

	start := *now
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Check(ctx, "user-1", "payroll.lock_period"))
	}

	status, err := limiter.Status(ctx, "user-1", "payroll.lock_period")
	require.NoError(t, err)
	assert.True(t, status.Limited)
	assert.Zero(t, status.Remaining)
	assert.Equal(t, start.Add(time.Hour), status.ResetsAt)
	assert.Equal(t, 5, status.MaxCalls)
}

func TestStatusUnlimitedAction(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)

	status, err := limiter.Status(context.Background(), "user-1", "fiduciary.client_dashboard")
	require.NoError(t, err)
	assert.True(t, status.Unlimited)
	assert.Equal(t, -1, status.Remaining)
}

func TestResetClearsWindow(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Check(ctx, "user-1", "payroll.lock_period"))
	}
	require.Error(t, limiter.Check(ctx, "user-1", "payroll.lock_period"))

	require.NoError(t, limiter.Reset(ctx, "user-1", "payroll.lock_period"))
	assert.NoError(t, limiter.Check(ctx, "user-1", "payroll.lock_period"))
}

func TestMemoryStoreSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		key := WindowKey(fmt.Sprintf("user-%d", i), "payroll.lock_period")
		require.NoError(t, store.Save(ctx, key, Window{Calls: []time.Time{now}}, time.Hour))
	}

	now = now.Add(2 * time.Hour)
	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
}
