package ratelimit

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/observability"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	key := WindowKey("user-1", "admin.provision_tenant")
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, found, err := store.Fetch(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Save(ctx, key, Window{Calls: []time.Time{now}}, time.Hour))

	window, found, err := store.Fetch(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, window.Calls, 1)
	assert.True(t, window.Calls[0].Equal(now))

	require.NoError(t, store.Delete(ctx, key))
	_, found, err = store.Fetch(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStoreWindowExpires(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	key := WindowKey("user-1", "admin.provision_tenant")
	require.NoError(t, store.Save(ctx, key, Window{Calls: []time.Time{time.Now()}}, time.Hour))

	mr.FastForward(2 * time.Hour)

	_, found, err := store.Fetch(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStoreSweepRemovesLeakedKeys(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	// A key without TTL, as an older deployment could have left behind.
	mr.Set(WindowKey("user-1", "admin.provision_tenant"), `{"calls":[]}`)

	key := WindowKey("user-2", "admin.provision_tenant")
	require.NoError(t, store.Save(ctx, key, Window{}, time.Hour))

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, found, err := store.Fetch(ctx, key)
	require.NoError(t, err)
	assert.True(t, found, "keys with a TTL survive the sweep")
}

func TestLimiterOverRedis(t *testing.T) {
	store, _ := newRedisStore(t)
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	limiter := NewLimiter(testLimits(), store, logger, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Check(ctx, "user-1", "payroll.lock_period"))
	}

	err := limiter.Check(ctx, "user-1", "payroll.lock_period")
	require.Error(t, err)
	assert.Equal(t, apierr.KindResourceExhausted, apierr.KindOf(err))
}
