package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisManager(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	m := NewManager(Config{
		Enabled:   true,
		RedisAddr: mr.Addr(),
		TTL:       time.Minute,
	}, zap.NewNop())
	t.Cleanup(func() { _ = m.Close() })

	return mr, m
}

func TestManagerSelectsRedisWhenReachable(t *testing.T) {
	_, m := newRedisManager(t)
	assert.Equal(t, "redis", m.Backend())
}

func TestManagerFallsBackWhenRedisUnreachable(t *testing.T) {
	// Nothing listens on this address; the probe must fail fast and the
	// manager must settle on the in-memory store.
	m := NewManager(Config{
		Enabled:   true,
		RedisAddr: "127.0.0.1:1",
		TTL:       time.Minute,
	}, zap.NewNop())
	defer m.Close()

	assert.Equal(t, "memory", m.Backend())

	ctx := context.Background()

	// The chat flow must work identically on the fallback store.
	m.Set(ctx, "k", []byte("v"), 0)
	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	removed := m.Flush(ctx)
	assert.EqualValues(t, 1, removed)
	_, ok = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestManagerRoundTrip(t *testing.T) {
	_, m := newRedisManager(t)

	ctx := context.Background()

	m.Set(ctx, "key1", []byte("value1"), time.Minute)
	got, ok := m.Get(ctx, "key1")
	require.True(t, ok)
	assert.Equal(t, []byte("value1"), got)
}

func TestManagerExpiry(t *testing.T) {
	mr, m := newRedisManager(t)

	ctx := context.Background()

	m.Set(ctx, "short", []byte("lived"), time.Second)
	_, ok := m.Get(ctx, "short")
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok = m.Get(ctx, "short")
	assert.False(t, ok)
}

func TestManagerSurvivesBackendDeath(t *testing.T) {
	mr, m := newRedisManager(t)

	ctx := context.Background()
	m.Set(ctx, "k", []byte("v"), time.Minute)

	// Kill the backend mid-flight: every operation must still complete,
	// reads as misses, writes as no-ops.
	mr.Close()

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)

	m.Set(ctx, "k2", []byte("v2"), time.Minute)

	removed := m.Flush(ctx)
	assert.EqualValues(t, 0, removed)
}

func TestManagerStats(t *testing.T) {
	_, m := newRedisManager(t)

	ctx := context.Background()

	stats := m.Stats(ctx)
	assert.Zero(t, stats.HitRate)

	m.Set(ctx, "k", []byte("v"), time.Minute)

	// 3 hits, 1 miss.
	for i := 0; i < 3; i++ {
		_, ok := m.Get(ctx, "k")
		require.True(t, ok)
	}
	_, ok := m.Get(ctx, "absent")
	require.False(t, ok)

	stats = m.Stats(ctx)
	assert.EqualValues(t, 3, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 4, stats.TotalRequests)
	assert.InDelta(t, 0.75, stats.HitRate, 1e-9)
	assert.EqualValues(t, 1, stats.Entries)
	assert.Equal(t, "redis", stats.Backend)
}

func TestManagerDisabled(t *testing.T) {
	m := NewManager(Config{Enabled: false, TTL: time.Minute}, zap.NewNop())
	defer m.Close()

	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), time.Minute)
	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
	assert.EqualValues(t, 0, m.Flush(ctx))
}

func TestManagerRedisFlushOnlyTouchesPrefix(t *testing.T) {
	mr, m := newRedisManager(t)

	ctx := context.Background()

	m.Set(ctx, "a", []byte("1"), time.Minute)
	m.Set(ctx, "b", []byte("2"), time.Minute)
	require.NoError(t, mr.Set("other:key", "keep"))

	removed := m.Flush(ctx)
	assert.EqualValues(t, 2, removed)

	v, err := mr.Get("other:key")
	require.NoError(t, err)
	assert.Equal(t, "keep", v)
}
