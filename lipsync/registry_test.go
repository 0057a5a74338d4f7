package lipsync

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/visemeflow/internal/cache"
)

func newRedisRegistry(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisRegistry) {
	t.Helper()
	mr := miniredis.RunT(t)
	manager, err := cache.NewManager(cache.Config{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, NewRedisRegistry(manager, RedisRegistryConfig{TTL: ttl, Instance: "node-a"}, zap.NewNop())
}

func registryContract(t *testing.T, reg Registry) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, reg.Ping(ctx))

	list, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, reg.Put(ctx, SessionInfo{ID: "b", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, reg.Put(ctx, SessionInfo{ID: "a", CreatedAt: base}))
	require.NoError(t, reg.Put(ctx, SessionInfo{ID: "b", CreatedAt: base.Add(time.Second), Frames: 3}))

	list, err = reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, int64(3), list[1].Frames)

	got, err := reg.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, base.Equal(got.CreatedAt))

	require.NoError(t, reg.Remove(ctx, "a"))
	_, err = reg.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// 删除不存在的会话不报错
	assert.NoError(t, reg.Remove(ctx, "missing"))
}

func TestMemoryRegistry(t *testing.T) {
	reg := NewMemoryRegistry()
	assert.Equal(t, "memory", reg.Name())
	registryContract(t, reg)
}

func TestRedisRegistry(t *testing.T) {
	_, reg := newRedisRegistry(t, time.Minute)
	assert.Equal(t, "redis", reg.Name())
	registryContract(t, reg)
}

func TestRedisRegistry_StampsInstanceAndExpires(t *testing.T) {
	mr, reg := newRedisRegistry(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, SessionInfo{ID: "s1", CreatedAt: time.Now()}))
	got, err := reg.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "node-a", got.Instance)
	assert.Equal(t, time.Minute, mr.TTL(DefaultKeyPrefix+"s1"))

	mr.FastForward(2 * time.Minute)

	list, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisRegistry_SkipsCorruptEntries(t *testing.T) {
	mr, reg := newRedisRegistry(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, SessionInfo{ID: "ok", CreatedAt: time.Now()}))
	require.NoError(t, mr.Set(DefaultKeyPrefix+"broken", "{not json"))
	require.NoError(t, mr.Set("unrelated:key", "x"))

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ok", list[0].ID)
}

func TestRedisRegistry_SharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	open := func(instance string) *RedisRegistry {
		m, err := cache.NewManager(cache.Config{Addr: mr.Addr()}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = m.Close() })
		return NewRedisRegistry(m, RedisRegistryConfig{Instance: instance}, nil)
	}
	a, b := open("a"), open("b")
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, SessionInfo{ID: "1", CreatedAt: time.Now()}))
	require.NoError(t, b.Put(ctx, SessionInfo{ID: "2", CreatedAt: time.Now().Add(time.Millisecond)}))

	list, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Instance)
	assert.Equal(t, "b", list[1].Instance)
}
