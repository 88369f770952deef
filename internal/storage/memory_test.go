package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway-core/internal/domain"
	"gateway-core/internal/logger"
)

func newTestMemoryStore(t *testing.T) *MemoryStore {
	store := NewMemoryStore(logger.NewLogger("error", "json"))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMemoryStore_IncrAndGet(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	count, err := store.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = store.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	value, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "2", value)
}

func TestMemoryStore_GetMissingKey(t *testing.T) {
	store := newTestMemoryStore(t)

	value, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, "", value)
}

func TestMemoryStore_ExpireAndTTL(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	_, err := store.Incr(ctx, "counter")
	require.NoError(t, err)
	require.NoError(t, store.Expire(ctx, "counter", time.Minute))

	ttl, err := store.TTL(ctx, "counter")
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	// Chave sem TTL retorna -1
	ttl, err = store.TTL(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)
}

func TestMemoryStore_ExpiredKeyIsRemoved(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "ephemeral", "value", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	value, err := store.Get(ctx, "ephemeral")
	require.NoError(t, err)
	assert.Equal(t, "", value)

	// Contador expirado recomeça do zero
	require.NoError(t, store.SetEx(ctx, "counter", "7", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	count, err := store.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStore_Del(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "a", "1", time.Minute))
	require.NoError(t, store.SetEx(ctx, "b", "2", time.Minute))
	require.NoError(t, store.Del(ctx, "a", "b"))

	value, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "", value)
}

func TestMemoryStore_SortedSet(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.ZAdd(ctx, "zset", 1, "one"))
	require.NoError(t, store.ZAdd(ctx, "zset", 2, "two"))
	require.NoError(t, store.ZAdd(ctx, "zset", 3, "three"))

	count, err := store.ZCard(ctx, "zset")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, store.ZRemRangeByScore(ctx, "zset", 0, 2))

	count, err = store.ZCard(ctx, "zset")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	members, err := store.ZRangeWithScores(ctx, "zset", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"three": 3}, members)

	score, err := store.ZIncrBy(ctx, "zset", 2.5, "three")
	require.NoError(t, err)
	assert.Equal(t, 5.5, score)
}

func TestMemoryStore_SetAndHash(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.SAdd(ctx, "clients", "a", "b", "a"))
	count, err := store.SCard(ctx, "clients")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	value, err := store.HIncrBy(ctx, "hash", "total", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), value)

	value, err = store.HIncrBy(ctx, "hash", "total", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), value)

	fields, err := store.HGetAll(ctx, "hash")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"total": "5"}, fields)
}

func TestMemoryStore_Keys(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "traffic:block:ip:1.2.3.4", "reason", time.Minute))
	require.NoError(t, store.SetEx(ctx, "traffic:block:user:42", "reason", time.Minute))
	require.NoError(t, store.SetEx(ctx, "other", "x", time.Minute))

	keys, err := store.Keys(ctx, "traffic:block:*")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestMemoryStore_Health(t *testing.T) {
	store := NewMemoryStore(logger.NewLogger("error", "json"))
	assert.NoError(t, store.Health(context.Background()))

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Health(context.Background()), domain.ErrStoreUnhealthy)
}
