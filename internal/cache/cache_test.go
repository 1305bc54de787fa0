package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewRedisClient(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRedisClient_RoundTrip(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "search:abc", []byte("payload"), time.Minute))

	got, err := client.Get(ctx, "search:abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestRedisClient_MissReturnsErrCacheMiss(t *testing.T) {
	client, _ := setupRedis(t)

	_, err := client.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisClient_TTLExpires(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "short", []byte("x"), time.Second))
	mr.FastForward(2 * time.Second)

	_, err := client.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisClient_DeleteByPrefix(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "search:a", []byte("1"), time.Minute))
	require.NoError(t, client.Set(ctx, "search:b", []byte("2"), time.Minute))
	require.NoError(t, client.Set(ctx, "rewrite:c", []byte("3"), time.Minute))

	require.NoError(t, client.DeleteByPrefix(ctx, "search:"))

	_, err := client.Get(ctx, "search:a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = client.Get(ctx, "rewrite:c")
	assert.NoError(t, err)
}

func TestLRUClient_RoundTripAndExpiry(t *testing.T) {
	client := NewLRUClient(16, time.Minute)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", []byte("v"), 10*time.Millisecond))

	got, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	time.Sleep(20 * time.Millisecond)
	_, err = client.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss, "per-entry TTL shorter than the shard TTL is honored")
}

func TestLRUClient_EvictsWhenFull(t *testing.T) {
	client := NewLRUClient(2, time.Minute)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, client.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, client.Set(ctx, "c", []byte("3"), time.Minute))

	_, err := client.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss, "oldest entry evicted at capacity")

	got, err := client.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}

func TestLRUClient_DeleteByPrefix(t *testing.T) {
	client := NewLRUClient(16, time.Minute)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "search:a", []byte("1"), time.Minute))
	require.NoError(t, client.Set(ctx, "other:b", []byte("2"), time.Minute))

	require.NoError(t, client.DeleteByPrefix(ctx, "search:"))

	_, err := client.Get(ctx, "search:a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = client.Get(ctx, "other:b")
	assert.NoError(t, err)
}

func TestMultiLayer_PromotesL2Hits(t *testing.T) {
	l1 := NewLRUClient(16, time.Minute)
	l2 := NewLRUClient(16, time.Minute)
	layered := NewMultiLayer(l1, l2)
	ctx := context.Background()

	require.NoError(t, l2.Set(ctx, "k", []byte("shared"), time.Minute))

	got, err := layered.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), got)

	got, err = l1.Get(ctx, "k")
	require.NoError(t, err, "L2 hit promoted into L1")
	assert.Equal(t, []byte("shared"), got)
}

func TestMultiLayer_WritesBothLayers(t *testing.T) {
	l1 := NewLRUClient(16, time.Minute)
	l2 := NewLRUClient(16, time.Minute)
	layered := NewMultiLayer(l1, l2)
	ctx := context.Background()

	require.NoError(t, layered.Set(ctx, "k", []byte("v"), time.Minute))

	for name, c := range map[string]Client{"l1": l1, "l2": l2} {
		got, err := c.Get(ctx, "k")
		require.NoError(t, err, name)
		assert.Equal(t, []byte("v"), got, name)
	}

	require.NoError(t, layered.Delete(ctx, "k"))
	_, err := l1.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = l2.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMultiLayer_RunsWithoutL2(t *testing.T) {
	layered := NewMultiLayer(NewLRUClient(16, time.Minute), nil)
	ctx := context.Background()

	require.NoError(t, layered.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := layered.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = layered.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "search:v1:abc", Key("search", "v1", "abc"))
	assert.Equal(t, "u:42:search:abc", UserKey("42", "search", "abc"))

	a := HashedKey("search:", "query|user|10|0")
	b := HashedKey("search:", "query|user|10|0")
	c := HashedKey("search:", "query|user|10|1")
	assert.Equal(t, a, b, "same payload hashes to the same key")
	assert.NotEqual(t, a, c, "any differing parameter changes the key")
	assert.Len(t, a, len("search:")+32)
}
