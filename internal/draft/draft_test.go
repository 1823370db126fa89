package draft

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { client.Close() })

	sq, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client, "", time.Hour),
		"sqlite": sq,
	}
}

func TestCacheSizeCeiling(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := NewCache(store)

			exact := strings.Repeat("a", MaxDraftBytes)
			require.NoError(t, c.Save(ctx, "doc-exact", exact))
			got, ok, err := c.Restore(ctx, "doc-exact")
			require.NoError(t, err)
			require.True(t, ok)
			require.Len(t, got, MaxDraftBytes)

			over := strings.Repeat("a", MaxDraftBytes+1)
			require.NoError(t, c.Save(ctx, "doc-over", over))
			_, ok, err = c.Restore(ctx, "doc-over")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestCacheSizeCountsBytes(t *testing.T) {
	ctx := context.Background()
	c := NewCache(NewMemoryStore(), WithLimit(4))
	// "é" is two bytes in UTF-8
	require.NoError(t, c.Save(ctx, "d", "ééé"))
	_, ok, err := c.Restore(ctx, "d")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.Save(ctx, "d", "éé"))
	_, ok, err = c.Restore(ctx, "d")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCacheOversizeKeepsEarlierDraft(t *testing.T) {
	ctx := context.Background()
	c := NewCache(NewMemoryStore(), WithLimit(5))
	require.NoError(t, c.Save(ctx, "d", "short"))
	require.NoError(t, c.Save(ctx, "d", "much longer"))
	got, ok, err := c.Restore(ctx, "d")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "short", got)
}

func TestCacheRoundTripAndClear(t *testing.T) {
	stamp := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := NewCache(store, WithClock(func() time.Time { return stamp }))

			_, ok, err := c.Restore(ctx, "doc-1")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, c.Save(ctx, "doc-1", "first"))
			require.NoError(t, c.Save(ctx, "doc-1", "second"))
			got, ok, err := c.Restore(ctx, "doc-1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "second", got)

			d, err := store.Get(ctx, "doc-1")
			require.NoError(t, err)
			require.Equal(t, 6, d.Size)
			require.True(t, stamp.Equal(d.UpdatedAt), "updatedAt %v", d.UpdatedAt)

			require.NoError(t, c.Clear(ctx, "doc-1"))
			_, ok, err = c.Restore(ctx, "doc-1")
			require.NoError(t, err)
			require.False(t, ok)

			// clearing a missing draft is fine
			require.NoError(t, c.Clear(ctx, "doc-1"))
		})
	}
}

func TestRedisStoreExpires(t *testing.T) {
	m, err := miniredis.Run()
	require.NoError(t, err)
	defer m.Close()
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	store := NewRedisStore(client, "draft:", time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, Draft{DocumentID: "d", Content: "x", Size: 1, UpdatedAt: time.Now()}))
	require.True(t, m.Exists("draft:d"))
	m.FastForward(2 * time.Minute)
	d, err := store.Get(ctx, "d")
	require.NoError(t, err)
	require.Nil(t, d)
}
