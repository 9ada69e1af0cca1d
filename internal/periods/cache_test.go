package periods

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *BalanceCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBalanceCache(client, time.Minute)
}

func TestBalanceCacheVersionInitialises(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ver, err := c.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)

	require.NoError(t, c.Bump(ctx))
	ver, err = c.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), ver)
}

func TestBalanceCacheKeyChangesOnBump(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	before, err := c.BuildKey(ctx, "balances", "1", "0")
	require.NoError(t, err)
	require.Equal(t, "balances:1:0:1", before)

	require.NoError(t, c.Bump(ctx))
	after, err := c.BuildKey(ctx, "balances", "1", "0")
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}

func TestBalanceCacheFetchJSONPopulatesOnce(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(ctx context.Context) (any, error) {
		loads++
		return map[string]int{"count": 2}, nil
	}

	var first map[string]int
	require.NoError(t, c.FetchJSON(ctx, "k", &first, loader))
	require.Equal(t, 2, first["count"])
	require.Equal(t, 1, loads)

	var second map[string]int
	require.NoError(t, c.FetchJSON(ctx, "k", &second, loader))
	require.Equal(t, 2, second["count"])
	require.Equal(t, 1, loads, "second fetch must be served from cache")
}

func TestBalanceCacheFetchJSONPropagatesLoaderError(t *testing.T) {
	c := newTestCache(t)
	boom := errors.New("query failed")

	var out map[string]int
	err := c.FetchJSON(context.Background(), "k", &out, func(ctx context.Context) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestBalanceCacheNilDegradesToLoader(t *testing.T) {
	var c *BalanceCache
	ctx := context.Background()

	key, err := c.BuildKey(ctx, "balances", "1")
	require.NoError(t, err)
	require.Equal(t, "balances:1", key)

	require.NoError(t, c.Bump(ctx))

	var out map[string]int
	require.NoError(t, c.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return map[string]int{"count": 5}, nil
	}))
	require.Equal(t, 5, out["count"])
}
