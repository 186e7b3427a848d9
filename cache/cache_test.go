package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestCacheLocalHit(t *testing.T) {
	c := New(nil, &Config{EnableLocal: true, LocalCapacity: 10, LocalTTL: time.Minute}, nil)
	rec := &ResponseRecord{Backend: "a", Text: "hello"}
	require.NoError(t, c.Set(context.Background(), "k1", rec))

	got, err := c.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, "hello", got.Text)
}

func TestCacheRedisBackfillsLocal(t *testing.T) {
	rdb := newTestRedis(t)
	c := New(rdb, &Config{EnableLocal: true, EnableRedis: true, LocalCapacity: 10, LocalTTL: time.Minute, RedisTTL: time.Minute}, nil)

	rec := &ResponseRecord{Backend: "a", Text: "from redis"}
	require.NoError(t, c.Set(context.Background(), "k2", rec))

	// Clear local to force a Redis read.
	c.local.Clear()

	got, err := c.Get(context.Background(), "k2")
	require.NoError(t, err)
	require.Equal(t, "from redis", got.Text)

	// The Redis hit must have backfilled local.
	_, ok := c.local.Get("k2")
	require.True(t, ok)
}

func TestCacheMiss(t *testing.T) {
	c := New(nil, DefaultConfig(), nil)
	_, err := c.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrMiss)
}

func TestGetOrBuildCoalescesConcurrentCallers(t *testing.T) {
	c := New(nil, DefaultConfig(), nil)
	var calls int32

	build := func(ctx context.Context) (*ResponseRecord, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return &ResponseRecord{Backend: "a", Text: "built"}, nil
	}

	var wg sync.WaitGroup
	results := make([]*ResponseRecord, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, _, err := c.GetOrBuild(context.Background(), "same-key", build)
			require.NoError(t, err)
			results[i] = rec
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, r := range results {
		require.Equal(t, "built", r.Text)
	}
}

func TestGetOrBuildPropagatesError(t *testing.T) {
	c := New(nil, DefaultConfig(), nil)
	wantErr := errors.New("boom")
	_, _, err := c.GetOrBuild(context.Background(), "k", func(ctx context.Context) (*ResponseRecord, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestLocalCacheEvictionPolicies(t *testing.T) {
	for _, policy := range []Policy{PolicyLRU, PolicyLFU, PolicyFIFO, PolicyAdaptive} {
		lc := NewLocalCache(2, time.Minute, policy)
		lc.Set("a", &Entry{Response: &ResponseRecord{Text: "a"}})
		lc.Set("b", &Entry{Response: &ResponseRecord{Text: "b"}})
		lc.Set("c", &Entry{Response: &ResponseRecord{Text: "c"}})

		size, cap := lc.Stats()
		require.Equal(t, 2, cap)
		require.LessOrEqual(t, size, 2)
	}
}

func TestLocalCacheExpiry(t *testing.T) {
	lc := NewLocalCache(10, 5*time.Millisecond, PolicyLRU)
	lc.Set("k", &Entry{Response: &ResponseRecord{Text: "v"}})
	time.Sleep(10 * time.Millisecond)
	_, ok := lc.Get("k")
	require.False(t, ok)
}
