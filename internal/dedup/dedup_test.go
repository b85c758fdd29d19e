package dedup

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("espn", "guid-1", "Title", "https://x/1")
	b := Fingerprint("espn", "guid-1", "Other title", "https://x/2")
	c := Fingerprint("cbs", "guid-1", "Title", "https://x/1")
	assert.Equal(t, a, b, "guid wins over title and link")
	assert.NotEqual(t, a, c, "guid is scoped to the source")

	d := Fingerprint("espn", "", "  Chiefs   WIN ", "https://x/3")
	e := Fingerprint("cbs", "", "chiefs win", "https://x/3")
	assert.Equal(t, d, e)
	assert.Len(t, d, 32)
}

func TestStore_IsNewOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil, 0, nil)

	first, err := s.IsNew(ctx, "fp")
	require.NoError(t, err)
	second, err := s.IsNew(ctx, "fp")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}

func TestStore_CeilingClearsSet(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend(), 3, nil)

	for i := 0; i < 3; i++ {
		isNew, err := s.IsNew(ctx, fmt.Sprintf("fp-%d", i))
		require.NoError(t, err)
		require.True(t, isNew)
	}

	isNew, err := s.IsNew(ctx, "fp-3")
	require.NoError(t, err)
	assert.True(t, isNew)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Seen)
	assert.Equal(t, 1, stats.Resets)

	again, err := s.IsNew(ctx, "fp-0")
	require.NoError(t, err)
	assert.True(t, again, "fingerprints recorded before the reset may reappear")
}

func TestStore_ConcurrentSameFingerprint(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil, 0, nil)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.IsNew(ctx, "same"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	s := NewStore(NewRedisBackend(client, "test:seen"), 2, nil)

	t.Run("check and mark", func(t *testing.T) {
		first, err := s.IsNew(ctx, "a")
		require.NoError(t, err)
		second, err := s.IsNew(ctx, "a")
		require.NoError(t, err)
		assert.True(t, first)
		assert.False(t, second)

		ok, err := mr.SIsMember("test:seen", "a")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ceiling", func(t *testing.T) {
		_, err := s.IsNew(ctx, "b")
		require.NoError(t, err)
		_, err = s.IsNew(ctx, "c")
		require.NoError(t, err)

		members, err := mr.Members("test:seen")
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, members)
	})
}
