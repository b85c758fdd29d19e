package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuota_PerProviderAndTotal(t *testing.T) {
	q := NewQuota(map[string]int{"openai": 2, "gemini": 0}, 3, nil)

	require.NoError(t, q.Use("openai"))
	require.NoError(t, q.Use("openai"))
	assert.False(t, q.Allow("openai"))
	assert.Error(t, q.Use("openai"))

	assert.True(t, q.Allow("gemini"))
	require.NoError(t, q.Use("gemini"))
	assert.False(t, q.Allow("gemini"), "total cap reached")

	stats := q.GetStats()
	assert.Equal(t, 3, stats["total_used"])
	assert.Equal(t, 2, stats["openai_used"])
}

func TestQuota_DailyReset(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := NewQuota(map[string]int{"openai": 1}, 0, nil).WithClock(func() time.Time { return now })

	require.NoError(t, q.Use("openai"))
	assert.False(t, q.Allow("openai"))

	now = now.Add(25 * time.Hour)
	assert.True(t, q.Allow("openai"))
}

func TestThrottle_Spacing(t *testing.T) {
	th := NewThrottle(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, th.Wait(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)

	ctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, NewThrottle(time.Hour).Wait(ctx))
}
