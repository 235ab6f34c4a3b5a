package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowAllow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	sw := NewSlidingWindow(2, time.Minute)
	sw.now = func() time.Time { return now }

	assert.True(t, sw.Allow())
	assert.True(t, sw.Allow())
	assert.False(t, sw.Allow(), "third request inside window must be rejected")
	assert.Equal(t, 0, sw.GetRemaining())

	now = now.Add(61 * time.Second)
	assert.Equal(t, 2, sw.GetRemaining())
	assert.True(t, sw.Allow())
}

func TestSlidingWindowWaitHonoursContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	require.True(t, sw.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := sw.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManagerFallbackIsShared(t *testing.T) {
	m := NewManager()
	a := m.GetLimiter("unknown-a")
	b := m.GetLimiter("unknown-b")
	assert.Same(t, a, b)

	custom := NewSlidingWindow(1, time.Second)
	m.Set(BucketTrading, custom)
	assert.Same(t, RateLimiter(custom), m.GetLimiter(BucketTrading))
	require.NoError(t, m.Wait(context.Background(), BucketTrading))
}
