package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindow_Allow(t *testing.T) {
	now := time.Unix(1000, 0)
	sw := NewSlidingWindow(2, time.Second)
	sw.now = func() time.Time { return now }

	assert.True(t, sw.Allow())
	assert.True(t, sw.Allow())
	assert.False(t, sw.Allow())
	assert.Equal(t, 0, sw.Remaining())

	// 窗口滑过后恢复
	now = now.Add(1100 * time.Millisecond)
	assert.Equal(t, 2, sw.Remaining())
	assert.True(t, sw.Allow())
}

func TestSlidingWindow_Unlimited(t *testing.T) {
	sw := NewSlidingWindow(0, time.Second)
	for i := 0; i < 100; i++ {
		require.True(t, sw.Allow())
	}
	var nilLimiter *SlidingWindow
	assert.True(t, nilLimiter.Allow())
}

func TestSlidingWindow_WaitRespectsContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	require.True(t, sw.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sw.Wait(ctx), context.DeadlineExceeded)
}
