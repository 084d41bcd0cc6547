package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_TryCheck_ConsumesBurstThenExhausts(t *testing.T) {
	l := NewLimiter("polymarket", 1, 3)

	require.NoError(t, l.TryCheck())
	require.NoError(t, l.TryCheck())
	require.NoError(t, l.TryCheck())

	err := l.TryCheck()
	require.Error(t, err)
}

func TestLimiter_TryCheck_RefillsOverTime(t *testing.T) {
	l := NewLimiter("polymarket", 100, 1)
	require.NoError(t, l.TryCheck())
	require.Error(t, l.TryCheck())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.TryCheck(), "token bucket should have refilled after waiting")
}

func TestLimiter_Check_BlocksUntilTokenAvailable(t *testing.T) {
	l := NewLimiter("polymarket", 50, 1)
	require.NoError(t, l.TryCheck())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	err := l.Check(ctx)
	require.NoError(t, err)
	assert.True(t, time.Since(start) > 0)
}

func TestLimiter_Check_RespectsContextCancellation(t *testing.T) {
	l := NewLimiter("polymarket", 0.001, 1)
	require.NoError(t, l.TryCheck())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Check(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Get("polymarket"))

	r.Register("polymarket", 10, 5)
	l := r.Get("polymarket")
	require.NotNil(t, l)
	assert.Equal(t, float64(5), l.AvailableTokens())
}
