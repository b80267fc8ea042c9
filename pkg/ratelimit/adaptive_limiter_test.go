package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestDisabledLimiterAlwaysAllows(t *testing.T) {
	rl := NewAdaptiveRateLimiter(Config{Enabled: false}, testLogger())
	defer rl.Stop()

	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow())
	}
}

func TestAllowNRespectsBurst(t *testing.T) {
	rl := NewAdaptiveRateLimiter(Config{
		Enabled:      true,
		InitialRPS:   1,
		InitialBurst: 3,
	}, testLogger())
	defer rl.Stop()

	assert.True(t, rl.AllowN(3))
	assert.False(t, rl.Allow())

	stats := rl.GetStats()
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(3), stats.AllowedRequests)
	assert.Equal(t, int64(1), stats.BlockedRequests)
}

func TestAllowBytesSpendsProportionalTokens(t *testing.T) {
	rl := NewAdaptiveRateLimiter(Config{
		Enabled:       true,
		InitialRPS:    100,
		InitialBurst:  10,
		BytesPerToken: 1024,
	}, testLogger())
	defer rl.Stop()

	assert.True(t, rl.AllowBytes(2048))
	stats := rl.GetStats()
	assert.Equal(t, int64(2048), stats.BytesProcessed)
}

func TestWaitUnblocksOnceTokenAvailable(t *testing.T) {
	rl := NewAdaptiveRateLimiter(Config{
		Enabled:      true,
		InitialRPS:   1000,
		InitialBurst: 1,
	}, testLogger())
	defer rl.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, rl.Wait(ctx))
	require.NoError(t, rl.Wait(ctx))
}

func TestWaitReturnsContextErrWhenStarved(t *testing.T) {
	rl := NewAdaptiveRateLimiter(Config{
		Enabled:      true,
		InitialRPS:   0.01,
		InitialBurst: 1,
	}, testLogger())
	defer rl.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.NoError(t, rl.Wait(context.Background()))
	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResetRestoresInitialLimits(t *testing.T) {
	rl := NewAdaptiveRateLimiter(Config{
		Enabled:      true,
		InitialRPS:   10,
		InitialBurst: 5,
	}, testLogger())
	defer rl.Stop()

	rl.AllowN(5)
	rl.Reset()

	rps, burst := rl.GetCurrentLimits()
	assert.Equal(t, 10.0, rps)
	assert.Equal(t, 5, burst)
	assert.Equal(t, int64(0), rl.GetStats().TotalRequests)
}

func TestLatencyWindowAverage(t *testing.T) {
	w := NewLatencyWindow(3)
	assert.Equal(t, time.Duration(0), w.Average())

	w.Add(100 * time.Millisecond)
	w.Add(200 * time.Millisecond)
	assert.Equal(t, 150*time.Millisecond, w.Average())
}
