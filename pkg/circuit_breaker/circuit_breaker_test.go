package circuit_breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/hie-engine/runtime-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripsOpenAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 2, ResetTimeout: 50 * time.Millisecond})
	boom := errors.New("boom")

	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, types.CircuitBreakerClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, types.CircuitBreakerOpen, cb.State())
	assert.True(t, cb.IsOpen())

	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitBreakerOpen)
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})
	boom := errors.New("boom")

	require.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	require.True(t, cb.IsOpen())

	time.Sleep(15 * time.Millisecond)

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, types.CircuitBreakerClosed, cb.State())
	assert.False(t, cb.IsOpen())
}

func TestResetClearsFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: time.Minute})
	require.Error(t, cb.Execute(func() error { return errors.New("x") }))
	require.True(t, cb.IsOpen())

	cb.Reset()
	assert.Equal(t, types.CircuitBreakerClosed, cb.State())
	stats := cb.GetStats()
	assert.Equal(t, int64(0), stats.Failures)
}
