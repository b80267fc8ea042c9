package hostruntime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hie-engine/runtime-core/pkg/types"
)

func baseConfig(name string) types.ItemConfig {
	return types.ItemConfig{
		Name:             name,
		Kind:             types.HostKindProcess,
		PoolSize:         1,
		ExecutionMode:    types.ExecThreadPool,
		QueueType:        types.QueueFIFO,
		QueueSize:        10,
		OverflowStrategy: types.OverflowBlock,
		RestartPolicy:    types.RestartNever,
		MessagingPattern: types.PatternAsyncReliable,
	}
}

func TestHostProcessesEnqueuedEnvelope(t *testing.T) {
	var processed int32
	h := New(baseConfig("h1"), Deps{}, func(ctx context.Context, env *types.Envelope) ([]*types.Envelope, error) {
		atomic.AddInt32(&processed, 1)
		return nil, nil
	}, Hooks{})

	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Enqueue(context.Background(), types.NewEnvelope()))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&processed) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.Stop(context.Background()))
}

func TestPausedHostAcceptsButDoesNotProcess(t *testing.T) {
	var processed int32
	h := New(baseConfig("h2"), Deps{}, func(ctx context.Context, env *types.Envelope) ([]*types.Envelope, error) {
		atomic.AddInt32(&processed, 1)
		return nil, nil
	}, Hooks{})

	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Pause())
	require.NoError(t, h.Enqueue(context.Background(), types.NewEnvelope()))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&processed))

	require.NoError(t, h.Resume())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&processed) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.Stop(context.Background()))
}

func TestStoppedHostRejectsEnqueue(t *testing.T) {
	h := New(baseConfig("h3"), Deps{}, func(ctx context.Context, env *types.Envelope) ([]*types.Envelope, error) {
		return nil, nil
	}, Hooks{})

	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Stop(context.Background()))

	err := h.Enqueue(context.Background(), types.NewEnvelope())
	assert.Error(t, err)
}

func TestWorkerPanicRestartsUnderOnFailurePolicy(t *testing.T) {
	cfg := baseConfig("h4")
	cfg.RestartPolicy = types.RestartOnFailure
	cfg.MaxRestarts = 2

	var calls int32
	var once sync.Once
	h := New(cfg, Deps{}, func(ctx context.Context, env *types.Envelope) ([]*types.Envelope, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			once.Do(func() { panic("boom") })
		}
		return nil, nil
	}, Hooks{})

	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Enqueue(context.Background(), types.NewEnvelope()))
	require.NoError(t, h.Enqueue(context.Background(), types.NewEnvelope()))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, time.Second, 5*time.Millisecond)
	assert.NotEqual(t, types.HostFailed, h.State())
	require.NoError(t, h.Stop(context.Background()))
}

func TestWorkerPanicGoesFailedUnderNeverPolicy(t *testing.T) {
	cfg := baseConfig("h5")
	cfg.RestartPolicy = types.RestartNever

	h := New(cfg, Deps{}, func(ctx context.Context, env *types.Envelope) ([]*types.Envelope, error) {
		panic("boom")
	}, Hooks{})

	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Enqueue(context.Background(), types.NewEnvelope()))

	assert.Eventually(t, func() bool { return h.State() == types.HostFailed }, time.Second, 5*time.Millisecond)
}
