package hosts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hie-engine/runtime-core/internal/hostruntime"
	"github.com/hie-engine/runtime-core/pkg/types"
)

func routingCfg(name string) types.ItemConfig {
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

func TestRoutingProcessEmitsHeaderPerPairAndSends(t *testing.T) {
	trace := &fakeTrace{}
	registry := &fakeRegistry{}

	rule := func(ctx context.Context, env *types.Envelope) ([]RoutingTarget, error) {
		return []RoutingTarget{{TargetName: "op-a"}, {TargetName: "op-b"}}, nil
	}

	rp := NewRoutingProcess(routingCfg("router"), hostruntime.Deps{Trace: trace, Registry: registry}, rule)
	require.NoError(t, rp.Start(context.Background()))

	env := types.NewEnvelope()
	env.HeaderID = "header-in"
	env.SessionID = "SES-1"

	require.NoError(t, rp.Enqueue(context.Background(), env))

	assert.Eventually(t, func() bool { return len(registry.sent) == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, trace.headers, 2)
	require.NoError(t, rp.Stop(context.Background()))
}

func TestRoutingProcessZeroPairsCompletesHeader(t *testing.T) {
	trace := &fakeTrace{headers: []*types.MessageHeader{{ID: "header-in", Status: types.StatusCreated}}}
	registry := &fakeRegistry{}

	rule := func(ctx context.Context, env *types.Envelope) ([]RoutingTarget, error) {
		return nil, nil
	}

	rp := NewRoutingProcess(routingCfg("router"), hostruntime.Deps{Trace: trace, Registry: registry}, rule)
	require.NoError(t, rp.Start(context.Background()))

	env := types.NewEnvelope()
	env.HeaderID = "header-in"

	require.NoError(t, rp.Enqueue(context.Background(), env))

	assert.Eventually(t, func() bool {
		h, ok := trace.GetHeader("header-in")
		return ok && h.Status == types.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, rp.Stop(context.Background()))
}
