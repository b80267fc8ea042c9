package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hie-engine/runtime-core/pkg/types"
)

type fakeHost struct {
	name     string
	state    types.HostState
	enqueued []*types.Envelope
	onEnqueue func(env *types.Envelope)
}

func (f *fakeHost) Name() string          { return f.name }
func (f *fakeHost) Kind() types.HostKind  { return types.HostKindService }
func (f *fakeHost) State() types.HostState { return f.state }
func (f *fakeHost) Enqueue(ctx context.Context, env *types.Envelope) error {
	f.enqueued = append(f.enqueued, env)
	if f.onEnqueue != nil {
		f.onEnqueue(env)
	}
	return nil
}
func (f *fakeHost) Pause() error                   { f.state = types.HostPaused; return nil }
func (f *fakeHost) Resume() error                  { f.state = types.HostRunning; return nil }
func (f *fakeHost) Start(ctx context.Context) error { f.state = types.HostRunning; return nil }
func (f *fakeHost) Stop(ctx context.Context) error  { f.state = types.HostStopped; return nil }

func TestRegisterLookupDeregister(t *testing.T) {
	r := New(nil)
	host := &fakeHost{name: "inbound-adt", state: types.HostRunning}

	r.Register(host)
	got, ok := r.Lookup("inbound-adt")
	require.True(t, ok)
	assert.Equal(t, host, got)

	r.Deregister("inbound-adt")
	_, ok = r.Lookup("inbound-adt")
	assert.False(t, ok)
}

func TestSendAsyncReliableReturnsImmediately(t *testing.T) {
	r := New(nil)
	host := &fakeHost{name: "target", state: types.HostRunning}
	r.Register(host)

	env := types.NewEnvelope()
	reply, err := r.Send(context.Background(), "target", env, types.PatternAsyncReliable)
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Len(t, host.enqueued, 1)
}

func TestSendToStoppedHostIsUnavailable(t *testing.T) {
	r := New(nil)
	host := &fakeHost{name: "target", state: types.HostStopped}
	r.Register(host)

	_, err := r.Send(context.Background(), "target", types.NewEnvelope(), types.PatternAsyncReliable)
	require.Error(t, err)
}

func TestSendToUnregisteredHostErrors(t *testing.T) {
	r := New(nil)
	_, err := r.Send(context.Background(), "missing", types.NewEnvelope(), types.PatternAsyncReliable)
	assert.Error(t, err)
}

func TestSendToPausedHostStillEnqueues(t *testing.T) {
	r := New(nil)
	host := &fakeHost{name: "target", state: types.HostPaused}
	r.Register(host)

	_, err := r.Send(context.Background(), "target", types.NewEnvelope(), types.PatternAsyncReliable)
	require.NoError(t, err)
	assert.Len(t, host.enqueued, 1)
}

func TestSendSyncReliableBlocksUntilDeliver(t *testing.T) {
	r := New(nil)
	host := &fakeHost{name: "target", state: types.HostRunning}
	host.onEnqueue = func(env *types.Envelope) {
		go func() {
			response := types.NewEnvelope()
			response.CorrelationID = env.MessageID
			r.Deliver(env.MessageID, response)
		}()
	}
	r.Register(host)

	env := types.NewEnvelope()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := r.Send(ctx, "target", env, types.PatternSyncReliable)
	require.NoError(t, err)
	require.Len(t, reply, 1)
	assert.Equal(t, env.MessageID, reply[0].CorrelationID)
}

func TestSendSyncTimesOutWithoutDeliver(t *testing.T) {
	r := New(nil)
	host := &fakeHost{name: "target", state: types.HostRunning}
	r.Register(host)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Send(ctx, "target", types.NewEnvelope(), types.PatternConcurrentSync)
	assert.Error(t, err)
}

func TestDeliverWithNoWaiterReturnsFalse(t *testing.T) {
	r := New(nil)
	assert.False(t, r.Deliver("unknown-id", types.NewEnvelope()))
}
