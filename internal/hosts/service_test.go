package hosts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hie-engine/runtime-core/pkg/types"
)

type fakeTrace struct {
	bodies  []*types.MessageBody
	headers []*types.MessageHeader
}

func (f *fakeTrace) StoreBody(body *types.MessageBody) (string, error) {
	body.ID = "body-" + string(rune('0'+len(f.bodies)))
	f.bodies = append(f.bodies, body)
	return body.ID, nil
}

func (f *fakeTrace) StoreHeader(header *types.MessageHeader) (string, error) {
	header.ID = "header-" + string(rune('0'+len(f.headers)))
	f.headers = append(f.headers, header)
	return header.ID, nil
}

func (f *fakeTrace) UpdateHeaderStatus(headerID string, status types.HeaderStatus, isError bool, errorStatus string) error {
	for _, h := range f.headers {
		if h.ID == headerID {
			h.Status = status
			h.IsError = isError
			h.ErrorStatus = errorStatus
		}
	}
	return nil
}

func (f *fakeTrace) TraceForSession(sessionID string) ([]types.MessageHeader, error) {
	var out []types.MessageHeader
	for _, h := range f.headers {
		if h.SessionID == sessionID {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (f *fakeTrace) GetHeader(headerID string) (*types.MessageHeader, bool) {
	for _, h := range f.headers {
		if h.ID == headerID {
			return h, true
		}
	}
	return nil, false
}

type fakeRegistry struct {
	sent []*types.Envelope
	fail bool
}

func (f *fakeRegistry) Register(host types.Host)   {}
func (f *fakeRegistry) Deregister(name string)     {}
func (f *fakeRegistry) Lookup(name string) (types.Host, bool) { return nil, false }

func (f *fakeRegistry) Send(ctx context.Context, target string, env *types.Envelope, pattern types.MessagingPattern) ([]*types.Envelope, error) {
	if f.fail {
		return nil, assertErr
	}
	f.sent = append(f.sent, env)
	return nil, nil
}

func (f *fakeRegistry) Deliver(corrHeaderID string, response *types.Envelope) bool { return false }

var assertErr = &simpleErr{"send failed"}

type simpleErr struct{ msg string }

func (e *simpleErr) Error() string { return e.msg }

type fakeInboundAdapter struct {
	onFrame types.OnFrameFunc
}

func (f *fakeInboundAdapter) Start(ctx context.Context, onFrame types.OnFrameFunc) error {
	f.onFrame = onFrame
	return nil
}

func (f *fakeInboundAdapter) Stop(ctx context.Context) error { return nil }

func TestInboundServiceFansOutToEachTarget(t *testing.T) {
	trace := &fakeTrace{}
	registry := &fakeRegistry{}
	adapter := &fakeInboundAdapter{}

	cfg := types.ItemConfig{
		Name: "svc-adt",
		Kind: types.HostKindService,
		Host: types.HostSettings{
			TargetConfigNames: []string{"router-a", "router-b"},
			AckMode:           types.AckNever,
		},
		MessagingPattern: types.PatternAsyncReliable,
	}

	svc := NewInboundService(cfg, trace, registry, adapter, nil)
	require.NoError(t, svc.Start(context.Background()))

	reply, err := adapter.onFrame(context.Background(), []byte(sampleADT), types.FrameMeta{})
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Len(t, registry.sent, 2)
	assert.Len(t, trace.bodies, 1)
	assert.Len(t, trace.headers, 2)
}

func TestInboundServiceImmediateAckReturnsAAOnSuccess(t *testing.T) {
	trace := &fakeTrace{}
	registry := &fakeRegistry{}
	adapter := &fakeInboundAdapter{}

	cfg := types.ItemConfig{
		Name: "svc-adt",
		Kind: types.HostKindService,
		Host: types.HostSettings{
			TargetConfigNames: []string{"router-a"},
			AckMode:           types.AckImmediate,
		},
		MessagingPattern: types.PatternAsyncReliable,
	}

	svc := NewInboundService(cfg, trace, registry, adapter, nil)
	require.NoError(t, svc.Start(context.Background()))

	reply, err := adapter.onFrame(context.Background(), []byte(sampleADT), types.FrameMeta{})
	require.NoError(t, err)
	require.NotNil(t, reply)

	code, ok := ExtractMSA1(reply)
	require.True(t, ok)
	assert.Equal(t, "AA", code)
}

func TestInboundServicePausedRejectsFrames(t *testing.T) {
	trace := &fakeTrace{}
	registry := &fakeRegistry{}
	adapter := &fakeInboundAdapter{}

	cfg := types.ItemConfig{
		Name: "svc-adt",
		Kind: types.HostKindService,
		Host: types.HostSettings{TargetConfigNames: []string{"router-a"}, AckMode: types.AckNever},
	}

	svc := NewInboundService(cfg, trace, registry, adapter, nil)
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Pause())

	_, err := adapter.onFrame(context.Background(), []byte(sampleADT), types.FrameMeta{})
	assert.Error(t, err)
}
