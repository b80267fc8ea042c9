package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewManagerDisabledUsesNoopTracer(t *testing.T) {
	m, err := NewManager(Config{Enabled: false}, nil)
	require.NoError(t, err)
	require.NotNil(t, m.Tracer())
	require.Nil(t, m.Sampler())
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestInstrumentRecordsErrorAndPropagatesIt(t *testing.T) {
	m, err := NewManager(Config{Enabled: false}, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = Instrument(context.Background(), m.Tracer(), "deploy", func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

func TestInstrumentSucceeds(t *testing.T) {
	m, err := NewManager(Config{Enabled: false}, nil)
	require.NoError(t, err)

	called := false
	err = Instrument(context.Background(), m.Tracer(), "deploy", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, called)
}

func TestSpanChildDoesNotPanic(t *testing.T) {
	m, err := NewManager(Config{Enabled: false}, nil)
	require.NoError(t, err)

	parent := StartSpan(context.Background(), m.Tracer(), "parent")
	defer parent.End()

	child := parent.Child("child")
	defer child.End()

	require.NotNil(t, child.Context())
	require.Equal(t, "", child.TraceID())
}
