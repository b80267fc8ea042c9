package queue

import (
	"context"
	"testing"
	"time"

	"github.com/hie-engine/runtime-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envWithPriority(id string, p int) *types.Envelope {
	e := types.NewEnvelope()
	e.MessageID = id
	e.Priority = p
	e.CreatedAt = time.Now()
	return e
}

func TestFIFOOrdering(t *testing.T) {
	q := New(Config{Type: types.QueueFIFO, Capacity: 10, Overflow: types.OverflowBlock})
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, envWithPriority("a", 0)))
	require.NoError(t, q.Put(ctx, envWithPriority("b", 0)))
	require.NoError(t, q.Put(ctx, envWithPriority("c", 0)))

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got.MessageID)
	}
}

func TestLIFOOrdering(t *testing.T) {
	q := New(Config{Type: types.QueueLIFO, Capacity: 10, Overflow: types.OverflowBlock})
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, envWithPriority("a", 0)))
	require.NoError(t, q.Put(ctx, envWithPriority("b", 0)))
	require.NoError(t, q.Put(ctx, envWithPriority("c", 0)))

	for _, want := range []string{"c", "b", "a"} {
		got, err := q.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got.MessageID)
	}
}

func TestPriorityOrderingWithTieBreakOnInsertion(t *testing.T) {
	q := New(Config{Type: types.QueuePriority, Capacity: 10, Overflow: types.OverflowBlock})
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, envWithPriority("low-first", 5)))
	require.NoError(t, q.Put(ctx, envWithPriority("high", 0)))
	require.NoError(t, q.Put(ctx, envWithPriority("low-second", 5)))

	got, _ := q.Get(ctx)
	assert.Equal(t, "high", got.MessageID)
	got, _ = q.Get(ctx)
	assert.Equal(t, "low-first", got.MessageID)
	got, _ = q.Get(ctx)
	assert.Equal(t, "low-second", got.MessageID)
}

func TestOverflowDropOldestDiscardsRecordedReason(t *testing.T) {
	var discarded []string
	q := New(Config{
		Type: types.QueueFIFO, Capacity: 2, Overflow: types.OverflowDropOldest,
		OnDiscard: func(env *types.Envelope, reason string) {
			discarded = append(discarded, env.MessageID)
		},
	})
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, envWithPriority("a", 0)))
	require.NoError(t, q.Put(ctx, envWithPriority("b", 0)))
	require.NoError(t, q.Put(ctx, envWithPriority("c", 0)))

	assert.Equal(t, []string{"a"}, discarded)
	assert.Equal(t, 2, q.Len())

	got, _ := q.Get(ctx)
	assert.Equal(t, "b", got.MessageID)
}

func TestOverflowRejectReturnsError(t *testing.T) {
	q := New(Config{Type: types.QueueFIFO, Capacity: 1, Overflow: types.OverflowReject})
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, envWithPriority("a", 0)))
	err := q.Put(ctx, envWithPriority("b", 0))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestCloseDrainsThenReturnsClosed(t *testing.T) {
	q := New(Config{Type: types.QueueFIFO, Capacity: 10, Overflow: types.OverflowBlock})
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, envWithPriority("a", 0)))
	require.NoError(t, q.Close())

	err := q.Put(ctx, envWithPriority("b", 0))
	assert.ErrorIs(t, err, ErrClosed)

	got, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got.MessageID)

	_, err = q.Get(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNackRequeueIncrementsRetryCount(t *testing.T) {
	q := New(Config{Type: types.QueueFIFO, Capacity: 10, Overflow: types.OverflowBlock, MaxRetries: 3})
	ctx := context.Background()

	env := envWithPriority("a", 0)
	require.NoError(t, q.Put(ctx, env))
	got, _ := q.Get(ctx)

	require.NoError(t, q.Nack(ctx, got, true))
	requeued, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued.RetryCount)
}

func TestNackExhaustedRetriesDiscardsInsteadOfRequeue(t *testing.T) {
	var reasons []string
	q := New(Config{
		Type: types.QueueFIFO, Capacity: 10, Overflow: types.OverflowBlock, MaxRetries: 1,
		OnDiscard: func(env *types.Envelope, reason string) { reasons = append(reasons, reason) },
	})
	ctx := context.Background()

	env := envWithPriority("a", 0)
	env.RetryCount = 1
	require.NoError(t, q.Put(ctx, env))
	got, _ := q.Get(ctx)

	require.NoError(t, q.Nack(ctx, got, true))
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, []string{"retries_exhausted"}, reasons)
}

func TestGetBlocksUntilCancelled(t *testing.T) {
	q := New(Config{Type: types.QueueFIFO, Capacity: 10, Overflow: types.OverflowBlock})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
