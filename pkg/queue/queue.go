// Package queue implements the Reliable Queue (spec §4.2): a per-host
// bounded buffer with a configurable ordering discipline and overflow
// policy, grounded on the channel-and-mutex style of the teacher's
// pkg/workerpool task queue and internal/dispatcher's dispatch channel.
package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/hie-engine/runtime-core/pkg/types"
)

// DiscardFunc is invoked whenever an envelope is discarded by the overflow
// policy (DropOldest) or by Nack exhausting its retry budget, so the
// caller can record a `discarded` trace header (spec §4.2, §8.2 S3).
type DiscardFunc func(env *types.Envelope, reason string)

// Config configures a Reliable Queue.
type Config struct {
	Type        types.QueueType
	Capacity    int
	Overflow    types.OverflowStrategy
	MaxRetries  int
	OnDiscard   DiscardFunc
}

// item wraps an envelope with the bookkeeping the priority heap needs.
type item struct {
	env   *types.Envelope
	seq   int64
	index int
}

// priorityHeap orders items by (priority, insertion-sequence), satisfying
// the queue's determinism invariant under ties (spec §4.2).
type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].env.Priority != h[j].env.Priority {
		return h[i].env.Priority < h[j].env.Priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// ErrClosed is returned by Put/Get once Close has been called and the
// queue has no remaining buffered elements to drain.
var ErrClosed = errQueueClosed{}

type errQueueClosed struct{}

func (errQueueClosed) Error() string { return "queue: closed" }

// ErrRejected is returned by Put under the Reject/DropNewest overflow
// policies when the queue is at capacity (spec §4.2).
var ErrRejected = errRejected{}

type errRejected struct{}

func (errRejected) Error() string { return "queue: rejected, at capacity" }

// Queue implements types.Queue with the ordering discipline and overflow
// policy selected by Config.
type Queue struct {
	cfg Config

	mu     sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	closed bool
	nextSeq int64

	// storage, exactly one of which is populated depending on cfg.Type
	fifo []*item
	lifo []*item
	heapStore priorityHeap
}

// New constructs a Reliable Queue. Capacity <= 0 means unbounded.
func New(cfg Config) *Queue {
	q := &Queue{cfg: cfg}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	if cfg.Type == types.QueuePriority {
		q.heapStore = priorityHeap{}
		heap.Init(&q.heapStore)
	}
	return q
}

func (q *Queue) length() int {
	switch q.cfg.Type {
	case types.QueuePriority:
		return q.heapStore.Len()
	case types.QueueLIFO:
		return len(q.lifo)
	default:
		return len(q.fifo)
	}
}

// Len returns the current number of buffered envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length()
}

// Put admits an envelope, applying the configured overflow policy if the
// queue is at capacity (spec §4.2).
func (q *Queue) Put(ctx context.Context, env *types.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	for q.cfg.Capacity > 0 && q.length() >= q.cfg.Capacity {
		switch q.cfg.Overflow {
		case types.OverflowBlock:
			if err := q.waitNotFull(ctx); err != nil {
				return err
			}
			if q.closed {
				return ErrClosed
			}
			continue
		case types.OverflowDropOldest:
			victim := q.popOldestLocked()
			if victim != nil && q.cfg.OnDiscard != nil {
				q.cfg.OnDiscard(victim.env, "queue_full_drop_oldest")
			}
		case types.OverflowDropNewest, types.OverflowReject:
			return ErrRejected
		default:
			return ErrRejected
		}
	}

	q.nextSeq++
	it := &item{env: env, seq: q.nextSeq}
	q.pushLocked(it)
	q.notEmpty.Signal()
	return nil
}

// waitNotFull blocks until capacity frees up or ctx is cancelled. It must
// be called with q.mu held; it releases the lock while waiting.
func (q *Queue) waitNotFull(ctx context.Context) error {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		close(done)
		q.mu.Lock()
		q.notFull.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	for q.cfg.Capacity > 0 && q.length() >= q.cfg.Capacity && !q.closed {
		select {
		case <-done:
			return ctx.Err()
		default:
		}
		q.notFull.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (q *Queue) pushLocked(it *item) {
	switch q.cfg.Type {
	case types.QueuePriority:
		heap.Push(&q.heapStore, it)
	case types.QueueLIFO:
		q.lifo = append(q.lifo, it)
	default: // FIFO, Unordered — Unordered is free to use the cheapest (FIFO) storage
		q.fifo = append(q.fifo, it)
	}
}

// popOldestLocked removes and returns the element DropOldest must discard:
// the one Get would return next.
func (q *Queue) popOldestLocked() *item {
	switch q.cfg.Type {
	case types.QueuePriority:
		if q.heapStore.Len() == 0 {
			return nil
		}
		return heap.Pop(&q.heapStore).(*item)
	case types.QueueLIFO:
		// "next to be returned" under LIFO is the most recently inserted;
		// but DropOldest semantics discard the chronologically oldest
		// buffered element regardless of retrieval order.
		if len(q.lifo) == 0 {
			return nil
		}
		victim := q.lifo[0]
		q.lifo = q.lifo[1:]
		return victim
	default:
		if len(q.fifo) == 0 {
			return nil
		}
		victim := q.fifo[0]
		q.fifo = q.fifo[1:]
		return victim
	}
}

func (q *Queue) popLocked() *item {
	switch q.cfg.Type {
	case types.QueuePriority:
		if q.heapStore.Len() == 0 {
			return nil
		}
		return heap.Pop(&q.heapStore).(*item)
	case types.QueueLIFO:
		n := len(q.lifo)
		if n == 0 {
			return nil
		}
		victim := q.lifo[n-1]
		q.lifo = q.lifo[:n-1]
		return victim
	default:
		if len(q.fifo) == 0 {
			return nil
		}
		victim := q.fifo[0]
		q.fifo = q.fifo[1:]
		return victim
	}
}

// Get blocks until an envelope is available or ctx is cancelled.
func (q *Queue) Get(ctx context.Context) (*types.Envelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		close(done)
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	for q.length() == 0 {
		if q.closed {
			return nil, ErrClosed
		}
		select {
		case <-done:
			return nil, ctx.Err()
		default:
		}
		q.notEmpty.Wait()
	}

	it := q.popLocked()
	q.notFull.Signal()
	return it.env, nil
}

// Ack acknowledges successful processing. The Reliable Queue itself holds
// no post-delivery state per envelope, so Ack is a no-op hook retained for
// interface symmetry with Nack and for callers that want an explicit point
// to update the persisted trace.
func (q *Queue) Ack(env *types.Envelope) error {
	return nil
}

// Nack signals processing failure. If requeue is true and the envelope
// has not exhausted MaxRetries, it is re-admitted with an incremented
// retry count; otherwise OnDiscard is invoked so the caller can route it
// to the dead-letter sink (spec §4.2).
func (q *Queue) Nack(ctx context.Context, env *types.Envelope, requeue bool) error {
	if !requeue {
		if q.cfg.OnDiscard != nil {
			q.cfg.OnDiscard(env, "nack_no_requeue")
		}
		return nil
	}

	if q.cfg.MaxRetries > 0 && env.RetryCount >= q.cfg.MaxRetries {
		if q.cfg.OnDiscard != nil {
			q.cfg.OnDiscard(env, "retries_exhausted")
		}
		return nil
	}

	requeued := env.Clone()
	requeued.RetryCount++
	return q.Put(ctx, requeued)
}

// Close stops accepting new Puts. Pending Gets drain the remaining
// elements in order, then observe ErrClosed (spec §4.2).
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	return nil
}

// Drain removes and returns every envelope still buffered, in the order
// Get would have returned them. Used at shutdown to snapshot a host's
// residual work for pkg/persistence, not as a normal consumption path.
func (q *Queue) Drain() []*types.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*types.Envelope
	for {
		it := q.popLocked()
		if it == nil {
			break
		}
		out = append(out, it.env)
	}
	q.notFull.Broadcast()
	return out
}
