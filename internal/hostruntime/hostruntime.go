// Package hostruntime implements the generic Host Runtime (spec §4.3):
// the lifecycle state machine, worker pool, and per-envelope processing
// pipeline shared by every host kind (service/process/operation). A Host
// Family (internal/hosts) supplies the business-specific ProcessFunc;
// this package supplies everything else — queueing, concurrency,
// pause/resume, restart-on-crash, and routing the result onward through
// the Service Registry.
//
// Grounded on the teacher's pkg/workerpool (worker goroutines pulling
// from a shared channel, graceful shutdown with a timeout) and
// pkg/task_manager's restart bookkeeping, generalized from a generic
// task executor into the envelope-processing pipeline: dequeue ->
// on_before_process -> process -> on_after_process -> route -> ack/trace.
package hostruntime

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hie-engine/runtime-core/internal/metrics"
	"github.com/hie-engine/runtime-core/pkg/errors"
	"github.com/hie-engine/runtime-core/pkg/queue"
	"github.com/hie-engine/runtime-core/pkg/types"
)

// ProcessFunc is the business-specific step a Host Family injects: given
// an inbound envelope, produce the envelope(s) to route onward. A nil
// result with a nil error means "handled, nothing to route" (e.g. a
// terminal ACK already sent by the caller).
type ProcessFunc func(ctx context.Context, env *types.Envelope) ([]*types.Envelope, error)

// Hooks are optional pipeline extension points (spec §4.3).
type Hooks struct {
	BeforeProcess func(ctx context.Context, env *types.Envelope) error
	AfterProcess  func(ctx context.Context, env *types.Envelope, result []*types.Envelope, processErr error)
}

// Deps wires a Host to the shared infrastructure it routes through.
type Deps struct {
	Trace    types.Trace
	Registry types.Registry
	Logger   *logrus.Logger

	// OnDiscard, if set, additionally receives every envelope the
	// Reliable Queue drops (overflow or exhausted Nack retries), so it
	// can be routed to a dead-letter sink (spec §7: "a dead-lettered
	// envelope creates ... an insert into a dead-letter sink").
	OnDiscard func(env *types.Envelope, reason string)
}

// Host is the generic types.Host implementation every host kind embeds.
type Host struct {
	cfg     types.ItemConfig
	deps    Deps
	process ProcessFunc
	hooks   Hooks

	q *queue.Queue

	mu         sync.Mutex
	cond       *sync.Cond
	state      types.HostState
	active     int
	restarts   int
	lastCrash  time.Time

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

// New constructs a Host in the Created state. The queue is sized and
// disciplined per cfg (spec §4.2); process implements the host kind's
// business step.
func New(cfg types.ItemConfig, deps Deps, process ProcessFunc, hooks Hooks) *Host {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}

	h := &Host{
		cfg:     cfg,
		deps:    deps,
		process: process,
		hooks:   hooks,
		state:   types.HostCreated,
	}
	h.cond = sync.NewCond(&h.mu)

	h.q = queue.New(queue.Config{
		Type:       cfg.QueueType,
		Capacity:   cfg.QueueSize,
		Overflow:   cfg.OverflowStrategy,
		MaxRetries: 3,
		OnDiscard: func(env *types.Envelope, reason string) {
			metrics.ObserveQueueOverflow(cfg.Name, reason)
			deps.Logger.WithFields(logrus.Fields{"host": cfg.Name, "message_id": env.MessageID, "reason": reason}).
				Warn("envelope discarded by queue overflow policy")
			if deps.OnDiscard != nil {
				deps.OnDiscard(env, reason)
			}
		},
	})

	return h
}

func (h *Host) Name() string        { return h.cfg.Name }
func (h *Host) Kind() types.HostKind { return h.cfg.Kind }

// Config returns the item configuration this host was built from, so a Host
// Family composing a Host can reach its own settings sub-tree (cfg.Host) and
// messaging pattern without the generic runtime duplicating them.
func (h *Host) Config() types.ItemConfig { return h.cfg }

// DrainQueue removes and returns every envelope still buffered in the
// host's Reliable Queue, for pkg/persistence to snapshot at Stop.
func (h *Host) DrainQueue() []*types.Envelope { return h.q.Drain() }

func (h *Host) State() types.HostState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Host) setState(s types.HostState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
	metrics.SetHostState(h.cfg.Name, string(s), true)
}

// Enqueue admits an envelope regardless of Running/Paused state — only
// Stopped/Failed hosts reject (spec §4.3: "a paused host still accepts
// work, it simply does not process it").
func (h *Host) Enqueue(ctx context.Context, env *types.Envelope) error {
	switch h.State() {
	case types.HostStopped, types.HostFailed, types.HostStopping:
		return errors.TransportPermanentErr("enqueue", "host \""+h.cfg.Name+"\" is not accepting work")
	}
	if err := h.q.Put(ctx, env); err != nil {
		return err
	}
	metrics.SetQueueDepth(h.cfg.Name, h.q.Len())
	return nil
}

// poolSize resolves the worker count for the host's execution mode.
// process_pool/single are modeled with the same in-process goroutine
// pool as thread_pool: out-of-process worker isolation is out of scope.
func (h *Host) poolSize() int {
	if h.cfg.ExecutionMode == types.ExecCooperative {
		return 1
	}
	if h.cfg.PoolSize <= 0 {
		return 1
	}
	return h.cfg.PoolSize
}

// Start transitions Created/Stopped -> Initialising -> Running and
// launches the worker pool.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state == types.HostRunning {
		h.mu.Unlock()
		return nil
	}
	h.state = types.HostInitialising
	h.mu.Unlock()

	h.runCtx, h.runCancel = context.WithCancel(context.Background())

	n := h.poolSize()
	for i := 0; i < n; i++ {
		h.workerWG.Add(1)
		go h.workerLoop(i)
	}

	h.setState(types.HostRunning)
	h.deps.Logger.WithFields(logrus.Fields{"host": h.cfg.Name, "workers": n}).Info("host started")
	return nil
}

// Pause stops workers from pulling new work; the queue keeps accepting.
func (h *Host) Pause() error {
	h.mu.Lock()
	if h.state != types.HostRunning {
		h.mu.Unlock()
		return errors.ConfigErr("pause", "host \""+h.cfg.Name+"\" is not running")
	}
	h.state = types.HostPaused
	h.mu.Unlock()
	metrics.SetHostState(h.cfg.Name, string(types.HostPaused), true)
	return nil
}

// Resume wakes workers blocked by Pause.
func (h *Host) Resume() error {
	h.mu.Lock()
	if h.state != types.HostPaused {
		h.mu.Unlock()
		return errors.ConfigErr("resume", "host \""+h.cfg.Name+"\" is not paused")
	}
	h.state = types.HostRunning
	h.mu.Unlock()
	h.cond.Broadcast()
	metrics.SetHostState(h.cfg.Name, string(types.HostRunning), true)
	return nil
}

// Stop drains in-flight work cooperatively, then closes the queue.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.state == types.HostStopped || h.state == types.HostCreated {
		h.mu.Unlock()
		return nil
	}
	h.state = types.HostStopping
	h.mu.Unlock()
	h.cond.Broadcast() // release any worker blocked on Pause

	_ = h.q.Close()

	done := make(chan struct{})
	go func() {
		h.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.deps.Logger.WithField("host", h.cfg.Name).Warn("stop timed out waiting for workers, cancelling")
		h.runCancel()
		<-done
	}

	h.setState(types.HostStopped)
	h.deps.Logger.WithField("host", h.cfg.Name).Info("host stopped")
	return nil
}

// ActiveWorkers reports the number of workers currently processing an
// envelope (as opposed to blocked on Get).
func (h *Host) ActiveWorkers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

func (h *Host) workerLoop(id int) {
	defer h.workerWG.Done()
	defer h.recoverAndMaybeRestart(id)

	for {
		h.mu.Lock()
		for h.state == types.HostPaused {
			h.cond.Wait()
		}
		stopping := h.state == types.HostStopping || h.state == types.HostStopped
		h.mu.Unlock()
		if stopping {
			return
		}

		env, err := h.q.Get(h.runCtx)
		if err != nil {
			return // closed or cancelled
		}
		metrics.SetQueueDepth(h.cfg.Name, h.q.Len())

		h.processOne(env)
	}
}

func (h *Host) processOne(env *types.Envelope) {
	h.mu.Lock()
	h.active++
	h.mu.Unlock()
	metrics.SetActiveWorkers(h.cfg.Name, h.ActiveWorkers())
	defer func() {
		h.mu.Lock()
		h.active--
		h.mu.Unlock()
		metrics.SetActiveWorkers(h.cfg.Name, h.ActiveWorkers())
	}()

	start := time.Now()

	if env.TTLSeconds > 0 && env.Expired(time.Now()) {
		_ = h.q.Nack(h.runCtx, env, false)
		metrics.ObserveError(h.cfg.Name, errors.CodeTimeout)
		return
	}

	if h.hooks.BeforeProcess != nil {
		if err := h.hooks.BeforeProcess(h.runCtx, env); err != nil {
			h.handleProcessError(env, err)
			return
		}
	}

	result, err := h.process(h.runCtx, env)

	if h.hooks.AfterProcess != nil {
		h.hooks.AfterProcess(h.runCtx, env, result, err)
	}

	metrics.ObserveProcessingDuration(h.cfg.Name, "process_input", time.Since(start))

	if err != nil {
		h.handleProcessError(env, err)
		return
	}

	h.route(result)
	_ = h.q.Ack(env)
}

func (h *Host) handleProcessError(env *types.Envelope, err error) {
	metrics.ObserveError(h.cfg.Name, "process_error")

	appErr, ok := errors.AsAppError(err)
	requeue := ok && appErr.Recoverable()
	_ = h.q.Nack(h.runCtx, env, requeue)

	h.deps.Logger.WithError(err).WithField("host", h.cfg.Name).Warn("envelope processing failed")
}

func (h *Host) route(result []*types.Envelope) {
	if h.deps.Registry == nil {
		return
	}
	for _, out := range result {
		for _, target := range h.cfg.Host.TargetConfigNames {
			if _, err := h.deps.Registry.Send(h.runCtx, target, out, h.cfg.MessagingPattern); err != nil {
				h.deps.Logger.WithError(err).WithFields(logrus.Fields{"host": h.cfg.Name, "target": target}).
					Warn("routing failed")
			}
			metrics.ObserveLegEmitted(string(h.cfg.Kind), target, string(h.cfg.MessagingPattern))
		}
	}
}

// recoverAndMaybeRestart applies the restart policy (spec §4.3) when a
// worker goroutine panics: Never leaves the host Failed, OnFailure
// restarts up to MaxRestarts within the reset window (RestartDelay*10 of
// quiet time resets the counter), Always restarts unconditionally.
func (h *Host) recoverAndMaybeRestart(id int) {
	r := recover()
	if r == nil {
		return
	}

	h.deps.Logger.WithFields(logrus.Fields{"host": h.cfg.Name, "worker": id, "panic": r}).Error("worker crashed")
	metrics.ObserveError(h.cfg.Name, errors.CodeHostCrash)

	h.mu.Lock()
	resetWindow := h.cfg.RestartDelay * 10
	if resetWindow > 0 && time.Since(h.lastCrash) > resetWindow {
		h.restarts = 0
	}
	h.lastCrash = time.Now()
	h.restarts++
	restarts := h.restarts
	policy := h.cfg.RestartPolicy
	maxRestarts := h.cfg.MaxRestarts
	h.mu.Unlock()

	restart := false
	switch policy {
	case types.RestartAlways:
		restart = true
	case types.RestartOnFailure:
		restart = maxRestarts <= 0 || restarts <= maxRestarts
	case types.RestartNever:
		restart = false
	}

	if !restart {
		h.setState(types.HostFailed)
		return
	}

	metrics.ObserveHostRestart(h.cfg.Name, "worker_panic")
	if h.cfg.RestartDelay > 0 {
		time.Sleep(h.cfg.RestartDelay)
	}

	h.workerWG.Add(1)
	go h.workerLoop(id)
}

var _ types.Host = (*Host)(nil)
