// Package registry implements the Service Registry & Messaging Fabric
// (spec §5): the name -> Host lookup table production Deploy populates,
// and the Send entry point every host and adapter uses to route an
// envelope to another host under one of the four messaging patterns —
// AsyncReliable, SyncReliable, ConcurrentAsync, ConcurrentSync.
//
// Core responsibilities:
//   - Register/Deregister host instances as production Deploy/Reload runs
//   - Look up a host by its configured name
//   - Route an envelope to a target host's queue, honoring the target's
//     current lifecycle state (Running accepts and processes, Paused
//     accepts but only buffers, Stopped/Failed reject as Unavailable)
//   - For the two Sync patterns, correlate a target's eventual response
//     back to the caller via a per-call reply inbox keyed by the
//     outbound envelope's MessageID, so ConcurrentSync calls to the same
//     target never block one another
//
// Grounded on the teacher's internal/dispatcher routing table and its
// RWMutex-guarded registration pattern, generalized from a single static
// sink list to a dynamic, named host registry with request/response
// correlation.
package registry

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hie-engine/runtime-core/pkg/errors"
	"github.com/hie-engine/runtime-core/pkg/types"
)

// Registry is the in-process implementation of types.Registry.
type Registry struct {
	mu    sync.RWMutex
	hosts map[string]types.Host

	inboxMu sync.Mutex
	inboxes map[string]chan *types.Envelope

	logger *logrus.Logger
}

// New constructs an empty registry.
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		hosts:   make(map[string]types.Host),
		inboxes: make(map[string]chan *types.Envelope),
		logger:  logger,
	}
}

// Register adds or replaces a host under its Name().
func (r *Registry) Register(host types.Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[host.Name()] = host
	r.logger.WithField("host", host.Name()).Info("host registered")
}

// Deregister removes a host by name. Safe to call on an unknown name.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosts, name)
	r.logger.WithField("host", name).Info("host deregistered")
}

// Lookup returns the host registered under name, if any.
func (r *Registry) Lookup(name string) (types.Host, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[name]
	return h, ok
}

// Send routes env to the target host under the given messaging pattern
// (spec §5). Async patterns return as soon as the envelope is admitted to
// the target's queue. Sync patterns block until a reply is delivered via
// Deliver, or ctx is cancelled.
func (r *Registry) Send(ctx context.Context, target string, env *types.Envelope, pattern types.MessagingPattern) ([]*types.Envelope, error) {
	host, ok := r.Lookup(target)
	if !ok {
		return nil, errors.TransportPermanentErr("send", "target host \""+target+"\" is not registered").
			WithMetadata("target", target)
	}

	switch host.State() {
	case types.HostStopped, types.HostFailed:
		return nil, errors.TransportPermanentErr("send", "target host \""+target+"\" is unavailable").
			WithMetadata("target", target).
			WithMetadata("host_state", string(host.State()))
	}

	switch pattern {
	case types.PatternAsyncReliable, types.PatternConcurrentAsync:
		if err := host.Enqueue(ctx, env); err != nil {
			return nil, err
		}
		return nil, nil

	case types.PatternSyncReliable, types.PatternConcurrentSync:
		return r.sendSync(ctx, host, env)

	default:
		return nil, errors.ConfigErr("send", "unknown messaging pattern")
	}
}

// sendSync enqueues env and blocks for the corresponding Deliver call.
func (r *Registry) sendSync(ctx context.Context, host types.Host, env *types.Envelope) ([]*types.Envelope, error) {
	inbox := make(chan *types.Envelope, 1)

	r.inboxMu.Lock()
	r.inboxes[env.MessageID] = inbox
	r.inboxMu.Unlock()

	defer func() {
		r.inboxMu.Lock()
		delete(r.inboxes, env.MessageID)
		r.inboxMu.Unlock()
	}()

	if err := host.Enqueue(ctx, env); err != nil {
		return nil, err
	}

	select {
	case reply := <-inbox:
		return []*types.Envelope{reply}, nil
	case <-ctx.Done():
		return nil, errors.TimeoutErr("send_sync", "timed out waiting for reply from \""+host.Name()+"\"").
			Wrap(ctx.Err())
	}
}

// Deliver hands a response envelope to the caller blocked in sendSync,
// correlated by the original request's MessageID (carried as the
// response's CorrelationID). Returns false if no caller is waiting —
// e.g. the request already timed out, or the pattern was async.
func (r *Registry) Deliver(corrHeaderID string, response *types.Envelope) bool {
	r.inboxMu.Lock()
	inbox, ok := r.inboxes[corrHeaderID]
	r.inboxMu.Unlock()
	if !ok {
		return false
	}

	select {
	case inbox <- response:
		return true
	default:
		return false
	}
}

var _ types.Registry = (*Registry)(nil)
