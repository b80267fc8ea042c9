package hosts

import (
	"context"

	"github.com/hie-engine/runtime-core/internal/hostruntime"
	"github.com/hie-engine/runtime-core/pkg/types"
)

// RoutingTarget is one (target_name, envelope) pair a RuleFunc produces for
// a single inbound envelope (spec §4.4.2).
type RoutingTarget struct {
	TargetName string
	Envelope   *types.Envelope
}

// RuleFunc evaluates the routing rules external to this spec and returns
// the set of targets env should be forwarded to. An empty, nil-error
// result means "no outputs" — the input's trace header is marked
// completed rather than routed further.
type RuleFunc func(ctx context.Context, env *types.Envelope) ([]RoutingTarget, error)

// RoutingProcess is the spec §4.4.2 host family: a queue-driven host with
// no adapter, whose ProcessFunc evaluates rules and emits zero or more
// copies of the envelope to named targets via the Service Registry.
type RoutingProcess struct {
	*hostruntime.Host
	trace    types.Trace
	registry types.Registry
	rule     RuleFunc
}

// NewRoutingProcess builds a RoutingProcess on top of the generic Host
// Runtime, wiring rule as the per-envelope processing step.
func NewRoutingProcess(cfg types.ItemConfig, deps hostruntime.Deps, rule RuleFunc) *RoutingProcess {
	rp := &RoutingProcess{trace: deps.Trace, registry: deps.Registry, rule: rule}
	rp.Host = hostruntime.New(cfg, deps, rp.process, hostruntime.Hooks{})
	return rp
}

// process implements spec §4.4.2: for each (target, envelope') pair, insert
// a Request header parented on the input leg and hand the copy to its
// target directly — bypassing the generic Host.route fan-out, since the
// targets here are rule-decided per call, not the host's static
// target_config_names list.
func (rp *RoutingProcess) process(ctx context.Context, env *types.Envelope) ([]*types.Envelope, error) {
	pairs, err := rp.rule(ctx, env)
	if err != nil {
		return nil, err
	}

	if len(pairs) == 0 {
		if env.HeaderID != "" {
			_ = rp.trace.UpdateHeaderStatus(env.HeaderID, types.StatusCompleted, false, "")
		}
		return nil, nil
	}

	for _, pair := range pairs {
		out := pair.Envelope
		if out == nil {
			out = env.Clone()
		}
		out.Destination = pair.TargetName
		out.SessionID = env.SessionID
		out.BodyID = env.BodyID

		parent := env.HeaderID
		header := &types.MessageHeader{
			SessionID:          env.SessionID,
			ParentHeaderID:     &parent,
			SourceConfigName:   rp.Name(),
			TargetConfigName:   pair.TargetName,
			SourceBusinessType: types.BusinessProcess,
			TargetBusinessType: rp.businessTypeOf(rp.registry, pair.TargetName),
			BodyClassName:      env.BodyClassName,
			MessageBodyID:      stringPtrOrNil(env.BodyID),
			Type:               types.HeaderRequest,
			Invocation:         types.InvocationQueue,
			Priority:           types.HeaderAsync,
		}

		headerID, err := rp.trace.StoreHeader(header)
		if err != nil {
			return nil, err
		}
		out.HeaderID = headerID

		if _, err := rp.registry.Send(ctx, pair.TargetName, out, rp.Host.Config().MessagingPattern); err != nil {
			_ = rp.trace.UpdateHeaderStatus(headerID, types.StatusError, true, "DispatchFailed")
			return nil, err
		}
	}

	return nil, nil
}

func (rp *RoutingProcess) businessTypeOf(registry types.Registry, target string) types.BusinessType {
	if registry == nil {
		return types.BusinessExternal
	}
	host, ok := registry.Lookup(target)
	if !ok {
		return types.BusinessExternal
	}
	switch host.Kind() {
	case types.HostKindService:
		return types.BusinessService
	case types.HostKindOperation:
		return types.BusinessOperation
	default:
		return types.BusinessProcess
	}
}

func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
