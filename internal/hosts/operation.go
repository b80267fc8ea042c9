package hosts

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hie-engine/runtime-core/internal/hostruntime"
	"github.com/hie-engine/runtime-core/pkg/errors"
	"github.com/hie-engine/runtime-core/pkg/ratelimit"
	"github.com/hie-engine/runtime-core/pkg/types"
)

// transportFailureCode is the sentinel classified when no ACK was received
// at all (connection refused, timeout before a reply) — a literal IRIS
// reply-code-action category distinct from any MSA-1 value.
const transportFailureCode = "~"

// OutboundOperation is the spec §4.4.3 host family: a queue-driven host
// whose ProcessFunc hands the envelope's raw bytes to an outbound adapter
// and classifies the result via the configured reply-code-action table.
type OutboundOperation struct {
	*hostruntime.Host
	trace   types.Trace
	adapter types.OutboundAdapter
	logger  *logrus.Logger
	rules   []replyRule
	limiter *ratelimit.AdaptiveRateLimiter
}

// NewOutboundOperation builds an OutboundOperation on top of the generic
// Host Runtime. cfg.Host.ReplyCodeActions is parsed once at construction;
// a malformed table aborts Deploy (spec §7: ConfigError). A non-zero
// cfg.Host.RateLimit paces Send calls with an adaptive token bucket that
// backs off as observed send latency climbs toward MessageTimeout.
func NewOutboundOperation(cfg types.ItemConfig, deps hostruntime.Deps, adapter types.OutboundAdapter) (*OutboundOperation, error) {
	rules, err := ParseReplyCodeActions(cfg.Host.ReplyCodeActions)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}

	op := &OutboundOperation{trace: deps.Trace, adapter: adapter, logger: logger, rules: rules}
	if cfg.Host.RateLimit > 0 {
		op.limiter = ratelimit.NewAdaptiveRateLimiter(ratelimit.Config{
			Enabled:         true,
			InitialRPS:      cfg.Host.RateLimit,
			InitialBurst:    cfg.Host.RateLimitBurst,
			LatencyTargetMS: int(cfg.MessageTimeout.Milliseconds()),
		}, logger)
	}
	op.Host = hostruntime.New(cfg, deps, op.process, hostruntime.Hooks{})
	return op, nil
}

// process implements spec §4.4.3.
func (op *OutboundOperation) process(ctx context.Context, env *types.Envelope) ([]*types.Envelope, error) {
	if op.limiter != nil {
		if err := op.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if err := op.adapter.Connect(ctx); err != nil {
		return nil, op.classifyAndHandle(env, nil, err)
	}

	start := time.Now()
	resp, sendErr := op.adapter.Send(ctx, env.Raw)
	if op.limiter != nil {
		op.limiter.RecordLatency(time.Since(start))
	}
	if sendErr == nil {
		return nil, op.handleSuccess(env, resp)
	}

	return nil, op.classifyAndHandle(env, resp, sendErr)
}

// Stop releases the operation's rate limiter background goroutine, if any,
// alongside the embedded Host's own shutdown.
func (op *OutboundOperation) Stop(ctx context.Context) error {
	if op.limiter != nil {
		op.limiter.Stop()
	}
	return op.Host.Stop(ctx)
}

func (op *OutboundOperation) handleSuccess(env *types.Envelope, resp []byte) error {
	bodyID, err := op.trace.StoreBody(&types.MessageBody{
		BodyClassName: env.BodyClassName,
		ContentType:   env.ContentType,
		RawContent:    resp,
	})
	if err != nil {
		return err
	}

	parent := env.HeaderID
	header := &types.MessageHeader{
		SessionID:             env.SessionID,
		ParentHeaderID:        &parent,
		CorrespondingHeaderID: &parent,
		SourceConfigName:      op.Name(),
		TargetConfigName:      env.Source,
		SourceBusinessType:    types.BusinessOperation,
		TargetBusinessType:    types.BusinessProcess,
		MessageBodyID:         &bodyID,
		Type:                  types.HeaderResponse,
		Invocation:            types.InvocationInProc,
		Status:                types.StatusCompleted,
	}
	if _, err := op.trace.StoreHeader(header); err != nil {
		return err
	}

	return op.trace.UpdateHeaderStatus(env.HeaderID, types.StatusCompleted, false, "")
}

// classifyAndHandle implements the reply-code-action branch of spec
// §4.4.3: classify the failure by its MSA-1 (if an ACK was received at
// all) or the transport sentinel, look up the configured action, and
// translate it into the trace update plus the error hostruntime.Host uses
// to decide Nack(requeue) vs terminal discard.
func (op *OutboundOperation) classifyAndHandle(env *types.Envelope, resp []byte, sendErr error) error {
	code := transportFailureCode
	if msa1, ok := ExtractMSA1(resp); ok {
		code = msa1
	}

	action := EvaluateReplyCode(op.rules, code)

	switch action {
	case ActionSuspend:
		_ = op.trace.UpdateHeaderStatus(env.HeaderID, types.StatusError, true, "Suspended")
		return errors.TransportTransientErr("send", "operation suspended pending retry").
			WithMetadata("reply_code", code).Wrap(sendErr)

	case ActionComplete:
		_ = op.trace.UpdateHeaderStatus(env.HeaderID, types.StatusCompleted, false, "")
		return nil

	case ActionWarning:
		_ = op.trace.UpdateHeaderStatus(env.HeaderID, types.StatusCompleted, true, "Warning")
		return nil

	case ActionDisable:
		_ = op.trace.UpdateHeaderStatus(env.HeaderID, types.StatusError, true, "Disabled")
		if err := op.Pause(); err != nil {
			op.logger.WithError(err).WithField("host", op.Name()).Warn("could not pause after Disable action")
		}
		return errors.TransportPermanentErr("send", "operation disabled by reply-code-action").
			WithMetadata("reply_code", code).Wrap(sendErr)

	default: // ActionFail
		_ = op.trace.UpdateHeaderStatus(env.HeaderID, types.StatusError, true, "Failed")
		return errors.TransportPermanentErr("send", "operation failed").
			WithMetadata("reply_code", code).Wrap(sendErr)
	}
}
