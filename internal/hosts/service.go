// Package hosts implements the three Host Families (spec §4.4) as
// compositions over the generic internal/hostruntime.Host, plus the HL7 v2
// specialisation (message type/control id extraction, ACK generation,
// reply-code-action classification) shared by the HL7 inbound service and
// outbound operation.
//
// Grounded on the teacher's internal/sinks adapters (one struct per
// concrete destination, a shared lifecycle interface) generalized from
// "one struct per log destination" to "one struct per host family",
// composing internal/hostruntime.Host where a family needs a queue.
package hosts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hie-engine/runtime-core/pkg/errors"
	"github.com/hie-engine/runtime-core/pkg/types"
)

// InboundService is the spec §4.4.1 host family: driven by an adapter
// callback rather than a queue, it fans an inbound frame out to every
// configured target and, depending on ack_mode, synthesizes a reply frame.
type InboundService struct {
	cfg      types.ItemConfig
	trace    types.Trace
	registry types.Registry
	adapter  types.InboundAdapter
	logger   *logrus.Logger

	mu    sync.Mutex
	state types.HostState
}

// NewInboundService constructs a service host in the Created state.
func NewInboundService(cfg types.ItemConfig, trace types.Trace, registry types.Registry, adapter types.InboundAdapter, logger *logrus.Logger) *InboundService {
	if logger == nil {
		logger = logrus.New()
	}
	return &InboundService{
		cfg:      cfg,
		trace:    trace,
		registry: registry,
		adapter:  adapter,
		logger:   logger,
		state:    types.HostCreated,
	}
}

func (s *InboundService) Name() string         { return s.cfg.Name }
func (s *InboundService) Kind() types.HostKind { return types.HostKindService }

func (s *InboundService) State() types.HostState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *InboundService) setState(state types.HostState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Enqueue is not meaningful for an adapter-driven service: spec §4.4.1
// dispatches only from handleFrame. Kept to satisfy types.Host so the
// service can still be Registered/Looked-up by the production engine.
func (s *InboundService) Enqueue(ctx context.Context, env *types.Envelope) error {
	return errors.ConfigErr("enqueue", "\""+s.cfg.Name+"\" is an inbound service; it has no input queue")
}

// Pause stops the service from accepting new frames; in-flight frames
// already handed to handleFrame still complete.
func (s *InboundService) Pause() error {
	s.mu.Lock()
	if s.state != types.HostRunning {
		s.mu.Unlock()
		return errors.ConfigErr("pause", "host \""+s.cfg.Name+"\" is not running")
	}
	s.state = types.HostPaused
	s.mu.Unlock()
	return nil
}

func (s *InboundService) Resume() error {
	s.mu.Lock()
	if s.state != types.HostPaused {
		s.mu.Unlock()
		return errors.ConfigErr("resume", "host \""+s.cfg.Name+"\" is not paused")
	}
	s.state = types.HostRunning
	s.mu.Unlock()
	return nil
}

func (s *InboundService) Start(ctx context.Context) error {
	if err := s.adapter.Start(ctx, s.handleFrame); err != nil {
		return err
	}
	s.setState(types.HostRunning)
	s.logger.WithField("host", s.cfg.Name).Info("inbound service started")
	return nil
}

func (s *InboundService) Stop(ctx context.Context) error {
	s.setState(types.HostStopping)
	err := s.adapter.Stop(ctx)
	s.setState(types.HostStopped)
	return err
}

// handleFrame implements spec §4.4.1 steps 1-4 for a single received frame.
func (s *InboundService) handleFrame(ctx context.Context, raw []byte, meta types.FrameMeta) ([]byte, error) {
	if s.State() == types.HostPaused || s.State() == types.HostStopped || s.State() == types.HostStopping {
		return nil, errors.TransportPermanentErr("handle_frame", "\""+s.cfg.Name+"\" is not accepting frames")
	}

	sessionID := "SES-" + uuid.NewString()

	hl7, isHL7 := ExtractMSH(raw)

	body := &types.MessageBody{
		BodyClassName: s.cfg.ClassName,
		ContentType:   s.contentType(),
		RawContent:    raw,
		SchemaCategory: s.cfg.Host.MessageSchemaCategory,
	}
	if isHL7 {
		body.MessageControlID = hl7.ControlID
		body.SendingApplication = hl7.SendingApplication
		body.SendingFacility = hl7.SendingFacility
	}

	bodyID, err := s.trace.StoreBody(body)
	if err != nil {
		return nil, err
	}

	var lastDelivery error
	for _, target := range s.cfg.Host.TargetConfigNames {
		header := &types.MessageHeader{
			SessionID:          sessionID,
			SourceConfigName:   s.cfg.Name,
			TargetConfigName:   target,
			SourceBusinessType: types.BusinessService,
			TargetBusinessType: s.businessTypeOf(target),
			BodyClassName:      body.BodyClassName,
			MessageBodyID:      &bodyID,
			Type:               types.HeaderRequest,
			Invocation:         types.InvocationQueue,
			Priority:           types.HeaderAsync,
		}
		if isHL7 {
			header.MessageType = hl7.MessageType
			if hl7.TriggerEvent != "" {
				header.MessageType += "^" + hl7.TriggerEvent
			}
		}

		headerID, err := s.trace.StoreHeader(header)
		if err != nil {
			lastDelivery = err
			continue
		}

		env := types.NewEnvelope()
		env.SessionID = sessionID
		env.HeaderID = headerID
		env.BodyID = bodyID
		env.Source = s.cfg.Name
		env.Destination = target
		env.Raw = raw
		env.ContentType = body.ContentType
		env.BodyClassName = body.BodyClassName

		if _, err := s.registry.Send(ctx, target, env, s.cfg.MessagingPattern); err != nil {
			lastDelivery = err
			s.logger.WithError(err).WithFields(logrus.Fields{"host": s.cfg.Name, "target": target}).
				Warn("inbound dispatch failed")
			_ = s.trace.UpdateHeaderStatus(headerID, types.StatusError, true, "DispatchFailed")
		}
	}

	return s.buildReply(hl7, isHL7, lastDelivery)
}

func (s *InboundService) contentType() string {
	if s.cfg.Adapter.Kind == "mllp" {
		return "HL7-ER7"
	}
	return s.cfg.Adapter.ContentType
}

// businessTypeOf is a best-effort swimlane classification for the trace
// header: a registered target's own Kind() maps directly; an unregistered
// name (not yet deployed, or external) falls back to BusinessExternal.
func (s *InboundService) businessTypeOf(target string) types.BusinessType {
	host, ok := s.registry.Lookup(target)
	if !ok {
		return types.BusinessExternal
	}
	switch host.Kind() {
	case types.HostKindProcess:
		return types.BusinessProcess
	case types.HostKindOperation:
		return types.BusinessOperation
	default:
		return types.BusinessService
	}
}

func (s *InboundService) buildReply(hl7 HL7Fields, isHL7 bool, deliveryErr error) ([]byte, error) {
	switch s.cfg.Host.AckMode {
	case types.AckNever:
		return nil, nil
	case types.AckImmediate, types.AckApp:
		if !isHL7 {
			return nil, nil
		}
		code := AckCode(deliveryErr != nil, false, s.cfg.Host.UseAckCommitCodes)
		ackControlID := uuid.NewString()[:8]
		return BuildAck(hl7, code, ackControlID, time.Now()), nil
	default:
		return nil, nil
	}
}
