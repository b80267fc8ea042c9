// Package production implements the Production Engine (spec §6.3): the
// control-plane operations a deployer drives a running production
// through — Deploy, Start, Stop, Reload, ScaleHost, PauseHost,
// ResumeHost, RestartHost and Status.
//
// Grounded on the teacher's internal/app.App: a struct that owns every
// component's lifecycle and exposes Start/Stop/Run, generalized from a
// single fixed pipeline (monitors -> dispatcher -> sinks) to a
// dynamically deployed set of named hosts built from ItemConfig entries.
package production

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hie-engine/runtime-core/internal/adapter/fileio"
	"github.com/hie-engine/runtime-core/internal/adapter/httpio"
	"github.com/hie-engine/runtime-core/internal/adapter/kafkaio"
	"github.com/hie-engine/runtime-core/internal/adapter/mllp"
	"github.com/hie-engine/runtime-core/internal/hostruntime"
	"github.com/hie-engine/runtime-core/internal/hosts"
	"github.com/hie-engine/runtime-core/internal/registry"
	"github.com/hie-engine/runtime-core/pkg/dlq"
	"github.com/hie-engine/runtime-core/pkg/errors"
	"github.com/hie-engine/runtime-core/pkg/hotreload"
	"github.com/hie-engine/runtime-core/pkg/persistence"
	"github.com/hie-engine/runtime-core/pkg/secrets"
	"github.com/hie-engine/runtime-core/pkg/tracing"
	"github.com/hie-engine/runtime-core/pkg/types"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// RuleRegistry resolves a routing process's configured business_rule_name
// to the RuleFunc that actually decides targets. The rule engine itself is
// external to this repository (spec §4.4.2) — callers register their own
// rules before Deploy; an unregistered name is a ConfigError.
type RuleRegistry struct {
	mu    sync.RWMutex
	rules map[string]hosts.RuleFunc
}

// NewRuleRegistry returns an empty rule registry.
func NewRuleRegistry() *RuleRegistry {
	return &RuleRegistry{rules: make(map[string]hosts.RuleFunc)}
}

// Register associates a business rule name with its implementation.
func (r *RuleRegistry) Register(name string, rule hosts.RuleFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[name] = rule
}

func (r *RuleRegistry) lookup(name string) (hosts.RuleFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[name]
	return rule, ok
}

// deployedHost tracks a built host alongside the config/factory needed to
// rebuild it at a different scale on ScaleHost or a Reload.
type deployedHost struct {
	host types.Host
	cfg  types.ItemConfig
}

// Engine owns the deployed hosts of one production and drives their
// shared lifecycle.
type Engine struct {
	trace    types.Trace
	registry *registry.Registry
	rules    *RuleRegistry
	secrets  secrets.SecretManager
	logger   *logrus.Logger

	deadLetters *dlq.Sink
	persist     *persistence.Store
	tracer      oteltrace.Tracer

	mu    sync.RWMutex
	cfg   *types.ProductionConfig
	hosts map[string]*deployedHost
}

// NewEngine constructs a Production Engine. secretManager may be nil when
// no adapter needs secret-backed authentication.
func NewEngine(trace types.Trace, rules *RuleRegistry, secretManager secrets.SecretManager, logger *logrus.Logger) *Engine {
	return newEngine(trace, rules, secretManager, nil, logger)
}

// NewEngineWithDeadLetters is NewEngine plus a dead-letter sink that every
// queue-driven host's discarded envelopes (overflow, exhausted Nack
// retries) is routed to (spec §7). Start deadLetters before Engine.Start.
func NewEngineWithDeadLetters(trace types.Trace, rules *RuleRegistry, secretManager secrets.SecretManager, deadLetters *dlq.Sink, logger *logrus.Logger) *Engine {
	return newEngine(trace, rules, secretManager, deadLetters, logger)
}

func newEngine(trace types.Trace, rules *RuleRegistry, secretManager secrets.SecretManager, deadLetters *dlq.Sink, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		trace:       trace,
		registry:    registry.New(logger),
		rules:       rules,
		secrets:     secretManager,
		deadLetters: deadLetters,
		logger:      logger,
		hosts:       make(map[string]*deployedHost),
	}
}

// Deploy builds one Host per enabled item in cfg and registers it with the
// Service Registry. It does not start any host — call Start afterward.
// Deploy is all-or-nothing: a single item failing to build (e.g. an
// unknown adapter kind) aborts the whole deploy and leaves the engine's
// previous state untouched (spec §7: a ConfigError never reaches Running).
func (e *Engine) Deploy(ctx context.Context, cfg *types.ProductionConfig) error {
	return e.instrument(ctx, "production.deploy", func(ctx context.Context) error {
		built := make(map[string]*deployedHost, len(cfg.Items))

		for _, item := range cfg.Items {
			if !item.Enabled {
				continue
			}
			host, err := e.buildHost(item)
			if err != nil {
				return errors.ConfigErr("deploy", fmt.Sprintf("item %q: %v", item.Name, err))
			}
			built[item.Name] = &deployedHost{host: host, cfg: item}
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		for name := range e.hosts {
			e.registry.Deregister(name)
		}
		for name, dh := range built {
			e.registry.Register(dh.host)
			_ = name
		}
		e.cfg = cfg
		e.hosts = built

		e.logger.WithField("items", len(built)).Info("production deployed")
		return nil
	})
}

func (e *Engine) buildHost(item types.ItemConfig) (types.Host, error) {
	deps := hostruntime.Deps{Trace: e.trace, Registry: e.registry, Logger: e.logger}
	if e.deadLetters != nil {
		deps.OnDiscard = e.deadLetters.DiscardFunc()
	}

	switch item.Kind {
	case types.HostKindService:
		adapter, err := e.buildInboundAdapter(item)
		if err != nil {
			return nil, err
		}
		return hosts.NewInboundService(item, e.trace, e.registry, adapter, e.logger), nil

	case types.HostKindProcess:
		rule, ok := e.rules.lookup(item.Host.BusinessRuleName)
		if !ok {
			return nil, fmt.Errorf("no routing rule registered for business_rule_name %q", item.Host.BusinessRuleName)
		}
		return hosts.NewRoutingProcess(item, deps, rule), nil

	case types.HostKindOperation:
		adapter, err := e.buildOutboundAdapter(item)
		if err != nil {
			return nil, err
		}
		return hosts.NewOutboundOperation(item, deps, adapter)

	default:
		return nil, fmt.Errorf("unknown host kind %q", item.Kind)
	}
}

func (e *Engine) buildInboundAdapter(item types.ItemConfig) (types.InboundAdapter, error) {
	switch item.Adapter.Kind {
	case "mllp":
		return mllp.NewInbound(mllp.FromAdapterConfig(item.Adapter), e.logger), nil
	case "http":
		return httpio.NewInbound(httpio.FromAdapterConfig(item.Adapter), item.Adapter.Port, e.logger), nil
	case "file":
		return fileio.NewInbound(fileio.FromAdapterConfig(item.Adapter), e.logger), nil
	default:
		return nil, fmt.Errorf("unsupported inbound adapter kind %q", item.Adapter.Kind)
	}
}

func (e *Engine) buildOutboundAdapter(item types.ItemConfig) (types.OutboundAdapter, error) {
	switch item.Adapter.Kind {
	case "mllp":
		return mllp.NewOutbound(mllp.FromAdapterConfig(item.Adapter), e.logger), nil
	case "http":
		return httpio.NewOutbound(httpio.FromAdapterConfig(item.Adapter), e.logger), nil
	case "file":
		return fileio.NewOutbound(fileio.FromAdapterConfig(item.Adapter), e.logger), nil
	case "kafka":
		return kafkaio.NewOutbound(kafkaio.FromAdapterConfig(item.Adapter), e.secrets, e.logger), nil
	default:
		return nil, fmt.Errorf("unsupported outbound adapter kind %q", item.Adapter.Kind)
	}
}

// AttachTracing enables an OTel span around each Deploy/Start/Stop call,
// named after the operation (spec §4.1's legs get their own per-envelope
// spans inside each Host Family; this covers the control-plane operations
// instead).
func (e *Engine) AttachTracing(manager *tracing.Manager) {
	e.tracer = manager.Tracer()
}

func (e *Engine) instrument(ctx context.Context, operation string, fn func(context.Context) error) error {
	if e.tracer == nil {
		return fn(ctx)
	}
	return tracing.Instrument(ctx, e.tracer, operation, fn)
}

// AttachPersistence enables queue-snapshot-at-shutdown: Stop drains and
// saves every host's residual queue, and Start re-enqueues whatever was
// saved for a host under its name (spec §4.2 P6 — no envelope is lost
// across a planned restart or redeploy).
func (e *Engine) AttachPersistence(store *persistence.Store) {
	e.persist = store
}

// Start starts every deployed host, re-enqueuing any envelopes a prior
// Stop snapshotted for it.
func (e *Engine) Start(ctx context.Context) error {
	return e.instrument(ctx, "production.start", func(ctx context.Context) error {
		e.mu.RLock()
		defer e.mu.RUnlock()

		for name, dh := range e.hosts {
			if err := dh.host.Start(ctx); err != nil {
				return fmt.Errorf("start %q: %w", name, err)
			}
			e.restoreQueue(ctx, name, dh.host)
		}
		e.logger.Info("production started")
		return nil
	})
}

// Stop snapshots each host's residual queue (if persistence is attached)
// and stops every deployed host.
func (e *Engine) Stop(ctx context.Context) error {
	return e.instrument(ctx, "production.stop", func(ctx context.Context) error {
		e.mu.RLock()
		defer e.mu.RUnlock()

		for name, dh := range e.hosts {
			e.snapshotQueue(name, dh.host)
			if err := dh.host.Stop(ctx); err != nil {
				e.logger.WithError(err).WithField("host", name).Warn("error stopping host")
			}
		}
		e.logger.Info("production stopped")
		return nil
	})
}

func (e *Engine) snapshotQueue(name string, host types.Host) {
	if e.persist == nil {
		return
	}
	drainer, ok := host.(persistence.QueueDrainer)
	if !ok {
		return
	}
	if err := e.persist.Snapshot(drainer, name); err != nil {
		e.logger.WithError(err).WithField("host", name).Warn("failed to snapshot host queue")
	}
}

func (e *Engine) restoreQueue(ctx context.Context, name string, host types.Host) {
	if e.persist == nil {
		return
	}
	envs, err := e.persist.Restore(ctx, name)
	if err != nil {
		e.logger.WithError(err).WithField("host", name).Warn("failed to restore host queue")
		return
	}
	for _, env := range envs {
		if err := host.Enqueue(ctx, env); err != nil {
			e.logger.WithError(err).WithField("host", name).Warn("failed to re-enqueue restored envelope")
		}
	}
}

// Reload diffs the running production against newCfg: removed items are
// stopped and deregistered, added items are built/registered/started, and
// changed items are replaced in place (spec §6.3 Reload).
func (e *Engine) Reload(ctx context.Context, newCfg *types.ProductionConfig) error {
	e.mu.Lock()
	old := e.hosts
	e.mu.Unlock()

	wantNames := make(map[string]types.ItemConfig, len(newCfg.Items))
	for _, item := range newCfg.Items {
		if item.Enabled {
			wantNames[item.Name] = item
		}
	}

	for name, dh := range old {
		if _, keep := wantNames[name]; !keep {
			e.snapshotQueue(name, dh.host)
			dh.host.Stop(ctx)
			e.registry.Deregister(name)
		}
	}

	for name, item := range wantNames {
		existing, ok := old[name]
		if ok && configsEquivalent(existing.cfg, item) {
			continue
		}
		if ok {
			e.snapshotQueue(name, existing.host)
			existing.host.Stop(ctx)
			e.registry.Deregister(name)
		}

		host, err := e.buildHost(item)
		if err != nil {
			return errors.ConfigErr("reload", fmt.Sprintf("item %q: %v", item.Name, err))
		}
		e.mu.Lock()
		e.hosts[name] = &deployedHost{host: host, cfg: item}
		e.mu.Unlock()
		e.registry.Register(host)
		if err := host.Start(ctx); err != nil {
			return fmt.Errorf("start reloaded host %q: %w", name, err)
		}
		e.restoreQueue(ctx, name, host)
	}

	e.mu.Lock()
	e.cfg = newCfg
	e.mu.Unlock()

	e.logger.Info("production reloaded")
	return nil
}

// configsEquivalent compares two item configs ignoring the free-text
// comment field. ItemConfig carries slices/maps (AllowedMethods,
// CustomHeaders, TargetConfigNames) so it is not `==`-comparable.
func configsEquivalent(a, b types.ItemConfig) bool {
	a.Comment, b.Comment = "", ""
	return reflect.DeepEqual(a, b)
}

// ScaleHost rebuilds the named host with a new pool size, preserving its
// queue contents is out of scope — the host drains before the rebuild the
// same way Stop always drains (spec §6.3 ScaleHost).
func (e *Engine) ScaleHost(ctx context.Context, name string, poolSize int) error {
	e.mu.Lock()
	dh, ok := e.hosts[name]
	e.mu.Unlock()
	if !ok {
		return errors.ConfigErr("scale_host", fmt.Sprintf("unknown host %q", name))
	}

	newCfg := dh.cfg
	newCfg.PoolSize = poolSize

	e.snapshotQueue(name, dh.host)
	if err := dh.host.Stop(ctx); err != nil {
		return fmt.Errorf("stop %q for scale: %w", name, err)
	}
	e.registry.Deregister(name)

	host, err := e.buildHost(newCfg)
	if err != nil {
		return errors.ConfigErr("scale_host", fmt.Sprintf("item %q: %v", name, err))
	}

	e.mu.Lock()
	e.hosts[name] = &deployedHost{host: host, cfg: newCfg}
	e.mu.Unlock()
	e.registry.Register(host)
	if err := host.Start(ctx); err != nil {
		return err
	}
	e.restoreQueue(ctx, name, host)
	return nil
}

func (e *Engine) lookup(name string) (types.Host, error) {
	e.mu.RLock()
	dh, ok := e.hosts[name]
	e.mu.RUnlock()
	if !ok {
		return nil, errors.ConfigErr("lookup_host", fmt.Sprintf("unknown host %q", name))
	}
	return dh.host, nil
}

// PauseHost pauses the named host.
func (e *Engine) PauseHost(name string) error {
	host, err := e.lookup(name)
	if err != nil {
		return err
	}
	return host.Pause()
}

// ResumeHost resumes the named host.
func (e *Engine) ResumeHost(name string) error {
	host, err := e.lookup(name)
	if err != nil {
		return err
	}
	return host.Resume()
}

// RestartHost stops then starts the named host without rebuilding it.
func (e *Engine) RestartHost(ctx context.Context, name string) error {
	host, err := e.lookup(name)
	if err != nil {
		return err
	}
	if err := host.Stop(ctx); err != nil {
		return err
	}
	return host.Start(ctx)
}

// AttachHotReload builds and starts a ConfigReloader that calls e.Reload
// whenever configFile (or one of cfg.WatchFiles) changes on disk (spec
// §6.3 Reload / HotReloadConfig). The caller owns the returned reloader's
// shutdown; Stop it before Engine.Stop so no reload races a shutdown.
func (e *Engine) AttachHotReload(cfg types.HotReloadConfig, configFile string) (*hotreload.ConfigReloader, error) {
	reloader, err := hotreload.NewConfigReloader(cfg, configFile, e.Reload, e.logger)
	if err != nil {
		return nil, err
	}
	if err := reloader.Start(); err != nil {
		return nil, err
	}
	return reloader, nil
}

// HostStatus reports one host's current lifecycle state.
type HostStatus struct {
	Name  string          `json:"name"`
	Kind  types.HostKind  `json:"kind"`
	State types.HostState `json:"state"`
}

// Status reports every deployed host's current lifecycle state.
func (e *Engine) Status() []HostStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]HostStatus, 0, len(e.hosts))
	for name, dh := range e.hosts {
		out = append(out, HostStatus{Name: name, Kind: dh.host.Kind(), State: dh.host.State()})
	}
	return out
}
