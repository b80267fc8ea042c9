// Package tracing emits OpenTelemetry spans around the Production
// Engine's operations and the Host Families' per-envelope work, giving
// every leg of the pipeline (spec §4.1's legs: accept, route, deliver) a
// span an operator can follow across hosts in Jaeger/OTLP, independent
// of the persisted per-message trace in internal's own Trace contract.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config configures distributed tracing.
type Config struct {
	Enabled        bool              `yaml:"enabled"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	Exporter       string            `yaml:"exporter"` // "jaeger", "otlp", "console"
	Endpoint       string            `yaml:"endpoint"`
	SampleRate     float64           `yaml:"sample_rate"`
	BatchTimeout   time.Duration     `yaml:"batch_timeout"`
	MaxBatchSize   int               `yaml:"max_batch_size"`
	Headers        map[string]string `yaml:"headers"`
	AdaptiveSampling AdaptiveSamplingConfig `yaml:"adaptive_sampling"`
}

// DefaultConfig returns default tracing configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "hie-engine-runtime-core",
		ServiceVersion: "v1.0.0",
		Environment:    "production",
		Exporter:       "otlp",
		Endpoint:       "http://localhost:4318/v1/traces",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MaxBatchSize:   512,
		Headers:        make(map[string]string),
	}
}

// Manager owns the OTel tracer provider for one process.
type Manager struct {
	config   Config
	logger   *logrus.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
	sampler  *AdaptiveSampler
}

// NewManager builds a tracing manager. When config.Enabled is false, it
// returns a manager backed by the OTel no-op tracer so callers never have
// to branch on whether tracing is on.
func NewManager(config Config, logger *logrus.Logger) (*Manager, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if !config.Enabled {
		return &Manager{config: config, logger: logger, tracer: otel.Tracer("noop")}, nil
	}

	m := &Manager{config: config, logger: logger}
	if err := m.initialize(); err != nil {
		return nil, err
	}
	if config.AdaptiveSampling.Enabled {
		m.sampler = NewAdaptiveSampler(config.AdaptiveSampling, logger)
	}
	return m, nil
}

func (m *Manager) initialize() error {
	exporter, err := m.createExporter()
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := m.createResource()
	if err != nil {
		return fmt.Errorf("create trace resource: %w", err)
	}

	m.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter,
			trace.WithBatchTimeout(m.config.BatchTimeout),
			trace.WithMaxExportBatchSize(m.config.MaxBatchSize),
		),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(m.config.SampleRate)),
	)

	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	m.tracer = otel.Tracer(m.config.ServiceName)

	m.logger.WithFields(logrus.Fields{
		"service_name": m.config.ServiceName,
		"exporter":     m.config.Exporter,
		"endpoint":     m.config.Endpoint,
		"sample_rate":  m.config.SampleRate,
	}).Info("distributed tracing initialized")
	return nil
}

func (m *Manager) createExporter() (trace.SpanExporter, error) {
	switch m.config.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(m.config.Endpoint)))
	case "otlp":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(m.config.Endpoint)}
		if len(m.config.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(m.config.Headers))
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case "console":
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint("http://localhost:4318"),
			otlptracehttp.WithInsecure(),
		))
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", m.config.Exporter)
	}
}

func (m *Manager) createResource() (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(m.config.ServiceName),
			semconv.ServiceVersion(m.config.ServiceVersion),
			semconv.DeploymentEnvironment(m.config.Environment),
		),
	)
}

// Tracer returns the underlying OTel tracer.
func (m *Manager) Tracer() oteltrace.Tracer {
	return m.tracer
}

// Sampler returns the adaptive sampler, or nil if none is configured.
func (m *Manager) Sampler() *AdaptiveSampler {
	return m.sampler
}

// Shutdown flushes and stops the tracer provider and adaptive sampler.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.sampler != nil {
		m.sampler.Stop()
	}
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// Span wraps a context with its active OTel span plus convenience
// accessors used around one operation (spec §4.1's legs).
type Span struct {
	ctx    context.Context
	span   oteltrace.Span
	tracer oteltrace.Tracer
}

// StartSpan starts operationName as a new span under ctx.
func StartSpan(ctx context.Context, tracer oteltrace.Tracer, operationName string) *Span {
	ctx, span := tracer.Start(ctx, operationName)
	return &Span{ctx: ctx, span: span, tracer: tracer}
}

// Context returns the span-carrying context.
func (s *Span) Context() context.Context { return s.ctx }

// SetAttribute adds an attribute to the span.
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue
	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}
	s.span.SetAttributes(attr)
}

// SetError records err on the span and marks it as failed.
func (s *Span) SetError(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
}

// End finalizes the span.
func (s *Span) End() { s.span.End() }

// Child starts a child span under this one.
func (s *Span) Child(operationName string) *Span {
	return StartSpan(s.ctx, s.tracer, operationName)
}

// TraceID returns the active span's trace ID, or "" if none.
func (s *Span) TraceID() string {
	if s.span.SpanContext().HasTraceID() {
		return s.span.SpanContext().TraceID().String()
	}
	return ""
}

// Instrument runs fn inside a span named operationName, recording its
// duration and any returned error. Used to wrap Engine.Deploy/Start/Stop
// and a Host Family's per-envelope processing step.
func Instrument(ctx context.Context, tracer oteltrace.Tracer, operationName string, fn func(context.Context) error) error {
	s := StartSpan(ctx, tracer, operationName)
	defer s.End()

	start := time.Now()
	err := fn(s.Context())
	s.SetAttribute("duration_ms", time.Since(start).Milliseconds())

	if err != nil {
		s.SetError(err)
		return err
	}
	s.span.SetStatus(codes.Ok, "completed")
	return nil
}

// HTTPMiddleware wraps an http.Handler with request span creation,
// extracting any inbound trace context and injecting the resulting
// trace context into the response headers. Used on the control plane's
// router (internal/production.ControlPlane).
func HTTPMiddleware(tracer oteltrace.Tracer, operationName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, operationName)
			defer span.End()

			span.SetAttributes(
				semconv.HTTPMethod(r.Method),
				semconv.HTTPTarget(r.URL.Path),
				semconv.UserAgentOriginal(r.UserAgent()),
				semconv.ClientAddress(r.RemoteAddr),
			)

			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(w.Header()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExtractTraceInfo reads the active span's trace/span IDs off ctx, for
// callers that want to stamp them onto a log line without holding a Span.
func ExtractTraceInfo(ctx context.Context) (traceID, spanID string) {
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
		spanID = span.SpanContext().SpanID().String()
	}
	return
}
