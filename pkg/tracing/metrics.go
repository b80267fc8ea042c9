package tracing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the tracing subsystem.
type Metrics struct {
	spansCreatedTotal      *prometheus.CounterVec
	samplingRate           prometheus.Gauge
	adaptiveSamplingActive prometheus.Gauge
	spansExportedTotal     prometheus.Counter
	spansDroppedTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers the tracing subsystem's Prometheus
// metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		spansCreatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hie_engine_tracing_spans_created_total",
			Help: "Total number of spans created, by operation name",
		}, []string{"operation"}),

		samplingRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hie_engine_tracing_sampling_rate",
			Help: "Current trace sampling rate (0.0 to 1.0)",
		}),

		adaptiveSamplingActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hie_engine_tracing_adaptive_sampling_active",
			Help: "Adaptive sampling status (0=inactive, 1=active)",
		}),

		spansExportedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hie_engine_tracing_spans_exported_total",
			Help: "Total number of spans successfully exported to the collector",
		}),

		spansDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hie_engine_tracing_spans_dropped_total",
			Help: "Total number of spans dropped, by reason",
		}, []string{"reason"}),
	}
}

// RecordSpanCreated increments the span-created counter for operation.
func (m *Metrics) RecordSpanCreated(operation string) {
	m.spansCreatedTotal.WithLabelValues(operation).Inc()
}

// RecordSamplingRate updates the current sampling rate gauge.
func (m *Metrics) RecordSamplingRate(rate float64) {
	m.samplingRate.Set(rate)
}

// RecordAdaptiveSamplingActive updates the adaptive sampling status gauge.
func (m *Metrics) RecordAdaptiveSamplingActive(active bool) {
	if active {
		m.adaptiveSamplingActive.Set(1)
	} else {
		m.adaptiveSamplingActive.Set(0)
	}
}

// RecordSpanExported increments the exported-span counter.
func (m *Metrics) RecordSpanExported() {
	m.spansExportedTotal.Inc()
}

// RecordSpanDropped increments the dropped-span counter for reason.
func (m *Metrics) RecordSpanDropped(reason string) {
	m.spansDroppedTotal.WithLabelValues(reason).Inc()
}
