package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesTotal counts pipeline invocations by terminal outcome.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace",
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Total chat messages processed, by outcome",
		},
		[]string{"outcome"},
	)

	// RiskDetectionsTotal counts crisis determinations by indicator.
	RiskDetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace",
			Subsystem: "risk",
			Name:      "detections_total",
			Help:      "Total crisis determinations, by indicator",
		},
		[]string{"indicator"},
	)

	// BackendFailuresTotal counts generation failures by backend and failure kind.
	BackendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace",
			Subsystem: "backend",
			Name:      "failures_total",
			Help:      "Total generation backend failures",
		},
		[]string{"backend", "kind"},
	)

	// GenerationDuration tracks backend latency, including failed calls.
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "solace",
			Subsystem: "backend",
			Name:      "generation_duration_seconds",
			Help:      "Generation backend call latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"backend"},
	)
)

// Prometheus records pipeline events into the collectors above.
type Prometheus struct{}

func (Prometheus) MessageProcessed(outcome string) {
	MessagesTotal.WithLabelValues(outcome).Inc()
}

func (Prometheus) RiskDetected(indicator string) {
	RiskDetectionsTotal.WithLabelValues(indicator).Inc()
}

func (Prometheus) BackendFailed(backend, kind string) {
	BackendFailuresTotal.WithLabelValues(backend, kind).Inc()
}

func (Prometheus) GenerationObserved(backend string, d time.Duration) {
	GenerationDuration.WithLabelValues(backend).Observe(d.Seconds())
}
