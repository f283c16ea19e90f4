package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkflowMetrics covers the poller, draft saves, stage navigation, circuit
// breakers and backend round trips.
type WorkflowMetrics struct {
	service string

	pollAttemptsTotal  *prometheus.CounterVec
	pollFinishedTotal  *prometheus.CounterVec
	pollActivationSize *prometheus.HistogramVec
	pollDuration       *prometheus.HistogramVec
	sectionSavesTotal  *prometheus.CounterVec
	stageEnteredTotal  *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	backendRequestsTotal *prometheus.CounterVec
	backendDuration      *prometheus.HistogramVec
	backendInFlight      prometheus.Gauge
}

func NewWorkflowMetrics(registerer prometheus.Registerer, service string) *WorkflowMetrics {
	constLabels := prometheus.Labels{"service": service}

	m := &WorkflowMetrics{
		service: service,
		pollAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "poller",
				Name:        "attempts_total",
				Help:        "Extraction status fetches by outcome.",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		pollFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "poller",
				Name:        "activations_finished_total",
				Help:        "Finished polling activations by terminal outcome.",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		pollActivationSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "poller",
				Name:        "attempts_per_activation",
				Help:        "Pending responses counted before an activation finished.",
				Buckets:     []float64{0, 1, 2, 5, 10, 20, 40, 60},
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		pollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "poller",
				Name:        "activation_duration_seconds",
				Help:        "Wall time from activation start to terminal state.",
				Buckets:     []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 180},
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		sectionSavesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "drafts",
				Name:        "section_saves_total",
				Help:        "Section commits by stage and status.",
				ConstLabels: constLabels,
			},
			[]string{"stage", "section", "status"},
		),
		stageEnteredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "workflow",
				Name:        "stage_entered_total",
				Help:        "Stage arrivals.",
				ConstLabels: constLabels,
			},
			[]string{"stage"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "resilience",
				Name:        "breaker_open",
				Help:        "1 while the operation breaker is open, 0.5 half-open, 0 closed.",
				ConstLabels: constLabels,
			},
			[]string{"operation"},
		),
		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "resilience",
				Name:        "breaker_transitions_total",
				Help:        "Circuit breaker state transitions.",
				ConstLabels: constLabels,
			},
			[]string{"operation", "to"},
		),
		backendRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "backend",
				Name:        "requests_total",
				Help:        "Backend round trips by status code and method.",
				ConstLabels: constLabels,
			},
			[]string{"code", "method"},
		),
		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "backend",
				Name:        "request_duration_seconds",
				Help:        "Backend round trip latency.",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: constLabels,
			},
			[]string{"code", "method"},
		),
		backendInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "backend",
				Name:        "in_flight_requests",
				Help:        "Backend requests awaiting a response.",
				ConstLabels: constLabels,
			},
		),
	}

	registerer.MustRegister(
		m.pollAttemptsTotal,
		m.pollFinishedTotal,
		m.pollActivationSize,
		m.pollDuration,
		m.sectionSavesTotal,
		m.stageEnteredTotal,
		m.breakerState,
		m.breakerTransitions,
		m.backendRequestsTotal,
		m.backendDuration,
		m.backendInFlight,
	)
	return m
}

func (m *WorkflowMetrics) ObservePollAttempt(outcome string) {
	m.pollAttemptsTotal.WithLabelValues(orUnknown(outcome)).Inc()
}

func (m *WorkflowMetrics) ObservePollFinished(outcome string, attempts int, elapsed time.Duration) {
	outcome = orUnknown(outcome)
	m.pollFinishedTotal.WithLabelValues(outcome).Inc()
	m.pollActivationSize.WithLabelValues(outcome).Observe(float64(attempts))
	if elapsed >= 0 {
		m.pollDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	}
}

func (m *WorkflowMetrics) ObserveSectionSave(stage, section string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.sectionSavesTotal.WithLabelValues(orUnknown(stage), orUnknown(section), status).Inc()
}

func (m *WorkflowMetrics) ObserveStageEntered(stage string) {
	m.stageEnteredTotal.WithLabelValues(orUnknown(stage)).Inc()
}

// ObserveBreakerTransition matches resilience.StateObserver.
func (m *WorkflowMetrics) ObserveBreakerTransition(operation, _, to string) {
	value := 0.0
	switch to {
	case "open":
		value = 1
	case "half-open":
		value = 0.5
	}
	m.breakerState.WithLabelValues(operation).Set(value)
	m.breakerTransitions.WithLabelValues(operation, to).Inc()
}

// InstrumentTransport wraps next so every backend call is counted and timed.
func (m *WorkflowMetrics) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperInFlight(m.backendInFlight,
		promhttp.InstrumentRoundTripperCounter(m.backendRequestsTotal,
			promhttp.InstrumentRoundTripperDuration(m.backendDuration, next),
		),
	)
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
