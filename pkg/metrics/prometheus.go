package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// PrometheusRecorder implements Recorder on a private registry so that several
// recorders (e.g. one per test) never collide on metric names.
type PrometheusRecorder struct {
	registry           *prometheus.Registry
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	transitionsTotal   *prometheus.CounterVec
	retriesTotal       *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	protocolViolations prometheus.Counter
}

// NewPrometheusRecorder creates a recorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surveychat_requests_total",
				Help: "Survey API requests by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "surveychat_request_duration_seconds",
				Help:    "Duration of survey API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surveychat_transitions_total",
				Help: "Conversation state transitions",
			},
			[]string{"from", "to"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surveychat_retries_total",
				Help: "Re-sent survey API requests",
			},
			[]string{"op"},
		),
		validationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surveychat_validation_failures_total",
				Help: "Respondent input rejected before submission",
			},
			[]string{"kind"},
		),
		protocolViolations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "surveychat_protocol_violations_total",
				Help: "Server replies that could not be interpreted",
			},
		),
	}
}

func (p *PrometheusRecorder) ObserveRequest(op, outcome string, duration time.Duration) {
	p.requestsTotal.WithLabelValues(op, outcome).Inc()
	p.requestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncTransition(from, to string) {
	p.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (p *PrometheusRecorder) IncRetry(op string) {
	p.retriesTotal.WithLabelValues(op).Inc()
}

func (p *PrometheusRecorder) IncValidationFailure(kind string) {
	p.validationFailures.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) IncProtocolViolation() {
	p.protocolViolations.Inc()
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// WriteTextfile dumps all metrics in the Prometheus text exposition format, suitable
// for the node_exporter textfile collector. The file is replaced atomically.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	families, err := p.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".metrics-*.prom")
	if err != nil {
		return fmt.Errorf("create temp metrics file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // already renamed on success

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(tmp, mf); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("encode metric %s: %w", mf.GetName(), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename metrics file: %w", err)
	}
	return nil
}
