package observability

import (
	"context"
	"errors"
	"net/http"

	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors fed by lifecycle hooks.
type Metrics struct {
	registry *prometheus.Registry

	stepEnters  *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	submissions *prometheus.CounterVec
	calls       *prometheus.CounterVec
	callLatency *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stepEnters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_step_enters_total",
				Help: "Total number of steps entered.",
			},
			[]string{"flow", "step"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_rejections_total",
				Help: "Operations refused without a state change.",
			},
			[]string{"flow", "op", "reason"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_submissions_total",
				Help: "Flows that reached the submitted state.",
			},
			[]string{"flow"},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_rpc_calls_total",
				Help: "Outbound calls by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		callLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stepflow_rpc_duration_seconds",
				Help:    "Duration of outbound calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
	m.registry.MustRegister(m.stepEnters, m.rejections, m.submissions, m.calls, m.callLatency)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hooks returns lifecycle hooks recording into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepEnter: func(_ context.Context, e *domain.StepEvent) {
			m.stepEnters.WithLabelValues(e.FlowID, e.StepID).Inc()
		},
		OnRejected: func(_ context.Context, e *domain.RejectEvent) {
			m.rejections.WithLabelValues(e.FlowID, e.Op, Reason(e.Err)).Inc()
		},
		OnSubmitted: func(_ context.Context, e *domain.StepEvent) {
			m.submissions.WithLabelValues(e.FlowID).Inc()
		},
		OnCallReturn: func(_ context.Context, e *domain.CallEvent) {
			outcome := "ok"
			if e.IsError {
				outcome = "error"
			}
			m.calls.WithLabelValues(e.Operation, outcome).Inc()
			m.callLatency.WithLabelValues(e.Operation).Observe(e.Duration.Seconds())
		},
	}
}

// Reason classifies a rejection into a low-cardinality label.
func Reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrSubmitted):
		return "submitted"
	case errors.Is(err, domain.ErrBusy):
		return "busy"
	case errors.Is(err, domain.ErrNotStarted):
		return "not_started"
	case errors.Is(err, domain.ErrUnknownStep):
		return "unknown_step"
	case errors.Is(err, domain.ErrNotTerminal):
		return "not_terminal"
	case errors.Is(err, domain.ErrSkipped):
		return "skipped"
	case errors.Is(err, domain.ErrNoAction):
		return "no_action"
	default:
		return "other"
	}
}
