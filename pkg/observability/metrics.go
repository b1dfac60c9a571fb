package observability

import (
	"context"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the runner collectors.
type Metrics struct {
	NodeExecutions *prometheus.CounterVec
	NodeFailures   *prometheus.CounterVec
	NodeDuration   *prometheus.HistogramVec
	Suspensions    *prometheus.CounterVec
	Resumes        prometheus.Counter
	Completions    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_node_executions_total",
				Help: "Total number of completed node executions",
			},
			[]string{"node"},
		),
		NodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_node_failures_total",
				Help: "Total number of failed node executions",
			},
			[]string{"node"},
		),
		NodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbor_node_duration_seconds",
				Help:    "Duration of node executions",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
			},
			[]string{"node"},
		),
		Suspensions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_thread_suspensions_total",
				Help: "Total number of threads parked waiting for input",
			},
			[]string{"node"},
		),
		Resumes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbor_thread_resumes_total",
			Help: "Total number of resume values injected",
		}),
		Completions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbor_thread_completions_total",
			Help: "Total number of threads that reached the end",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.NodeExecutions, m.NodeFailures, m.NodeDuration, m.Suspensions, m.Resumes, m.Completions)
	}
	return m
}

// Hooks returns lifecycle hooks feeding the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeLeave: func(_ context.Context, e *domain.Event) {
			m.NodeExecutions.WithLabelValues(e.Node).Inc()
			m.NodeDuration.WithLabelValues(e.Node).Observe(e.Duration.Seconds())
		},
		OnNodeError: func(_ context.Context, e *domain.Event) {
			m.NodeFailures.WithLabelValues(e.Node).Inc()
			m.NodeDuration.WithLabelValues(e.Node).Observe(e.Duration.Seconds())
		},
		OnSuspend: func(_ context.Context, e *domain.Event) {
			m.Suspensions.WithLabelValues(e.Node).Inc()
		},
		OnResume: func(context.Context, *domain.Event) {
			m.Resumes.Inc()
		},
		OnComplete: func(context.Context, *domain.Event) {
			m.Completions.Inc()
		},
	}
}
