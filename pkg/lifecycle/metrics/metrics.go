// Package metrics exports lifecycle activity as Prometheus metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
)

const (
	namespace   = "lifecycle"
	eventLabel  = "event"
	kindLabel   = "kind"
	actionLabel = "action"
)

// Metrics is a lifecycle.Subscriber that counts lifecycle events in its own
// registry.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal        *prometheus.CounterVec
	approvalsTotal     *prometheus.CounterVec
	scheduledPublishes prometheus.Counter
	publishDueSeconds  prometheus.Histogram
	publishDueFailures prometheus.Counter
}

// NewMetrics creates a new instance of Metrics.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	return &Metrics{
		registry: reg,
		eventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "total",
			Help:      "The total count of lifecycle events delivered, by event and content kind.",
		}, []string{eventLabel, kindLabel}),
		approvalsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approvals",
			Name:      "decided_total",
			Help:      "The total count of approval decisions, by action and content kind.",
		}, []string{actionLabel, kindLabel}),
		scheduledPublishes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "published_total",
			Help:      "The total count of items published by the scheduler.",
		}),
		publishDueSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "run_seconds",
			Help:      "The time taken by one scheduled publish run.",
		}),
		publishDueFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "failures_total",
			Help:      "The total count of scheduled publish runs that failed.",
		}),
	}, nil
}

// HandleEvent records a lifecycle event.
func (m *Metrics) HandleEvent(ctx context.Context, e lifecycle.Event) error {
	kind := string(e.Subject.Kind)
	m.eventsTotal.WithLabelValues(string(e.Name), kind).Inc()
	if e.Name == lifecycle.EventApprovalProcessed {
		m.approvalsTotal.WithLabelValues(e.Action, kind).Inc()
	}
	return nil
}

// ObservePublishDue records one scheduler run.
func (m *Metrics) ObservePublishDue(published int, elapsed time.Duration, err error) {
	m.publishDueSeconds.Observe(elapsed.Seconds())
	m.scheduledPublishes.Add(float64(published))
	if err != nil {
		m.publishDueFailures.Inc()
	}
}

// Registry returns the registry of Metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ lifecycle.Subscriber = (*Metrics)(nil)
