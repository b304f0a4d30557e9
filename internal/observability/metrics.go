// Package observability exposes cowork activity as Prometheus metrics.
package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/cowork/internal/events"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	registry *prometheus.Registry

	SessionsCreated   prometheus.Counter
	SessionStates     *prometheus.CounterVec
	PlansInstalled    *prometheus.CounterVec
	TaskTransitions   *prometheus.CounterVec
	UserInputRequests prometheus.Counter
	UserInputAnswers  prometheus.Counter
	TaskOutputChars   prometheus.Histogram
}

// NewMetrics registers the cowork instruments, plus the Go and process
// collectors, on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Number of cowork sessions created.",
		}),
		SessionStates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_state_changes_total",
			Help:      "Session state writes by new state.",
		}, []string{"state"}),
		PlansInstalled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_installed_total",
			Help:      "Plans installed by source (generated or updated).",
		}, []string{"source"}),
		TaskTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task state changes by new state.",
		}, []string{"state"}),
		UserInputRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_input_requests_total",
			Help:      "Tasks parked waiting for answers to their questions.",
		}),
		UserInputAnswers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_input_answers_total",
			Help:      "Answer submissions stored on tasks.",
		}),
		TaskOutputChars: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_output_chars",
			Help:      "Size of completed task outputs in characters.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
	}
}

// TrackDropped exposes fn, a running total of undelivered events, as a counter.
func (m *Metrics) TrackDropped(namespace string, fn func() uint64) {
	promauto.With(m.registry).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Event deliveries dropped because a subscriber was full.",
	}, func() float64 { return float64(fn()) })
}

// Observe records one event.
func (m *Metrics) Observe(e events.Event) {
	switch ev := e.(type) {
	case events.SessionCreatedEvent:
		m.SessionsCreated.Inc()
	case events.SessionStateEvent:
		m.SessionStates.WithLabelValues(string(ev.State)).Inc()
	case events.PlanEvent:
		if ev.AnsweredTaskID != "" {
			m.UserInputAnswers.Inc()
			break
		}
		source := "updated"
		if ev.Name == events.EventPlanGenerated {
			source = "generated"
		}
		m.PlansInstalled.WithLabelValues(source).Inc()
	case events.TaskStateChangedEvent:
		m.TaskTransitions.WithLabelValues(string(ev.State)).Inc()
	case events.NeedsUserInputEvent:
		m.UserInputRequests.Inc()
	case events.TaskOutputEvent:
		m.TaskOutputChars.Observe(float64(len([]rune(ev.OutputText))))
	}
}

// Consume observes events from sub until it is closed or ctx ends.
func (m *Metrics) Consume(ctx context.Context, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
