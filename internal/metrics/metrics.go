// Package metrics exposes Prometheus collectors for sessions, payments,
// render jobs and kiosk connections.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_sessions_created_total",
		Help: "Sessions started",
	})

	sessionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_sessions_ended_total",
			Help: "Sessions that reached a terminal state",
		},
		[]string{"state", "reason"},
	)

	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kiosk_active_sessions",
		Help: "Sessions in a non-terminal state",
	})

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_session_transitions_total",
			Help: "Accepted state changes",
		},
		[]string{"from", "to"},
	)

	rejectedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_session_events_rejected_total",
			Help: "Events refused by the state machine",
		},
		[]string{"event", "code"},
	)

	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_payments_total",
			Help: "Payment attempt outcomes",
		},
		[]string{"method", "outcome"},
	)

	renderJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_render_jobs_total",
			Help: "Render job outcomes",
		},
		[]string{"outcome"},
	)

	connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kiosk_connections",
		Help: "Open kiosk channel connections",
	})

	initOnce sync.Once
)

// Init registers the collectors with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			sessionsCreated,
			sessionsEnded,
			activeSessions,
			transitions,
			rejectedEvents,
			payments,
			renderJobs,
			connections,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

func SessionCreated() {
	sessionsCreated.Inc()
	activeSessions.Inc()
}

func SessionEnded(state, reason string) {
	sessionsEnded.WithLabelValues(state, reason).Inc()
	activeSessions.Dec()
}

func Transition(from, to string) { transitions.WithLabelValues(from, to).Inc() }

func EventRejected(event, code string) { rejectedEvents.WithLabelValues(event, code).Inc() }

func Payment(method, outcome string) { payments.WithLabelValues(method, outcome).Inc() }

func RenderJob(outcome string) { renderJobs.WithLabelValues(outcome).Inc() }

func ConnectionOpened() { connections.Inc() }

func ConnectionClosed() { connections.Dec() }
