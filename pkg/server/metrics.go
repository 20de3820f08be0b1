package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exposed on the internal
// /metrics endpoint.
type Metrics struct {
	eventsReceived *prometheus.CounterVec
	eventsSent     *prometheus.CounterVec
	activeSessions prometheus.Gauge
	onlineUsers    prometheus.Gauge
	sessionsTotal  prometheus.Counter
	loginFailures  prometheus.Counter
	broadcastSize  prometheus.Histogram
	handleDuration *prometheus.HistogramVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics registers all instruments on the default registry. Instruments
// can only be registered once per process, so the instance is shared across
// servers (relevant for tests that boot several).
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

func newMetrics() *Metrics {
	return &Metrics{
		eventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_events_received_total",
			Help: "Events received from clients, by event type",
		}, []string{"type"}),
		eventsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_events_sent_total",
			Help: "Events sent to clients, by event type",
		}, []string{"type"}),
		activeSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parley_active_sessions",
			Help: "Currently open client connections",
		}),
		onlineUsers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parley_online_users",
			Help: "Distinct authenticated users with at least one session",
		}),
		sessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parley_sessions_created_total",
			Help: "Total connections accepted since start",
		}),
		loginFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parley_login_failures_total",
			Help: "Rejected login and registration attempts",
		}),
		broadcastSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_broadcast_recipients",
			Help:    "Recipient count per broadcast",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		handleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_handle_duration_seconds",
			Help:    "Time spent handling an event, by event type",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}
}

func (m *Metrics) RecordEventReceived(eventType string) {
	m.eventsReceived.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordEventSent(eventType string) {
	m.eventsSent.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

func (m *Metrics) RecordOnlineUsers(count int) {
	m.onlineUsers.Set(float64(count))
}

func (m *Metrics) RecordSessionCreated() {
	m.sessionsTotal.Inc()
}

func (m *Metrics) RecordLoginFailure() {
	m.loginFailures.Inc()
}

func (m *Metrics) RecordBroadcast(recipients int) {
	m.broadcastSize.Observe(float64(recipients))
}

func (m *Metrics) RecordHandleDuration(eventType string, d time.Duration) {
	m.handleDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

// HealthHandler serves a small JSON status document on the internal port.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":          "ok",
		"uptime_seconds":  int64(time.Since(s.startTime).Seconds()),
		"active_sessions": s.sessions.CountSessions(),
		"online_users":    s.sessions.CountOnlineUsers(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
	}
}
