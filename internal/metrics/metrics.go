/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the hub and agent runtime.
type Metrics struct {
	// HTTP metrics, for the hub's informational surface.
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Control-channel metrics (register/heartbeat/discover/find/
	// lookup/status/disconnect/stats), per spec.md §4.5-§4.9.
	ControlActionsTotal   *prometheus.CounterVec
	ControlActionDuration *prometheus.HistogramVec

	// Registry metrics.
	AgentsByStatus       *prometheus.GaugeVec
	HeartbeatsTotal      *prometheus.CounterVec
	SweepTransitionsTotal *prometheus.CounterVec

	// Peer session metrics, per spec.md §4.3.
	SessionsActive    prometheus.Gauge
	HandshakesTotal   *prometheus.CounterVec
	HandshakeDuration *prometheus.HistogramVec

	// System metrics.
	ConnectionsActive prometheus.Gauge
	MemoryUsageBytes  prometheus.Gauge
	GoroutinesActive  prometheus.Gauge

	// Error metrics.
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m2m_http_requests_total",
				Help: "Total number of HTTP requests to the hub's informational surface",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "m2m_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "m2m_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		ControlActionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m2m_control_actions_total",
				Help: "Total number of hub control-channel actions handled",
			},
			[]string{"action", "status"},
		),
		ControlActionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "m2m_control_action_duration_seconds",
				Help:    "Hub control-channel action handling duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"action", "status"},
		),

		AgentsByStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "m2m_agents_by_status",
				Help: "Number of registered agents currently in each status",
			},
			[]string{"status"},
		),
		HeartbeatsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m2m_heartbeats_total",
				Help: "Total number of heartbeats received by the hub",
			},
			[]string{"status"},
		),
		SweepTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m2m_sweep_transitions_total",
				Help: "Total number of status transitions applied by the registry sweeper",
			},
			[]string{"from", "to"},
		),

		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "m2m_sessions_active",
				Help: "Number of currently established peer-to-peer sessions",
			},
		),
		HandshakesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m2m_handshakes_total",
				Help: "Total number of peer session handshakes attempted",
			},
			[]string{"role", "status"},
		),
		HandshakeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "m2m_handshake_duration_seconds",
				Help:    "Peer session handshake duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"role"},
		),

		ConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "m2m_connections_active",
				Help: "Number of active TCP connections",
			},
		),
		MemoryUsageBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "m2m_memory_usage_bytes",
				Help: "Memory usage in bytes",
			},
		),
		GoroutinesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "m2m_goroutines_active",
				Help: "Number of active goroutines",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m2m_errors_total",
				Help: "Total number of errors",
			},
			[]string{"component", "error_code", "error_type"},
		),
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// IncHTTPRequestsInFlight increments in-flight HTTP requests.
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements in-flight HTTP requests.
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// RecordControlAction records one handled control-channel action.
func (m *Metrics) RecordControlAction(action, status string, duration time.Duration) {
	m.ControlActionsTotal.WithLabelValues(action, status).Inc()
	m.ControlActionDuration.WithLabelValues(action, status).Observe(duration.Seconds())
}

// SetAgentsByStatus sets the current agent count for a status.
func (m *Metrics) SetAgentsByStatus(status string, count float64) {
	m.AgentsByStatus.WithLabelValues(status).Set(count)
}

// RecordHeartbeat records one heartbeat outcome.
func (m *Metrics) RecordHeartbeat(status string) {
	m.HeartbeatsTotal.WithLabelValues(status).Inc()
}

// RecordSweepTransition records one sweeper-applied status transition.
func (m *Metrics) RecordSweepTransition(from, to string) {
	m.SweepTransitionsTotal.WithLabelValues(from, to).Inc()
}

// SetSessionsActive sets the number of currently established peer sessions.
func (m *Metrics) SetSessionsActive(count float64) {
	m.SessionsActive.Set(count)
}

// RecordHandshake records one peer session handshake attempt.
func (m *Metrics) RecordHandshake(role, status string, duration time.Duration) {
	m.HandshakesTotal.WithLabelValues(role, status).Inc()
	m.HandshakeDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// SetConnectionsActive sets the number of active connections.
func (m *Metrics) SetConnectionsActive(count float64) {
	m.ConnectionsActive.Set(count)
}

// SetMemoryUsage sets the memory usage.
func (m *Metrics) SetMemoryUsage(bytes float64) {
	m.MemoryUsageBytes.Set(bytes)
}

// SetGoroutinesActive sets the number of active goroutines.
func (m *Metrics) SetGoroutinesActive(count float64) {
	m.GoroutinesActive.Set(count)
}

// RecordError records error metrics.
func (m *Metrics) RecordError(component, errorCode, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorCode, errorType).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed duration.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveHistogram observes the elapsed time in a histogram.
func (t *Timer) ObserveHistogram(histogram prometheus.Observer) {
	histogram.Observe(t.Duration().Seconds())
}

// WithTimer executes a function and measures its duration.
func WithTimer(fn func() error, observer prometheus.Observer) error {
	timer := NewTimer()
	err := fn()
	observer.Observe(timer.Duration().Seconds())
	return err
}

// WithTimerAndLabels executes a function and measures its duration with labels.
func WithTimerAndLabels(fn func() error, histogram *prometheus.HistogramVec, labels ...string) error {
	timer := NewTimer()
	err := fn()
	histogram.WithLabelValues(labels...).Observe(timer.Duration().Seconds())
	return err
}
