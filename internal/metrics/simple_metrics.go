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
	"encoding/json"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// SimpleMetrics is a dependency-free, in-memory metrics implementation
// for deployments that don't run a Prometheus scraper.
type SimpleMetrics struct {
	mu sync.RWMutex

	// HTTP metrics.
	httpRequests  map[string]int64
	httpDurations map[string][]float64
	httpInFlight  int64

	// Control-channel metrics.
	controlActions   map[string]int64
	controlDurations map[string][]float64

	// Registry metrics.
	agentsByStatus  map[string]float64
	heartbeats      map[string]int64
	sweepTransitions map[string]int64

	// Peer session metrics.
	sessionsActive    float64
	handshakes        map[string]int64
	handshakeDurations map[string][]float64

	// System metrics.
	connectionsActive float64
	memoryUsageBytes  float64
	goroutinesActive  float64

	// Error metrics.
	errors map[string]int64

	// Timestamps.
	startTime  time.Time
	lastUpdate time.Time
}

// NewSimpleMetrics creates a new simple metrics instance.
func NewSimpleMetrics() *SimpleMetrics {
	return &SimpleMetrics{
		httpRequests:       make(map[string]int64),
		httpDurations:      make(map[string][]float64),
		controlActions:     make(map[string]int64),
		controlDurations:   make(map[string][]float64),
		agentsByStatus:     make(map[string]float64),
		heartbeats:         make(map[string]int64),
		sweepTransitions:   make(map[string]int64),
		handshakes:         make(map[string]int64),
		handshakeDurations: make(map[string][]float64),
		errors:             make(map[string]int64),
		startTime:          time.Now(),
		lastUpdate:         time.Now(),
	}
}

// NewMetricsProvider returns a metrics sink that does not require a
// running Prometheus registry, for standalone agent processes that
// don't expose a /metrics endpoint.
func NewMetricsProvider() any {
	return NewSimpleMetrics()
}

// RecordHTTPRequest records HTTP request metrics.
func (m *SimpleMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := method + ":" + path + ":" + strconv.Itoa(statusCode)
	m.httpRequests[key]++
	m.httpDurations[key] = append(m.httpDurations[key], duration.Seconds())
	m.lastUpdate = time.Now()
}

// IncHTTPRequestsInFlight increments in-flight HTTP requests.
func (m *SimpleMetrics) IncHTTPRequestsInFlight() {
	atomic.AddInt64(&m.httpInFlight, 1)
}

// DecHTTPRequestsInFlight decrements in-flight HTTP requests.
func (m *SimpleMetrics) DecHTTPRequestsInFlight() {
	atomic.AddInt64(&m.httpInFlight, -1)
}

// RecordControlAction records one handled control-channel action.
func (m *SimpleMetrics) RecordControlAction(action, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := action + ":" + status
	m.controlActions[key]++
	m.controlDurations[key] = append(m.controlDurations[key], duration.Seconds())
	m.lastUpdate = time.Now()
}

// SetAgentsByStatus sets the current agent count for a status.
func (m *SimpleMetrics) SetAgentsByStatus(status string, count float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentsByStatus[status] = count
	m.lastUpdate = time.Now()
}

// RecordHeartbeat records one heartbeat outcome.
func (m *SimpleMetrics) RecordHeartbeat(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[status]++
	m.lastUpdate = time.Now()
}

// RecordSweepTransition records one sweeper-applied status transition.
func (m *SimpleMetrics) RecordSweepTransition(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := from + ":" + to
	m.sweepTransitions[key]++
	m.lastUpdate = time.Now()
}

// SetSessionsActive sets the number of currently established peer sessions.
func (m *SimpleMetrics) SetSessionsActive(count float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionsActive = count
	m.lastUpdate = time.Now()
}

// RecordHandshake records one peer session handshake attempt.
func (m *SimpleMetrics) RecordHandshake(role, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handshakes[role+":"+status]++
	m.handshakeDurations[role] = append(m.handshakeDurations[role], duration.Seconds())
	m.lastUpdate = time.Now()
}

// SetConnectionsActive sets the number of active connections.
func (m *SimpleMetrics) SetConnectionsActive(count float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionsActive = count
	m.lastUpdate = time.Now()
}

// SetMemoryUsage sets the memory usage.
func (m *SimpleMetrics) SetMemoryUsage(bytes float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memoryUsageBytes = bytes
	m.lastUpdate = time.Now()
}

// SetGoroutinesActive sets the number of active goroutines.
func (m *SimpleMetrics) SetGoroutinesActive(count float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goroutinesActive = count
	m.lastUpdate = time.Now()
}

// RecordError records error metrics.
func (m *SimpleMetrics) RecordError(component, errorCode, errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := component + ":" + errorCode + ":" + errorType
	m.errors[key]++
	m.lastUpdate = time.Now()
}

// ToJSON exports metrics as JSON.
func (m *SimpleMetrics) ToJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	data := map[string]interface{}{
		"timestamp":      m.lastUpdate.Unix(),
		"uptime_seconds": time.Since(m.startTime).Seconds(),
		"http": map[string]interface{}{
			"requests":  m.httpRequests,
			"durations": m.calculateStats(m.httpDurations),
			"in_flight": atomic.LoadInt64(&m.httpInFlight),
		},
		"control_actions": map[string]interface{}{
			"total":     m.controlActions,
			"durations": m.calculateStats(m.controlDurations),
		},
		"registry": map[string]interface{}{
			"agents_by_status":  m.agentsByStatus,
			"heartbeats":        m.heartbeats,
			"sweep_transitions": m.sweepTransitions,
		},
		"sessions": map[string]interface{}{
			"active":              m.sessionsActive,
			"handshakes":          m.handshakes,
			"handshake_durations": m.calculateStats(m.handshakeDurations),
		},
		"system": map[string]interface{}{
			"connections_active": m.connectionsActive,
			"memory_usage_bytes": memStats.Alloc,
			"memory_total_bytes": memStats.TotalAlloc,
			"goroutines_active":  runtime.NumGoroutine(),
			"gc_cycles":          memStats.NumGC,
		},
		"errors": m.errors,
	}

	return json.Marshal(data)
}

// calculateStats calculates basic statistics for duration arrays.
func (m *SimpleMetrics) calculateStats(data map[string][]float64) map[string]interface{} {
	stats := make(map[string]interface{})

	for key, values := range data {
		if len(values) == 0 {
			continue
		}

		sum := 0.0
		min := values[0]
		max := values[0]

		for _, v := range values {
			sum += v
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}

		avg := sum / float64(len(values))

		stats[key] = map[string]interface{}{
			"count": len(values),
			"sum":   sum,
			"avg":   avg,
			"min":   min,
			"max":   max,
		}
	}

	return stats
}
