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
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewSimpleMetrics(t *testing.T) {
	m := NewSimpleMetrics()

	if m == nil {
		t.Fatal("NewSimpleMetrics() returned nil")
	}
	if m.httpRequests == nil || m.controlActions == nil || m.agentsByStatus == nil {
		t.Error("maps should be initialized, not nil")
	}
	if atomic.LoadInt64(&m.httpInFlight) != 0 {
		t.Error("httpInFlight should be zero initially")
	}
	if m.startTime.IsZero() {
		t.Error("startTime should be set")
	}
}

func TestSimpleMetricsRecordHTTPRequest(t *testing.T) {
	m := NewSimpleMetrics()

	m.RecordHTTPRequest("GET", "/health", 200, 10*time.Millisecond)

	key := "GET:/health:200"
	m.mu.RLock()
	count := m.httpRequests[key]
	durations := m.httpDurations[key]
	m.mu.RUnlock()

	if count != 1 {
		t.Errorf("expected 1 recorded request, got %d", count)
	}
	if len(durations) != 1 {
		t.Errorf("expected 1 recorded duration, got %d", len(durations))
	}
}

func TestSimpleMetricsHTTPInFlight(t *testing.T) {
	m := NewSimpleMetrics()

	m.IncHTTPRequestsInFlight()
	m.IncHTTPRequestsInFlight()
	if count := atomic.LoadInt64(&m.httpInFlight); count != 2 {
		t.Errorf("expected 2 in-flight requests, got %d", count)
	}

	m.DecHTTPRequestsInFlight()
	if count := atomic.LoadInt64(&m.httpInFlight); count != 1 {
		t.Errorf("expected 1 in-flight request, got %d", count)
	}
}

func TestSimpleMetricsRecordControlAction(t *testing.T) {
	m := NewSimpleMetrics()

	m.RecordControlAction("register", "ok", 5*time.Millisecond)
	m.RecordControlAction("register", "ok", 7*time.Millisecond)

	m.mu.RLock()
	count := m.controlActions["register:ok"]
	durations := m.controlDurations["register:ok"]
	m.mu.RUnlock()

	if count != 2 {
		t.Errorf("expected 2 recorded actions, got %d", count)
	}
	if len(durations) != 2 {
		t.Errorf("expected 2 recorded durations, got %d", len(durations))
	}
}

func TestSimpleMetricsSetAgentsByStatus(t *testing.T) {
	m := NewSimpleMetrics()

	m.SetAgentsByStatus("online", 3)
	m.SetAgentsByStatus("offline", 1)

	m.mu.RLock()
	online := m.agentsByStatus["online"]
	offline := m.agentsByStatus["offline"]
	m.mu.RUnlock()

	if online != 3 || offline != 1 {
		t.Errorf("unexpected agent counts: online=%v offline=%v", online, offline)
	}
}

func TestSimpleMetricsRecordHeartbeat(t *testing.T) {
	m := NewSimpleMetrics()

	m.RecordHeartbeat("ok")
	m.RecordHeartbeat("ok")
	m.RecordHeartbeat("not_found")

	m.mu.RLock()
	ok := m.heartbeats["ok"]
	notFound := m.heartbeats["not_found"]
	m.mu.RUnlock()

	if ok != 2 || notFound != 1 {
		t.Errorf("unexpected heartbeat counts: ok=%d not_found=%d", ok, notFound)
	}
}

func TestSimpleMetricsRecordSweepTransition(t *testing.T) {
	m := NewSimpleMetrics()

	m.RecordSweepTransition("online", "idle")
	m.RecordSweepTransition("online", "idle")
	m.RecordSweepTransition("idle", "offline")

	m.mu.RLock()
	idleTransition := m.sweepTransitions["online:idle"]
	offlineTransition := m.sweepTransitions["idle:offline"]
	m.mu.RUnlock()

	if idleTransition != 2 || offlineTransition != 1 {
		t.Errorf("unexpected sweep transition counts: online->idle=%d idle->offline=%d", idleTransition, offlineTransition)
	}
}

func TestSimpleMetricsSessionsActiveAndHandshakes(t *testing.T) {
	m := NewSimpleMetrics()

	m.SetSessionsActive(4)
	m.RecordHandshake("initiator", "ok", 20*time.Millisecond)
	m.RecordHandshake("responder", "failed", 5*time.Millisecond)

	m.mu.RLock()
	sessions := m.sessionsActive
	initiatorOK := m.handshakes["initiator:ok"]
	responderFailed := m.handshakes["responder:failed"]
	m.mu.RUnlock()

	if sessions != 4 {
		t.Errorf("expected 4 active sessions, got %v", sessions)
	}
	if initiatorOK != 1 || responderFailed != 1 {
		t.Errorf("unexpected handshake counts: initiator:ok=%d responder:failed=%d", initiatorOK, responderFailed)
	}
}

func TestSimpleMetricsSystemMetrics(t *testing.T) {
	m := NewSimpleMetrics()

	m.SetConnectionsActive(5)
	m.SetMemoryUsage(1024)
	m.SetGoroutinesActive(10)

	m.mu.RLock()
	connections := m.connectionsActive
	memory := m.memoryUsageBytes
	goroutines := m.goroutinesActive
	m.mu.RUnlock()

	if connections != 5 || memory != 1024 || goroutines != 10 {
		t.Errorf("unexpected system metrics: connections=%v memory=%v goroutines=%v", connections, memory, goroutines)
	}
}

func TestSimpleMetricsRecordError(t *testing.T) {
	m := NewSimpleMetrics()

	m.RecordError("hub", "AGENT_NOT_FOUND", "registry")
	m.RecordError("hub", "AGENT_NOT_FOUND", "registry")

	m.mu.RLock()
	count := m.errors["hub:AGENT_NOT_FOUND:registry"]
	m.mu.RUnlock()

	if count != 2 {
		t.Errorf("expected 2 recorded errors, got %d", count)
	}
}

func TestSimpleMetricsToJSON(t *testing.T) {
	m := NewSimpleMetrics()

	m.RecordHTTPRequest("GET", "/agents", 200, 5*time.Millisecond)
	m.RecordControlAction("discover", "ok", 3*time.Millisecond)
	m.SetAgentsByStatus("online", 2)
	m.RecordHandshake("initiator", "ok", 10*time.Millisecond)

	data, err := m.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("ToJSON() output did not unmarshal: %v", err)
	}

	for _, key := range []string{"http", "control_actions", "registry", "sessions", "system", "errors"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("expected JSON output to contain key %q", key)
		}
	}
}

func TestSimpleMetricsCalculateStats(t *testing.T) {
	m := NewSimpleMetrics()

	data := map[string][]float64{
		"key1": {1.0, 2.0, 3.0},
	}

	stats := m.calculateStats(data)
	entry, ok := stats["key1"].(map[string]interface{})
	if !ok {
		t.Fatal("expected key1 stats to be a map")
	}

	if entry["count"] != 3 {
		t.Errorf("expected count 3, got %v", entry["count"])
	}
	if entry["sum"] != 6.0 {
		t.Errorf("expected sum 6.0, got %v", entry["sum"])
	}
	if entry["avg"] != 2.0 {
		t.Errorf("expected avg 2.0, got %v", entry["avg"])
	}
}

func TestSimpleMetricsConcurrentAccess(t *testing.T) {
	m := NewSimpleMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordControlAction("heartbeat", "ok", time.Millisecond)
			m.IncHTTPRequestsInFlight()
			m.DecHTTPRequestsInFlight()
		}()
	}
	wg.Wait()

	if count := atomic.LoadInt64(&m.httpInFlight); count != 0 {
		t.Errorf("expected httpInFlight to return to zero, got %d", count)
	}

	m.mu.RLock()
	total := m.controlActions["heartbeat:ok"]
	m.mu.RUnlock()

	if total != 50 {
		t.Errorf("expected 50 recorded heartbeats, got %d", total)
	}
}

func TestSimpleMetricsLastUpdateTracking(t *testing.T) {
	m := NewSimpleMetrics()

	before := m.lastUpdate
	time.Sleep(time.Millisecond)
	m.RecordControlAction("heartbeat", "ok", time.Millisecond)

	m.mu.RLock()
	after := m.lastUpdate
	m.mu.RUnlock()

	if !after.After(before) {
		t.Error("expected lastUpdate to advance after recording a metric")
	}
}
