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

package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/m2m-io/m2m/internal/config"
	"github.com/m2m-io/m2m/internal/types"
)

// directory is a minimal in-memory control-channel peer used to back
// a fakeHub: it hands out sequential ids on register and answers
// lookup/find from what it was told at register time.
type directory struct {
	mu      sync.Mutex
	nextID  int
	records map[string]types.AgentSummary
}

func newDirectory() *directory {
	return &directory{records: make(map[string]types.AgentSummary)}
}

func (d *directory) handle(remoteAddr string, req types.ControlRequest) types.ControlResponse {
	switch req.Action {
	case "register":
		d.mu.Lock()
		d.nextID++
		id := strings.Repeat("a", 31) + string(rune('0'+d.nextID))
		rec := types.AgentSummary{ID: id, Address: req.Address, Capabilities: req.Capabilities, Status: "online"}
		d.records[id] = rec
		d.mu.Unlock()
		return types.ControlResponse{Status: "ok", ID: id, Address: rec.Address, Agent: &rec}
	case "lookup":
		d.mu.Lock()
		rec, ok := d.records[req.ID]
		d.mu.Unlock()
		if !ok {
			return types.ControlResponse{Status: "ok"}
		}
		return types.ControlResponse{Status: "ok", Agent: &rec}
	case "find":
		d.mu.Lock()
		defer d.mu.Unlock()
		var matches []types.AgentSummary
		for _, rec := range d.records {
			for _, c := range rec.Capabilities {
				if c == req.Capability {
					matches = append(matches, rec)
					break
				}
			}
		}
		return types.ControlResponse{Status: "ok", Count: len(matches), Agents: matches}
	case "heartbeat", "disconnect", "status":
		return types.ControlResponse{Status: "ok"}
	default:
		return types.ControlResponse{Status: "error", Error: "unsupported in test fake: " + req.Action}
	}
}

// fakeHub serves a control channel backed by d, mirroring
// internal/hubclient's own fakeHub test helper.
func fakeHub(t *testing.T, d *directory) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := context.Background()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var req types.ControlRequest
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			resp := d.handle(r.RemoteAddr, req)
			resp.CorrelationID = req.CorrelationID
			out, _ := json.Marshal(resp)
			if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestRuntime(t *testing.T, hubURL string) *Runtime {
	t.Helper()
	cfg := config.DefaultAgentRuntimeConfig()
	cfg.Agent.ListenAddress = "127.0.0.1:0"
	cfg.Agent.HubAddress = hubURL
	cfg.Agent.Capabilities = []string{"translate.text"}
	cfg.Agent.AutoReconnect = false

	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return r
}

func waitForAgentID(t *testing.T, r *Runtime) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if id := r.AgentID(); id != "" {
			return id
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for agent registration")
	return ""
}

func TestRuntimeSendDeliversToResolvedPeer(t *testing.T) {
	d := newDirectory()
	server := fakeHub(t, d)
	defer server.Close()

	sender := newTestRuntime(t, wsURL(server))
	receiver := newTestRuntime(t, wsURL(server))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan types.Incoming, 1)
	go func() { _ = sender.Run(ctx, func(types.Incoming) {}) }()
	go func() { _ = receiver.Run(ctx, func(in types.Incoming) { received <- in }) }()
	defer sender.Close()
	defer receiver.Close()

	receiverID := waitForAgentID(t, receiver)
	waitForAgentID(t, sender)

	if err := sender.Send(context.Background(), receiverID, "greeting", []byte("hello")); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	select {
	case in := <-received:
		if in.Type != "greeting" || string(in.Payload) != "hello" {
			t.Fatalf("unexpected incoming message: %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered message")
	}
}

func TestRuntimeSendUnknownAgentFails(t *testing.T) {
	d := newDirectory()
	server := fakeHub(t, d)
	defer server.Close()

	sender := newTestRuntime(t, wsURL(server))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sender.Run(ctx, func(types.Incoming) {}) }()
	defer sender.Close()

	waitForAgentID(t, sender)

	if err := sender.Send(context.Background(), "nonexistent-agent-id", "greeting", []byte("hi")); err == nil {
		t.Fatal("expected Send() to fail for an unregistered agent")
	}
}

func TestRuntimeRequestReceivesRespondersReply(t *testing.T) {
	d := newDirectory()
	server := fakeHub(t, d)
	defer server.Close()

	requester := newTestRuntime(t, wsURL(server))
	responder := newTestRuntime(t, wsURL(server))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = requester.Run(ctx, func(types.Incoming) {}) }()
	go func() {
		_ = responder.Run(ctx, func(in types.Incoming) {
			if in.Type != "ping" {
				return
			}
			if err := responder.Respond(context.Background(), in.From, in.Type, []byte("pong"), in.CorrelationID); err != nil {
				t.Errorf("Respond() failed: %v", err)
			}
		})
	}()
	defer requester.Close()
	defer responder.Close()

	responderID := waitForAgentID(t, responder)
	waitForAgentID(t, requester)

	reply, err := requester.Request(context.Background(), responderID, "ping", []byte("ping"), 2*time.Second)
	if err != nil {
		t.Fatalf("Request() failed: %v", err)
	}
	if reply.Type != "ping"+ResponseTypeSuffix || string(reply.Payload) != "pong" {
		t.Fatalf("unexpected response: %+v", reply)
	}
}

func TestRuntimeRequestTimesOutWithNoResponder(t *testing.T) {
	d := newDirectory()
	server := fakeHub(t, d)
	defer server.Close()

	requester := newTestRuntime(t, wsURL(server))
	responder := newTestRuntime(t, wsURL(server))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = requester.Run(ctx, func(types.Incoming) {}) }()
	go func() { _ = responder.Run(ctx, func(types.Incoming) {}) }() // never responds
	defer requester.Close()
	defer responder.Close()

	responderID := waitForAgentID(t, responder)
	waitForAgentID(t, requester)

	_, err := requester.Request(context.Background(), responderID, "ping", []byte("ping"), 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected Request() to time out with no responder reply")
	}
}

func TestRuntimeBroadcastCapabilityReachesMatchingPeer(t *testing.T) {
	d := newDirectory()
	server := fakeHub(t, d)
	defer server.Close()

	sender := newTestRuntime(t, wsURL(server))
	receiver := newTestRuntime(t, wsURL(server))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan types.Incoming, 1)
	go func() { _ = sender.Run(ctx, func(types.Incoming) {}) }()
	go func() { _ = receiver.Run(ctx, func(in types.Incoming) { received <- in }) }()
	defer sender.Close()
	defer receiver.Close()

	waitForAgentID(t, receiver)
	waitForAgentID(t, sender)

	result, err := sender.BroadcastCapability(context.Background(), "translate.text", "job", []byte("payload"))
	if err != nil {
		t.Fatalf("BroadcastCapability() failed: %v", err)
	}
	if len(result.Delivered) != 1 {
		t.Fatalf("expected exactly one delivery, got %+v", result)
	}

	select {
	case in := <-received:
		if in.Type != "job" {
			t.Fatalf("unexpected incoming message: %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast delivery")
	}
}
