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

package hubclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/m2m-io/m2m/internal/config"
	"github.com/m2m-io/m2m/internal/types"
)

// fakeHub answers "register" with a fixed agent id and echoes anything
// else back as a successful, empty response.
func fakeHub(t *testing.T, handle func(req types.ControlRequest) types.ControlResponse) *httptest.Server {
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
			resp := handle(req)
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

func TestRegisterStoresAssignedAgentID(t *testing.T) {
	server := fakeHub(t, func(req types.ControlRequest) types.ControlResponse {
		if req.Action != "register" {
			t.Fatalf("expected register action, got %s", req.Action)
		}
		return types.ControlResponse{Status: "ok", ID: "abc123", Agent: &types.AgentSummary{ID: "abc123", Status: "online"}}
	})
	defer server.Close()

	client := New(config.AgentConfig{HubAddress: wsURL(server), RequestTimeout: time.Second}, nil)

	conn, _, err := websocket.Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	client.conn = conn
	go client.readLoop(context.Background())

	if _, err := client.Register(context.Background()); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if client.AgentID() != "abc123" {
		t.Fatalf("expected agent id abc123, got %s", client.AgentID())
	}
}

func TestLookupReturnsNotFoundAsEmptyAddress(t *testing.T) {
	server := fakeHub(t, func(req types.ControlRequest) types.ControlResponse {
		return types.ControlResponse{Status: "error", Error: "not_found"}
	})
	defer server.Close()

	client := New(config.AgentConfig{HubAddress: wsURL(server), RequestTimeout: time.Second}, nil)
	conn, _, err := websocket.Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	client.conn = conn
	go client.readLoop(context.Background())

	address, status, err := client.Lookup(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Lookup() failed: %v", err)
	}
	if address != "" || status != "" {
		t.Fatalf("expected empty address/status for unknown agent, got %q/%q", address, status)
	}
}

func TestLookupReturnsResolvedAddress(t *testing.T) {
	server := fakeHub(t, func(req types.ControlRequest) types.ControlResponse {
		return types.ControlResponse{Status: "ok", Agent: &types.AgentSummary{ID: req.ID, Address: "10.0.0.9:5000", Status: "online"}}
	})
	defer server.Close()

	client := New(config.AgentConfig{HubAddress: wsURL(server), RequestTimeout: time.Second}, nil)
	conn, _, err := websocket.Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	client.conn = conn
	go client.readLoop(context.Background())

	address, status, err := client.Lookup(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("Lookup() failed: %v", err)
	}
	if address != "10.0.0.9:5000" || status != "online" {
		t.Fatalf("unexpected lookup result: %q/%q", address, status)
	}
}

func TestCallSurfacesApplicationErrors(t *testing.T) {
	server := fakeHub(t, func(req types.ControlRequest) types.ControlResponse {
		return types.ControlResponse{Status: "error", Error: "invalid_request"}
	})
	defer server.Close()

	client := New(config.AgentConfig{HubAddress: wsURL(server), RequestTimeout: time.Second}, nil)
	conn, _, err := websocket.Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	client.conn = conn
	go client.readLoop(context.Background())

	if _, err := client.Stats(context.Background()); err == nil {
		t.Fatal("expected Stats() to surface the hub's error response")
	}
}
