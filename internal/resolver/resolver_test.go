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

package resolver

import (
	"context"
	"testing"

	m2merrors "github.com/m2m-io/m2m/internal/errors"
)

type fakeHub struct {
	calls     int
	address   string
	status    string
	err       error
}

func (f *fakeHub) Lookup(ctx context.Context, agentID string) (string, string, error) {
	f.calls++
	return f.address, f.status, f.err
}

func TestResolveHitsHubOnFirstCall(t *testing.T) {
	hub := &fakeHub{address: "10.0.0.5:9000", status: "online"}
	r := New(hub)

	addr, err := r.Resolve(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if addr != "10.0.0.5:9000" {
		t.Fatalf("unexpected address: %s", addr)
	}
	if hub.calls != 1 {
		t.Fatalf("expected 1 hub call, got %d", hub.calls)
	}
}

func TestResolveServesFromCacheWithinTTL(t *testing.T) {
	hub := &fakeHub{address: "10.0.0.5:9000", status: "online"}
	r := New(hub)

	if _, err := r.Resolve(context.Background(), "agent-1"); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if _, err := r.Resolve(context.Background(), "agent-1"); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if hub.calls != 1 {
		t.Fatalf("expected cache hit to avoid second hub call, got %d calls", hub.calls)
	}
}

func TestResolveReturnsOfflineError(t *testing.T) {
	hub := &fakeHub{status: "offline"}
	r := New(hub)

	_, err := r.Resolve(context.Background(), "agent-1")
	if !m2merrors.Is(err, m2merrors.ErrAgentOffline) {
		t.Fatalf("expected ErrAgentOffline, got %v", err)
	}
}

func TestResolveReturnsNotFoundError(t *testing.T) {
	hub := &fakeHub{status: "online", address: ""}
	r := New(hub)

	_, err := r.Resolve(context.Background(), "agent-1")
	if !m2merrors.Is(err, m2merrors.ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestInvalidateForcesFreshLookup(t *testing.T) {
	hub := &fakeHub{address: "10.0.0.5:9000", status: "online"}
	r := New(hub)

	if _, err := r.Resolve(context.Background(), "agent-1"); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	r.Invalidate("agent-1")
	if _, err := r.Resolve(context.Background(), "agent-1"); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if hub.calls != 2 {
		t.Fatalf("expected invalidate to force a second hub call, got %d", hub.calls)
	}
}
