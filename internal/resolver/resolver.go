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

// Package resolver turns an agent id into a dialable address, caching
// hub lookups for a short TTL so that a burst of sends to the same
// peer does not hit the hub control channel on every send (spec.md
// §4.6).
package resolver

import (
	"context"
	"sync"
	"time"

	m2merrors "github.com/m2m-io/m2m/internal/errors"
)

// CacheTTL is how long a resolved address is considered fresh before
// the resolver issues a fresh hub lookup.
const CacheTTL = 60 * time.Second

// HubLookuper is the subset of the hub client the resolver depends on.
// Kept as an interface so the resolver can be tested without a live
// hub connection.
type HubLookuper interface {
	Lookup(ctx context.Context, agentID string) (address string, status string, err error)
}

type cacheEntry struct {
	address   string
	insertedAt time.Time
}

// Resolver caches agent_id -> address lookups.
type Resolver struct {
	hub HubLookuper

	mu    sync.RWMutex
	cache map[string]*cacheEntry
}

// New creates a Resolver backed by hub.
func New(hub HubLookuper) *Resolver {
	return &Resolver{
		hub:   hub,
		cache: make(map[string]*cacheEntry),
	}
}

// Resolve returns the dialable address for agentID, serving from
// cache when the entry is fresher than CacheTTL and falling back to a
// hub lookup otherwise. A fresh lookup always refreshes (or inserts)
// the cache entry.
func (r *Resolver) Resolve(ctx context.Context, agentID string) (string, error) {
	if addr, ok := r.cached(agentID); ok {
		return addr, nil
	}

	address, status, err := r.hub.Lookup(ctx, agentID)
	if err != nil {
		return "", err
	}
	if status == "offline" {
		return "", m2merrors.Newf(m2merrors.ErrAgentOffline, "agent %s is offline", agentID)
	}
	if address == "" {
		return "", m2merrors.Newf(m2merrors.ErrAgentNotFound, "agent %s not found", agentID)
	}

	r.insert(agentID, address)
	return address, nil
}

// Invalidate drops a cached entry, forcing the next Resolve to hit the
// hub. Callers use this after a send fails with a connection error,
// since the cached address may be stale.
func (r *Resolver) Invalidate(agentID string) {
	r.mu.Lock()
	delete(r.cache, agentID)
	r.mu.Unlock()
}

func (r *Resolver) cached(agentID string) (string, bool) {
	r.mu.RLock()
	entry, ok := r.cache[agentID]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	if time.Since(entry.insertedAt) >= CacheTTL {
		return "", false
	}
	return entry.address, true
}

func (r *Resolver) insert(agentID, address string) {
	r.mu.Lock()
	r.cache[agentID] = &cacheEntry{address: address, insertedAt: time.Now()}
	r.mu.Unlock()
}
