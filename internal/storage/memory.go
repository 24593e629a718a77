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

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m2m-io/m2m/internal/registry"
)

// MemoryStore implements registry.Store over a mutex-guarded map. It
// is the default backend for single-process deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*registry.Record
}

// NewMemoryStore creates an empty in-memory registry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*registry.Record)}
}

func (m *MemoryStore) Create(_ context.Context, r *registry.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*registry.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, r *registry.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[r.ID]; !ok {
		return nil
	}
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Query(_ context.Context, f registry.QueryFilter) ([]*registry.Record, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*registry.Record
	for _, r := range m.records {
		if f.ExcludeID != "" && r.ID == f.ExcludeID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if !registry.HasAnyCapability(r.Capabilities, f.Capabilities) {
			continue
		}
		cp := *r
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		if f.OrderByDesc {
			return matched[i].LastSeen.After(matched[j].LastSeen)
		}
		return matched[i].LastSeen.Before(matched[j].LastSeen)
	})

	total := len(matched)
	if f.Limit <= 0 {
		return matched, total, nil
	}

	start := f.Offset
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *MemoryStore) Sweep(_ context.Context, idleThreshold, offlineThreshold time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.records {
		if r.Status == registry.StatusOnline && r.LastSeen.Before(idleThreshold) {
			r.Status = registry.StatusIdle
		}
		if r.Status == registry.StatusIdle && r.LastSeen.Before(offlineThreshold) {
			r.Status = registry.StatusOffline
		}
	}
	return nil
}
