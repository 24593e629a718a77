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

// Package registry implements the hub's authoritative, content-blind
// agent directory: registration, heartbeat, discovery queries, and the
// status-decay sweeper described in spec.md §4.9.
package registry

import (
	"context"
	"net"
	"strings"
	"time"

	m2merrors "github.com/m2m-io/m2m/internal/errors"
	"github.com/m2m-io/m2m/internal/idgen"
)

// Status is an agent record's lifecycle state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

// Record is one entry in the agent directory, per spec.md §3.
type Record struct {
	ID           string
	Address      string
	Capabilities []string
	Metadata     map[string]any
	Status       Status
	LastSeen     time.Time
	CreatedAt    time.Time
}

// Store is the persistence contract the registry drives. Backends
// (memory, database) live in internal/storage.
type Store interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, r *Record) error
	Query(ctx context.Context, f QueryFilter) ([]*Record, int, error)
	Sweep(ctx context.Context, idleThreshold, offlineThreshold time.Time) error
}

// QueryFilter shapes a discover/find query.
type QueryFilter struct {
	ExcludeID    string
	Capabilities []string // any-of
	Status       Status   // "" means no filter
	Limit        int
	Offset       int
	OrderByDesc  bool // false = last_seen ASC (discover default), true = DESC (find default)
}

const (
	defaultLimit = 100
	maxLimit     = 500
)

// Normalize clamps limit/offset to spec.md §4.5's bounds.
func (f *QueryFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// HeartbeatConfig configures the sweeper's decay thresholds.
type HeartbeatConfig struct {
	IdleAfter     time.Duration
	OfflineAfter  time.Duration
	SweepInterval time.Duration
}

// Registry is the hub's agent directory.
type Registry struct {
	store  Store
	config HeartbeatConfig
}

// New creates a Registry backed by store.
func New(store Store, config HeartbeatConfig) *Registry {
	return &Registry{store: store, config: config}
}

// Register mints a fresh id, derives the authoritative address per
// spec.md §4.9's address policy, and inserts the record as online.
func (r *Registry) Register(ctx context.Context, remoteAddr, suppliedAddress string, capabilities []string, metadata map[string]any, trustSuppliedAddress bool) (*Record, error) {
	id, err := idgen.AgentID()
	if err != nil {
		return nil, m2merrors.NewInternalError("failed to mint agent id", err)
	}

	address := resolveAddress(remoteAddr, suppliedAddress, trustSuppliedAddress)

	now := time.Now().UTC()
	record := &Record{
		ID:           id,
		Address:      address,
		Capabilities: capabilities,
		Metadata:     metadata,
		Status:       StatusOnline,
		LastSeen:     now,
		CreatedAt:    now,
	}

	if err := r.store.Create(ctx, record); err != nil {
		return nil, m2merrors.NewInternalError("failed to persist agent record", err)
	}
	return record, nil
}

// resolveAddress implements spec.md §4.9's authoritative address
// policy: observed IP plus the port component of the supplied
// address; if the agent omits the port or supplies nothing, fall back
// to the full observed endpoint. When trustSuppliedAddress is set the
// agent-supplied address is used verbatim instead (an opt-in for
// deployments where agents are behind their own NAT/reverse proxy).
func resolveAddress(remoteAddr, suppliedAddress string, trustSuppliedAddress bool) string {
	if trustSuppliedAddress && suppliedAddress != "" {
		return suppliedAddress
	}

	remoteHost, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		remoteHost = remoteAddr
	}

	if suppliedAddress == "" {
		return remoteAddr
	}

	_, suppliedPort, err := net.SplitHostPort(suppliedAddress)
	if err != nil || suppliedPort == "" {
		return remoteAddr
	}

	return net.JoinHostPort(remoteHost, suppliedPort)
}

// Heartbeat refreshes last_seen and forces status back to online.
func (r *Registry) Heartbeat(ctx context.Context, id string) (*Record, error) {
	record, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, m2merrors.NewInternalError("failed to load agent record", err)
	}
	if record == nil {
		return nil, m2merrors.NewNotFoundError("agent")
	}

	record.LastSeen = time.Now().UTC()
	record.Status = StatusOnline

	if err := r.store.Update(ctx, record); err != nil {
		return nil, m2merrors.NewInternalError("failed to update agent record", err)
	}
	return record, nil
}

// UpdateStatus sets status (if provided) and merges metadata (never
// replaces it), per spec.md §4.5's `status` action.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status Status, metadata map[string]any) error {
	record, err := r.store.Get(ctx, id)
	if err != nil {
		return m2merrors.NewInternalError("failed to load agent record", err)
	}
	if record == nil {
		return m2merrors.NewNotFoundError("agent")
	}

	if status != "" {
		record.Status = status
	}
	if len(metadata) > 0 {
		if record.Metadata == nil {
			record.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			record.Metadata[k] = v
		}
	}

	if err := r.store.Update(ctx, record); err != nil {
		return m2merrors.NewInternalError("failed to update agent record", err)
	}
	return nil
}

// Disconnect sets the record to offline immediately, per spec.md §4.9
// ("on control-socket close, the hub transitions the associated
// record to offline immediately").
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	return r.UpdateStatus(ctx, id, StatusOffline, nil)
}

// Lookup returns a record by id regardless of status; the caller
// decides what to do with idle/offline agents, per spec.md §4.6.
func (r *Registry) Lookup(ctx context.Context, id string) (*Record, error) {
	record, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, m2merrors.NewInternalError("failed to load agent record", err)
	}
	if record == nil {
		return nil, m2merrors.NewNotFoundError("agent")
	}
	return record, nil
}

// Discover runs a general filtered, paginated query. It never returns
// offline records unless the caller explicitly asked for status
// "offline".
func (r *Registry) Discover(ctx context.Context, f QueryFilter) ([]*Record, int, error) {
	f.Normalize()
	if f.Status == "" {
		return r.discoverExcludingOffline(ctx, f)
	}
	records, total, err := r.store.Query(ctx, f)
	if err != nil {
		return nil, 0, m2merrors.NewInternalError("failed to query agent directory", err)
	}
	return records, total, nil
}

func (r *Registry) discoverExcludingOffline(ctx context.Context, f QueryFilter) ([]*Record, int, error) {
	// Query the store without a status filter and drop offline records
	// here; backends that can push this down to the store may do so,
	// but the contract only requires status-equality filtering.
	records, _, err := r.store.Query(ctx, QueryFilter{
		ExcludeID:    f.ExcludeID,
		Capabilities: f.Capabilities,
		OrderByDesc:  f.OrderByDesc,
	})
	if err != nil {
		return nil, 0, m2merrors.NewInternalError("failed to query agent directory", err)
	}

	filtered := make([]*Record, 0, len(records))
	for _, rec := range records {
		if rec.Status != StatusOffline {
			filtered = append(filtered, rec)
		}
	}

	total := len(filtered)
	start := f.Offset
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return filtered[start:end], total, nil
}

// Find is discover restricted to online agents advertising a single
// capability, per spec.md §4.5.
func (r *Registry) Find(ctx context.Context, capability string, limit, offset int) ([]*Record, int, error) {
	f := QueryFilter{
		Capabilities: []string{capability},
		Status:       StatusOnline,
		Limit:        limit,
		Offset:       offset,
		OrderByDesc:  true,
	}
	f.Normalize()

	records, total, err := r.store.Query(ctx, f)
	if err != nil {
		return nil, 0, m2merrors.NewInternalError("failed to query agent directory", err)
	}
	return records, total, nil
}

// Snapshot returns every record in the directory regardless of status,
// unpaginated, for aggregate reporting (the hub's "stats" action and
// GET /v1/stats).
func (r *Registry) Snapshot(ctx context.Context) ([]*Record, error) {
	records, _, err := r.store.Query(ctx, QueryFilter{})
	if err != nil {
		return nil, m2merrors.NewInternalError("failed to query agent directory", err)
	}
	return records, nil
}

// Sweep transitions online records idle after IdleAfter, and idle
// records offline after OfflineAfter, per spec.md §4.9.
func (r *Registry) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	return r.store.Sweep(ctx, now.Add(-r.config.IdleAfter), now.Add(-r.config.OfflineAfter))
}

// Run drives the sweeper on config.SweepInterval until ctx is
// cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Sweep(ctx)
		}
	}
}

// hasAnyCapability reports whether want and have share at least one
// label, used by Store implementations for the "any-of" capability
// filter.
func hasAnyCapability(have []string, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[strings.ToLower(c)] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[strings.ToLower(w)]; ok {
			return true
		}
	}
	return false
}

// HasAnyCapability exposes hasAnyCapability for storage backends that
// implement filtering outside a database query (e.g. the in-memory
// store).
func HasAnyCapability(have, want []string) bool {
	return hasAnyCapability(have, want)
}
