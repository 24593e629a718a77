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

// Package testutil provides fluent builders for the fixtures package
// tests construct repeatedly: registry records and control-channel
// requests.
package testutil

import (
	"time"

	"github.com/m2m-io/m2m/internal/idgen"
	"github.com/m2m-io/m2m/internal/registry"
	"github.com/m2m-io/m2m/internal/types"
)

// RecordBuilder builds a registry.Record with sensible test defaults.
type RecordBuilder struct {
	record *registry.Record
}

// NewRecord creates a builder for an online agent record with a fresh
// random id and a default capability.
func NewRecord() *RecordBuilder {
	id, err := idgen.AgentID()
	if err != nil {
		id = "00000000000000000000000000000000"
	}
	now := time.Now().UTC()
	return &RecordBuilder{
		record: &registry.Record{
			ID:           id,
			Address:      "10.0.0.1:5000",
			Capabilities: []string{"translate.text"},
			Status:       registry.StatusOnline,
			LastSeen:     now,
			CreatedAt:    now,
		},
	}
}

func (b *RecordBuilder) WithID(id string) *RecordBuilder {
	b.record.ID = id
	return b
}

func (b *RecordBuilder) WithAddress(address string) *RecordBuilder {
	b.record.Address = address
	return b
}

func (b *RecordBuilder) WithCapabilities(capabilities ...string) *RecordBuilder {
	b.record.Capabilities = capabilities
	return b
}

func (b *RecordBuilder) WithMetadata(metadata map[string]any) *RecordBuilder {
	b.record.Metadata = metadata
	return b
}

func (b *RecordBuilder) WithStatus(status registry.Status) *RecordBuilder {
	b.record.Status = status
	return b
}

func (b *RecordBuilder) WithLastSeen(t time.Time) *RecordBuilder {
	b.record.LastSeen = t
	return b
}

func (b *RecordBuilder) WithCreatedAt(t time.Time) *RecordBuilder {
	b.record.CreatedAt = t
	return b
}

// Build returns the constructed record.
func (b *RecordBuilder) Build() *registry.Record {
	return b.record
}

// ControlRequestBuilder builds a types.ControlRequest with a valid
// shape (correlation id already sized/hex, per the validator's rules).
type ControlRequestBuilder struct {
	request *types.ControlRequest
}

// NewControlRequest creates a builder for the given action with a
// freshly generated correlation id.
func NewControlRequest(action string) *ControlRequestBuilder {
	correlationID, err := idgen.CorrelationID()
	if err != nil {
		correlationID = "0000000000000000"
	}
	return &ControlRequestBuilder{
		request: &types.ControlRequest{
			Action:        action,
			CorrelationID: correlationID,
		},
	}
}

func (b *ControlRequestBuilder) WithID(id string) *ControlRequestBuilder {
	b.request.ID = id
	return b
}

func (b *ControlRequestBuilder) WithAddress(address string) *ControlRequestBuilder {
	b.request.Address = address
	return b
}

func (b *ControlRequestBuilder) WithCapabilities(capabilities ...string) *ControlRequestBuilder {
	b.request.Capabilities = capabilities
	return b
}

func (b *ControlRequestBuilder) WithMetadata(metadata map[string]any) *ControlRequestBuilder {
	b.request.Metadata = metadata
	return b
}

func (b *ControlRequestBuilder) WithStatus(status string) *ControlRequestBuilder {
	b.request.Status = status
	return b
}

func (b *ControlRequestBuilder) WithCapability(capability string) *ControlRequestBuilder {
	b.request.Capability = capability
	return b
}

func (b *ControlRequestBuilder) WithPage(limit, offset int) *ControlRequestBuilder {
	b.request.Limit = limit
	b.request.Offset = offset
	return b
}

// Build returns the constructed request.
func (b *ControlRequestBuilder) Build() *types.ControlRequest {
	return b.request
}
