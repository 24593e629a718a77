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

// Package types holds the wire types shared by the hub control channel
// and the peer-to-peer session protocol.
package types

import "time"

// ControlRequest is one JSON object on the hub control channel.
// Only the fields relevant to Action are populated by a given request.
type ControlRequest struct {
	Action        string         `json:"action" validate:"required,oneof=register heartbeat discover find lookup status disconnect stats"`
	CorrelationID string         `json:"correlationId" validate:"required,len=16,hexadecimal"`
	ID            string         `json:"id,omitempty" validate:"omitempty,len=32,hexadecimal"`
	Address       string         `json:"address,omitempty"`
	Capabilities  []string       `json:"capabilities,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Status        string         `json:"status,omitempty" validate:"omitempty,oneof=online idle offline"`
	Capability    string         `json:"capability,omitempty"`
	Limit         int            `json:"limit,omitempty" validate:"omitempty,min=1,max=500"`
	Offset        int            `json:"offset,omitempty" validate:"omitempty,min=0"`
}

// ControlResponse is one JSON object returned on the hub control channel,
// always echoing the request's CorrelationID.
type ControlResponse struct {
	CorrelationID string         `json:"correlationId"`
	Status        string         `json:"status"`
	Error         string         `json:"error,omitempty"`
	ID            string         `json:"id,omitempty"`
	Address       string         `json:"address,omitempty"`
	Timestamp     *time.Time     `json:"timestamp,omitempty"`
	Count         int            `json:"count,omitempty"`
	Limit         int            `json:"limit,omitempty"`
	Offset        int            `json:"offset,omitempty"`
	Agents        []AgentSummary `json:"agents,omitempty"`
	Agent         *AgentSummary  `json:"agent,omitempty"`
	Stats         *HubStats      `json:"stats,omitempty"`
}

// AgentSummary is the JSON projection of a registry record returned by
// register/discover/find/lookup and by the hub's informational HTTP API.
type AgentSummary struct {
	ID           string         `json:"id"`
	Address      string         `json:"address"`
	Capabilities []string       `json:"capabilities"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Status       string         `json:"status"`
	LastSeen     time.Time      `json:"last_seen"`
	CreatedAt    time.Time      `json:"created_at"`
}

// HubStats is the aggregate view returned by the "stats" control action
// and by the hub's GET /v1/stats endpoint.
type HubStats struct {
	TotalAgents   int            `json:"total_agents"`
	OnlineAgents  int            `json:"online_agents"`
	IdleAgents    int            `json:"idle_agents"`
	OfflineAgents int            `json:"offline_agents"`
	ByCapability  map[string]int `json:"by_capability,omitempty"`
	UptimeSeconds float64        `json:"uptime_seconds"`
}

// ErrorResponse is the JSON body of an HTTP error from the hub's
// informational surface.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the same fields an AEAD/control-channel error
// reports, shaped for JSON transport.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
}
