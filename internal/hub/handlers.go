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

package hub

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	m2merrors "github.com/m2m-io/m2m/internal/errors"
	"github.com/m2m-io/m2m/internal/registry"
	"github.com/m2m-io/m2m/internal/types"
)

// toAgentSummary projects a registry record onto the wire shape shared
// by the control channel and the informational HTTP surface.
func toAgentSummary(r *registry.Record) types.AgentSummary {
	return types.AgentSummary{
		ID:           r.ID,
		Address:      r.Address,
		Capabilities: r.Capabilities,
		Metadata:     r.Metadata,
		Status:       string(r.Status),
		LastSeen:     r.LastSeen,
		CreatedAt:    r.CreatedAt,
	}
}

// healthStatus is the hub's liveness report.
type healthStatus struct {
	Status     string    `json:"status"`
	Healthy    bool      `json:"healthy"`
	Timestamp  time.Time `json:"timestamp"`
	UptimeSecs float64   `json:"uptime_seconds"`
}

func (h *Hub) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthStatus{
		Status:     "healthy",
		Healthy:    true,
		Timestamp:  time.Now().UTC(),
		UptimeSecs: time.Since(h.startTime).Seconds(),
	})
}

func (h *Hub) handleListAgents(c *gin.Context) {
	f := registry.QueryFilter{
		Status:      registry.Status(c.Query("status")),
		OrderByDesc: false,
	}
	if caps := c.Query("capability"); caps != "" {
		f.Capabilities = strings.Split(caps, ",")
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		f.Limit = limit
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil {
		f.Offset = offset
	}

	records, total, err := h.registry.Discover(c.Request.Context(), f)
	if err != nil {
		h.respondFromRegistryError(c, err)
		return
	}

	agents := make([]types.AgentSummary, 0, len(records))
	for _, r := range records {
		agents = append(agents, toAgentSummary(r))
	}

	c.JSON(http.StatusOK, types.ControlResponse{
		Status: "ok",
		Count:  total,
		Limit:  f.Limit,
		Offset: f.Offset,
		Agents: agents,
	})
}

func (h *Hub) handleGetAgent(c *gin.Context) {
	record, err := h.registry.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondFromRegistryError(c, err)
		return
	}
	summary := toAgentSummary(record)
	c.JSON(http.StatusOK, types.ControlResponse{Status: "ok", Agent: &summary})
}

func (h *Hub) handleStats(c *gin.Context) {
	stats, err := h.computeStats(c.Request.Context())
	if err != nil {
		h.respondFromRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.ControlResponse{Status: "ok", Stats: stats})
}

// computeStats tallies the directory's current status/capability
// breakdown, shared by the "stats" control action and GET /v1/stats.
func (h *Hub) computeStats(ctx context.Context) (*types.HubStats, error) {
	records, err := h.registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	stats := &types.HubStats{
		ByCapability:  make(map[string]int),
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}
	for _, r := range records {
		stats.TotalAgents++
		switch r.Status {
		case registry.StatusOnline:
			stats.OnlineAgents++
		case registry.StatusIdle:
			stats.IdleAgents++
		case registry.StatusOffline:
			stats.OfflineAgents++
		}
		for _, capability := range r.Capabilities {
			stats.ByCapability[capability]++
		}
	}
	if h.metrics != nil {
		h.metrics.SetAgentsByStatus("online", float64(stats.OnlineAgents))
		h.metrics.SetAgentsByStatus("idle", float64(stats.IdleAgents))
		h.metrics.SetAgentsByStatus("offline", float64(stats.OfflineAgents))
	}
	return stats, nil
}

func (h *Hub) handleAdminDisconnect(c *gin.Context) {
	if err := h.registry.Disconnect(c.Request.Context(), c.Param("id")); err != nil {
		h.respondFromRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Hub) handleMetrics(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics not enabled"})
		return
	}
	data, err := h.metrics.ToJSON()
	if err != nil {
		h.logger.Error("failed to serialize metrics", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to serialize metrics"})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// respondFromRegistryError maps a registry-layer *m2merrors.Error (or
// any other error) to the hub's HTTP error shape.
func (h *Hub) respondFromRegistryError(c *gin.Context, err error) {
	if e, ok := m2merrors.AsError(err); ok {
		h.respondWithM2MError(c, e)
		return
	}
	h.respondWithError(c, http.StatusInternalServerError, string(m2merrors.ErrInternal), err.Error())
}
