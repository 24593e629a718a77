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
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	m2merrors "github.com/m2m-io/m2m/internal/errors"
	"github.com/m2m-io/m2m/internal/registry"
	"github.com/m2m-io/m2m/internal/types"
)

// handleControlChannel upgrades the connection and serves one agent's
// control channel for its lifetime: requests on one connection are
// handled one at a time in arrival order, and every response echoes
// its request's CorrelationID (spec.md §4.5).
func (h *Hub) handleControlChannel(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	session := &controlSession{
		hub:        h,
		conn:       conn,
		remoteAddr: c.Request.RemoteAddr,
	}
	session.serve(c.Request.Context())
}

// controlSession tracks the single agent id this connection registers
// as, so a dropped connection can be transitioned offline without the
// agent having sent an explicit "disconnect" (spec.md §4.9).
type controlSession struct {
	hub        *Hub
	conn       *websocket.Conn
	remoteAddr string
	agentID    string
}

func (s *controlSession) serve(ctx context.Context) {
	defer s.onDisconnect(ctx)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		var req types.ControlRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.write(ctx, types.ControlResponse{Status: "error", Error: "malformed request"})
			continue
		}

		resp := s.dispatch(ctx, &req)
		resp.CorrelationID = req.CorrelationID
		s.write(ctx, resp)
	}
}

func (s *controlSession) write(ctx context.Context, resp types.ControlResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = s.conn.Write(writeCtx, websocket.MessageText, data)
}

// onDisconnect transitions this connection's agent offline when the
// socket drops without an explicit "disconnect" action. It uses a
// detached context since the request context may already be cancelled
// by the time the read loop returns.
func (s *controlSession) onDisconnect(_ context.Context) {
	if s.agentID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.hub.registry.Disconnect(ctx, s.agentID)
}

// dispatch validates req and routes it to the registry operation for
// req.Action, per spec.md §4.5's eight control actions.
func (s *controlSession) dispatch(ctx context.Context, req *types.ControlRequest) types.ControlResponse {
	if err := s.hub.validator.ValidateControlRequest(req); err != nil {
		s.recordAction(req.Action, "invalid", 0)
		return errorResponse(err)
	}

	start := time.Now()
	resp := s.route(ctx, req)
	s.recordAction(req.Action, resp.Status, time.Since(start))
	return resp
}

func (s *controlSession) route(ctx context.Context, req *types.ControlRequest) types.ControlResponse {
	switch req.Action {
	case "register":
		return s.handleRegister(ctx, req)
	case "heartbeat":
		return s.handleHeartbeat(ctx, req)
	case "discover":
		return s.handleDiscover(ctx, req)
	case "find":
		return s.handleFind(ctx, req)
	case "lookup":
		return s.handleLookup(ctx, req)
	case "status":
		return s.handleStatus(ctx, req)
	case "disconnect":
		return s.handleDisconnectAction(ctx, req)
	case "stats":
		return s.handleStatsAction(ctx, req)
	default:
		return types.ControlResponse{Status: "error", Error: "unknown action"}
	}
}

func (s *controlSession) handleRegister(ctx context.Context, req *types.ControlRequest) types.ControlResponse {
	record, err := s.hub.registry.Register(ctx, s.remoteAddr, req.Address, req.Capabilities, req.Metadata, s.hub.cfg.Hub.TrustClientAddress)
	if err != nil {
		return errorResponse(err)
	}
	s.agentID = record.ID
	summary := toAgentSummary(record)
	return types.ControlResponse{Status: "ok", ID: record.ID, Address: record.Address, Agent: &summary}
}

func (s *controlSession) handleHeartbeat(ctx context.Context, req *types.ControlRequest) types.ControlResponse {
	record, err := s.hub.registry.Heartbeat(ctx, req.ID)
	if err != nil {
		return errorResponse(err)
	}
	summary := toAgentSummary(record)
	return types.ControlResponse{Status: "ok", Agent: &summary}
}

func (s *controlSession) handleDiscover(ctx context.Context, req *types.ControlRequest) types.ControlResponse {
	f := registry.QueryFilter{
		Capabilities: req.Capabilities,
		Status:       registry.Status(req.Status),
		Limit:        req.Limit,
		Offset:       req.Offset,
	}
	records, total, err := s.hub.registry.Discover(ctx, f)
	if err != nil {
		return errorResponse(err)
	}
	return agentsResponse(records, total, f.Limit, f.Offset)
}

func (s *controlSession) handleFind(ctx context.Context, req *types.ControlRequest) types.ControlResponse {
	records, total, err := s.hub.registry.Find(ctx, req.Capability, req.Limit, req.Offset)
	if err != nil {
		return errorResponse(err)
	}
	return agentsResponse(records, total, req.Limit, req.Offset)
}

func (s *controlSession) handleLookup(ctx context.Context, req *types.ControlRequest) types.ControlResponse {
	record, err := s.hub.registry.Lookup(ctx, req.ID)
	if err != nil {
		return errorResponse(err)
	}
	summary := toAgentSummary(record)
	return types.ControlResponse{Status: "ok", Agent: &summary}
}

func (s *controlSession) handleStatus(ctx context.Context, req *types.ControlRequest) types.ControlResponse {
	if err := s.hub.registry.UpdateStatus(ctx, req.ID, registry.Status(req.Status), req.Metadata); err != nil {
		return errorResponse(err)
	}
	return types.ControlResponse{Status: "ok"}
}

func (s *controlSession) handleDisconnectAction(ctx context.Context, req *types.ControlRequest) types.ControlResponse {
	if err := s.hub.registry.Disconnect(ctx, req.ID); err != nil {
		return errorResponse(err)
	}
	s.agentID = ""
	return types.ControlResponse{Status: "ok"}
}

func (s *controlSession) handleStatsAction(ctx context.Context, req *types.ControlRequest) types.ControlResponse {
	stats, err := s.hub.computeStats(ctx)
	if err != nil {
		return errorResponse(err)
	}
	return types.ControlResponse{Status: "ok", Stats: stats}
}

func (s *controlSession) recordAction(action, status string, duration time.Duration) {
	if s.hub.metrics != nil {
		s.hub.metrics.RecordControlAction(action, status, duration)
	}
}

func agentsResponse(records []*registry.Record, total, limit, offset int) types.ControlResponse {
	agents := make([]types.AgentSummary, 0, len(records))
	for _, r := range records {
		agents = append(agents, toAgentSummary(r))
	}
	return types.ControlResponse{Status: "ok", Count: total, Limit: limit, Offset: offset, Agents: agents}
}

func errorResponse(err error) types.ControlResponse {
	if e, ok := m2merrors.AsError(err); ok {
		return types.ControlResponse{Status: "error", Error: e.Message}
	}
	return types.ControlResponse{Status: "error", Error: err.Error()}
}
