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

// Package hubclient maintains an agent's persistent control-channel
// connection to the hub: register, heartbeat, discover/find/lookup,
// status, disconnect, stats, all correlated request/response over a
// single WebSocket, with fixed-delay reconnect (spec.md §4.5).
package hubclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/m2m-io/m2m/internal/config"
	m2merrors "github.com/m2m-io/m2m/internal/errors"
	"github.com/m2m-io/m2m/internal/idgen"
	"github.com/m2m-io/m2m/internal/logging"
	"github.com/m2m-io/m2m/internal/rpc"
	"github.com/m2m-io/m2m/internal/types"
)

// ReconnectDelay is the fixed delay between reconnect attempts, per
// spec.md §4.5 ("reconnect with a fixed delay, indefinitely, unless
// autoReconnect is disabled").
const ReconnectDelay = 5 * time.Second

// Client is a hub control-channel connection.
type Client struct {
	cfg    config.AgentConfig
	logger *logging.Logger
	table  *rpc.Table

	mu       sync.Mutex
	conn     *websocket.Conn
	agentID  string
	disabled bool // caller called Close; do not reconnect
}

// New creates a Client for the given agent runtime configuration.
func New(cfg config.AgentConfig, logger *logging.Logger) *Client {
	table := rpc.NewTable()
	c := &Client{cfg: cfg, logger: logger, table: table}
	table.Unhandled = func(correlationID string, response any) {
		if logger != nil {
			logger.Warnf("unhandled hub response for correlation id %s: %v", correlationID, response)
		}
	}
	return c
}

// AgentID returns the id assigned by the hub on the most recent
// register call, or "" if not yet registered.
func (c *Client) AgentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}

// Run connects to the hub, registers, and serves the control channel
// (heartbeat + read loop) until ctx is cancelled. On an unexpected
// disconnect it reconnects after ReconnectDelay and re-registers
// (spec.md §4.5: reconnecting mints a new agent id), unless
// AutoReconnect is false, in which case Run returns the disconnect
// error.
func (c *Client) Run(ctx context.Context) error {
	for {
		if c.isDisabled() {
			return nil
		}
		readErrCh, err := c.connectAndRegister(ctx)
		if err != nil {
			if !c.cfg.AutoReconnect {
				return err
			}
			if !c.sleepBeforeRetry(ctx) {
				return nil
			}
			continue
		}

		err = c.serveUntilDisconnect(ctx, readErrCh)
		if ctx.Err() != nil {
			return nil
		}
		if !c.cfg.AutoReconnect {
			return err
		}
		if !c.sleepBeforeRetry(ctx) {
			return nil
		}
	}
}

func (c *Client) isDisabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

func (c *Client) sleepBeforeRetry(ctx context.Context) bool {
	select {
	case <-time.After(ReconnectDelay):
		return true
	case <-ctx.Done():
		return false
	}
}

// connectAndRegister dials the hub, starts the read loop so the
// register response can be delivered, and registers. The returned
// channel receives the read loop's exit error.
func (c *Client) connectAndRegister(ctx context.Context) (<-chan error, error) {
	conn, _, err := websocket.Dial(ctx, c.cfg.HubAddress, nil)
	if err != nil {
		return nil, m2merrors.Wrap(m2merrors.ErrTransportRefused, "failed to connect to hub", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	readErrCh := make(chan error, 1)
	go func() { readErrCh <- c.readLoop(ctx) }()

	if _, err := c.Register(ctx); err != nil {
		conn.CloseNow()
		<-readErrCh
		return nil, err
	}
	return readErrCh, nil
}

// serveUntilDisconnect runs the heartbeat ticker alongside the read
// loop started by connectAndRegister, returning when the connection
// drops or ctx is cancelled.
func (c *Client) serveUntilDisconnect(ctx context.Context, readErrCh <-chan error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.Heartbeat(runCtx); err != nil && c.logger != nil {
				c.logger.Warnf("heartbeat failed: %v", err)
			}
		case err := <-readErrCh:
			c.table.FailAll(err)
			return err
		case <-ctx.Done():
			c.closeConn()
			<-readErrCh
			return nil
		}
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return m2merrors.New(m2merrors.ErrTransportClosed, "no active hub connection")
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			return m2merrors.Wrap(m2merrors.ErrTransportClosed, "hub connection closed", err)
		}

		var resp types.ControlResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			if c.logger != nil {
				c.logger.Warnf("malformed hub response: %v", err)
			}
			continue
		}
		c.table.Deliver(resp.CorrelationID, &resp)
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
	}
}

// Close disables reconnection and tears down the current connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.disabled = true
	c.mu.Unlock()
	c.closeConn()
	return nil
}

func (c *Client) send(ctx context.Context, req *types.ControlRequest) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return m2merrors.New(m2merrors.ErrTransportClosed, "no active hub connection")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return m2merrors.Wrap(m2merrors.ErrProtocolInvalidFrame, "failed to encode control request", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return m2merrors.Wrap(m2merrors.ErrTransportIO, "failed to write control request", err)
	}
	return nil
}

// roundTrip sends req and returns the hub's raw response, whatever its
// status. Only transport, timeout, and encoding failures are returned
// as errors; an application-level status of "error" is left for the
// caller to interpret.
func (c *Client) roundTrip(ctx context.Context, req *types.ControlRequest) (*types.ControlResponse, error) {
	correlationID, err := idgen.CorrelationID()
	if err != nil {
		return nil, m2merrors.Wrap(m2merrors.ErrInternal, "failed to generate correlation id", err)
	}
	req.CorrelationID = correlationID

	response, err := rpc.Call(ctx, c.table, correlationID, c.cfg.RequestTimeout, func() error {
		return c.send(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	resp, ok := response.(*types.ControlResponse)
	if !ok {
		return nil, m2merrors.New(m2merrors.ErrApplication, "unexpected response type from hub")
	}
	return resp, nil
}

// call is roundTrip plus the common case where an "error" status
// should simply surface as a Go error.
func (c *Client) call(ctx context.Context, req *types.ControlRequest) (*types.ControlResponse, error) {
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status == "error" {
		return nil, m2merrors.Newf(m2merrors.ErrApplication, "hub rejected request: %s", resp.Error)
	}
	return resp, nil
}

func stringMapToAny(in map[string]string) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Register sends the "register" action, advertising this agent's
// address, capabilities, and metadata, and stores the hub-assigned id.
func (c *Client) Register(ctx context.Context) (*types.AgentSummary, error) {
	resp, err := c.call(ctx, &types.ControlRequest{
		Action:       "register",
		Address:      c.cfg.AdvertiseAddress,
		Capabilities: c.cfg.Capabilities,
		Metadata:     stringMapToAny(c.cfg.Metadata),
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.agentID = resp.ID
	c.mu.Unlock()

	return resp.Agent, nil
}

// Heartbeat sends the "heartbeat" action for this agent's id.
func (c *Client) Heartbeat(ctx context.Context) (*types.AgentSummary, error) {
	resp, err := c.call(ctx, &types.ControlRequest{Action: "heartbeat", ID: c.AgentID()})
	if err != nil {
		return nil, err
	}
	return resp.Agent, nil
}

// Discover queries agents by capability/status with pagination
// (default limit 100, max 500, per spec.md §4.5).
func (c *Client) Discover(ctx context.Context, capabilities []string, status string, limit, offset int) ([]types.AgentSummary, int, error) {
	resp, err := c.call(ctx, &types.ControlRequest{
		Action:       "discover",
		Capabilities: capabilities,
		Status:       status,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return nil, 0, err
	}
	return resp.Agents, resp.Count, nil
}

// Find queries online agents offering a single capability, ordered
// most-recently-seen first.
func (c *Client) Find(ctx context.Context, capability string, limit, offset int) ([]types.AgentSummary, int, error) {
	resp, err := c.call(ctx, &types.ControlRequest{
		Action:     "find",
		Capability: capability,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, 0, err
	}
	return resp.Agents, resp.Count, nil
}

// Lookup resolves a single agent id to its current address and
// status. It satisfies internal/resolver.HubLookuper: an unknown id
// comes back as ("", "", nil), which the resolver turns into
// ErrAgentNotFound, and a known-offline agent comes back with
// status "offline", which the resolver turns into ErrAgentOffline.
// Only a transport or timeout failure is returned as an error here.
func (c *Client) Lookup(ctx context.Context, agentID string) (address string, status string, err error) {
	resp, err := c.roundTrip(ctx, &types.ControlRequest{Action: "lookup", ID: agentID})
	if err != nil {
		return "", "", err
	}
	if resp.Status == "error" || resp.Agent == nil {
		return "", "", nil
	}
	return resp.Agent.Address, resp.Agent.Status, nil
}

// Status pushes a status/metadata update for this agent.
func (c *Client) Status(ctx context.Context, status string, metadata map[string]any) error {
	_, err := c.call(ctx, &types.ControlRequest{
		Action:   "status",
		ID:       c.AgentID(),
		Status:   status,
		Metadata: metadata,
	})
	return err
}

// Disconnect informs the hub this agent is going offline deliberately.
func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.call(ctx, &types.ControlRequest{Action: "disconnect", ID: c.AgentID()})
	return err
}

// Stats fetches the hub's aggregate registry statistics.
func (c *Client) Stats(ctx context.Context) (*types.HubStats, error) {
	resp, err := c.call(ctx, &types.ControlRequest{Action: "stats"})
	if err != nil {
		return nil, err
	}
	if resp.Stats == nil {
		return nil, m2merrors.New(m2merrors.ErrApplication, "hub returned no stats")
	}
	return resp.Stats, nil
}
