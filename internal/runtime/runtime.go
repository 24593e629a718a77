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

// Package runtime composes the pieces an agent process needs into one
// object: a hub control-channel client, an inbound P2P listener, an
// address resolver, and send/broadcast helpers built on top of them.
// This is the wiring spec.md describes scattered across §4.3-§4.8;
// nothing here implements protocol, it only assembles the packages
// that do.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m2m-io/m2m/internal/broadcast"
	"github.com/m2m-io/m2m/internal/config"
	m2merrors "github.com/m2m-io/m2m/internal/errors"
	"github.com/m2m-io/m2m/internal/hubclient"
	"github.com/m2m-io/m2m/internal/idgen"
	"github.com/m2m-io/m2m/internal/logging"
	"github.com/m2m-io/m2m/internal/metrics"
	"github.com/m2m-io/m2m/internal/resolver"
	"github.com/m2m-io/m2m/internal/rpc"
	"github.com/m2m-io/m2m/internal/session"
	"github.com/m2m-io/m2m/internal/types"

	"golang.org/x/sync/errgroup"
)

// ResponseTypeSuffix marks the reply half of a peer request/response
// exchange (spec.md §4.7): Respond sends messageType+ResponseTypeSuffix,
// and Run's incoming pump routes any message type carrying this suffix
// to the pending request table instead of the general handler.
const ResponseTypeSuffix = ":response"

// Runtime is one agent process: a hub client for directory operations
// and a P2P listener/sender pair for direct agent-to-agent traffic.
type Runtime struct {
	cfg      *config.AgentRuntimeConfig
	logger   *logging.Logger
	metrics  *metrics.SimpleMetrics
	hub      *hubclient.Client
	resolver *resolver.Resolver
	listener *session.Listener
	incoming chan session.Incoming

	// pending tracks outstanding peer-level Request calls, keyed by
	// correlation id, per spec.md §4.7. This is distinct from the hub
	// client's own table, which only tracks control-channel requests.
	pending *rpc.Table
}

// New builds a Runtime from cfg. It opens the P2P listener immediately
// (so ListenAddr() is available before Run starts accepting), but does not
// connect to the hub until Run is called.
func New(cfg *config.AgentRuntimeConfig) (*Runtime, error) {
	logger := logging.NewLogger(cfg.Logging).WithComponent("agent")

	var metricsInstance *metrics.SimpleMetrics
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsInstance = metrics.NewSimpleMetrics()
	}

	listener, incoming, err := session.Listen(cfg.Agent.ListenAddress, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start P2P listener: %w", err)
	}

	// A blank AdvertiseAddress (typical when ListenAddress is ":0")
	// defaults to whatever address the listener actually bound, so the
	// hub always has a dialable address for this agent.
	if cfg.Agent.AdvertiseAddress == "" {
		cfg.Agent.AdvertiseAddress = listener.Addr().String()
	}

	hub := hubclient.New(cfg.Agent, logger)

	pending := rpc.NewTable()

	return &Runtime{
		cfg:      cfg,
		logger:   logger,
		metrics:  metricsInstance,
		hub:      hub,
		resolver: resolver.New(hub),
		listener: listener,
		incoming: incoming,
		pending:  pending,
	}, nil
}

// AgentID returns the id assigned by the hub on the most recent
// register, or "" if Run has not yet completed a registration.
func (r *Runtime) AgentID() string { return r.hub.AgentID() }

// ListenAddr returns the address the P2P listener is bound to.
func (r *Runtime) ListenAddr() string { return r.listener.Addr().String() }

// Hub returns the underlying hub client, for callers that need the
// directory operations directly (discover, lookup, stats, ...).
func (r *Runtime) Hub() *hubclient.Client { return r.hub }

// Run starts the hub connection (with its own reconnect loop) and the
// P2P listener, and delivers every decrypted inbound message to
// onMessage until ctx is cancelled or either component fails fatally.
func (r *Runtime) Run(ctx context.Context, onMessage func(types.Incoming)) error {
	g, gctx := errgroup.WithContext(ctx)

	// A response that arrives after its Request call already timed out
	// (and released its waiter) is not dropped; it falls through to the
	// general handler like any other message, per spec.md §4.7.
	r.pending.Unhandled = func(correlationID string, response any) {
		if in, ok := response.(types.Incoming); ok {
			onMessage(in)
		}
	}

	g.Go(func() error {
		return r.hub.Run(gctx)
	})

	g.Go(func() error {
		go func() {
			<-gctx.Done()
			_ = r.listener.Close()
		}()
		err := r.listener.Serve()
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		for {
			select {
			case in, ok := <-r.incoming:
				if !ok {
					return nil
				}
				if strings.HasSuffix(in.Type, ResponseTypeSuffix) {
					r.pending.Deliver(in.CorrelationID, in)
					continue
				}
				onMessage(in)
			case <-gctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

// Close disconnects from the hub and stops accepting inbound P2P
// connections.
func (r *Runtime) Close() error {
	hubErr := r.hub.Close()
	listenerErr := r.listener.Close()
	if hubErr != nil {
		return hubErr
	}
	return listenerErr
}

// Send resolves agentID to an address via the resolver (consulting the
// cache before the hub) and delivers one message over a fresh P2P
// session, per spec.md §4.3's one-message-per-connection flow. A
// transport failure invalidates the cached address so the next Send
// re-resolves.
func (r *Runtime) Send(ctx context.Context, agentID, messageType string, payload []byte) error {
	address, err := r.resolver.Resolve(ctx, agentID)
	if err != nil {
		return err
	}

	correlationID, err := idgen.CorrelationID()
	if err != nil {
		return m2merrors.Wrap(m2merrors.ErrInternal, "failed to generate correlation id", err)
	}

	if err := r.sendToAddress(ctx, address, messageType, payload, correlationID); err != nil {
		r.resolver.Invalidate(agentID)
		if r.metrics != nil {
			r.metrics.RecordError("runtime", "send_failed", "transport")
		}
		return err
	}
	return nil
}

// Request sends messageType to agentID and blocks until the peer
// replies with messageType+ResponseTypeSuffix carrying the same
// correlation id, ctx is cancelled, or timeout elapses (rpc.DefaultTimeout
// if zero), per spec.md §4.7. A transport or timeout failure invalidates
// the cached address so the next call re-resolves.
func (r *Runtime) Request(ctx context.Context, agentID, messageType string, payload []byte, timeout time.Duration) (types.Incoming, error) {
	address, err := r.resolver.Resolve(ctx, agentID)
	if err != nil {
		return types.Incoming{}, err
	}

	correlationID, err := idgen.CorrelationID()
	if err != nil {
		return types.Incoming{}, m2merrors.Wrap(m2merrors.ErrInternal, "failed to generate correlation id", err)
	}

	response, err := rpc.Call(ctx, r.pending, correlationID, timeout, func() error {
		return r.sendToAddress(ctx, address, messageType, payload, correlationID)
	})
	if err != nil {
		r.resolver.Invalidate(agentID)
		if r.metrics != nil {
			r.metrics.RecordError("runtime", "request_failed", "transport")
		}
		return types.Incoming{}, err
	}
	return response.(types.Incoming), nil
}

// Respond replies to a received request on a fresh outbound session to
// the peer's current resolved address (spec.md §9's respond-routing
// decision), not a fast-path reply on the inbound connection. correlationID
// must be the correlation id of the request being answered.
func (r *Runtime) Respond(ctx context.Context, to, originalType string, payload []byte, correlationID string) error {
	address, err := r.resolver.Resolve(ctx, to)
	if err != nil {
		return err
	}
	return r.sendToAddress(ctx, address, originalType+ResponseTypeSuffix, payload, correlationID)
}

// BroadcastCapability finds every online agent advertising capability
// and sends the same message to each independently, per spec.md
// §4.8. One peer's failure does not prevent delivery to the others.
func (r *Runtime) BroadcastCapability(ctx context.Context, capability, messageType string, payload []byte) (*broadcast.Result, error) {
	agents, _, err := r.hub.Find(ctx, capability, 0, 0)
	if err != nil {
		return nil, err
	}

	targets := make([]broadcast.Target, 0, len(agents))
	for _, a := range agents {
		targets = append(targets, broadcast.Target{AgentID: a.ID, Address: a.Address})
	}

	return broadcast.Send(ctx, targets, func(ctx context.Context, t broadcast.Target) error {
		correlationID, err := idgen.CorrelationID()
		if err != nil {
			return m2merrors.Wrap(m2merrors.ErrInternal, "failed to generate correlation id", err)
		}
		return r.sendToAddress(ctx, t.Address, messageType, payload, correlationID)
	})
}

func (r *Runtime) sendToAddress(ctx context.Context, address, messageType string, payload []byte, correlationID string) error {
	start := time.Now()
	sess, err := session.Dial(ctx, address, r.AgentID())
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordHandshake("initiator", "failed", time.Since(start))
		}
		return err
	}
	defer sess.Close()
	if r.metrics != nil {
		r.metrics.RecordHandshake("initiator", "ok", time.Since(start))
	}

	return sess.SendMessage(messageType, payload, correlationID)
}
