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

// Package rpc implements the correlation-id request/response pattern
// used on both the hub control channel (spec.md §4.7) and the
// peer-to-peer RPC layer: a requester picks a correlation id, registers
// a one-shot waiter under it, sends the request, and either receives
// the matching response or times out.
package rpc

import (
	"context"
	"sync"
	"time"

	m2merrors "github.com/m2m-io/m2m/internal/errors"
)

// DefaultTimeout is the default time a caller waits for a correlated
// response before giving up, per spec.md §4.7.
const DefaultTimeout = 30 * time.Second

// Table is a pending-request table keyed by correlation id. Exactly
// one waiter may be registered per id at a time; registering a second
// waiter for an id that already has one is a caller bug and returns
// an error rather than silently replacing the first waiter.
type Table struct {
	mu      sync.Mutex
	waiters map[string]chan any

	// Unhandled is invoked for a response whose correlation id has no
	// registered waiter — typically a response that arrived after its
	// waiter already timed out. Per spec.md §4.7 this is not dropped;
	// it is handed to the general handler. May be nil.
	Unhandled func(correlationID string, response any)
}

// NewTable creates an empty pending-request table.
func NewTable() *Table {
	return &Table{waiters: make(map[string]chan any)}
}

// Register creates a one-shot waiter for correlationID. The returned
// function must be called exactly once to release the waiter,
// whether or not a response arrived.
func (t *Table) Register(correlationID string) (chan any, func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.waiters[correlationID]; exists {
		return nil, nil, m2merrors.Newf(m2merrors.ErrApplication, "duplicate waiter for correlation id %s", correlationID)
	}

	ch := make(chan any, 1)
	t.waiters[correlationID] = ch

	release := func() {
		t.mu.Lock()
		delete(t.waiters, correlationID)
		t.mu.Unlock()
	}
	return ch, release, nil
}

// Deliver routes response to the waiter registered for correlationID,
// if any. If no waiter is registered, the response is passed to
// Unhandled instead of being dropped.
func (t *Table) Deliver(correlationID string, response any) {
	t.mu.Lock()
	ch, ok := t.waiters[correlationID]
	t.mu.Unlock()

	if !ok {
		if t.Unhandled != nil {
			t.Unhandled(correlationID, response)
		}
		return
	}
	ch <- response
}

// FailAll delivers err to every currently pending waiter and clears
// the table. Used when the underlying transport drops so that callers
// blocked in Call return immediately instead of waiting out their
// timeout.
func (t *Table) FailAll(err error) {
	t.mu.Lock()
	waiters := t.waiters
	t.waiters = make(map[string]chan any)
	t.mu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}
}

// Pending reports how many requests are currently awaiting a response.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

// Call registers a waiter for correlationID, invokes send, then blocks
// until Deliver is called for that id, ctx is cancelled, or timeout
// elapses (DefaultTimeout if zero).
func Call(ctx context.Context, table *Table, correlationID string, timeout time.Duration, send func() error) (any, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ch, release, err := table.Register(correlationID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := send(); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response := <-ch:
		if failure, ok := response.(error); ok {
			return nil, failure
		}
		return response, nil
	case <-timer.C:
		return nil, m2merrors.Newf(m2merrors.ErrTimeout, "timed out waiting for response to %s", correlationID)
	case <-ctx.Done():
		return nil, m2merrors.Wrap(m2merrors.ErrTimeout, "request cancelled", ctx.Err())
	}
}
