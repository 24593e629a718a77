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

package session

import (
	"net"
	"sync"

	"github.com/m2m-io/m2m/internal/logging"
)

// Listener accepts inbound peer connections, completes the responder
// handshake on each, and dispatches decrypted application frames to a
// single upward Incoming channel. One session per accepted connection,
// per spec.md §4.4.
type Listener struct {
	ln       net.Listener
	logger   *logging.Logger
	incoming chan Incoming

	mu     sync.Mutex
	active map[*Session]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Listen opens a TCP listener on addr and returns a Listener ready to
// Serve. The returned Incoming channel delivers every decrypted
// application frame received on any accepted session, in arrival
// order per-session (not globally ordered across sessions).
func Listen(addr string, logger *logging.Logger) (*Listener, chan Incoming, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	l := &Listener{
		ln:       ln,
		logger:   logger,
		incoming: make(chan Incoming, 64),
		active:   make(map[*Session]struct{}),
	}
	return l, l.incoming, nil
}

// Addr returns the address the listener is bound to, useful when addr
// was ":0" and the OS picked the port.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until Close is called. Each accepted
// connection runs its session loop in its own goroutine; a failed
// handshake or session error is logged and the connection discarded
// without affecting other sessions.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		go l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	s, err := Accept(conn)
	if err != nil {
		if l.logger != nil {
			l.logger.LogSession("", "responder", "handshake", "failed", nil, err)
		}
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = s.Close()
		return
	}
	l.active[s] = struct{}{}
	l.wg.Add(1)
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.active, s)
		l.mu.Unlock()
		_ = s.Close()
		l.wg.Done()
	}()

	err = s.Serve(func(in Incoming) {
		l.incoming <- in
	})
	if err != nil && l.logger != nil {
		l.logger.LogSession(s.PeerID(), "responder", "serve", "closed", nil, err)
	}
}

// Close stops accepting new connections, closes every active session,
// waits for their handle goroutines to exit, and only then closes the
// Incoming channel — a handle goroutine blocked sending on l.incoming
// must never observe it closed. Close is idempotent.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	sessions := make([]*Session, 0, len(l.active))
	for s := range l.active {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	err := l.ln.Close()
	for _, s := range sessions {
		_ = s.Close()
	}
	l.wg.Wait()
	close(l.incoming)
	return err
}
