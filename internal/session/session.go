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

// Package session implements the peer-to-peer session state machine
// (spec.md §4.3) and the listener that accepts inbound sessions
// (spec.md §4.4): handshake, AEAD-sealed application frames, and
// liveness, over a plain TCP byte stream framed per internal/framing.
package session

import (
	"context"
	"net"
	"time"

	"github.com/m2m-io/m2m/internal/cryptoengine"
	m2merrors "github.com/m2m-io/m2m/internal/errors"
	"github.com/m2m-io/m2m/internal/framing"
	"github.com/m2m-io/m2m/internal/idgen"
	"github.com/m2m-io/m2m/internal/types"
)

// Role is which side of the handshake a session plays.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

const (
	// ResponderIdleTimeout bounds how long a responder will wait for
	// the next frame on an otherwise quiet connection.
	ResponderIdleTimeout = 30 * time.Second
	// InitiatorTimeout bounds connect-through-ack for the initiating
	// side (handshake_ack, then the message's ack).
	InitiatorTimeout = 10 * time.Second
)

// state is the session's position in the AWAIT-HELLO -> KEYED ->
// CLOSED lifecycle from spec.md §4.3.
type state int

const (
	stateAwaitHello state = iota
	stateKeyed
	stateClosed
)

// Incoming is re-exported for callers that only need the listener's
// dispatch shape without importing internal/types directly.
type Incoming = types.Incoming

// Session drives one TCP connection through handshake and application
// frames.
type Session struct {
	conn    net.Conn
	role    Role
	peerID  string // known once handshake completes (responder learns it from `from`)
	keys    *cryptoengine.KeyPair
	session [32]byte
	state   state

	dec *framing.Decoder
	enc *framing.Encoder
}

// newSession wraps an accepted or dialed connection.
func newSession(conn net.Conn, role Role) *Session {
	return &Session{
		conn:  conn,
		role:  role,
		dec:   framing.NewDecoder(conn),
		enc:   framing.NewEncoder(conn),
		state: stateAwaitHello,
	}
}

// Close tears down the underlying connection.
func (s *Session) Close() error {
	s.state = stateClosed
	return s.conn.Close()
}

// Dial opens a fresh outbound TCP connection to addr and completes
// the initiator side of the handshake: send `handshake`, await
// `handshake_ack`, with InitiatorTimeout bounding the whole exchange.
func Dial(ctx context.Context, addr, selfID string) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, m2merrors.Wrap(m2merrors.ErrTransportRefused, "failed to connect to peer", err)
	}

	s := newSession(conn, RoleInitiator)
	if err := s.performInitiatorHandshake(selfID); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) performInitiatorHandshake(selfID string) error {
	keys, err := cryptoengine.GenerateKeyPair()
	if err != nil {
		return m2merrors.Wrap(m2merrors.ErrCryptoECDHFailure, "failed to generate ephemeral keypair", err)
	}
	s.keys = keys

	spki, err := keys.PublicKeySPKI()
	if err != nil {
		return err
	}

	_ = s.conn.SetDeadline(time.Now().Add(InitiatorTimeout))
	defer s.conn.SetDeadline(time.Time{})

	if err := s.enc.Write(&types.PeerFrame{Type: types.FrameHandshake, Key: spki, From: selfID}); err != nil {
		return m2merrors.Wrap(m2merrors.ErrTransportIO, "failed to send handshake", err)
	}

	var ack types.PeerFrame
	if err := s.dec.Next(&ack); err != nil {
		return translateReadErr(err)
	}
	if ack.Type != types.FrameHandshakeAck {
		return m2merrors.New(m2merrors.ErrProtocolUnexpectedFrame, "expected handshake_ack")
	}

	secret, err := keys.SharedSecret(ack.Key)
	if err != nil {
		return err
	}
	s.session = secret
	s.state = stateKeyed
	return nil
}

// Accept completes the responder side of the handshake on an inbound
// connection: await `handshake`, reply `handshake_ack`.
func Accept(conn net.Conn) (*Session, error) {
	s := newSession(conn, RoleResponder)
	if err := s.performResponderHandshake(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) performResponderHandshake() error {
	_ = s.conn.SetDeadline(time.Now().Add(ResponderIdleTimeout))

	var hello types.PeerFrame
	if err := s.dec.Next(&hello); err != nil {
		return translateReadErr(err)
	}
	if hello.Type != types.FrameHandshake {
		s.sendError("unexpected_frame")
		return m2merrors.New(m2merrors.ErrProtocolUnexpectedFrame, "expected handshake")
	}
	if hello.From == "" || hello.Key == "" {
		s.sendError("invalid_message")
		return m2merrors.New(m2merrors.ErrProtocolMissingField, "handshake missing from/key")
	}
	s.peerID = hello.From

	keys, err := cryptoengine.GenerateKeyPair()
	if err != nil {
		return m2merrors.Wrap(m2merrors.ErrCryptoECDHFailure, "failed to generate ephemeral keypair", err)
	}
	s.keys = keys

	secret, err := keys.SharedSecret(hello.Key)
	if err != nil {
		return err
	}
	s.session = secret

	spki, err := keys.PublicKeySPKI()
	if err != nil {
		return err
	}
	if err := s.enc.Write(&types.PeerFrame{Type: types.FrameHandshakeAck, Key: spki}); err != nil {
		return m2merrors.Wrap(m2merrors.ErrTransportIO, "failed to send handshake_ack", err)
	}

	s.state = stateKeyed
	return nil
}

func (s *Session) sendError(reason string) {
	_ = s.enc.Write(&types.PeerFrame{Type: types.FrameError, Error: reason})
}

// PeerID returns the remote agent id, which the responder learns from
// the handshake's `from` field. The initiator dials by address and
// never learns the peer's id, so PeerID is "" on the initiator side.
func (s *Session) PeerID() string { return s.peerID }

// SendMessage seals payload and sends one `message` frame, then waits
// for the matching `ack`, bounded by InitiatorTimeout. This is the
// reference one-message-per-connection flow from spec.md §4.3.
func (s *Session) SendMessage(messageType string, payload []byte, correlationID string) error {
	if s.state != stateKeyed {
		return m2merrors.New(m2merrors.ErrProtocolUnexpectedFrame, "session is not keyed")
	}

	token, err := cryptoengine.Seal(s.session, payload)
	if err != nil {
		return err
	}

	_ = s.conn.SetDeadline(time.Now().Add(InitiatorTimeout))
	defer s.conn.SetDeadline(time.Time{})

	if err := s.enc.Write(&types.PeerFrame{
		Type:          types.FrameMessage,
		MessageType:   messageType,
		Data:          token,
		CorrelationID: correlationID,
	}); err != nil {
		return m2merrors.Wrap(m2merrors.ErrTransportIO, "failed to send message", err)
	}

	var ack types.PeerFrame
	for {
		if err := s.dec.Next(&ack); err != nil {
			return translateReadErr(err)
		}
		switch ack.Type {
		case types.FrameAck:
			if ack.CorrelationID == correlationID {
				return nil
			}
		case types.FrameError:
			return m2merrors.Newf(m2merrors.ErrApplication, "peer reported error: %s", ack.Error)
		}
	}
}

// Serve drives a responder-side session loop, dispatching decrypted
// application frames to onMessage and replying `ack` for each, until
// the connection closes or ResponderIdleTimeout elapses with no
// traffic. It supports multiple application frames per connection,
// per spec.md §4.3.
func (s *Session) Serve(onMessage func(Incoming)) error {
	for {
		_ = s.conn.SetDeadline(time.Now().Add(ResponderIdleTimeout))

		var frame types.PeerFrame
		err := s.dec.Next(&frame)
		if err != nil {
			return translateReadErr(err)
		}

		switch frame.Type {
		case types.FramePing:
			_ = s.enc.Write(&types.PeerFrame{Type: types.FramePong})
		case types.FramePong:
			// liveness only
		case types.FrameMessage:
			if s.state != stateKeyed {
				s.sendError("invalid_message")
				continue
			}
			plaintext, err := cryptoengine.Open(s.session, frame.Data)
			if err != nil {
				// Decryption failure is not fatal to the responder.
				s.sendError("decryption_failed")
				continue
			}

			onMessage(Incoming{
				From:          s.peerID,
				Type:          frame.MessageType,
				Payload:       plaintext,
				CorrelationID: frame.CorrelationID,
				Timestamp:     time.Now().Unix(),
			})

			if err := s.enc.Write(&types.PeerFrame{Type: types.FrameAck, CorrelationID: frame.CorrelationID}); err != nil {
				return m2merrors.Wrap(m2merrors.ErrTransportIO, "failed to send ack", err)
			}
		case types.FrameError:
			return m2merrors.Newf(m2merrors.ErrApplication, "peer reported error: %s", frame.Error)
		default:
			s.sendError("invalid_message")
		}
	}
}

func translateReadErr(err error) error {
	if framing.IsMalformed(err) {
		return m2merrors.Wrap(m2merrors.ErrProtocolInvalidFrame, "malformed frame", err)
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return m2merrors.Wrap(m2merrors.ErrTimeout, "session timed out", err)
	}
	return m2merrors.Wrap(m2merrors.ErrTransportClosed, "connection closed", err)
}

// NewCorrelationID is a convenience wrapper so callers outside
// internal/idgen don't need to import it directly for session use.
func NewCorrelationID() (string, error) {
	return idgen.CorrelationID()
}
