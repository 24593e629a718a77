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
	"bytes"
	"net"
	"testing"
	"time"
)

func TestHandshakeEstablishesMatchingSessionKeys(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	initiator := newSession(clientConn, RoleInitiator)
	responder := newSession(serverConn, RoleResponder)

	errCh := make(chan error, 1)
	go func() {
		errCh <- initiator.performInitiatorHandshake("agent-a")
	}()

	if err := responder.performResponderHandshake(); err != nil {
		t.Fatalf("responder handshake failed: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("initiator handshake failed: %v", err)
	}

	if initiator.session != responder.session {
		t.Fatal("expected both sides to derive the same session key")
	}
	if responder.PeerID() != "agent-a" {
		t.Fatalf("expected responder to learn peer id from handshake, got %q", responder.PeerID())
	}
}

func TestSendMessageRoundTripsThroughServe(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	initiator := newSession(clientConn, RoleInitiator)
	responder := newSession(serverConn, RoleResponder)

	handshakeErr := make(chan error, 1)
	go func() {
		handshakeErr <- initiator.performInitiatorHandshake("agent-a")
	}()
	if err := responder.performResponderHandshake(); err != nil {
		t.Fatalf("responder handshake failed: %v", err)
	}
	if err := <-handshakeErr; err != nil {
		t.Fatalf("initiator handshake failed: %v", err)
	}

	received := make(chan Incoming, 1)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- responder.Serve(func(in Incoming) {
			received <- in
		})
	}()

	if err := initiator.SendMessage("greeting", []byte("hello"), "corr-1"); err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}

	select {
	case in := <-received:
		if in.Type != "greeting" || string(in.Payload) != "hello" || in.From != "agent-a" || in.CorrelationID != "corr-1" {
			t.Fatalf("unexpected incoming frame: %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message delivery")
	}

	_ = responder.Close()
	_ = initiator.Close()
	<-serveErr
}

func TestSendMessageRoundTripsMegabytePayload(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	initiator := newSession(clientConn, RoleInitiator)
	responder := newSession(serverConn, RoleResponder)

	handshakeErr := make(chan error, 1)
	go func() {
		handshakeErr <- initiator.performInitiatorHandshake("agent-a")
	}()
	if err := responder.performResponderHandshake(); err != nil {
		t.Fatalf("responder handshake failed: %v", err)
	}
	if err := <-handshakeErr; err != nil {
		t.Fatalf("initiator handshake failed: %v", err)
	}

	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i)
	}

	received := make(chan Incoming, 1)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- responder.Serve(func(in Incoming) {
			received <- in
		})
	}()

	if err := initiator.SendMessage("bulk", payload, "corr-big"); err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}

	select {
	case in := <-received:
		if in.Type != "bulk" || !bytes.Equal(in.Payload, payload) {
			t.Fatal("received payload does not match what was sent")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for large message delivery")
	}

	_ = responder.Close()
	_ = initiator.Close()
	<-serveErr
}

func TestSendMessageBeforeKeyedIsRejected(t *testing.T) {
	clientConn, _ := net.Pipe()
	defer clientConn.Close()

	s := newSession(clientConn, RoleInitiator)
	if err := s.SendMessage("greeting", []byte("hi"), "corr-1"); err == nil {
		t.Fatal("expected SendMessage before handshake to fail")
	}
}

func TestResponderRejectsFrameBeforeHandshake(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	enc := newSession(clientConn, RoleInitiator).enc
	responder := newSession(serverConn, RoleResponder)

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- enc.Write(map[string]string{"type": "message", "data": "garbage"})
	}()

	if err := responder.performResponderHandshake(); err == nil {
		t.Fatal("expected responder handshake to fail on unexpected first frame")
	}
	<-writeErr
}
