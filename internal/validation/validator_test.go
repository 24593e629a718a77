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

package validation

import (
	"strings"
	"testing"

	"github.com/m2m-io/m2m/internal/types"
)

func validID(fill byte) string {
	return strings.Repeat(string(fill), 32)
}

func validCorrelationID(fill byte) string {
	return strings.Repeat(string(fill), 16)
}

func TestValidateControlRequestAcceptsValidRegister(t *testing.T) {
	v := New(0)
	req := &types.ControlRequest{
		Action:        "register",
		CorrelationID: validCorrelationID('a'),
		Address:       "10.0.0.1:5000",
		Capabilities:  []string{"translate.text", "ocr.extract"},
	}

	if err := v.ValidateControlRequest(req); err != nil {
		t.Fatalf("expected valid register request to pass, got %v", err)
	}
}

func TestValidateControlRequestRejectsUnknownAction(t *testing.T) {
	v := New(0)
	req := &types.ControlRequest{Action: "delete", CorrelationID: validCorrelationID('a')}

	if err := v.ValidateControlRequest(req); err == nil {
		t.Fatal("expected unknown action to fail validation")
	}
}

func TestValidateControlRequestRejectsMissingCorrelationID(t *testing.T) {
	v := New(0)
	req := &types.ControlRequest{Action: "stats"}

	if err := v.ValidateControlRequest(req); err == nil {
		t.Fatal("expected missing correlation id to fail validation")
	}
}

func TestValidateControlRequestRejectsMalformedID(t *testing.T) {
	v := New(0)
	req := &types.ControlRequest{
		Action:        "heartbeat",
		CorrelationID: validCorrelationID('a'),
		ID:            "not-hex",
	}

	if err := v.ValidateControlRequest(req); err == nil {
		t.Fatal("expected malformed id to fail validation")
	}
}

func TestValidateControlRequestRequiresIDForHeartbeat(t *testing.T) {
	v := New(0)
	req := &types.ControlRequest{Action: "heartbeat", CorrelationID: validCorrelationID('a')}

	if err := v.ValidateControlRequest(req); err == nil {
		t.Fatal("expected heartbeat without id to fail validation")
	}
}

func TestValidateControlRequestRequiresCapabilityForFind(t *testing.T) {
	v := New(0)
	req := &types.ControlRequest{Action: "find", CorrelationID: validCorrelationID('a')}

	if err := v.ValidateControlRequest(req); err == nil {
		t.Fatal("expected find without capability to fail validation")
	}
}

func TestValidateControlRequestRejectsWhitespaceCapability(t *testing.T) {
	v := New(0)
	req := &types.ControlRequest{
		Action:        "find",
		CorrelationID: validCorrelationID('a'),
		Capability:    "translate text",
	}

	if err := v.ValidateControlRequest(req); err == nil {
		t.Fatal("expected capability with whitespace to fail validation")
	}
}

func TestValidateControlRequestEnforcesCapabilityLimit(t *testing.T) {
	v := New(2)
	req := &types.ControlRequest{
		Action:        "register",
		CorrelationID: validCorrelationID('a'),
		Capabilities:  []string{"a.b", "c.d", "e.f"},
	}

	if err := v.ValidateControlRequest(req); err == nil {
		t.Fatal("expected too many capabilities to fail validation")
	}
}

func TestValidateControlRequestRejectsInvalidStatus(t *testing.T) {
	v := New(0)
	req := &types.ControlRequest{
		Action:        "status",
		CorrelationID: validCorrelationID('a'),
		ID:            validID('a'),
		Status:        "sleeping",
	}

	if err := v.ValidateControlRequest(req); err == nil {
		t.Fatal("expected invalid status to fail validation")
	}
}

func TestValidateControlRequestAcceptsValidLookup(t *testing.T) {
	v := New(0)
	req := &types.ControlRequest{
		Action:        "lookup",
		CorrelationID: validCorrelationID('a'),
		ID:            validID('a'),
	}

	if err := v.ValidateControlRequest(req); err != nil {
		t.Fatalf("expected valid lookup request to pass, got %v", err)
	}
}
