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

// Package errors implements M2M's error taxonomy: every failure mode
// named in spec.md's error handling design is a structured Error value
// carrying a category, a stable code, and an optional cause.
package errors

import (
	"fmt"
	"time"

	"github.com/m2m-io/m2m/internal/types"
)

// Category is the conceptual error class from spec.md §7.
type Category string

const (
	CategoryConfig      Category = "config"
	CategoryTransport    Category = "transport"
	CategoryTimeout      Category = "timeout"
	CategoryProtocol     Category = "protocol"
	CategoryCrypto       Category = "crypto"
	CategoryRegistry     Category = "registry"
	CategoryApplication  Category = "application"
)

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

const (
	// Config errors — fatal at startup.
	ErrConfigMissingPort ErrorCode = "CONFIG_MISSING_PORT"
	ErrConfigInvalid     ErrorCode = "CONFIG_INVALID"

	// Transport errors — surfaced to caller, may trigger hub reconnect.
	ErrTransportRefused ErrorCode = "TRANSPORT_REFUSED"
	ErrTransportClosed  ErrorCode = "TRANSPORT_CLOSED"
	ErrTransportIO      ErrorCode = "TRANSPORT_IO"

	// Timeout errors — never implicitly retried.
	ErrTimeout ErrorCode = "TIMEOUT"

	// Protocol errors — offending connection is closed.
	ErrProtocolInvalidFrame     ErrorCode = "PROTOCOL_INVALID_FRAME"
	ErrProtocolUnexpectedFrame  ErrorCode = "PROTOCOL_UNEXPECTED_FRAME"
	ErrProtocolMissingField     ErrorCode = "PROTOCOL_MISSING_FIELD"

	// Validation errors — a control-channel request failed field or
	// action-specific validation before reaching the registry.
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Crypto errors — session is aborted.
	ErrCryptoAEADFailure   ErrorCode = "CRYPTO_AEAD_FAILURE"
	ErrCryptoMalformedKey  ErrorCode = "CRYPTO_MALFORMED_KEY"
	ErrCryptoECDHFailure   ErrorCode = "CRYPTO_ECDH_FAILURE"

	// Registry errors.
	ErrAgentNotFound ErrorCode = "AGENT_NOT_FOUND"
	ErrAgentOffline  ErrorCode = "AGENT_OFFLINE"

	// Application errors — any {error:...} frame from a peer not
	// already covered above.
	ErrApplication ErrorCode = "APPLICATION_ERROR"

	// Generic/internal.
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

var codeCategory = map[ErrorCode]Category{
	ErrConfigMissingPort:       CategoryConfig,
	ErrConfigInvalid:           CategoryConfig,
	ErrTransportRefused:        CategoryTransport,
	ErrTransportClosed:         CategoryTransport,
	ErrTransportIO:             CategoryTransport,
	ErrTimeout:                 CategoryTimeout,
	ErrProtocolInvalidFrame:    CategoryProtocol,
	ErrProtocolUnexpectedFrame: CategoryProtocol,
	ErrProtocolMissingField:    CategoryProtocol,
	ErrValidation:              CategoryProtocol,
	ErrCryptoAEADFailure:       CategoryCrypto,
	ErrCryptoMalformedKey:      CategoryCrypto,
	ErrCryptoECDHFailure:       CategoryCrypto,
	ErrAgentNotFound:           CategoryRegistry,
	ErrAgentOffline:            CategoryRegistry,
	ErrApplication:             CategoryApplication,
	ErrInternal:                CategoryApplication,
}

// Error is a structured M2M error.
type Error struct {
	Code      ErrorCode      `json:"code"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
	Cause     error          `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ToErrorResponse converts Error to types.ErrorResponse for the hub's
// HTTP surface.
func (e *Error) ToErrorResponse() types.ErrorResponse {
	return types.ErrorResponse{
		Error: types.ErrorDetail{
			Code:      string(e.Code),
			Message:   e.Message,
			Details:   e.Details,
			Timestamp: e.Timestamp,
			RequestID: e.RequestID,
		},
	}
}

// New creates a new Error.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  codeCategory[code],
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code ErrorCode, message string, cause error) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// Wrapf creates a new Error wrapping an existing error with a formatted
// message.
func Wrapf(code ErrorCode, cause error, format string, args ...interface{}) *Error {
	return Wrap(code, fmt.Sprintf(format, args...), cause)
}

// WithDetails attaches structured details to an Error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithRequestID attaches a request id to an Error.
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// IsRetryable reports whether the hub client's reconnect loop should
// treat this error as transient. Per spec.md §4.5/§5, reconnection is
// the only implicit retry, and it applies to transport failures alone.
func (e *Error) IsRetryable() bool {
	switch e.Category {
	case CategoryTransport:
		return true
	default:
		return false
	}
}

// GetHTTPStatus maps an Error to the HTTP status the hub's
// informational surface should report.
func (e *Error) GetHTTPStatus() int {
	switch e.Code {
	case ErrConfigMissingPort, ErrConfigInvalid, ErrProtocolMissingField, ErrProtocolInvalidFrame, ErrProtocolUnexpectedFrame:
		return 400
	case ErrAgentNotFound:
		return 404
	case ErrAgentOffline:
		return 409
	case ErrTimeout:
		return 504
	case ErrTransportClosed, ErrTransportRefused, ErrTransportIO:
		return 503
	default:
		return 500
	}
}

// NewNotFoundError creates a registry "not found" error.
func NewNotFoundError(resource string) *Error {
	return Newf(ErrAgentNotFound, "%s not found", resource)
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrInternal, message, cause)
}

// Is reports whether err is an *Error with the given code, unwrapping
// err as AsError does.
func Is(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// AsError converts err to *Error if possible, unwrapping as needed.
func AsError(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
