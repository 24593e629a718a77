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

// Package validation validates hub control-channel requests before
// they reach the registry: struct-tag validation of the wire shape,
// plus action-specific checks the tags alone can't express.
package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	m2merrors "github.com/m2m-io/m2m/internal/errors"
	"github.com/m2m-io/m2m/internal/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validator validates hub control-channel requests.
type Validator struct {
	maxCapabilities int
}

// New creates a Validator. maxCapabilities bounds how many capability
// strings a single register/discover request may carry; 0 means the
// default of 32.
func New(maxCapabilities int) *Validator {
	if maxCapabilities <= 0 {
		maxCapabilities = 32
	}
	return &Validator{maxCapabilities: maxCapabilities}
}

// ValidateControlRequest validates req against its struct tags and
// against action-specific rules the tags can't express (which fields
// are required for a given action, capability string shape).
func (v *Validator) ValidateControlRequest(req *types.ControlRequest) error {
	if err := validate.Struct(req); err != nil {
		return m2merrors.Wrap(m2merrors.ErrValidation, formatValidationError(err), err)
	}

	switch req.Action {
	case "register":
		if len(req.Capabilities) > v.maxCapabilities {
			return m2merrors.Newf(m2merrors.ErrValidation, "capabilities exceeds maximum of %d", v.maxCapabilities)
		}
		for _, capability := range req.Capabilities {
			if err := validateCapability(capability); err != nil {
				return err
			}
		}

	case "heartbeat", "status", "disconnect":
		if req.ID == "" {
			return m2merrors.New(m2merrors.ErrValidation, "id is required for "+req.Action)
		}

	case "lookup":
		if req.ID == "" {
			return m2merrors.New(m2merrors.ErrValidation, "id is required for lookup")
		}

	case "find":
		if req.Capability == "" {
			return m2merrors.New(m2merrors.ErrValidation, "capability is required for find")
		}
		if err := validateCapability(req.Capability); err != nil {
			return err
		}

	case "discover":
		for _, capability := range req.Capabilities {
			if err := validateCapability(capability); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateCapability enforces the "namespace.verb" shape used
// throughout spec.md's examples (e.g. "translate.text", "ocr.extract").
func validateCapability(capability string) error {
	if capability == "" {
		return m2merrors.New(m2merrors.ErrValidation, "capability cannot be empty")
	}
	if strings.ContainsAny(capability, " \t\n") {
		return m2merrors.Newf(m2merrors.ErrValidation, "capability %q cannot contain whitespace", capability)
	}
	return nil
}

// formatValidationError renders go-playground/validator's field errors
// as a single human-readable message.
func formatValidationError(err error) string {
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrors) == 0 {
		return "validation failed"
	}

	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		messages = append(messages, fieldErrorMessage(fe))
	}
	return strings.Join(messages, "; ")
}

func fieldErrorMessage(fe validator.FieldError) string {
	field := fe.Field()
	param := fe.Param()

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, param)
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters long", field, param)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "hexadecimal":
		return fmt.Sprintf("%s must be a hexadecimal string", field)
	default:
		return fmt.Sprintf("%s failed validation for '%s'", field, fe.Tag())
	}
}
