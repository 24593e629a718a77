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

// Package idgen generates the two token shapes used across M2M: agent
// ids (128 bits, 32 hex characters) and correlation ids (64 bits, 16
// hex characters). Both are opaque, content-blind tokens with no
// embedded timestamp or structure, per spec.md §3.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// AgentID returns a random 128-bit id encoded as 32 lowercase hex
// characters.
func AgentID() (string, error) {
	return randomHex(16)
}

// CorrelationID returns a random 64-bit id encoded as 16 lowercase hex
// characters.
func CorrelationID() (string, error) {
	return randomHex(8)
}

func randomHex(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("idgen: failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
