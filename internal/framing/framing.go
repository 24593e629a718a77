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

// Package framing implements the length-less, newline-delimited JSON
// object framing shared by the hub control channel and the peer
// session protocol. There is no length prefix: the decoder consumes
// bytes up to a '\n', parses the preceding bytes as one JSON value,
// and emits it.
package framing

import (
	"bufio"
	"encoding/json"
	"io"
)

// maxLineSize bounds one frame line. A sealed message payload is
// wrapped in base64 (≈4/3 inflation, plus the 12-byte nonce and
// 16-byte tag) and then in a JSON object, so a 1MiB application
// payload alone produces a line over 1.33MiB; 8MiB leaves headroom
// for payloads well past that without letting a single frame exhaust
// unbounded memory.
const maxLineSize = 8 << 20

// Decoder reads newline-delimited JSON values from an underlying
// stream. It is not safe for concurrent use.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r in a line-oriented JSON frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &Decoder{scanner: scanner}
}

// Next reads the next frame and unmarshals it into v. It returns
// io.EOF when the stream ends cleanly between frames. If the line is
// not valid JSON, it returns a non-nil error that satisfies
// IsMalformed; the caller is responsible for reporting
// invalid_message/invalid_json to the sender and discarding the line,
// per spec.md §4.2 — Next itself already discards it.
func (d *Decoder) Next(v any) error {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return err
		}
		return io.EOF
	}

	line := d.scanner.Bytes()
	if err := json.Unmarshal(line, v); err != nil {
		return &malformedError{cause: err}
	}
	return nil
}

// malformedError marks a frame that failed to parse as JSON.
type malformedError struct {
	cause error
}

func (e *malformedError) Error() string { return "framing: malformed line: " + e.cause.Error() }
func (e *malformedError) Unwrap() error { return e.cause }

// IsMalformed reports whether err was returned because a line failed
// to parse as JSON (as opposed to a transport error or clean EOF).
func IsMalformed(err error) bool {
	_, ok := err.(*malformedError)
	return ok
}

// Encoder writes newline-delimited JSON values to an underlying
// stream. It is not safe for concurrent use; callers writing from
// multiple goroutines must serialize calls to Write.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w in a line-oriented JSON frame encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Write marshals v and writes it followed by a single '\n'.
func (e *Encoder) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = e.w.Write(data)
	return err
}
