// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package format renders subscription payloads for the terminal.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Mode selects how payloads are printed.
type Mode string

const (
	// ModeRaw prints the payload exactly as received.
	ModeRaw Mode = "raw"
	// ModeCompact prints single-line JSON.
	ModeCompact Mode = "compact"
	// ModePretty prints JSON with 2-space indentation.
	ModePretty Mode = "pretty"
)

// maxPayloadSize bounds a single rendered payload.
const maxPayloadSize = 10 * 1024 * 1024 // 10MB

// ansiEscapeRegex matches ANSI escape sequences for sanitization.
var ansiEscapeRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// sanitizeANSI removes ANSI escape sequences from a string.
func sanitizeANSI(s string) string {
	return ansiEscapeRegex.ReplaceAllString(s, "")
}

// ParseMode validates a --format value. Empty selects pretty on a TTY and
// compact otherwise.
func ParseMode(s string, isTTY bool) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "":
		if isTTY {
			return ModePretty, nil
		}
		return ModeCompact, nil
	case ModeRaw:
		return ModeRaw, nil
	case ModeCompact:
		return ModeCompact, nil
	case ModePretty:
		return ModePretty, nil
	default:
		return "", fmt.Errorf("unknown format %q (want raw, compact or pretty)", s)
	}
}

// Payload renders a payload as delivered to a subscription callback. A
// nil payload renders as "null". Server text is never trusted to carry
// terminal escapes.
func Payload(payload *string, mode Mode) (string, error) {
	if payload == nil {
		return "null", nil
	}
	content := *payload
	if len(content) > maxPayloadSize {
		return "", fmt.Errorf("payload size (%d bytes) exceeds maximum (%d bytes)", len(content), maxPayloadSize)
	}

	if mode == ModeRaw {
		return sanitizeANSI(content), nil
	}

	var buf bytes.Buffer
	var err error
	if mode == ModePretty {
		err = json.Indent(&buf, []byte(content), "", "  ")
	} else {
		err = json.Compact(&buf, []byte(content))
	}
	if err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	return sanitizeANSI(buf.String()), nil
}

// Value renders a decoded value, such as a jq filter result.
func Value(v any, mode Mode) (string, error) {
	if s, ok := v.(string); ok && mode == ModeRaw {
		return sanitizeANSI(s), nil
	}

	var (
		data []byte
		err  error
	)
	if mode == ModePretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", fmt.Errorf("failed to format value: %w", err)
	}
	return sanitizeANSI(string(data)), nil
}
