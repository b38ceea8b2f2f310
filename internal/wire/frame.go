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

// Package wire implements the text sub-protocol spoken over the brokerage
// WebSocket.
//
// Outbound frames:
//
//	connect <version> {"locale":"en"}
//	sub <id> <json>
//	unsub <id>
//	echo <epoch-millis>
//
// Inbound frames are either control frames ("echo ...", "connected ...") or
// data frames "<id> <json>".
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind classifies an inbound frame.
type Kind int

const (
	// KindUnknown is a frame with no JSON body.
	KindUnknown Kind = iota
	// KindControl is an echo acknowledgement or the connected greeting.
	KindControl
	// KindData is a frame with a JSON body.
	KindData
)

// String returns the kind name used in logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindControl:
		return "control"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

const (
	prefixEcho      = "echo"
	prefixConnected = "connected"
)

// Frame is a parsed inbound frame.
type Frame struct {
	Kind Kind

	// ID is the subscription id. HasID is false when no leading digits
	// precede the body.
	ID    int64
	HasID bool

	// Body is the JSON text from the first '{' to the end of the frame.
	// HasBody is false when the frame contains no '{'.
	Body    string
	HasBody bool

	// Raw is the frame as received.
	Raw string
}

// Parse classifies and splits an inbound text frame.
//
// The body starts at the first '{' and runs to the end of the frame. The id
// is the run of decimal digits at the start of the frame, before that '{'.
// Anything between the id and the body (state letters such as "A" or "D")
// is ignored.
func Parse(raw string) Frame {
	f := Frame{Raw: raw}

	if strings.HasPrefix(raw, prefixEcho) || strings.HasPrefix(raw, prefixConnected) {
		f.Kind = KindControl
		return f
	}

	brace := strings.IndexByte(raw, '{')
	if brace < 0 {
		f.Kind = KindUnknown
		return f
	}

	f.Kind = KindData
	f.Body = raw[brace:]
	f.HasBody = true

	head := raw[:brace]
	n := 0
	for n < len(head) && head[n] >= '0' && head[n] <= '9' {
		n++
	}
	if n > 0 {
		if id, err := strconv.ParseInt(head[:n], 10, 64); err == nil {
			f.ID = id
			f.HasID = true
		}
	}

	return f
}

// FormatConnect builds the handshake frame sent right after the socket opens.
func FormatConnect(protocolVersion int, locale string) (string, error) {
	cfg, err := json.Marshal(map[string]string{"locale": locale})
	if err != nil {
		return "", fmt.Errorf("failed to marshal connect config: %w", err)
	}
	return fmt.Sprintf("connect %d %s", protocolVersion, cfg), nil
}

// FormatSub builds a subscribe frame.
func FormatSub(id int64, payload []byte) string {
	return "sub " + strconv.FormatInt(id, 10) + " " + string(payload)
}

// FormatUnsub builds an unsubscribe frame.
func FormatUnsub(id int64) string {
	return "unsub " + strconv.FormatInt(id, 10)
}

// FormatEcho builds a keep-alive frame stamped with t.
func FormatEcho(t time.Time) string {
	return prefixEcho + " " + strconv.FormatInt(t.UnixMilli(), 10)
}

// SubscribePayload merges the token and topic with params into the JSON
// object sent in a sub frame. params keys are applied last. params must
// marshal to a JSON object or null.
func SubscribePayload(token, topic string, params any) ([]byte, error) {
	merged := map[string]json.RawMessage{}

	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return nil, err
	}
	topicJSON, err := json.Marshal(topic)
	if err != nil {
		return nil, err
	}
	merged["token"] = tokenJSON
	merged["type"] = topicJSON

	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("params must be a JSON object: %w", err)
		}
		for k, v := range fields {
			merged[k] = v
		}
	}

	return json.Marshal(merged)
}
