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

package connection

import (
	"errors"
	"fmt"
	"strings"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrConnectionTimeout is returned when an open attempt exceeds
	// ConnectTimeout.
	ErrConnectionTimeout = errors.New("connection: timed out opening websocket")

	// ErrClosed is returned to an attempt cancelled by Close.
	ErrClosed = errors.New("connection: closed")

	// ErrClosing is returned by Connect while Close is in progress.
	ErrClosing = errors.New("connection: closing")
)

// SendError is returned when a socket write fails.
type SendError struct {
	// Frame is the frame verb, such as "sub" or "echo".
	Frame string
	Err   error
}

// Error implements the error interface.
func (e *SendError) Error() string {
	return fmt.Sprintf("send %s frame: %v", e.Frame, e.Err)
}

// Unwrap returns the underlying write error.
func (e *SendError) Unwrap() error {
	return e.Err
}

func frameType(text string) string {
	verb, _, _ := strings.Cut(text, " ")
	return verb
}
