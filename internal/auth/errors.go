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

package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionTokenMissing is returned when a successful PIN verification
	// response carries no tr_session cookie.
	ErrSessionTokenMissing = errors.New("auth: session token missing from response cookies")

	// ErrRequestTimeout is returned when a request exceeds its deadline. It is
	// never returned for a server-reported error status.
	ErrRequestTimeout = errors.New("auth: request timed out")
)

// InitiationError is returned when the login-initiate call fails.
type InitiationError struct {
	// StatusCode is the HTTP status, or 0 if the status was a success but
	// the body was unusable.
	StatusCode int

	// Body is the (truncated) response body.
	Body string

	// Reason describes a failure not captured by the status.
	Reason string
}

// Error implements the error interface.
func (e *InitiationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("login initiation failed: %s", e.Reason)
	}
	return fmt.Sprintf("login initiation failed [HTTP %d]: %s", e.StatusCode, e.Body)
}

// PinVerificationError is returned when the device PIN is rejected.
type PinVerificationError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *PinVerificationError) Error() string {
	return fmt.Sprintf("device pin verification failed [HTTP %d]: %s", e.StatusCode, e.Body)
}

// SessionRejectedError is returned by ValidateSession when the server does
// not accept the session cookies.
type SessionRejectedError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *SessionRejectedError) Error() string {
	return fmt.Sprintf("session rejected [HTTP %d]: %s", e.StatusCode, e.Body)
}
