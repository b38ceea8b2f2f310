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

// Package session holds the authenticated session value and the stores that
// persist it between process runs.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNothingToPersist is returned by Save when the session has no token
	// or no cookies.
	ErrNothingToPersist = errors.New("session: nothing to persist")

	// ErrMalformedSession marks a persisted record that could not be used.
	// Stores treat it as absence and remove the record.
	ErrMalformedSession = errors.New("session: malformed persisted session")
)

// Session is an authenticated session. It is a value: replace it wholesale,
// never mutate a shared copy.
type Session struct {
	// Token is the tr_session cookie value.
	Token string

	// RefreshToken is the tr_refresh cookie value, if the server issued one.
	RefreshToken string

	// RawCookies are the Set-Cookie values from the login response, in the
	// order received.
	RawCookies []string
}

// Valid reports whether the session can authenticate requests.
func (s Session) Valid() bool {
	return s.Token != ""
}

// Clone returns a copy that shares no memory with s.
func (s Session) Clone() Session {
	out := s
	if s.RawCookies != nil {
		out.RawCookies = append([]string(nil), s.RawCookies...)
	}
	return out
}

// CookieHeader builds a Cookie request header from the stored cookies,
// forwarding only the name=value segment of each.
func (s Session) CookieHeader() string {
	pairs := make([]string, 0, len(s.RawCookies))
	for _, raw := range s.RawCookies {
		pair, _, _ := strings.Cut(raw, ";")
		pair = strings.TrimSpace(pair)
		if pair != "" {
			pairs = append(pairs, pair)
		}
	}
	return strings.Join(pairs, "; ")
}

// Store persists a single session record.
type Store interface {
	// Save persists s, replacing any previous record.
	Save(s Session) error

	// Load returns the persisted session. ok is false when no usable
	// record exists; corrupt records are removed.
	Load() (s Session, ok bool)

	// Delete removes the persisted record. Absence is not an error.
	Delete() error
}

// record is the persisted JSON shape.
type record struct {
	Token        string   `json:"trSessionToken"`
	RefreshToken string   `json:"trRefreshToken,omitempty"`
	RawCookies   []string `json:"rawCookies"`
}

func encode(s Session) ([]byte, error) {
	if s.Token == "" || len(s.RawCookies) == 0 {
		return nil, ErrNothingToPersist
	}
	return json.MarshalIndent(record{
		Token:        s.Token,
		RefreshToken: s.RefreshToken,
		RawCookies:   s.RawCookies,
	}, "", "  ")
}

func decode(data []byte) (Session, error) {
	// Decode into a map first so a missing rawCookies key is told apart from
	// an empty list.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	if _, ok := fields["rawCookies"]; !ok {
		return Session{}, fmt.Errorf("%w: rawCookies missing", ErrMalformedSession)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	if rec.Token == "" {
		return Session{}, fmt.Errorf("%w: token missing", ErrMalformedSession)
	}
	if rec.RawCookies == nil {
		return Session{}, fmt.Errorf("%w: rawCookies is null", ErrMalformedSession)
	}

	return Session{
		Token:        rec.Token,
		RefreshToken: rec.RefreshToken,
		RawCookies:   rec.RawCookies,
	}, nil
}
