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
	"net/http"
	"strings"
)

const (
	// SessionCookie carries the session token.
	SessionCookie = "tr_session"
	// RefreshCookie carries the optional refresh token.
	RefreshCookie = "tr_refresh"
)

// setCookies returns every Set-Cookie value on h. Proxies sometimes fold
// multiple cookies into one comma-joined header; a single value is split
// back apart.
func setCookies(h http.Header) []string {
	values := h.Values("Set-Cookie")
	if len(values) != 1 {
		return values
	}
	return splitCombinedCookies(values[0])
}

// splitCombinedCookies splits a comma-joined Set-Cookie value. A comma only
// starts a new cookie when it is followed by a name= token, which keeps
// Expires dates ("Wed, 21 Oct 2015 ...") intact.
func splitCombinedCookies(header string) []string {
	var out []string
	start := 0
	for i := 0; i < len(header); i++ {
		if header[i] != ',' || !startsCookie(header[i+1:]) {
			continue
		}
		if part := strings.TrimSpace(header[start:i]); part != "" {
			out = append(out, part)
		}
		start = i + 1
	}
	if part := strings.TrimSpace(header[start:]); part != "" {
		out = append(out, part)
	}
	return out
}

// startsCookie reports whether s (after leading spaces) begins with a
// cookie name followed by '='.
func startsCookie(s string) bool {
	s = strings.TrimLeft(s, " \t")
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '=':
			return i > 0
		case c == ';' || c == ',' || c == ' ' || c == '\t':
			return false
		}
	}
	return false
}

// cookieValue returns the value of the cookie called name, matching the
// name exactly against each cookie's name=value segment.
func cookieValue(rawCookies []string, name string) (string, bool) {
	for _, raw := range rawCookies {
		pair, _, _ := strings.Cut(raw, ";")
		n, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && n == name {
			return v, true
		}
	}
	return "", false
}
