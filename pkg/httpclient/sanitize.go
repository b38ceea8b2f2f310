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

package httpclient

import (
	"net/url"
	"strings"
)

// sensitiveParams lists query parameter names that must not appear in logs.
var sensitiveParams = []string{
	"token",
	"pin",
	"password",
	"session",
	"secret",
	"key",
}

// sanitizeURL removes sensitive query parameters from URLs before logging
// and applies redactPath to the path when set.
func sanitizeURL(u *url.URL, redactPath func(string) string) string {
	if u == nil {
		return ""
	}

	safe := *u
	safe.User = nil

	q := u.Query()
	for param := range q {
		if isSensitiveParam(param) {
			q.Set(param, "[REDACTED]")
		}
	}
	safe.RawQuery = q.Encode()

	if redactPath != nil {
		safe.Path = redactPath(u.Path)
		safe.RawPath = ""
	}

	return safe.String()
}

// isSensitiveParam checks if a parameter name matches the sensitive list.
// Comparison is case-insensitive.
func isSensitiveParam(param string) bool {
	lower := strings.ToLower(param)
	for _, sensitive := range sensitiveParams {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
