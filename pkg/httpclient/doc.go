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

// Package httpclient builds the HTTP client used for the brokerage REST API.
//
// # Basic Usage
//
//	client, err := httpclient.New(httpclient.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//
// Customize configuration:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.Timeout = 5 * time.Second
//	cfg.PathRedactor = func(p string) string { return strings.TrimSuffix(p, pin) }
//	client, err := httpclient.New(cfg)
//
// # Security
//
//   - Sensitive query parameters (token, pin, password, ...) are redacted from logs
//   - PathRedactor hides secrets carried in the URL path (such as a device PIN)
//   - Cookie and Authorization headers are never logged
//   - TLS 1.2 minimum with certificate validation enabled
//
// # Observability
//
// All requests emit structured logs via log/slog:
//   - Debug level: successful requests
//   - Warn level: 4xx/5xx responses and transport errors
//   - Fields: method, url (sanitized), status, duration_ms, error
//
// Requests are never retried: the login endpoints are not idempotent and
// each call triggers a side effect on the server.
package httpclient
