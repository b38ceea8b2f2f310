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
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultURL is the brokerage WebSocket endpoint.
	DefaultURL = "wss://api.traderepublic.com"

	// DefaultProtocolVersion is sent in the connect frame.
	DefaultProtocolVersion = 31

	// DefaultLocale is sent in the connect frame.
	DefaultLocale = "en"

	DefaultConnectTimeout    = 10 * time.Second
	DefaultKeepAliveInterval = 30 * time.Second
	DefaultCloseGrace        = 2 * time.Second
	DefaultBackoffBase       = 1 * time.Second
	DefaultBackoffMax        = 30 * time.Second
)

// Config holds connection settings.
type Config struct {
	URL             string
	ProtocolVersion int
	Locale          string

	// Header is sent with the upgrade request.
	Header http.Header

	// ConnectTimeout bounds a single open attempt.
	ConnectTimeout time.Duration

	// KeepAliveInterval is the echo period while Open.
	KeepAliveInterval time.Duration

	// CloseGrace is how long Close waits for the peer before force-closing.
	CloseGrace time.Duration

	// BackoffBase and BackoffMax shape the reconnect delay
	// min(BackoffMax, BackoffBase * 2^attempt).
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		URL:               DefaultURL,
		ProtocolVersion:   DefaultProtocolVersion,
		Locale:            DefaultLocale,
		ConnectTimeout:    DefaultConnectTimeout,
		KeepAliveInterval: DefaultKeepAliveInterval,
		CloseGrace:        DefaultCloseGrace,
		BackoffBase:       DefaultBackoffBase,
		BackoffMax:        DefaultBackoffMax,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid websocket url %q: %w", c.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("websocket url must use ws or wss, got %q", c.URL)
	}
	if c.ProtocolVersion <= 0 {
		return fmt.Errorf("protocol version must be > 0, got %d", c.ProtocolVersion)
	}
	if c.Locale == "" {
		return fmt.Errorf("locale is required")
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"connect timeout", c.ConnectTimeout},
		{"keep-alive interval", c.KeepAliveInterval},
		{"close grace", c.CloseGrace},
		{"backoff base", c.BackoffBase},
		{"backoff max", c.BackoffMax},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be > 0, got %v", d.name, d.d)
		}
	}
	if c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("backoff max (%v) must be >= backoff base (%v)", c.BackoffMax, c.BackoffBase)
	}
	return nil
}
