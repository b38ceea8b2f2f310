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

package trclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/trclient/internal/auth"
	"github.com/tombee/trclient/internal/connection"
	"github.com/tombee/trclient/internal/session"
)

// Option configures a Client.
type Option func(*Client) error

// WithCredentials sets the phone number and PIN used for a full login.
func WithCredentials(phoneNumber, pin string) Option {
	return WithCredentialSource(func(ctx context.Context) (string, string, error) {
		return phoneNumber, pin, nil
	})
}

// WithCredentialSource sets a function asked for the phone number and PIN
// only when a full login is needed, so a restored session never prompts.
func WithCredentialSource(src CredentialSource) Option {
	return func(c *Client) error {
		c.credentials = src
		return nil
	}
}

// WithAuthClient replaces the default auth client.
func WithAuthClient(a *auth.Client) Option {
	return func(c *Client) error {
		c.auth = a
		return nil
	}
}

// WithStore replaces the default file session store.
func WithStore(store session.Store) Option {
	return func(c *Client) error {
		c.store = store
		return nil
	}
}

// WithConnectionConfig sets the WebSocket endpoint and lifecycle timings.
func WithConnectionConfig(cfg connection.Config) Option {
	return func(c *Client) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.connCfg = cfg
		return nil
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d connection.Dialer) Option {
	return func(c *Client) error {
		c.dialer = d
		return nil
	}
}

// WithProbe sets the topic and timeout used to validate a restored session.
func WithProbe(topic string, timeout time.Duration) Option {
	return func(c *Client) error {
		if topic != "" {
			c.probeTopic = topic
		}
		if timeout > 0 {
			c.probeTimeout = timeout
		}
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}
