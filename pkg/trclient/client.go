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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/trclient/internal/auth"
	"github.com/tombee/trclient/internal/connection"
	"github.com/tombee/trclient/internal/log"
	"github.com/tombee/trclient/internal/metrics"
	"github.com/tombee/trclient/internal/session"
	"github.com/tombee/trclient/internal/subscription"
)

const tracerName = "github.com/tombee/trclient/pkg/trclient"

// InvalidID is returned by Subscribe and SubscribeOnce when no
// subscription was created.
const InvalidID = subscription.InvalidID

var (
	// ErrMissingCredentials is logged when a full login is needed but no
	// phone number or PIN was configured.
	ErrMissingCredentials = errors.New("trclient: phone number and pin are required")

	// ErrNoPinProvider is logged when a full login is needed but Login was
	// given no PIN provider.
	ErrNoPinProvider = errors.New("trclient: no device pin provider")
)

// CredentialSource returns the phone number and PIN for a full login.
type CredentialSource func(ctx context.Context) (phoneNumber, pin string, err error)

// PinProvider supplies the device PIN sent to the user out of band during a
// full login.
type PinProvider func(ctx context.Context) (string, error)

// Callback receives a subscription payload. payload is nil when the frame
// carried no JSON body.
type Callback = subscription.Callback

// Client is a logged-in view of the brokerage API. It is safe for
// concurrent use.
type Client struct {
	id     string
	logger *slog.Logger
	tracer trace.Tracer

	credentials CredentialSource

	auth     *auth.Client
	store    session.Store
	connCfg  connection.Config
	dialer   connection.Dialer
	conn     *connection.Manager
	registry *subscription.Registry
	router   *subscription.Router

	probeTopic   string
	probeTimeout time.Duration

	// loginMu serialises Login, Logout and Close.
	loginMu sync.Mutex

	mu      sync.RWMutex
	session session.Session
}

// New creates a client. Nothing is dialed until Login.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		id:           uuid.NewString(),
		connCfg:      connection.DefaultConfig(),
		probeTopic:   subscription.DefaultProbeTopic,
		probeTimeout: subscription.DefaultProbeTimeout,
		tracer:       otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.logger = log.WithCorrelationID(log.OrDefault(c.logger), c.id)

	if c.auth == nil {
		a, err := auth.New(auth.WithLogger(c.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create auth client: %w", err)
		}
		c.auth = a
	}
	if c.store == nil {
		store, err := session.NewFileStore("", c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create session store: %w", err)
		}
		c.store = store
	}

	connOpts := []connection.Option{connection.WithLogger(c.logger)}
	if c.dialer != nil {
		connOpts = append(connOpts, connection.WithDialer(c.dialer))
	}
	conn, err := connection.New(c.connCfg, connection.Hooks{
		OnOpen: func(send func(string) error) {
			c.registry.ResubscribeAll(send)
		},
		OnFrame: func(frame string) {
			c.router.Route(frame)
		},
		OnReconnectScheduled: func(attempt int, delay time.Duration) {
			c.logger.Info("connection lost, reconnecting",
				log.AttemptKey, attempt,
				"delay", delay.String(),
			)
		},
	}, connOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}
	c.conn = conn
	c.registry = subscription.NewRegistry(c.token, conn, c.logger)
	c.router = subscription.NewRouter(c.registry, c.logger)

	return c, nil
}

// ID returns the correlation id attached to this client's log lines.
func (c *Client) ID() string {
	return c.id
}

// Login authenticates and opens the connection. A persisted session is
// tried first and validated with a one-shot probe subscription. When there
// is none, or the probe fails, the full handshake runs: initiate with the
// configured credentials, ask pins for the device PIN, verify it, persist
// the session and connect.
//
// Login reports success only. On failure no session, persisted record,
// subscription or connection is left behind. Details are logged.
func (c *Client) Login(ctx context.Context, pins PinProvider) bool {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	ctx, span := c.tracer.Start(ctx, "trclient.login")
	defer span.End()
	start := time.Now()

	if saved, ok := c.store.Load(); ok {
		if c.restore(ctx, saved) {
			span.SetAttributes(attribute.String("login.outcome", metrics.LoginRestored))
			metrics.RecordLogin(metrics.LoginRestored)
			c.logger.Info("session restored", log.DurationKey, time.Since(start).Milliseconds())
			return true
		}
		c.logger.Info("saved session rejected, starting full login")
		c.reset(ctx)
	}

	if err := c.fullLogin(ctx, pins); err != nil {
		c.logger.Error("login failed", log.Error(err))
		c.reset(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("login.outcome", metrics.LoginFailed))
		metrics.RecordLogin(metrics.LoginFailed)
		return false
	}

	span.SetAttributes(attribute.String("login.outcome", metrics.LoginFull))
	metrics.RecordLogin(metrics.LoginFull)
	c.logger.Info("logged in", log.DurationKey, time.Since(start).Milliseconds())
	return true
}

// restore adopts saved, connects and probes. It reports whether the server
// accepted the session.
func (c *Client) restore(ctx context.Context, saved session.Session) bool {
	c.setSession(saved)
	c.logger.Debug("validating saved session", "token", log.SanitizeToken(saved.Token))

	if err := c.conn.Connect(ctx); err != nil {
		c.logger.Warn("connect with saved session failed", log.Error(err))
		return false
	}
	return c.registry.Probe(ctx, c.probeTopic, nil, c.probeTimeout)
}

func (c *Client) fullLogin(ctx context.Context, pins PinProvider) error {
	if pins == nil {
		return ErrNoPinProvider
	}
	if c.credentials == nil {
		return ErrMissingCredentials
	}
	phoneNumber, pin, err := c.credentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain credentials: %w", err)
	}
	if phoneNumber == "" || pin == "" {
		return ErrMissingCredentials
	}

	processID, err := c.auth.Initiate(ctx, phoneNumber, pin)
	if err != nil {
		return err
	}

	devicePin, err := pins(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain device pin: %w", err)
	}

	s, err := c.auth.VerifyDevicePin(ctx, processID, devicePin)
	if err != nil {
		return err
	}
	c.setSession(s)

	// A session that cannot be persisted is still usable for this process.
	if err := c.store.Save(s); err != nil {
		c.logger.Warn("failed to persist session", log.Error(err))
	}

	if err := c.conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// reset discards the session, its persisted record, every subscription and
// the connection.
func (c *Client) reset(ctx context.Context) {
	c.setSession(session.Session{})
	if err := c.store.Delete(); err != nil {
		c.logger.Warn("failed to delete persisted session", log.Error(err))
	}
	if n := c.registry.Clear(); n > 0 {
		c.logger.Debug("dropped subscriptions", "count", n)
	}
	if err := c.conn.Close(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("failed to close connection", log.Error(err))
	}
}

// Logout discards the session and its persisted record, drops every
// subscription and closes the connection. A following Login performs the
// full handshake.
func (c *Client) Logout(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	c.setSession(session.Session{})
	n := c.registry.Clear()
	err := errors.Join(c.store.Delete(), c.conn.Close(ctx))
	c.logger.Info("logged out", "subscriptions_dropped", n)
	return err
}

// Close drops every subscription and closes the connection. The persisted
// session is kept for the next process.
func (c *Client) Close(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	c.registry.Clear()
	return c.conn.Close(ctx)
}

// Subscribe registers a durable subscription. cb runs for every payload
// until Unsubscribe. It returns InvalidID when not logged in or when params
// do not marshal to a JSON object.
func (c *Client) Subscribe(topic string, params any, cb Callback) int64 {
	return c.registry.Subscribe(topic, params, cb, false)
}

// SubscribeOnce registers a subscription whose cb runs at most once.
func (c *Client) SubscribeOnce(topic string, params any, cb Callback) int64 {
	return c.registry.Subscribe(topic, params, cb, true)
}

// Unsubscribe removes the subscription. Unknown ids are ignored.
func (c *Client) Unsubscribe(id int64) {
	c.registry.Unsubscribe(id)
}

// State returns the connection state.
func (c *Client) State() connection.State {
	return c.conn.State()
}

// LoggedIn reports whether the client holds a session.
func (c *Client) LoggedIn() bool {
	return c.token() != ""
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Token
}

func (c *Client) setSession(s session.Session) {
	c.mu.Lock()
	c.session = s.Clone()
	c.mu.Unlock()
}
