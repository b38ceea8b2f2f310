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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tombee/trclient/internal/log"
	"github.com/tombee/trclient/internal/session"
	"github.com/tombee/trclient/pkg/httpclient"
)

const (
	// DefaultBaseURL is the brokerage REST endpoint.
	DefaultBaseURL = "https://api.traderepublic.com"

	// DefaultTimeout bounds every auth request.
	DefaultTimeout = 10 * time.Second

	// LoginPath starts the login handshake.
	LoginPath = "/api/v1/auth/web/login"

	// SessionPath is the legacy session-validity probe.
	SessionPath = "/api/v1/auth/web/session"

	tracerName   = "github.com/tombee/trclient/internal/auth"
	maxErrorBody = 4096
)

// Client performs the login handshake against the REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	logger     *slog.Logger
	limiter    *rate.Limiter
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom HTTP client. Its own timeout still applies
// alongside the per-call timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = client
		return nil
	}
}

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		u, err := url.Parse(baseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid base url %q", baseURL)
		}
		c.baseURL = strings.TrimRight(baseURL, "/")
		return nil
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be > 0, got %v", timeout)
		}
		c.timeout = timeout
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

// WithRateLimit throttles outgoing requests. The login endpoints lock an
// account after repeated attempts.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) error {
		c.limiter = rate.NewLimiter(limit, burst)
		return nil
	}
}

// WithTracerProvider sets the tracer provider. Default: otel global.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) error {
		c.tracer = tp.Tracer(tracerName)
		return nil
	}
}

// New creates an auth client with the given options.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 5),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.logger = log.WithComponent(log.OrDefault(c.logger), "auth")
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}

	if c.httpClient == nil {
		cfg := httpclient.DefaultConfig()
		cfg.Timeout = c.timeout
		cfg.Logger = c.logger
		cfg.PathRedactor = redactLoginPath
		hc, err := httpclient.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create http client: %w", err)
		}
		c.httpClient = hc
	}

	return c, nil
}

type initiateRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Pin         string `json:"pin"`
}

type initiateResponse struct {
	ProcessID          string `json:"processId"`
	CountdownInSeconds int    `json:"countdownInSeconds,omitempty"`
	TwoFactorMethod    string `json:"2fa,omitempty"`
}

// Initiate starts the login and returns the process id. The server sends
// a device PIN to the user out of band.
func (c *Client) Initiate(ctx context.Context, phoneNumber, pin string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "auth.initiate")
	defer span.End()

	body, err := json.Marshal(initiateRequest{PhoneNumber: phoneNumber, Pin: pin})
	if err != nil {
		return "", fmt.Errorf("failed to marshal body: %w", err)
	}

	status, _, respBody, err := c.do(ctx, http.MethodPost, LoginPath, bytes.NewReader(body), nil)
	if err != nil {
		recordError(span, err)
		return "", err
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	if !isSuccess(status) {
		err := &InitiationError{StatusCode: status, Body: truncate(respBody)}
		recordError(span, err)
		return "", err
	}

	var resp initiateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		err := &InitiationError{StatusCode: status, Body: truncate(respBody), Reason: "invalid response body"}
		recordError(span, err)
		return "", err
	}
	if resp.ProcessID == "" {
		err := &InitiationError{StatusCode: status, Body: truncate(respBody), Reason: "missing process id"}
		recordError(span, err)
		return "", err
	}

	c.logger.Info("login initiated, device pin requested",
		"countdown_seconds", resp.CountdownInSeconds,
		"method", resp.TwoFactorMethod,
	)
	return resp.ProcessID, nil
}

// VerifyDevicePin completes the login and returns the new session built
// from the response cookies.
func (c *Client) VerifyDevicePin(ctx context.Context, processID, devicePin string) (session.Session, error) {
	ctx, span := c.tracer.Start(ctx, "auth.verify_device_pin")
	defer span.End()

	path := LoginPath + "/" + url.PathEscape(processID) + "/" + url.PathEscape(devicePin)
	status, header, respBody, err := c.do(ctx, http.MethodPost, path, nil, nil)
	if err != nil {
		recordError(span, err)
		return session.Session{}, err
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	if !isSuccess(status) {
		err := &PinVerificationError{StatusCode: status, Body: truncate(respBody)}
		recordError(span, err)
		return session.Session{}, err
	}

	cookies := setCookies(header)
	token, ok := cookieValue(cookies, SessionCookie)
	if !ok || token == "" {
		recordError(span, ErrSessionTokenMissing)
		return session.Session{}, ErrSessionTokenMissing
	}
	refresh, _ := cookieValue(cookies, RefreshCookie)

	span.SetAttributes(attribute.Int("cookies", len(cookies)), attribute.Bool("refresh_token", refresh != ""))
	c.logger.Info("device pin verified", "token", log.SanitizeToken(token))

	return session.Session{
		Token:        token,
		RefreshToken: refresh,
		RawCookies:   cookies,
	}, nil
}

// ValidateSession checks the session cookies against the REST session
// endpoint. It is library surface for callers that want a check without a
// socket; trclient.Client validates restored sessions with a probe
// subscription instead.
func (c *Client) ValidateSession(ctx context.Context, s session.Session) error {
	ctx, span := c.tracer.Start(ctx, "auth.validate_session")
	defer span.End()

	cookie := s.CookieHeader()
	if cookie == "" && s.Token != "" {
		cookie = SessionCookie + "=" + s.Token
		if s.RefreshToken != "" {
			cookie += "; " + RefreshCookie + "=" + s.RefreshToken
		}
	}

	headers := http.Header{}
	headers.Set("Cookie", cookie)

	status, _, respBody, err := c.do(ctx, http.MethodGet, SessionPath, nil, headers)
	if err != nil {
		recordError(span, err)
		return err
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	if !isSuccess(status) {
		err := &SessionRejectedError{StatusCode: status, Body: truncate(respBody)}
		recordError(span, err)
		return err
	}
	return nil
}

// do sends one request under the per-call timeout and reads the body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers http.Header) (int, http.Header, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, nil, classify(method, path, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, classify(method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, classify(method, path, err)
	}

	return resp.StatusCode, resp.Header, respBody, nil
}

// classify maps deadline and network-timeout failures onto ErrRequestTimeout.
func classify(method, path string, err error) error {
	path = redactLoginPath(path)

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s %s", ErrRequestTimeout, method, path)
	}
	// rate.Limiter reports a wait that cannot finish before the deadline
	// without wrapping DeadlineExceeded.
	if strings.Contains(err.Error(), "would exceed context deadline") {
		return fmt.Errorf("%w: %s %s", ErrRequestTimeout, method, path)
	}
	return fmt.Errorf("request failed: %s %s: %w", method, path, err)
}

// redactLoginPath hides the device PIN in /login/{processId}/{pin}.
func redactLoginPath(path string) string {
	rest, ok := strings.CutPrefix(path, LoginPath+"/")
	if !ok {
		return path
	}
	processID, _, hasPin := strings.Cut(rest, "/")
	if !hasPin {
		return path
	}
	return LoginPath + "/" + processID + "/" + log.SanitizeSecret("")
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
