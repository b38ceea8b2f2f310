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

// Package config loads trclient settings from YAML, environment variables
// and defaults, in that order of increasing precedence: defaults, then the
// file, then the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/trclient/internal/auth"
	"github.com/tombee/trclient/internal/connection"
	"github.com/tombee/trclient/internal/subscription"
	"github.com/tombee/trclient/internal/tracing"
	trerrors "github.com/tombee/trclient/pkg/errors"
)

// Session storage backends.
const (
	BackendFile     = "file"
	BackendKeychain = "keychain"
)

// Config is the complete trclient configuration.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Connection ConnectionConfig `yaml:"connection"`
	Session    SessionConfig    `yaml:"session"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// APIConfig addresses the brokerage endpoints.
type APIConfig struct {
	// BaseURL is the REST endpoint used for login.
	// Environment: TRCLIENT_BASE_URL
	BaseURL string `yaml:"base_url"`

	// WSURL is the WebSocket endpoint.
	// Environment: TRCLIENT_WS_URL
	WSURL string `yaml:"ws_url"`

	// ProtocolVersion is sent in the connect frame.
	ProtocolVersion int `yaml:"protocol_version"`

	// Locale is sent in the connect frame.
	Locale string `yaml:"locale"`

	// HTTPTimeout bounds each login request.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// ConnectionConfig tunes the WebSocket lifecycle.
type ConnectionConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
	CloseGrace        time.Duration `yaml:"close_grace"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// SessionConfig selects where the session is persisted and how a restored
// session is validated.
type SessionConfig struct {
	// Backend is "file" or "keychain".
	// Environment: TRCLIENT_SESSION_BACKEND
	Backend string `yaml:"backend"`

	// Path is the session file for the file backend. Empty means
	// ~/.trclient_session.json.
	// Environment: TRCLIENT_SESSION_PATH
	Path string `yaml:"path,omitempty"`

	// ValidationTimeout bounds the restore probe.
	ValidationTimeout time.Duration `yaml:"validation_timeout"`

	// ValidationTopic is the topic subscribed once to validate a restore.
	ValidationTopic string `yaml:"validation_topic"`
}

// AuthConfig holds login identity. The PIN is never stored.
type AuthConfig struct {
	// PhoneNumber in international format.
	// Environment: TRCLIENT_PHONE
	PhoneNumber string `yaml:"phone_number,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables it.
	// Environment: TRCLIENT_METRICS_ADDR
	Addr string `yaml:"addr,omitempty"`
}

// TracingConfig selects where login spans are exported.
type TracingConfig struct {
	// Exporter is "none", "console" or "otlp-http".
	// Environment: TRCLIENT_TRACE_EXPORTER
	Exporter string `yaml:"exporter"`

	// Endpoint is the collector URL for otlp-http.
	// Environment: TRCLIENT_TRACE_ENDPOINT
	Endpoint string `yaml:"endpoint,omitempty"`

	// Headers are sent with every OTLP request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// SampleRate is the fraction of logins traced. Zero means 1.0.
	SampleRate float64 `yaml:"sample_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:         auth.DefaultBaseURL,
			WSURL:           connection.DefaultURL,
			ProtocolVersion: connection.DefaultProtocolVersion,
			Locale:          connection.DefaultLocale,
			HTTPTimeout:     auth.DefaultTimeout,
		},
		Connection: ConnectionConfig{
			ConnectTimeout:    connection.DefaultConnectTimeout,
			KeepAliveInterval: connection.DefaultKeepAliveInterval,
			CloseGrace:        connection.DefaultCloseGrace,
			BackoffBase:       connection.DefaultBackoffBase,
			BackoffMax:        connection.DefaultBackoffMax,
		},
		Session: SessionConfig{
			Backend:           BackendFile,
			ValidationTimeout: subscription.DefaultProbeTimeout,
			ValidationTopic:   subscription.DefaultProbeTopic,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter:   tracing.ExporterNone,
			SampleRate: 1.0,
		},
	}
}

// Load reads configPath (optional), applies environment overrides and
// validates the result. A missing file at the default location is not an
// error; a missing explicit path is.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	explicit := configPath != ""
	if !explicit {
		if p, err := ConfigPath(); err == nil {
			configPath = p
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, &trerrors.ConfigError{
					Key:    "config_file",
					Reason: fmt.Sprintf("failed to load from %s", configPath),
					Cause:  err,
				}
			}
		}
	}

	cfg.applyDefaults()
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	path, err := expandHome(path)
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyDefaults fills zero values left by a partial file.
func (c *Config) applyDefaults() {
	d := Default()

	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = d.API.WSURL
	}
	if c.API.ProtocolVersion == 0 {
		c.API.ProtocolVersion = d.API.ProtocolVersion
	}
	if c.API.Locale == "" {
		c.API.Locale = d.API.Locale
	}
	if c.API.HTTPTimeout == 0 {
		c.API.HTTPTimeout = d.API.HTTPTimeout
	}

	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = d.Connection.ConnectTimeout
	}
	if c.Connection.KeepAliveInterval == 0 {
		c.Connection.KeepAliveInterval = d.Connection.KeepAliveInterval
	}
	if c.Connection.CloseGrace == 0 {
		c.Connection.CloseGrace = d.Connection.CloseGrace
	}
	if c.Connection.BackoffBase == 0 {
		c.Connection.BackoffBase = d.Connection.BackoffBase
	}
	if c.Connection.BackoffMax == 0 {
		c.Connection.BackoffMax = d.Connection.BackoffMax
	}

	if c.Session.Backend == "" {
		c.Session.Backend = d.Session.Backend
	}
	if c.Session.ValidationTimeout == 0 {
		c.Session.ValidationTimeout = d.Session.ValidationTimeout
	}
	if c.Session.ValidationTopic == "" {
		c.Session.ValidationTopic = d.Session.ValidationTopic
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = d.Tracing.SampleRate
	}
}

// loadFromEnv applies TRCLIENT_* overrides. Unparseable values are
// reported rather than ignored.
func (c *Config) loadFromEnv() error {
	strs := []struct {
		env string
		dst *string
	}{
		{"TRCLIENT_BASE_URL", &c.API.BaseURL},
		{"TRCLIENT_WS_URL", &c.API.WSURL},
		{"TRCLIENT_LOCALE", &c.API.Locale},
		{"TRCLIENT_SESSION_BACKEND", &c.Session.Backend},
		{"TRCLIENT_SESSION_PATH", &c.Session.Path},
		{"TRCLIENT_VALIDATION_TOPIC", &c.Session.ValidationTopic},
		{"TRCLIENT_PHONE", &c.Auth.PhoneNumber},
		{"TRCLIENT_METRICS_ADDR", &c.Metrics.Addr},
		{"TRCLIENT_TRACE_EXPORTER", &c.Tracing.Exporter},
		{"TRCLIENT_TRACE_ENDPOINT", &c.Tracing.Endpoint},
		{"LOG_LEVEL", &c.Log.Level},
		{"LOG_FORMAT", &c.Log.Format},
	}
	for _, s := range strs {
		if val := os.Getenv(s.env); val != "" {
			*s.dst = val
		}
	}

	if val := os.Getenv("TRCLIENT_PROTOCOL_VERSION"); val != "" {
		v, err := strconv.Atoi(val)
		if err != nil {
			return &trerrors.ConfigError{Key: "TRCLIENT_PROTOCOL_VERSION", Reason: "not an integer", Cause: err}
		}
		c.API.ProtocolVersion = v
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"TRCLIENT_HTTP_TIMEOUT", &c.API.HTTPTimeout},
		{"TRCLIENT_CONNECT_TIMEOUT", &c.Connection.ConnectTimeout},
		{"TRCLIENT_KEEPALIVE_INTERVAL", &c.Connection.KeepAliveInterval},
		{"TRCLIENT_CLOSE_GRACE", &c.Connection.CloseGrace},
		{"TRCLIENT_BACKOFF_BASE", &c.Connection.BackoffBase},
		{"TRCLIENT_BACKOFF_MAX", &c.Connection.BackoffMax},
		{"TRCLIENT_VALIDATION_TIMEOUT", &c.Session.ValidationTimeout},
	}
	for _, d := range durations {
		val := os.Getenv(d.env)
		if val == "" {
			continue
		}
		v, err := time.ParseDuration(val)
		if err != nil {
			return &trerrors.ConfigError{Key: d.env, Reason: "not a duration", Cause: err}
		}
		*d.dst = v
	}
	return nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if err := validateURL(c.API.BaseURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Sprintf("api.base_url %v", err))
	}
	if err := validateURL(c.API.WSURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Sprintf("api.ws_url %v", err))
	}
	if c.API.ProtocolVersion <= 0 {
		errs = append(errs, fmt.Sprintf("api.protocol_version must be positive, got %d", c.API.ProtocolVersion))
	}
	if c.API.Locale == "" {
		errs = append(errs, "api.locale is required")
	}

	positive := []struct {
		key string
		d   time.Duration
	}{
		{"api.http_timeout", c.API.HTTPTimeout},
		{"connection.connect_timeout", c.Connection.ConnectTimeout},
		{"connection.keepalive_interval", c.Connection.KeepAliveInterval},
		{"connection.close_grace", c.Connection.CloseGrace},
		{"connection.backoff_base", c.Connection.BackoffBase},
		{"connection.backoff_max", c.Connection.BackoffMax},
		{"session.validation_timeout", c.Session.ValidationTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %v", p.key, p.d))
		}
	}
	if c.Connection.BackoffMax < c.Connection.BackoffBase {
		errs = append(errs, fmt.Sprintf("connection.backoff_max (%v) must be >= connection.backoff_base (%v)",
			c.Connection.BackoffMax, c.Connection.BackoffBase))
	}

	if c.Session.Backend != BackendFile && c.Session.Backend != BackendKeychain {
		errs = append(errs, fmt.Sprintf("session.backend must be one of [file, keychain], got %q", c.Session.Backend))
	}
	if c.Session.ValidationTopic == "" {
		errs = append(errs, "session.validation_topic is required")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	switch strings.ToLower(c.Tracing.Exporter) {
	case tracing.ExporterNone, tracing.ExporterConsole:
	case tracing.ExporterOTLPHTTP:
		if err := validateURL(c.Tracing.Endpoint, "http", "https"); err != nil {
			errs = append(errs, fmt.Sprintf("tracing.endpoint %v", err))
		}
	default:
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [none, console, otlp-http], got %q", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be within [0, 1], got %v", c.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return &trerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed:\n  - " + strings.Join(errs, "\n  - "),
		}
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("must be an absolute %s URL, got %q", strings.Join(schemes, "/"), raw)
}

// ConnectionSettings converts the config into connection manager settings.
func (c *Config) ConnectionSettings() connection.Config {
	return connection.Config{
		URL:               c.API.WSURL,
		ProtocolVersion:   c.API.ProtocolVersion,
		Locale:            c.API.Locale,
		ConnectTimeout:    c.Connection.ConnectTimeout,
		KeepAliveInterval: c.Connection.KeepAliveInterval,
		CloseGrace:        c.Connection.CloseGrace,
		BackoffBase:       c.Connection.BackoffBase,
		BackoffMax:        c.Connection.BackoffMax,
	}
}

// TracingSettings converts the config into tracer provider settings.
func (c *Config) TracingSettings(version string, w io.Writer) tracing.Config {
	return tracing.Config{
		Exporter:       c.Tracing.Exporter,
		Endpoint:       c.Tracing.Endpoint,
		Headers:        c.Tracing.Headers,
		SampleRate:     c.Tracing.SampleRate,
		ServiceVersion: version,
		Writer:         w,
	}
}

// Save writes c as YAML to path with owner-only permissions.
func (c *Config) Save(path string) error {
	path, err := expandHome(path)
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
