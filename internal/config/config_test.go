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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	trerrors "github.com/tombee/trclient/pkg/errors"
)

// isolate points the default config location at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	return dir
}

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://api.traderepublic.com", cfg.API.BaseURL)
	assert.Equal(t, "wss://api.traderepublic.com", cfg.API.WSURL)
	assert.Equal(t, 31, cfg.API.ProtocolVersion)
	assert.Equal(t, "en", cfg.API.Locale)
	assert.Equal(t, 10*time.Second, cfg.API.HTTPTimeout)
	assert.Equal(t, 10*time.Second, cfg.Connection.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Connection.KeepAliveInterval)
	assert.Equal(t, 2*time.Second, cfg.Connection.CloseGrace)
	assert.Equal(t, time.Second, cfg.Connection.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Connection.BackoffMax)
	assert.Equal(t, BackendFile, cfg.Session.Backend)
	assert.Equal(t, 7*time.Second, cfg.Session.ValidationTimeout)
	assert.Equal(t, "availableCash", cfg.Session.ValidationTopic)
}

func TestLoad_NoFile(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "nope.yaml"))
	var cfgErr *trerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "config_file", cfgErr.Key)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_PartialFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, `
api:
  locale: de
connection:
  keepalive_interval: 15s
  backoff_max: 1m
session:
  backend: keychain
auth:
  phone_number: "+4915100000000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "de", cfg.API.Locale)
	assert.Equal(t, 15*time.Second, cfg.Connection.KeepAliveInterval)
	assert.Equal(t, time.Minute, cfg.Connection.BackoffMax)
	assert.Equal(t, BackendKeychain, cfg.Session.Backend)
	assert.Equal(t, "+4915100000000", cfg.Auth.PhoneNumber)

	// Untouched fields keep their defaults.
	assert.Equal(t, "wss://api.traderepublic.com", cfg.API.WSURL)
	assert.Equal(t, time.Second, cfg.Connection.BackoffBase)
}

func TestLoad_DefaultLocation(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, AppName), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, AppName, "config.yaml"), []byte("api:\n  protocol_version: 32\n"), 0600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.API.ProtocolVersion)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "api: [unclosed")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "api:\n  locale: de\n")

	t.Setenv("TRCLIENT_LOCALE", "fr")
	t.Setenv("TRCLIENT_WS_URL", "ws://localhost:9000")
	t.Setenv("TRCLIENT_PROTOCOL_VERSION", "30")
	t.Setenv("TRCLIENT_BACKOFF_BASE", "250ms")
	t.Setenv("TRCLIENT_SESSION_PATH", "/tmp/session.json")
	t.Setenv("TRCLIENT_PHONE", "+491700000000")
	t.Setenv("TRCLIENT_METRICS_ADDR", ":9464")
	t.Setenv("TRCLIENT_TRACE_EXPORTER", "otlp-http")
	t.Setenv("TRCLIENT_TRACE_ENDPOINT", "http://localhost:4318")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fr", cfg.API.Locale)
	assert.Equal(t, "ws://localhost:9000", cfg.API.WSURL)
	assert.Equal(t, 30, cfg.API.ProtocolVersion)
	assert.Equal(t, 250*time.Millisecond, cfg.Connection.BackoffBase)
	assert.Equal(t, "/tmp/session.json", cfg.Session.Path)
	assert.Equal(t, "+491700000000", cfg.Auth.PhoneNumber)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.Equal(t, "otlp-http", cfg.Tracing.Exporter)
	assert.Equal(t, "http://localhost:4318", cfg.Tracing.Endpoint)
}

func TestLoad_BadEnvValue(t *testing.T) {
	isolate(t)

	t.Setenv("TRCLIENT_CONNECT_TIMEOUT", "soon")
	_, err := Load("")
	var cfgErr *trerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "TRCLIENT_CONNECT_TIMEOUT", cfgErr.Key)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"http ws url", func(c *Config) { c.API.WSURL = "https://api.traderepublic.com" }, "api.ws_url"},
		{"relative base url", func(c *Config) { c.API.BaseURL = "/api" }, "api.base_url"},
		{"zero protocol version", func(c *Config) { c.API.ProtocolVersion = 0 }, "api.protocol_version"},
		{"negative close grace", func(c *Config) { c.Connection.CloseGrace = -time.Second }, "connection.close_grace"},
		{"max below base", func(c *Config) { c.Connection.BackoffMax = time.Millisecond }, "connection.backoff_max"},
		{"unknown backend", func(c *Config) { c.Session.Backend = "sqlite" }, "session.backend"},
		{"empty validation topic", func(c *Config) { c.Session.ValidationTopic = "" }, "session.validation_topic"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"unknown exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }, "tracing.exporter"},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Exporter = "otlp-http" }, "tracing.endpoint"},
		{"sample rate above one", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "tracing.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTracingSettings(t *testing.T) {
	cfg := Default()
	cfg.Tracing.Exporter = "console"
	cfg.Tracing.SampleRate = 0.5

	ts := cfg.TracingSettings("1.0.0", os.Stderr)
	assert.Equal(t, "console", ts.Exporter)
	assert.Equal(t, 0.5, ts.SampleRate)
	assert.Equal(t, "1.0.0", ts.ServiceVersion)
	assert.Equal(t, os.Stderr, ts.Writer)
}

func TestConnectionSettings(t *testing.T) {
	cfg := Default()
	cfg.Connection.BackoffBase = 2 * time.Second

	cs := cfg.ConnectionSettings()
	require.NoError(t, cs.Validate())
	assert.Equal(t, cfg.API.WSURL, cs.URL)
	assert.Equal(t, 2*time.Second, cs.BackoffBase)
	assert.Equal(t, cfg.API.ProtocolVersion, cs.ProtocolVersion)
}

func TestSave_RoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "out.yaml")

	cfg := Default()
	cfg.Auth.PhoneNumber = "+4915100000000"
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfigDir(t *testing.T) {
	dir := isolate(t)

	got, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, AppName), got)

	path, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, AppName, "config.yaml"), path)
}
