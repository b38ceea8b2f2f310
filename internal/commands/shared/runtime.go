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

package shared

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tombee/trclient/internal/auth"
	"github.com/tombee/trclient/internal/cli/prompt"
	"github.com/tombee/trclient/internal/config"
	"github.com/tombee/trclient/internal/log"
	"github.com/tombee/trclient/internal/session"
	"github.com/tombee/trclient/internal/tracing"
	"github.com/tombee/trclient/pkg/trclient"
)

// Runtime is what a command needs to reach the brokerage: the loaded
// configuration, a logger and the output streams.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger
	Out    io.Writer
	ErrOut io.Writer

	prompter prompt.Prompter
	tracing  *tracing.Provider
}

// prompterOverride replaces the terminal prompter in tests.
var prompterOverride prompt.Prompter

// SetPrompterForTest makes every Runtime use p instead of the terminal.
func SetPrompterForTest(p prompt.Prompter) {
	prompterOverride = p
}

// LoadRuntime loads the configuration named by --config, builds the logger
// and installs the configured span exporter. Logs and console spans go to
// errOut. Callers must Close the runtime to flush spans.
func LoadRuntime(out, errOut io.Writer) (*Runtime, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, NewConfigError("failed to load configuration", err)
	}

	v, _, _ := GetVersion()
	tp, err := tracing.Setup(context.Background(), cfg.TracingSettings(v, errOut))
	if err != nil {
		return nil, NewConfigError("failed to set up tracing", err)
	}

	p := prompterOverride
	if p == nil {
		p = prompt.NewSurveyPrompter(!IsNonInteractive())
	}

	return &Runtime{
		Config:   cfg,
		Logger:   NewLogger(cfg, errOut),
		Out:      out,
		ErrOut:   errOut,
		prompter: p,
		tracing:  tp,
	}, nil
}

// Close flushes exported spans.
func (r *Runtime) Close(ctx context.Context) {
	if err := r.tracing.Shutdown(ctx); err != nil {
		r.Logger.Warn("failed to flush traces", log.Error(err))
	}
}

// NewLogger builds the CLI logger. --verbose and --quiet win over the
// environment, which wins over the configuration file.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	lc := log.FromEnv()
	lc.Output = w
	if lc.Level == log.DefaultConfig().Level && cfg.Log.Level != "" {
		lc.Level = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		lc.Format = log.Format(cfg.Log.Format)
	}
	if level := LogLevel(); level != "" {
		lc.Level = level
	}
	return log.New(lc)
}

// NewStore opens the configured session store.
func NewStore(cfg *config.Config, logger *slog.Logger) (session.Store, error) {
	switch cfg.Session.Backend {
	case config.BackendKeychain:
		return session.NewKeychainStore(cfg.Auth.PhoneNumber, logger), nil
	case config.BackendFile, "":
		return session.NewFileStore(cfg.Session.Path, logger)
	default:
		return nil, NewConfigError(fmt.Sprintf("unknown session backend %q", cfg.Session.Backend), nil)
	}
}

// Collector returns a credential collector writing hints to ErrOut.
func (r *Runtime) Collector() *prompt.Collector {
	return prompt.NewCollector(r.prompter, r.ErrOut)
}

// NewClient builds a client from the configuration. creds is asked for
// the phone number and PIN only if a full login turns out to be needed.
func (r *Runtime) NewClient(creds trclient.CredentialSource) (*trclient.Client, error) {
	authClient, err := auth.New(
		auth.WithBaseURL(r.Config.API.BaseURL),
		auth.WithTimeout(r.Config.API.HTTPTimeout),
		auth.WithLogger(r.Logger),
	)
	if err != nil {
		return nil, NewConfigError("invalid api settings", err)
	}

	store, err := NewStore(r.Config, r.Logger)
	if err != nil {
		return nil, err
	}

	c, err := trclient.New(
		trclient.WithAuthClient(authClient),
		trclient.WithStore(store),
		trclient.WithConnectionConfig(r.Config.ConnectionSettings()),
		trclient.WithProbe(r.Config.Session.ValidationTopic, r.Config.Session.ValidationTimeout),
		trclient.WithCredentialSource(creds),
		trclient.WithLogger(r.Logger),
	)
	if err != nil {
		return nil, NewConfigError("invalid connection settings", err)
	}
	return c, nil
}
