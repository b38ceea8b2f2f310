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
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/tombee/trclient/internal/auth"
	"github.com/tombee/trclient/internal/connection"
	"github.com/tombee/trclient/internal/log"
	"github.com/tombee/trclient/internal/session"
	"github.com/tombee/trclient/internal/testing/brokertest"
)

type harness struct {
	client *Client
	broker *brokertest.Server
	store  *session.FileStore
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	broker := brokertest.New(t)

	authClient, err := auth.New(
		auth.WithBaseURL(broker.BaseURL()),
		auth.WithLogger(log.Discard()),
		auth.WithRateLimit(rate.Inf, 1),
	)
	require.NoError(t, err)

	store, err := session.NewFileStore(filepath.Join(t.TempDir(), "session.json"), log.Discard())
	require.NoError(t, err)

	cfg := connection.DefaultConfig()
	cfg.URL = broker.WSURL()
	cfg.ConnectTimeout = time.Second
	cfg.KeepAliveInterval = time.Hour
	cfg.CloseGrace = 100 * time.Millisecond
	cfg.BackoffBase = 10 * time.Millisecond
	cfg.BackoffMax = 40 * time.Millisecond

	opts = append([]Option{
		WithCredentials("+4915100000000", "1234"),
		WithAuthClient(authClient),
		WithStore(store),
		WithConnectionConfig(cfg),
		WithProbe("", 2*time.Second),
		WithLogger(log.Discard()),
	}, opts...)
	c, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })

	return &harness{client: c, broker: broker, store: store}
}

func staticPin(pin string) PinProvider {
	return func(ctx context.Context) (string, error) { return pin, nil }
}

func savedSession(token string) session.Session {
	return session.Session{
		Token:      token,
		RawCookies: []string{"tr_session=" + token + "; Path=/"},
	}
}

func TestLogin_FullHandshake(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var asked atomic.Int32
	ok := h.client.Login(ctx, func(ctx context.Context) (string, error) {
		asked.Add(1)
		return "9876", nil
	})
	require.True(t, ok)

	assert.Equal(t, 1, h.broker.Initiated())
	assert.Equal(t, int32(1), asked.Load())
	assert.Equal(t, connection.StateOpen, h.client.State())
	assert.Equal(t, "token-1", h.client.token())

	saved, found := h.store.Load()
	require.True(t, found)
	assert.Equal(t, "token-1", saved.Token)

	// The broker records frames on its own read goroutine.
	require.Eventually(t, func() bool {
		return len(h.broker.Frames()) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, `connect 31 {"locale":"en"}`, h.broker.Frames()[0].Text)
}

func TestLogin_RestoresValidSession(t *testing.T) {
	h := newHarness(t, WithCredentialSource(func(ctx context.Context) (string, string, error) {
		t.Error("credentials must not be requested on restore")
		return "", "", errors.New("unexpected")
	}))
	h.broker.Accept("saved-token")
	require.NoError(t, h.store.Save(savedSession("saved-token")))

	ok := h.client.Login(context.Background(), func(ctx context.Context) (string, error) {
		t.Error("pin provider must not be called on restore")
		return "", errors.New("unexpected")
	})
	require.True(t, ok)

	assert.Equal(t, 0, h.broker.Initiated())
	assert.Equal(t, "saved-token", h.client.token())
	assert.Len(t, h.broker.SubsWithToken("saved-token"), 1, "one probe subscription")
}

func TestLogin_InvalidSavedSessionFallsThrough(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Save(savedSession("stale-token")))

	require.True(t, h.client.Login(context.Background(), staticPin("9876")))

	assert.Equal(t, 1, h.broker.Initiated())
	assert.Equal(t, "token-1", h.client.token())

	saved, found := h.store.Load()
	require.True(t, found)
	assert.Equal(t, "token-1", saved.Token)

	// The probe ran with the stale token on the first connection only.
	stale := h.broker.SubsWithToken("stale-token")
	require.Len(t, stale, 1)
	assert.Equal(t, 1, stale[0].Conn)
	assert.Eventually(t, func() bool { return h.broker.Connections() == 2 }, time.Second, 10*time.Millisecond)
}

func TestLogin_ProbeTimeoutFallsThrough(t *testing.T) {
	h := newHarness(t, WithProbe("", 100*time.Millisecond))
	h.broker.Ignore("silent-token")
	require.NoError(t, h.store.Save(savedSession("silent-token")))

	require.True(t, h.client.Login(context.Background(), staticPin("9876")))

	assert.Equal(t, 1, h.broker.Initiated())
	assert.Equal(t, "token-1", h.client.token())
}

func TestLogin_FailureLeavesNothingBehind(t *testing.T) {
	tests := []struct {
		name string
		pins PinProvider
	}{
		{name: "pin provider error", pins: func(ctx context.Context) (string, error) {
			return "", errors.New("user cancelled")
		}},
		{name: "rejected device pin", pins: staticPin(brokertest.RejectedDevicePin)},
		{name: "no pin provider", pins: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.store.Save(savedSession("stale-token")))

			assert.False(t, h.client.Login(context.Background(), tt.pins))

			assert.False(t, h.client.LoggedIn())
			assert.Equal(t, connection.StateDisconnected, h.client.State())
			_, found := h.store.Load()
			assert.False(t, found)
		})
	}
}

func TestLogin_MissingCredentials(t *testing.T) {
	h := newHarness(t, WithCredentials("", ""))

	assert.False(t, h.client.Login(context.Background(), staticPin("9876")))
	assert.Equal(t, 0, h.broker.Initiated())
}

func TestLogoutThenLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.True(t, h.client.Login(ctx, staticPin("9876")))
	require.NoError(t, h.client.Logout(ctx))

	assert.False(t, h.client.LoggedIn())
	assert.Equal(t, connection.StateDisconnected, h.client.State())
	_, found := h.store.Load()
	assert.False(t, found)

	t.Run("incomplete login persists nothing", func(t *testing.T) {
		ok := h.client.Login(ctx, func(ctx context.Context) (string, error) {
			return "", errors.New("user cancelled")
		})
		assert.False(t, ok)
		assert.Equal(t, 2, h.broker.Initiated(), "full handshake started again")
		_, found := h.store.Load()
		assert.False(t, found)
	})

	t.Run("complete login uses a new session", func(t *testing.T) {
		require.True(t, h.client.Login(ctx, staticPin("9876")))
		assert.Equal(t, 3, h.broker.Initiated())
		assert.Equal(t, "token-2", h.client.token())
	})
}

func TestSubscribe_WithoutSession(t *testing.T) {
	h := newHarness(t)
	id := h.client.Subscribe("ticker", map[string]any{"id": "X.LSX"}, func(*string) {})
	assert.Equal(t, InvalidID, id)
}

func TestSubscribe_Delivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.client.Login(ctx, staticPin("9876")))
	h.broker.Reply("ticker", `{"value":42}`)

	var durable, once atomic.Int32
	id := h.client.Subscribe("ticker", map[string]any{"id": "US0378331005.LSX"}, func(p *string) {
		if assert.NotNil(t, p) {
			assert.JSONEq(t, `{"value":42}`, *p)
		}
		durable.Add(1)
	})
	require.Greater(t, id, int64(0))

	onceID := h.client.SubscribeOnce("instrument", map[string]any{"id": "US0378331005"}, func(*string) {
		once.Add(1)
	})
	require.Greater(t, onceID, id)

	require.Eventually(t, func() bool {
		return durable.Load() == 1 && once.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.client.Unsubscribe(id)
	require.Eventually(t, func() bool {
		for _, f := range h.broker.Frames() {
			if f.Text == "unsub "+strconv.FormatInt(id, 10) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnect_ResubscribesWithCurrentToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.client.Login(ctx, staticPin("9876")))

	id := h.client.Subscribe("portfolio", nil, func(*string) {})
	require.Greater(t, id, int64(0))
	require.Eventually(t, func() bool {
		return len(h.broker.SubsWithToken("token-1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The session is replaced while connected, as after a re-authentication.
	h.broker.Accept("rotated")
	h.client.setSession(savedSession("rotated"))
	h.broker.DropAll()

	require.Eventually(t, func() bool {
		return h.broker.Connections() == 2 && h.client.State() == connection.StateOpen
	}, 2*time.Second, 10*time.Millisecond)

	// Give any duplicate a chance to arrive before counting.
	time.Sleep(50 * time.Millisecond)

	rotated := h.broker.SubsWithToken("rotated")
	require.Len(t, rotated, 1)
	assert.Equal(t, 2, rotated[0].Conn)
	assert.True(t, strings.HasPrefix(rotated[0].Text, "sub "+strconv.FormatInt(id, 10)+" "))
	assert.Len(t, h.broker.SubsWithToken("token-1"), 1, "old token never resent")
}

func TestClose_KeepsPersistedSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.client.Login(ctx, staticPin("9876")))

	require.NoError(t, h.client.Close(ctx))
	assert.Equal(t, connection.StateDisconnected, h.client.State())

	_, found := h.store.Load()
	assert.True(t, found)
}

func TestClose_WaitsForLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	asked := make(chan struct{})
	closed := make(chan error, 1)
	go func() {
		<-asked
		closed <- h.client.Close(ctx)
	}()

	ok := h.client.Login(ctx, func(ctx context.Context) (string, error) {
		close(asked)
		assert.Never(t, func() bool { return len(closed) > 0 }, 50*time.Millisecond, 5*time.Millisecond,
			"Close must not run while Login holds the session")
		return "9876", nil
	})
	require.True(t, ok)

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after Login")
	}
	assert.Equal(t, connection.StateDisconnected, h.client.State(), "Login must not reopen a closed client")
}

func TestNew_InvalidConnectionConfig(t *testing.T) {
	cfg := connection.DefaultConfig()
	cfg.URL = "http://example.com"
	_, err := New(WithConnectionConfig(cfg), WithLogger(log.Discard()))
	require.Error(t, err)
}

func TestClient_ID(t *testing.T) {
	h := newHarness(t)
	assert.Len(t, h.client.ID(), 36)
}
