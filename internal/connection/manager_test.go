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
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/trclient/internal/log"
)

// fakeBroker is a WebSocket server that records every frame it receives.
type fakeBroker struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	reject  atomic.Bool
	dials   atomic.Int32
	mu      sync.Mutex
	conns   []*websocket.Conn
	frames  []string
	onFrame func(conn *websocket.Conn, frame string)
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	b := &fakeBroker{t: t}
	b.server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(func() {
		b.dropAll()
		b.server.Close()
	})
	return b
}

func (b *fakeBroker) handle(w http.ResponseWriter, r *http.Request) {
	b.dials.Add(1)
	if b.reject.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		b.mu.Lock()
		b.frames = append(b.frames, string(data))
		hook := b.onFrame
		b.mu.Unlock()
		if hook != nil {
			hook(conn, string(data))
		}
	}
}

func (b *fakeBroker) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func (b *fakeBroker) received() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.frames...)
}

func (b *fakeBroker) connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// dropAll closes every server-side socket without a close handshake.
func (b *fakeBroker) dropAll() {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (b *fakeBroker) push(frame string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		c.WriteMessage(websocket.TextMessage, []byte(frame))
	}
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.ConnectTimeout = time.Second
	cfg.KeepAliveInterval = time.Hour
	cfg.CloseGrace = 200 * time.Millisecond
	cfg.BackoffBase = 10 * time.Millisecond
	cfg.BackoffMax = 40 * time.Millisecond
	return cfg
}

func newTestManager(t *testing.T, cfg Config, hooks Hooks, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	m, err := New(cfg, hooks, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"http scheme", func(c *Config) { c.URL = "https://example.com" }},
		{"zero version", func(c *Config) { c.ProtocolVersion = 0 }},
		{"empty locale", func(c *Config) { c.Locale = "" }},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = 0 }},
		{"zero keep-alive", func(c *Config) { c.KeepAliveInterval = 0 }},
		{"max below base", func(c *Config) { c.BackoffMax = c.BackoffBase / 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConnect_SendsHandshake(t *testing.T) {
	broker := newFakeBroker(t)
	m := newTestManager(t, testConfig(broker.url()), Hooks{})

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateOpen, m.State())

	require.Eventually(t, func() bool { return len(broker.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, `connect 31 {"locale":"en"}`, broker.received()[0])
}

func TestConnect_IdempotentWhenOpen(t *testing.T) {
	broker := newFakeBroker(t)
	m := newTestManager(t, testConfig(broker.url()), Hooks{})

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, int32(1), broker.dials.Load())
}

func TestSend_QueuedUntilOpen(t *testing.T) {
	broker := newFakeBroker(t)
	m := newTestManager(t, testConfig(broker.url()), Hooks{})

	require.NoError(t, m.Send(`sub 1 {"type":"cash"}`))
	assert.Equal(t, 1, m.Pending())

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 0, m.Pending())

	require.Eventually(t, func() bool { return len(broker.received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`connect 31 {"locale":"en"}`, `sub 1 {"type":"cash"}`}, broker.received())
}

func TestSendFunc_SkipsDeclinedFrames(t *testing.T) {
	broker := newFakeBroker(t)
	m := newTestManager(t, testConfig(broker.url()), Hooks{})

	require.NoError(t, m.SendFunc(func() (string, bool) { return "", false }))
	require.NoError(t, m.SendFunc(func() (string, bool) { return "unsub 3", true }))
	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool { return len(broker.received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "unsub 3", broker.received()[1])
}

func TestSendIfOpen(t *testing.T) {
	broker := newFakeBroker(t)
	m := newTestManager(t, testConfig(broker.url()), Hooks{})

	sent, err := m.SendIfOpen("unsub 1")
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 0, m.Pending())

	require.NoError(t, m.Connect(context.Background()))
	sent, err = m.SendIfOpen("unsub 1")
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestOnOpen_RunsBeforeQueuedSends(t *testing.T) {
	broker := newFakeBroker(t)
	m := newTestManager(t, testConfig(broker.url()), Hooks{
		OnOpen: func(send func(string) error) {
			send("sub 1 resubscribe")
		},
	})

	require.NoError(t, m.Send("sub 2 queued"))
	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool { return len(broker.received()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`connect 31 {"locale":"en"}`, "sub 1 resubscribe", "sub 2 queued"}, broker.received())
}

func TestOnFrame(t *testing.T) {
	broker := newFakeBroker(t)

	var mu sync.Mutex
	var got []string
	m := newTestManager(t, testConfig(broker.url()), Hooks{
		OnFrame: func(text string) {
			mu.Lock()
			got = append(got, text)
			mu.Unlock()
		},
	})
	require.NoError(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool { return broker.connections() == 1 }, time.Second, 5*time.Millisecond)

	broker.push(`1 {"a":1}`)
	broker.push(`1 {"a":2}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`1 {"a":1}`, `1 {"a":2}`}, got)
}

func TestKeepAlive(t *testing.T) {
	broker := newFakeBroker(t)
	cfg := testConfig(broker.url())
	cfg.KeepAliveInterval = 10 * time.Millisecond
	m := newTestManager(t, cfg, Hooks{})

	require.NoError(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool {
		for _, f := range broker.received() {
			if strings.HasPrefix(f, "echo ") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestReconnect_ResubscribesOnce(t *testing.T) {
	broker := newFakeBroker(t)

	var opens atomic.Int32
	m := newTestManager(t, testConfig(broker.url()), Hooks{
		OnOpen: func(send func(string) error) {
			opens.Add(1)
			send("sub 1 ticker")
		},
	})

	require.NoError(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool { return len(broker.received()) == 2 }, time.Second, 5*time.Millisecond)

	broker.dropAll()

	require.Eventually(t, func() bool {
		return opens.Load() == 2 && m.State() == StateOpen
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(broker.received()) == 4 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{
		`connect 31 {"locale":"en"}`, "sub 1 ticker",
		`connect 31 {"locale":"en"}`, "sub 1 ticker",
	}, broker.received())
	assert.Equal(t, 0, m.Attempts())
}

func TestBackoff_NonDecreasingAndResets(t *testing.T) {
	broker := newFakeBroker(t)
	broker.reject.Store(true)

	var mu sync.Mutex
	var delays []time.Duration
	cfg := testConfig(broker.url())
	m := newTestManager(t, cfg, Hooks{
		OnReconnectScheduled: func(attempt int, delay time.Duration) {
			mu.Lock()
			delays = append(delays, delay)
			mu.Unlock()
		},
	})
	snapshot := func() []time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Duration(nil), delays...)
	}

	require.Error(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool { return len(snapshot()) >= 5 }, 2*time.Second, 5*time.Millisecond)

	got := snapshot()
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
	}, got[:4])
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i], got[i-1])
	}

	broker.reject.Store(false)
	require.Eventually(t, func() bool { return m.State() == StateOpen }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.Attempts())

	before := len(snapshot())
	broker.dropAll()
	require.Eventually(t, func() bool { return len(snapshot()) > before }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, cfg.BackoffBase, snapshot()[before])
}

type blockingDialer struct{}

func (blockingDialer) DialContext(ctx context.Context, _ string, _ http.Header) (*websocket.Conn, *http.Response, error) {
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func TestConnect_Timeout(t *testing.T) {
	cfg := testConfig("wss://example.invalid")
	cfg.ConnectTimeout = 20 * time.Millisecond
	cfg.BackoffBase = time.Hour
	cfg.BackoffMax = time.Hour
	m := newTestManager(t, cfg, Hooks{}, WithDialer(blockingDialer{}))

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectionTimeout)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 1, m.Attempts())
}

func TestConnect_ContextCancelledIsNotTimeout(t *testing.T) {
	cfg := testConfig("wss://example.invalid")
	cfg.BackoffBase = time.Hour
	cfg.BackoffMax = time.Hour
	m := newTestManager(t, cfg, Hooks{}, WithDialer(blockingDialer{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Connect(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrConnectionTimeout))
}

func TestClose_CancelsReconnect(t *testing.T) {
	broker := newFakeBroker(t)
	broker.reject.Store(true)

	cfg := testConfig(broker.url())
	cfg.BackoffBase = 50 * time.Millisecond
	cfg.BackoffMax = 50 * time.Millisecond
	m := newTestManager(t, cfg, Hooks{})

	require.Error(t, m.Connect(context.Background()))
	require.Equal(t, 1, m.Attempts())

	require.NoError(t, m.Close(context.Background()))
	dials := broker.dials.Load()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, dials, broker.dials.Load())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestClose_NoReconnectAfterTeardown(t *testing.T) {
	broker := newFakeBroker(t)
	m := newTestManager(t, testConfig(broker.url()), Hooks{})

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, StateDisconnected, m.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), broker.dials.Load())
	assert.Equal(t, 0, m.Attempts())
}

func TestClose_ThenReconnect(t *testing.T) {
	broker := newFakeBroker(t)
	m := newTestManager(t, testConfig(broker.url()), Hooks{})

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateOpen, m.State())
	assert.Equal(t, int32(2), broker.dials.Load())
}

func TestClose_DropsQueuedSends(t *testing.T) {
	m := newTestManager(t, testConfig("ws://127.0.0.1:1"), Hooks{})

	require.NoError(t, m.Send("sub 1 x"))
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, 0, m.Pending())
}

func TestSendError(t *testing.T) {
	inner := errors.New("broken pipe")
	err := &SendError{Frame: "echo", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "send echo frame: broken pipe", err.Error())
	assert.Equal(t, "sub", frameType("sub 1 {}"))
	assert.Equal(t, "unsub", frameType("unsub"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closing", StateClosing.String())
}
