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
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/eapache/queue"
	"github.com/gorilla/websocket"

	"github.com/tombee/trclient/internal/log"
	"github.com/tombee/trclient/internal/metrics"
	"github.com/tombee/trclient/internal/wire"
)

// writeWait bounds a single frame write.
const writeWait = 10 * time.Second

// Dialer opens the WebSocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Hooks are invoked by the manager. They must not call Close or Connect
// synchronously.
type Hooks struct {
	// OnOpen runs once per successful open, after the connect handshake and
	// before queued sends are flushed. send writes directly to the new
	// socket.
	OnOpen func(send func(text string) error)

	// OnFrame receives every inbound text frame in wire order from the
	// single read goroutine.
	OnFrame func(text string)

	// OnReconnectScheduled is called with the lock held each time a
	// reconnect is scheduled.
	OnReconnectScheduled func(attempt int, delay time.Duration)
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the default gorilla dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// attempt is one in-flight connect, from dial until the state becomes
// Open or the attempt fails.
type attempt struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// link is one live socket and the goroutines bound to it.
type link struct {
	conn     *websocket.Conn
	stop     chan struct{}
	stopOnce sync.Once
	readDone chan struct{}
}

func newLink(conn *websocket.Conn) *link {
	return &link{
		conn:     conn,
		stop:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

func (l *link) shutdown() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Manager owns the single WebSocket connection.
type Manager struct {
	cfg    Config
	hooks  Hooks
	dialer Dialer
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	link     *link
	current  *attempt
	closed   bool
	pending  *queue.Queue
	attempts int
	backoff  *backoff.ExponentialBackOff
	timer    *time.Timer
	timerSeq uint64

	writeMu sync.Mutex
}

// New creates a manager in the Disconnected state.
func New(cfg Config, hooks Hooks, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffBase
	b.MaxInterval = cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	m := &Manager{
		cfg:     cfg,
		hooks:   hooks,
		pending: queue.New(),
		backoff: b,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.logger = log.WithComponent(log.OrDefault(m.logger), "connection")
	if m.dialer == nil {
		m.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		}
	}

	return m, nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of reconnects scheduled since the last
// successful open.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Pending returns the number of queued sends.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.Length()
}

// Connect opens the connection and blocks until it is Open or the attempt
// fails. It is a no-op when already Open and joins an attempt already in
// flight. A failed attempt schedules a reconnect unless Close is called.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateOpen:
		m.mu.Unlock()
		return nil
	case StateClosing:
		m.mu.Unlock()
		return ErrClosing
	case StateConnecting:
		a := m.current
		m.mu.Unlock()
		return await(ctx, a)
	}

	m.closed = false
	m.stopReconnectLocked()
	a := m.beginAttemptLocked(ctx)
	m.mu.Unlock()

	m.run(a)
	return await(ctx, a)
}

func await(ctx context.Context, a *attempt) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) beginAttemptLocked(parent context.Context) *attempt {
	ctx, cancel := context.WithCancel(parent)
	a := &attempt{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	m.current = a
	m.setStateLocked(StateConnecting)
	return a
}

func (m *Manager) finishAttemptLocked(a *attempt, err error) {
	if m.current != a {
		return
	}
	m.current = nil
	a.err = err
	a.cancel()
	close(a.done)

	if err == nil {
		m.setStateLocked(StateOpen)
	} else {
		m.setStateLocked(StateDisconnected)
	}
}

// run dials, performs the handshake, resubscribes and flushes.
func (m *Manager) run(a *attempt) {
	start := time.Now()
	dialCtx, cancel := context.WithTimeout(a.ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := m.dialer.DialContext(dialCtx, m.cfg.URL, m.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if a.ctx.Err() == nil && errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrConnectionTimeout, m.cfg.ConnectTimeout, err)
		} else {
			err = fmt.Errorf("dial %s: %w", m.cfg.URL, err)
		}
		m.fail(a, err)
		return
	}

	m.mu.Lock()
	if m.current != a {
		m.mu.Unlock()
		conn.Close()
		return
	}
	l := newLink(conn)
	m.link = l
	m.attempts = 0
	m.backoff.Reset()
	m.mu.Unlock()

	go m.readLoop(l)

	frame, err := wire.FormatConnect(m.cfg.ProtocolVersion, m.cfg.Locale)
	if err == nil {
		err = m.write(l, frame)
	}
	if err != nil {
		m.drop(l, fmt.Errorf("connect handshake: %w", err))
		return
	}

	go m.keepAlive(l)

	if m.hooks.OnOpen != nil {
		m.hooks.OnOpen(func(text string) error {
			return m.write(l, text)
		})
	}

	if m.flush(a, l) {
		m.logger.Info("connected",
			"url", m.cfg.URL,
			log.DurationKey, time.Since(start).Milliseconds(),
		)
	}
}

// flush drains the pending queue onto l and then enters Open. Sends queued
// while flushing are drained too, so nothing is left behind once the state
// is Open.
func (m *Manager) flush(a *attempt, l *link) bool {
	flushed := 0
	for {
		m.mu.Lock()
		if m.link != l || m.current != a {
			m.mu.Unlock()
			return false
		}
		if m.pending.Length() == 0 {
			m.finishAttemptLocked(a, nil)
			m.mu.Unlock()
			if flushed > 0 {
				m.logger.Debug("flushed queued sends", "count", flushed)
			}
			return true
		}
		build := m.pending.Remove().(func() (string, bool))
		m.mu.Unlock()

		text, ok := build()
		if !ok {
			continue
		}
		if err := m.write(l, text); err != nil {
			metrics.RecordSendFailure(frameType(text))
			m.logger.Warn("failed to flush queued send", log.Error(err))
			return false
		}
		flushed++
	}
}

// fail ends a in error and schedules a reconnect unless closed.
func (m *Manager) fail(a *attempt, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != a {
		return
	}
	m.finishAttemptLocked(a, err)
	m.logger.Warn("connect attempt failed", log.Error(err))
	if !m.closed {
		m.scheduleReconnectLocked()
	}
}

// drop tears l down after an unexpected close or error.
func (m *Manager) drop(l *link, err error) {
	m.mu.Lock()
	if m.link != l {
		m.mu.Unlock()
		return
	}
	m.link = nil
	l.shutdown()
	if m.current != nil {
		m.finishAttemptLocked(m.current, err)
	}
	m.setStateLocked(StateDisconnected)
	m.logger.Warn("connection lost", log.Error(err))
	if !m.closed {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	l.conn.Close()
}

func (m *Manager) scheduleReconnectLocked() {
	delay := m.backoff.NextBackOff()
	m.attempts++
	m.timerSeq++
	seq := m.timerSeq

	metrics.RecordReconnectScheduled()
	m.logger.Info("reconnect scheduled",
		log.AttemptKey, m.attempts,
		log.DurationKey, delay.Milliseconds(),
	)
	if m.hooks.OnReconnectScheduled != nil {
		m.hooks.OnReconnectScheduled(m.attempts, delay)
	}

	m.timer = time.AfterFunc(delay, func() { m.reconnect(seq) })
}

func (m *Manager) stopReconnectLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
}

func (m *Manager) reconnect(seq uint64) {
	m.mu.Lock()
	if m.closed || seq != m.timerSeq || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	a := m.beginAttemptLocked(context.Background())
	m.mu.Unlock()

	m.run(a)
}

func (m *Manager) readLoop(l *link) {
	defer close(l.readDone)
	for {
		msgType, data, err := l.conn.ReadMessage()
		if err != nil {
			m.drop(l, err)
			return
		}
		if msgType != websocket.TextMessage || !m.isCurrent(l) {
			continue
		}
		log.Trace(m.logger, "frame received", slog.Int("bytes", len(data)))
		if m.hooks.OnFrame != nil {
			m.hooks.OnFrame(string(data))
		}
	}
}

func (m *Manager) isCurrent(l *link) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link == l
}

func (m *Manager) keepAlive(l *link) {
	ticker := time.NewTicker(m.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			if m.State() != StateOpen {
				continue
			}
			if err := m.write(l, wire.FormatEcho(now)); err != nil {
				metrics.RecordSendFailure("echo")
				m.logger.Warn("keep-alive failed", log.Error(err))
			}
		}
	}
}

// write sends one text frame on l. A failed write closes the socket so the
// read loop observes the loss.
func (m *Manager) write(l *link, text string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := l.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		l.conn.Close()
		return &SendError{Frame: frameType(text), Err: err}
	}
	return nil
}

// Send writes text now when Open and otherwise queues it for the next open.
func (m *Manager) Send(text string) error {
	return m.SendFunc(func() (string, bool) { return text, true })
}

// SendFunc writes the frame built by build now when Open. Otherwise build is
// queued and called when the next connection opens, so the frame reflects
// state at that time. build returns false to skip the send.
func (m *Manager) SendFunc(build func() (string, bool)) error {
	m.mu.Lock()
	if m.state != StateOpen || m.link == nil {
		m.pending.Add(build)
		n := m.pending.Length()
		m.mu.Unlock()
		m.logger.Debug("send queued until open", "pending", n)
		return nil
	}
	l := m.link
	m.mu.Unlock()

	text, ok := build()
	if !ok {
		return nil
	}
	if err := m.write(l, text); err != nil {
		metrics.RecordSendFailure(frameType(text))
		return err
	}
	return nil
}

// SendIfOpen writes text only when Open. It reports whether the frame was
// written.
func (m *Manager) SendIfOpen(text string) (bool, error) {
	m.mu.Lock()
	if m.state != StateOpen || m.link == nil {
		m.mu.Unlock()
		return false, nil
	}
	l := m.link
	m.mu.Unlock()

	if err := m.write(l, text); err != nil {
		metrics.RecordSendFailure(frameType(text))
		return false, err
	}
	return true, nil
}

// Close tears the connection down from any state. It cancels a pending
// reconnect or in-flight attempt, sends a close frame and waits up to
// CloseGrace for the peer before force-closing. Queued sends are dropped.
// The manager can be reconnected afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.stopReconnectLocked()
	if m.current != nil {
		m.finishAttemptLocked(m.current, ErrClosed)
	}
	l := m.link
	m.link = nil
	if dropped := m.pending.Length(); dropped > 0 {
		m.logger.Debug("dropping queued sends", "count", dropped)
		m.pending = queue.New()
	}
	if l == nil {
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return nil
	}
	l.shutdown()
	m.setStateLocked(StateClosing)
	m.mu.Unlock()

	deadline := time.Now().Add(m.cfg.CloseGrace)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := l.conn.WriteControl(websocket.CloseMessage, msg, deadline); err == nil {
		grace := time.NewTimer(m.cfg.CloseGrace)
		select {
		case <-l.readDone:
		case <-grace.C:
			m.logger.Debug("close grace elapsed, forcing close")
		case <-ctx.Done():
		}
		grace.Stop()
	}
	l.conn.Close()
	<-l.readDone

	m.mu.Lock()
	if m.link == nil && m.current == nil {
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()

	m.logger.Info("connection closed")
	return nil
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("state change", "from", m.state.String(), log.StateKey, s.String())
	m.state = s
	metrics.SetConnectionState(int(s))
}
