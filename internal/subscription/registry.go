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

// Package subscription multiplexes logical subscriptions over one socket.
//
// The Registry assigns ids, builds sub/unsub frames and delivers inbound
// payloads to callbacks. The Router turns raw frames into deliveries.
package subscription

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tombee/trclient/internal/log"
	"github.com/tombee/trclient/internal/metrics"
	"github.com/tombee/trclient/internal/wire"
)

// InvalidID is returned by Subscribe when no subscription was created.
const InvalidID int64 = -1

// ErrNoSession is logged when Subscribe is called without a session token.
var ErrNoSession = errors.New("subscription: no session token")

// Callback receives a payload. payload is nil when the frame carried no
// parseable body.
type Callback func(payload *string)

// TokenSource returns the current session token, or "" when there is none.
type TokenSource func() string

// Sender is the write side of the connection.
type Sender interface {
	// SendFunc writes the frame built by build now if the connection is
	// open, otherwise queues build until the next open. build returns
	// false to skip the write.
	SendFunc(build func() (string, bool)) error

	// SendIfOpen writes text only if the connection is open.
	SendIfOpen(text string) (bool, error)
}

// Entry is a registered subscription.
type Entry struct {
	ID       int64
	Topic    string
	Params   any
	Callback Callback
	OneTime  bool

	// claimed is set once the sub frame has been handed to the wire. From
	// then on ResubscribeAll owns re-sending it.
	claimed bool
	// firing guards one-time entries against a second delivery.
	firing bool
}

// Registry maps subscription ids to entries.
type Registry struct {
	mu      sync.Mutex
	lastID  int64
	entries map[int64]*Entry

	token  TokenSource
	sender Sender
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(token TokenSource, sender Sender, logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[int64]*Entry),
		token:   token,
		sender:  sender,
		logger:  log.WithComponent(log.OrDefault(logger), "subscription"),
	}
}

// Subscribe registers a subscription and sends its sub frame, queuing it
// when the connection is not open. It returns InvalidID when there is no
// session token or params cannot be merged into the payload.
func (r *Registry) Subscribe(topic string, params any, cb Callback, oneTime bool) int64 {
	token := r.token()
	if token == "" {
		r.logger.Error("subscribe called without a session", log.TopicKey, topic, log.Error(ErrNoSession))
		return InvalidID
	}
	if _, err := wire.SubscribePayload(token, topic, params); err != nil {
		r.logger.Error("invalid subscription params", log.TopicKey, topic, log.Error(err))
		return InvalidID
	}

	r.mu.Lock()
	r.lastID++
	id := r.lastID
	r.entries[id] = &Entry{
		ID:       id,
		Topic:    topic,
		Params:   params,
		Callback: cb,
		OneTime:  oneTime,
	}
	r.mu.Unlock()

	mode := metrics.ModeDurable
	if oneTime {
		mode = metrics.ModeOnce
	}
	metrics.RecordSubscribed(mode)
	r.logger.Debug("subscribed", log.SubscriptionIDKey, id, log.TopicKey, topic, "once", oneTime)

	if err := r.sender.SendFunc(func() (string, bool) { return r.claim(id) }); err != nil {
		metrics.RecordSendFailure("sub")
		r.logger.Warn("sub frame not sent, will resend on reconnect",
			log.SubscriptionIDKey, id, log.Error(err))
	}

	return id
}

// claim marks the entry as handed to the wire and builds its frame with
// the token current at call time.
func (r *Registry) claim(id int64) (string, bool) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.claimed {
		r.mu.Unlock()
		return "", false
	}
	e.claimed = true
	topic, params := e.Topic, e.Params
	r.mu.Unlock()

	frame, err := r.frame(id, topic, params)
	if err != nil {
		r.logger.Warn("failed to build sub frame", log.SubscriptionIDKey, id, log.Error(err))
		return "", false
	}
	return frame, true
}

func (r *Registry) frame(id int64, topic string, params any) (string, error) {
	token := r.token()
	if token == "" {
		return "", ErrNoSession
	}
	payload, err := wire.SubscribePayload(token, topic, params)
	if err != nil {
		return "", fmt.Errorf("failed to build payload: %w", err)
	}
	return wire.FormatSub(id, payload), nil
}

// Unsubscribe removes the entry and sends unsub when connected. Unknown
// ids are ignored.
func (r *Registry) Unsubscribe(id int64) {
	if !r.remove(id) {
		return
	}
	metrics.RecordUnsubscribed(metrics.RemovedUnsubscribe, 1)
	r.logger.Debug("unsubscribed", log.SubscriptionIDKey, id)

	if _, err := r.sender.SendIfOpen(wire.FormatUnsub(id)); err != nil {
		metrics.RecordSendFailure("unsub")
		r.logger.Warn("failed to send unsub", log.SubscriptionIDKey, id, log.Error(err))
	}
}

func (r *Registry) remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// ResubscribeAll re-sends the sub frame of every claimed entry in id order
// using the current token. Entries still waiting in the send queue are
// left to it. Failures are logged and skipped. It returns the number of
// frames written.
func (r *Registry) ResubscribeAll(send func(string) error) int {
	r.mu.Lock()
	type item struct {
		id     int64
		topic  string
		params any
	}
	items := make([]item, 0, len(r.entries))
	for id, e := range r.entries {
		if e.claimed {
			items = append(items, item{id: id, topic: e.Topic, params: e.Params})
		}
	}
	r.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].id < items[j].id })

	sent := 0
	for _, it := range items {
		frame, err := r.frame(it.id, it.topic, it.params)
		if err != nil {
			r.logger.Warn("skipping resubscribe", log.SubscriptionIDKey, it.id, log.Error(err))
			continue
		}
		if err := send(frame); err != nil {
			metrics.RecordSendFailure("sub")
			r.logger.Warn("resubscribe failed", log.SubscriptionIDKey, it.id, log.Error(err))
			continue
		}
		sent++
	}

	if len(items) > 0 {
		r.logger.Info("resubscribed", "count", sent, "total", len(items))
	}
	return sent
}

// Deliver invokes the callback registered under id. It reports whether a
// live entry matched. One-time entries are removed after their callback
// returns and never fire twice.
func (r *Registry) Deliver(id int64, payload *string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if e.OneTime {
		if e.firing {
			r.mu.Unlock()
			return true
		}
		e.firing = true
	}
	cb := e.Callback
	r.mu.Unlock()

	r.invoke(id, cb, payload)

	if e.OneTime && r.remove(id) {
		metrics.RecordUnsubscribed(metrics.RemovedDelivered, 1)
	}
	return true
}

func (r *Registry) invoke(id int64, cb Callback, payload *string) {
	if cb == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("subscription callback panicked",
				log.SubscriptionIDKey, id, "panic", fmt.Sprint(rec))
		}
	}()
	cb(payload)
}

// Clear removes every entry without sending unsub frames and returns how
// many were removed.
func (r *Registry) Clear() int {
	r.mu.Lock()
	n := len(r.entries)
	r.entries = make(map[int64]*Entry)
	r.mu.Unlock()

	metrics.RecordUnsubscribed(metrics.RemovedTeardown, n)
	return n
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Get returns a copy of the entry registered under id.
func (r *Registry) Get(id int64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
