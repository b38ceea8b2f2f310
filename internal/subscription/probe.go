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

package subscription

import (
	"context"
	"strings"
	"time"

	"github.com/tombee/trclient/internal/log"
)

const (
	// AuthErrorMarker appears in payloads rejected for an invalid token.
	AuthErrorMarker = "AUTHENTICATION_ERROR"

	// DefaultProbeTopic is a cheap topic used to validate a restored session.
	DefaultProbeTopic = "availableCash"

	// DefaultProbeTimeout bounds the wait for the probe payload.
	DefaultProbeTimeout = 7 * time.Second
)

// Probe subscribes once to topic and reports whether a payload without
// the authentication error marker arrives within timeout. On timeout or
// cancellation the probe subscription is removed.
func (r *Registry) Probe(ctx context.Context, topic string, params any, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	result := make(chan bool, 1)
	id := r.Subscribe(topic, params, func(payload *string) {
		ok := payload != nil && !strings.Contains(*payload, AuthErrorMarker)
		select {
		case result <- ok:
		default:
		}
	}, true)
	if id == InvalidID {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case ok := <-result:
		if !ok {
			r.logger.Warn("session probe rejected", log.SubscriptionIDKey, id, log.TopicKey, topic)
		}
		return ok
	case <-ctx.Done():
		r.Unsubscribe(id)
		r.logger.Warn("session probe timed out", log.SubscriptionIDKey, id, log.TopicKey, topic,
			log.DurationKey, timeout.Milliseconds())
		return false
	}
}
