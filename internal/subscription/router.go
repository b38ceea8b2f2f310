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
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tombee/trclient/internal/log"
	"github.com/tombee/trclient/internal/metrics"
	"github.com/tombee/trclient/internal/wire"
)

var failureMarkers = []string{"error", strings.ToLower(AuthErrorMarker)}

// Router dispatches inbound frames to the registry.
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRouter creates a router delivering into registry.
func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		logger:   log.WithComponent(log.OrDefault(logger), "router"),
	}
}

// Route parses raw and delivers it. Frames for ids with no live
// subscription are dropped.
func (rt *Router) Route(raw string) {
	f := wire.Parse(raw)
	metrics.RecordFrame(f.Kind.String())

	if f.Kind == wire.KindControl {
		log.Trace(rt.logger, "control frame", slog.String("frame", raw))
		return
	}

	if !f.HasID {
		if looksLikeFailure(raw) {
			rt.logger.Warn("server reported a failure", slog.String("frame", raw))
			return
		}
		log.Trace(rt.logger, "dropping frame without id", slog.String("frame", raw))
		return
	}

	var payload *string
	if json.Valid([]byte(f.Body)) {
		body := f.Body
		payload = &body
	}

	if !rt.registry.Deliver(f.ID, payload) {
		metrics.RecordUnrouted()
		log.Trace(rt.logger, "no subscription for frame", slog.Int64(log.SubscriptionIDKey, f.ID))
	}
}

func looksLikeFailure(raw string) bool {
	lower := strings.ToLower(raw)
	for _, m := range failureMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
