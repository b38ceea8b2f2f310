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

// Package metrics holds the Prometheus collectors for the client.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// framesReceived tracks inbound frames by kind
	framesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trclient_frames_received_total",
			Help: "Total inbound WebSocket frames by kind",
		},
		[]string{"kind"},
	)

	// framesUnrouted tracks data frames that matched no live subscription
	framesUnrouted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trclient_frames_unrouted_total",
			Help: "Total data frames dropped because no subscription matched",
		},
	)

	// subscriptionsCreated tracks subscribe calls that registered an entry
	subscriptionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trclient_subscriptions_created_total",
			Help: "Total subscriptions registered by mode",
		},
		[]string{"mode"},
	)

	// subscriptionsRemoved tracks registry removals
	subscriptionsRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trclient_subscriptions_removed_total",
			Help: "Total subscriptions removed by reason",
		},
		[]string{"reason"},
	)

	// subscriptionsActive tracks live registry entries
	subscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trclient_subscriptions_active",
			Help: "Number of live subscriptions",
		},
	)

	// reconnectsScheduled tracks reconnect attempts
	reconnectsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trclient_reconnects_scheduled_total",
			Help: "Total reconnect attempts scheduled after an unexpected close",
		},
	)

	// sendFailures tracks socket writes that failed
	sendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trclient_send_failures_total",
			Help: "Total failed socket writes by frame type",
		},
		[]string{"frame"},
	)

	// logins tracks login outcomes
	logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trclient_logins_total",
			Help: "Total login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// connectionState is the numeric connection state
	connectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trclient_connection_state",
			Help: "Connection state (0 disconnected, 1 connecting, 2 open, 3 closing)",
		},
	)
)

// Subscription modes.
const (
	ModeDurable = "durable"
	ModeOnce    = "once"
)

// Removal reasons.
const (
	RemovedUnsubscribe = "unsubscribe"
	RemovedDelivered   = "delivered"
	RemovedTeardown    = "teardown"
)

// Login outcomes.
const (
	LoginRestored = "restored"
	LoginFull     = "full"
	LoginFailed   = "failed"
)

// RecordFrame increments the inbound frame counter.
func RecordFrame(kind string) {
	framesReceived.WithLabelValues(kind).Inc()
}

// RecordUnrouted increments the unrouted frame counter.
func RecordUnrouted() {
	framesUnrouted.Inc()
}

// RecordSubscribed counts a new subscription.
func RecordSubscribed(mode string) {
	subscriptionsCreated.WithLabelValues(mode).Inc()
	subscriptionsActive.Inc()
}

// RecordUnsubscribed counts n removed subscriptions.
func RecordUnsubscribed(reason string, n int) {
	if n <= 0 {
		return
	}
	subscriptionsRemoved.WithLabelValues(reason).Add(float64(n))
	subscriptionsActive.Sub(float64(n))
}

// RecordReconnectScheduled increments the reconnect counter.
func RecordReconnectScheduled() {
	reconnectsScheduled.Inc()
}

// RecordSendFailure increments the send failure counter.
func RecordSendFailure(frame string) {
	sendFailures.WithLabelValues(frame).Inc()
}

// RecordLogin increments the login outcome counter.
func RecordLogin(outcome string) {
	logins.WithLabelValues(outcome).Inc()
}

// SetConnectionState sets the connection state gauge.
func SetConnectionState(state int) {
	connectionState.Set(float64(state))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
