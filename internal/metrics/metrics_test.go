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

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFrame(t *testing.T) {
	for _, kind := range []string{"control", "data", "unknown"} {
		t.Run(kind, func(t *testing.T) {
			before := testutil.ToFloat64(framesReceived.With(prometheus.Labels{"kind": kind}))
			RecordFrame(kind)
			after := testutil.ToFloat64(framesReceived.With(prometheus.Labels{"kind": kind}))
			assert.Equal(t, before+1, after)
		})
	}
}

func TestSubscriptionGauge(t *testing.T) {
	before := testutil.ToFloat64(subscriptionsActive)

	RecordSubscribed(ModeDurable)
	RecordSubscribed(ModeOnce)
	RecordSubscribed(ModeDurable)
	assert.Equal(t, before+3, testutil.ToFloat64(subscriptionsActive))

	removedBefore := testutil.ToFloat64(subscriptionsRemoved.With(prometheus.Labels{"reason": RemovedTeardown}))
	RecordUnsubscribed(RemovedTeardown, 3)
	RecordUnsubscribed(RemovedTeardown, 0)
	assert.Equal(t, before, testutil.ToFloat64(subscriptionsActive))
	assert.Equal(t, removedBefore+3, testutil.ToFloat64(subscriptionsRemoved.With(prometheus.Labels{"reason": RemovedTeardown})))
}

func TestCounters(t *testing.T) {
	reconnects := testutil.ToFloat64(reconnectsScheduled)
	RecordReconnectScheduled()
	assert.Equal(t, reconnects+1, testutil.ToFloat64(reconnectsScheduled))

	sends := testutil.ToFloat64(sendFailures.With(prometheus.Labels{"frame": "echo"}))
	RecordSendFailure("echo")
	assert.Equal(t, sends+1, testutil.ToFloat64(sendFailures.With(prometheus.Labels{"frame": "echo"})))

	failed := testutil.ToFloat64(logins.With(prometheus.Labels{"outcome": LoginFailed}))
	RecordLogin(LoginFailed)
	assert.Equal(t, failed+1, testutil.ToFloat64(logins.With(prometheus.Labels{"outcome": LoginFailed})))

	unrouted := testutil.ToFloat64(framesUnrouted)
	RecordUnrouted()
	assert.Equal(t, unrouted+1, testutil.ToFloat64(framesUnrouted))

	SetConnectionState(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(connectionState))
}

func TestHandler(t *testing.T) {
	RecordLogin(LoginRestored)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "trclient_logins_total"))
}
