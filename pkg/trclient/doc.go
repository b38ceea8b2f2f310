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

// Package trclient is a client for the brokerage's private HTTP and
// WebSocket API.
//
// Login restores a persisted session when one exists and the server still
// accepts it, and otherwise performs the two-step PIN handshake. Once
// logged in, Subscribe and SubscribeOnce multiplex topics over a single
// WebSocket that reconnects with backoff and resubscribes transparently.
//
// Example:
//
//	c, err := trclient.New(
//	    trclient.WithCredentials("+4915112345678", "1234"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer c.Close(context.Background())
//
//	if !c.Login(ctx, askDevicePin) {
//	    return errors.New("login failed")
//	}
//
//	id := c.Subscribe("ticker", map[string]any{"id": "US0378331005.LSX"}, func(payload *string) {
//	    if payload != nil {
//	        fmt.Println(*payload)
//	    }
//	})
//	defer c.Unsubscribe(id)
package trclient
