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

// Package connection manages the single WebSocket to the brokerage.
//
// A Manager moves through Disconnected, Connecting, Open and Closing. On
// open it sends the connect handshake, starts the echo keep-alive, runs the
// OnOpen hook and flushes sends queued while disconnected. An unexpected
// close schedules a reconnect with exponential backoff (base doubling up to
// a cap, no attempt limit). Close cancels any scheduled reconnect.
//
// Example:
//
//	m, err := connection.New(connection.DefaultConfig(), connection.Hooks{
//	    OnOpen:  func(send func(string) error) { registry.ResubscribeAll(send) },
//	    OnFrame: router.Route,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := m.Connect(ctx); err != nil {
//	    return err
//	}
//	defer m.Close(context.Background())
package connection
