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

// Package brokertest runs a fake brokerage for tests: the login REST API
// and the WebSocket sub-protocol, both on loopback.
//
// Verifying any device PIN other than RejectedDevicePin issues a new token
// "token-<n>". Sub frames carrying an accepted token are answered with the
// bodies registered for their topic (or {} when none are), sub frames
// carrying an ignored token get no answer, and any other token is answered
// with an authentication error.
package brokertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
)

const (
	// ProcessID is returned by every login initiation.
	ProcessID = "proc-1"

	// RejectedDevicePin fails verification with 400.
	RejectedDevicePin = "0000"

	loginPath = "/api/v1/auth/web/login"
)

// Frame is a frame received on one connection. Conn counts from 1.
type Frame struct {
	Conn int
	Text string
}

// Server is a fake brokerage.
type Server struct {
	auth *httptest.Server
	ws   *httptest.Server

	upgrader websocket.Upgrader
	initiate atomic.Int32
	verified atomic.Int32

	mu      sync.Mutex
	valid   map[string]bool
	ignored map[string]bool
	replies map[string][]string
	conns   []*websocket.Conn
	frames  []Frame
}

// New starts a server that is shut down when t ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		valid:   make(map[string]bool),
		ignored: make(map[string]bool),
		replies: make(map[string][]string),
	}
	s.auth = httptest.NewServer(http.HandlerFunc(s.handleAuth))
	s.ws = httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(func() {
		s.DropAll()
		s.ws.Close()
		s.auth.Close()
	})
	return s
}

// BaseURL is the REST endpoint.
func (s *Server) BaseURL() string {
	return s.auth.URL
}

// WSURL is the WebSocket endpoint.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.ws.URL, "http")
}

// Accept marks token as valid.
func (s *Server) Accept(token string) {
	s.mu.Lock()
	s.valid[token] = true
	s.mu.Unlock()
}

// Ignore makes sub frames with token go unanswered.
func (s *Server) Ignore(token string) {
	s.mu.Lock()
	s.ignored[token] = true
	s.mu.Unlock()
}

// Reply sets the bodies sent, in order, in answer to each sub of topic.
func (s *Server) Reply(topic string, bodies ...string) {
	s.mu.Lock()
	s.replies[topic] = bodies
	s.mu.Unlock()
}

// Initiated returns how many logins were initiated.
func (s *Server) Initiated() int {
	return int(s.initiate.Load())
}

// Frames returns every frame received so far.
func (s *Server) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

// SubsWithToken returns the sub frames that carried token.
func (s *Server) SubsWithToken(token string) []Frame {
	var out []Frame
	for _, f := range s.Frames() {
		if strings.HasPrefix(f.Text, "sub ") && strings.Contains(f.Text, `"token":"`+token+`"`) {
			out = append(out, f)
		}
	}
	return out
}

// Connections returns how many WebSocket connections were accepted.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropAll closes every server-side socket without a close handshake.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := s.conns
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == loginPath:
		s.initiate.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"processId": ProcessID, "countdownInSeconds": 30})

	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, loginPath+"/"+ProcessID+"/"):
		if strings.HasSuffix(r.URL.Path, "/"+RejectedDevicePin) {
			http.Error(w, `{"errors":[{"errorCode":"VALIDATION_CODE_INVALID"}]}`, http.StatusBadRequest)
			return
		}
		token := fmt.Sprintf("token-%d", s.verified.Add(1))
		s.Accept(token)
		w.Header().Add("Set-Cookie", "tr_session="+token+"; Path=/; HttpOnly; Secure")
		w.Header().Add("Set-Cookie", "tr_refresh=refresh-"+token+"; Path=/; HttpOnly")
		w.WriteHeader(http.StatusOK)

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	index := len(s.conns)
	s.mu.Unlock()

	// Replies are written from this goroutine only, so writes never race.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		text := string(data)
		s.mu.Lock()
		s.frames = append(s.frames, Frame{Conn: index, Text: text})
		s.mu.Unlock()

		for _, reply := range s.answer(text) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	}
}

func (s *Server) answer(text string) []string {
	rest, ok := strings.CutPrefix(text, "sub ")
	if !ok {
		return nil
	}
	id, body, _ := strings.Cut(rest, " ")
	var req struct {
		Token string `json:"token"`
		Type  string `json:"type"`
	}
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.ignored[req.Token]:
		return nil
	case !s.valid[req.Token]:
		return []string{id + ` {"errors":[{"errorCode":"AUTHENTICATION_ERROR","errorMessage":"Unauthorized"}]}`}
	}

	bodies := s.replies[req.Type]
	if len(bodies) == 0 {
		bodies = []string{"{}"}
	}
	out := make([]string, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, id+" "+b)
	}
	return out
}
