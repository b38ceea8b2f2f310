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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/trclient/internal/log"
)

func TestRouter_Route(t *testing.T) {
	r, _, _ := newTestRegistry("tok", true)
	rt := NewRouter(r, log.Discard())

	var got []*string
	id := r.Subscribe("ticker", nil, func(p *string) { got = append(got, p) }, false)
	require.Equal(t, int64(1), id)

	rt.Route(`1 {"type":"ticker","price":1}`)
	rt.Route("echo 1690000000000")
	rt.Route("connected {}")
	rt.Route("1 D")
	rt.Route(`2 {"unrelated":true}`)
	rt.Route(`1 A {"bid":{"price":2}}`)
	rt.Route(`1 {not json`)

	require.Len(t, got, 3)
	assert.Equal(t, `{"type":"ticker","price":1}`, *got[0])
	assert.Equal(t, `{"bid":{"price":2}}`, *got[1])
	assert.Nil(t, got[2])
}

func TestRouter_PreservesOrder(t *testing.T) {
	r, _, _ := newTestRegistry("tok", true)
	rt := NewRouter(r, log.Discard())

	var got []string
	r.Subscribe("ticker", nil, func(p *string) { got = append(got, *p) }, false)

	want := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`, `{"n":4}`}
	for _, body := range want {
		rt.Route("1 " + body)
	}
	assert.Equal(t, want, got)
}

func TestLooksLikeFailure(t *testing.T) {
	assert.True(t, looksLikeFailure(`{"errors":[{"errorCode":"AUTHENTICATION_ERROR"}]}`))
	assert.True(t, looksLikeFailure("Error: bad request"))
	assert.False(t, looksLikeFailure(`{"ok":true}`))
}
