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

package session

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/tombee/trclient/internal/log"
)

func testSession() Session {
	return Session{
		Token:        "session-token-abcdef",
		RefreshToken: "refresh-token-123456",
		RawCookies: []string{
			"tr_session=session-token-abcdef; Path=/; HttpOnly; Secure",
			"tr_refresh=refresh-token-123456; Path=/; HttpOnly",
		},
	}
}

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "session.json"), log.Discard())
	require.NoError(t, err)
	return store
}

func TestSession_CookieHeader(t *testing.T) {
	s := testSession()
	assert.Equal(t, "tr_session=session-token-abcdef; tr_refresh=refresh-token-123456", s.CookieHeader())

	assert.Equal(t, "", Session{}.CookieHeader())
}

func TestSession_CloneIsIndependent(t *testing.T) {
	s := testSession()
	c := s.Clone()
	c.RawCookies[0] = "changed"
	assert.NotEqual(t, "changed", s.RawCookies[0])
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestFileStore(t)

	require.NoError(t, store.Save(testSession()))

	loaded, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, testSession(), loaded)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(store.Path())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	_, err := os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should not remain")
}

func TestFileStore_SaveOverwrites(t *testing.T) {
	store := newTestFileStore(t)
	require.NoError(t, store.Save(testSession()))

	next := Session{Token: "second-token-000000", RawCookies: []string{"tr_session=second-token-000000"}}
	require.NoError(t, store.Save(next))

	loaded, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, next, loaded)
}

func TestFileStore_SaveRefusesIncompleteSession(t *testing.T) {
	tests := []struct {
		name string
		s    Session
	}{
		{name: "no token", s: Session{RawCookies: []string{"a=b"}}},
		{name: "no cookies", s: Session{Token: "token"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestFileStore(t)
			err := store.Save(tt.s)
			require.ErrorIs(t, err, ErrNothingToPersist)

			_, statErr := os.Stat(store.Path())
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestFileStore_LoadMissingFile(t *testing.T) {
	store := newTestFileStore(t)

	_, ok := store.Load()
	assert.False(t, ok)
}

func TestFileStore_LoadCorruptRemovesFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing rawCookies", content: `{"trSessionToken":"abc"}`},
		{name: "null rawCookies", content: `{"trSessionToken":"abc","rawCookies":null}`},
		{name: "empty token", content: `{"trSessionToken":"","rawCookies":["a=b"]}`},
		{name: "missing token", content: `{"rawCookies":["a=b"]}`},
		{name: "not json", content: `tr_session=abc`},
		{name: "wrong type", content: `{"trSessionToken":"abc","rawCookies":"a=b"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestFileStore(t)
			require.NoError(t, os.WriteFile(store.Path(), []byte(tt.content), 0600))

			_, ok := store.Load()
			assert.False(t, ok)

			_, err := os.Stat(store.Path())
			assert.True(t, os.IsNotExist(err), "corrupt file should be removed")
		})
	}
}

func TestFileStore_LoadEmptyCookieListIsAccepted(t *testing.T) {
	store := newTestFileStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"trSessionToken":"abc","rawCookies":[]}`), 0600))

	s, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, "abc", s.Token)
	assert.Empty(t, s.RawCookies)
}

func TestFileStore_DeleteToleratesAbsence(t *testing.T) {
	store := newTestFileStore(t)

	require.NoError(t, store.Delete())

	require.NoError(t, store.Save(testSession()))
	require.NoError(t, store.Delete())
	_, ok := store.Load()
	assert.False(t, ok)
}

func TestNewFileStore_DefaultPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	store, err := NewFileStore("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultFileName, filepath.Base(store.Path()))
}

func TestKeychainStore(t *testing.T) {
	keyring.MockInit()

	store := NewKeychainStore("+4915100000000", log.Discard())

	_, ok := store.Load()
	assert.False(t, ok)

	require.NoError(t, store.Save(testSession()))
	loaded, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, testSession(), loaded)

	require.NoError(t, store.Delete())
	require.NoError(t, store.Delete())
	_, ok = store.Load()
	assert.False(t, ok)
}

func TestKeychainStore_CorruptItemRemoved(t *testing.T) {
	keyring.MockInit()

	require.NoError(t, keyring.Set(KeychainService, "default", `{"trSessionToken":"abc"}`))

	store := NewKeychainStore("", log.Discard())
	_, ok := store.Load()
	assert.False(t, ok)

	_, err := keyring.Get(KeychainService, "default")
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}
