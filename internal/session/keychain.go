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
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/tombee/trclient/internal/log"
)

// KeychainService is the service name used for keychain entries.
const KeychainService = "trclient"

// KeychainStore keeps the session record in the system keychain.
// Supported platforms:
//   - macOS: Keychain Access
//   - Linux: Secret Service API (GNOME Keyring, KWallet)
//   - Windows: Credential Manager
type KeychainStore struct {
	account string
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewKeychainStore creates a keychain store. account names the keychain
// item, typically the phone number; empty selects "default".
func NewKeychainStore(account string, logger *slog.Logger) *KeychainStore {
	if account == "" {
		account = "default"
	}
	return &KeychainStore{
		account: account,
		logger:  log.WithComponent(log.OrDefault(logger), "session-keychain"),
	}
}

// Save stores s in the keychain.
func (k *KeychainStore) Save(s Session) error {
	data, err := encode(s)
	if err != nil {
		k.logger.Warn("session not persisted", "reason", err)
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Set(KeychainService, k.account, string(data)); err != nil {
		return fmt.Errorf("keychain error: %w", err)
	}
	return nil
}

// Load reads the session from the keychain. A corrupt item is deleted.
func (k *KeychainStore) Load() (Session, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	value, err := keyring.Get(KeychainService, k.account)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			k.logger.Warn("failed to read keychain session", log.Error(err))
		}
		return Session{}, false
	}

	s, err := decode([]byte(value))
	if err != nil {
		k.logger.Warn("discarding persisted session", log.Error(err))
		if delErr := keyring.Delete(KeychainService, k.account); delErr != nil && !errors.Is(delErr, keyring.ErrNotFound) {
			k.logger.Warn("failed to remove corrupt keychain session", log.Error(delErr))
		}
		return Session{}, false
	}

	return s, true
}

// Delete removes the keychain item.
func (k *KeychainStore) Delete() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Delete(KeychainService, k.account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain error: %w", err)
	}
	return nil
}
