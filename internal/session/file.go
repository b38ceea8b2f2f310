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
	"os"
	"path/filepath"
	"sync"

	"github.com/tombee/trclient/internal/log"
)

// DefaultFileName is the session file name under the user's home directory.
const DefaultFileName = ".trclient_session.json"

// FileStore persists the session as a JSON file with owner-only permissions.
type FileStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// DefaultPath returns ~/.trclient_session.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultFileName), nil
}

// NewFileStore creates a file store at path. An empty path selects
// DefaultPath.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	return &FileStore{
		path:   path,
		logger: log.WithComponent(log.OrDefault(logger), "session-store"),
	}, nil
}

// Path returns the file location.
func (f *FileStore) Path() string {
	return f.path
}

// Save writes s to disk atomically.
func (f *FileStore) Save(s Session) error {
	data, err := encode(s)
	if err != nil {
		f.logger.Warn("session not persisted", "reason", err)
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create session directory: %w", err)
		}
	}

	// Write to temp file first (atomic write)
	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	// WriteFile only applies the mode on create.
	if err := os.Chmod(f.path, 0600); err != nil {
		f.logger.Debug("could not restrict session file mode", log.Error(err))
	}

	f.logger.Debug("session saved", "path", f.path, "token", log.SanitizeToken(s.Token))
	return nil
}

// Load reads the session from disk. A corrupt file is deleted.
func (f *FileStore) Load() (Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("failed to read session file", "path", f.path, log.Error(err))
		}
		return Session{}, false
	}

	s, err := decode(data)
	if err != nil {
		f.logger.Warn("discarding persisted session", "path", f.path, log.Error(err))
		if rmErr := os.Remove(f.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			f.logger.Warn("failed to remove corrupt session file", log.Error(rmErr))
		}
		return Session{}, false
	}

	return s, true
}

// Delete removes the session file.
func (f *FileStore) Delete() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}
