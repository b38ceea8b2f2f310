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

package prompt

import (
	"context"
	"fmt"
	"sync"
)

// MockPrompter implements Prompter with scripted responses for testing.
type MockPrompter struct {
	mu           sync.Mutex
	responses    []string
	currentIndex int
	interactive  bool
	callLog      []string
}

// NewMockPrompter creates a new mock prompter with pre-scripted responses.
func NewMockPrompter(interactive bool, responses ...string) *MockPrompter {
	return &MockPrompter{
		responses:   responses,
		interactive: interactive,
	}
}

// PromptText returns the next response, or def when the script is exhausted.
func (mp *MockPrompter) PromptText(ctx context.Context, message, def string) (string, error) {
	return mp.next(fmt.Sprintf("PromptText(%s)", message), &def)
}

// PromptSecret returns the next response.
func (mp *MockPrompter) PromptSecret(ctx context.Context, message string) (string, error) {
	return mp.next(fmt.Sprintf("PromptSecret(%s)", message), nil)
}

func (mp *MockPrompter) next(call string, def *string) (string, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.callLog = append(mp.callLog, call)
	if mp.currentIndex >= len(mp.responses) {
		if def != nil {
			return *def, nil
		}
		return "", fmt.Errorf("mock prompter: no response scripted for %s", call)
	}
	resp := mp.responses[mp.currentIndex]
	mp.currentIndex++
	return resp, nil
}

// IsInteractive returns the configured interactivity.
func (mp *MockPrompter) IsInteractive() bool {
	return mp.interactive
}

// Calls returns the prompts issued so far.
func (mp *MockPrompter) Calls() []string {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return append([]string(nil), mp.callLog...)
}
