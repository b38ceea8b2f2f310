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

// Package prompt collects login credentials from the terminal. It supports
// validation with retries and a scripted mock for tests.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// MaxRetries is the maximum number of validation retry attempts per input.
const MaxRetries = 3

// ErrNonInteractive is returned when a prompt is needed but stdin is not a
// terminal.
var ErrNonInteractive = errors.New("cannot prompt in non-interactive mode")

// Prompter defines the interface for interactive input collection.
// Implementations include SurveyPrompter (production) and MockPrompter (testing).
type Prompter interface {
	// PromptText collects a visible input.
	PromptText(ctx context.Context, message, def string) (string, error)

	// PromptSecret collects a hidden input.
	PromptSecret(ctx context.Context, message string) (string, error)

	// IsInteractive returns true if prompts can be displayed
	IsInteractive() bool
}

// Collector asks for each login credential with validation and retries.
type Collector struct {
	prompter Prompter
	errOut   io.Writer
}

// NewCollector creates a collector. Retry hints are written to errOut.
func NewCollector(p Prompter, errOut io.Writer) *Collector {
	if errOut == nil {
		errOut = io.Discard
	}
	return &Collector{prompter: p, errOut: errOut}
}

// PhoneNumber asks for the account phone number.
func (c *Collector) PhoneNumber(ctx context.Context, def string) (string, error) {
	return c.collect(ctx, "phone number", func() (string, error) {
		return c.prompter.PromptText(ctx, "Phone number (international format, e.g. +4915112345678)", def)
	}, ValidatePhoneNumber)
}

// Pin asks for the account PIN.
func (c *Collector) Pin(ctx context.Context) (string, error) {
	return c.collect(ctx, "PIN", func() (string, error) {
		return c.prompter.PromptSecret(ctx, "PIN")
	}, ValidatePin)
}

// DevicePin asks for the code sent to the user's device.
func (c *Collector) DevicePin(ctx context.Context) (string, error) {
	return c.collect(ctx, "device PIN", func() (string, error) {
		return c.prompter.PromptSecret(ctx, "Device PIN (sent to your phone)")
	}, ValidateDevicePin)
}

func (c *Collector) collect(ctx context.Context, name string, ask func() (string, error), validate func(string) error) (string, error) {
	if !c.prompter.IsInteractive() {
		return "", fmt.Errorf("%s: %w", name, ErrNonInteractive)
	}

	var lastErr error
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		value, err := ask()
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := validate(value); err != nil {
			lastErr = err
			if attempt < MaxRetries {
				// Never echo the rejected value.
				fmt.Fprintf(c.errOut, "Error: %s\n", err)
			}
			continue
		}
		return value, nil
	}

	return "", fmt.Errorf("failed to collect %s after %d attempts: %w", name, MaxRetries, lastErr)
}
