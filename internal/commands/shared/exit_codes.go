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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	trerrors "github.com/tombee/trclient/pkg/errors"
)

// Exit codes for trclient commands
const (
	ExitSuccess        = 0
	ExitFailure        = 1
	ExitInvalidUsage   = 2
	ExitLoginFailed    = 3
	ExitConfigError    = 4
	ExitNonInteractive = 70 // Input needed in non-interactive mode (EX_SOFTWARE from sysexits.h)
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewUsageError creates an error for bad arguments or flags
func NewUsageError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidUsage, Message: msg, Cause: cause}
}

// NewLoginError creates an error for a failed login
func NewLoginError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitLoginFailed, Message: msg, Cause: cause}
}

// NewConfigError creates an error for an unusable configuration
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitConfigError, Message: msg, Cause: cause}
}

// NewNonInteractiveError creates an error for input that cannot be prompted for
func NewNonInteractiveError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitNonInteractive, Message: msg, Cause: cause}
}

// ExitCode returns the exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var cfgErr *trerrors.ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}
	var valErr *trerrors.ValidationError
	if errors.As(err, &valErr) {
		return ExitInvalidUsage
	}
	return ExitFailure
}

// HandleExitError prints err and exits with its code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	PrintError(os.Stderr, err)
	os.Exit(ExitCode(err))
}

// PrintError writes err and any suggestion attached to it.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, RenderError(err.Error()))

	var valErr *trerrors.ValidationError
	if errors.As(err, &valErr) && valErr.Suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", valErr.Suggestion)
	}
}
