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
	"fmt"
	"strings"
)

// ValidationError represents an input validation failure.
type ValidationError struct {
	InputName string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.InputName, e.Reason)
}

// ValidatePhoneNumber accepts international numbers: '+' followed by 8 to
// 15 digits.
func ValidatePhoneNumber(s string) error {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "+") {
		return &ValidationError{InputName: "phone number", Reason: "must start with + and a country code"}
	}
	digits := s[1:]
	if len(digits) < 8 || len(digits) > 15 || !allDigits(digits) {
		return &ValidationError{InputName: "phone number", Reason: "must have 8 to 15 digits after +"}
	}
	return nil
}

// ValidatePin accepts the 4-digit account PIN.
func ValidatePin(s string) error {
	if len(s) != 4 || !allDigits(s) {
		return &ValidationError{InputName: "PIN", Reason: "must be exactly 4 digits"}
	}
	return nil
}

// ValidateDevicePin accepts the 4-digit code sent to the device.
func ValidateDevicePin(s string) error {
	s = strings.TrimSpace(s)
	if len(s) != 4 || !allDigits(s) {
		return &ValidationError{InputName: "device PIN", Reason: "must be exactly 4 digits"}
	}
	return nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
