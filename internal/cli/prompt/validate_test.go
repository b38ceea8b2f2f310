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
	"testing"
)

func TestValidatePhoneNumber(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"+4915112345678", false},
		{" +4915112345678 ", false},
		{"+12025550123", false},
		{"015112345678", true},
		{"+49", true},
		{"+49151abc45678", true},
		{"+1234567890123456", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidatePhoneNumber(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePhoneNumber(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePin(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"1234", false},
		{"0000", false},
		{"123", true},
		{"12345", true},
		{"12a4", true},
		{" 1234", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidatePin(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePin(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDevicePin(t *testing.T) {
	if err := ValidateDevicePin(" 9876 "); err != nil {
		t.Errorf("surrounding whitespace should be accepted: %v", err)
	}
	if err := ValidateDevicePin("98765"); err == nil {
		t.Error("five digits should be rejected")
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{InputName: "PIN", Reason: "must be exactly 4 digits"}
	if got, want := err.Error(), "invalid PIN: must be exactly 4 digits"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
