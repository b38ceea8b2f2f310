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

// Package jq applies jq expressions to subscription payloads.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout bounds one evaluation.
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the largest payload a filter accepts (10MB).
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Filter is a compiled jq expression. It is safe for concurrent use.
type Filter struct {
	expression   string
	code         *gojq.Code
	timeout      time.Duration
	maxInputSize int
}

// Compile parses and compiles expression. An empty expression yields a
// filter that passes payloads through unchanged.
func Compile(expression string, timeout time.Duration, maxInputSize int) (*Filter, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}

	f := &Filter{
		expression:   expression,
		timeout:      timeout,
		maxInputSize: maxInputSize,
	}
	if expression == "" {
		return f, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compilation failed: %w", err)
	}
	f.code = code
	return f, nil
}

// Expression returns the source expression.
func (f *Filter) Expression() string {
	return f.expression
}

// Apply runs the filter over a JSON payload and returns every emitted
// value. A pass-through filter returns the decoded payload.
func (f *Filter) Apply(ctx context.Context, payload string) ([]any, error) {
	if len(payload) > f.maxInputSize {
		return nil, fmt.Errorf("payload size (%d bytes) exceeds maximum (%d bytes)", len(payload), f.maxInputSize)
	}

	var input any
	if err := json.Unmarshal([]byte(payload), &input); err != nil {
		return nil, fmt.Errorf("payload is not JSON: %w", err)
	}
	if f.code == nil {
		return []any{input}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var results []any
	iter := f.code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("execution timeout after %v", f.timeout)
			}
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}
