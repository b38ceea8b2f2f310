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

// Package topic lists the subscription topics the CLI knows how to build
// params for. The client core treats topics as opaque names.
package topic

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	trerrors "github.com/tombee/trclient/pkg/errors"
)

// Descriptor describes one topic.
type Descriptor struct {
	Name        string
	Description string

	// Args names the positional arguments, in order. A trailing "?" marks
	// an optional argument.
	Args []string

	// Once is true for topics that answer a single request, such as search.
	Once bool

	// build turns positional arguments into params.
	build func(args []string) map[string]any
}

// Usage returns the argument synopsis, e.g. "<isin> [exchange]".
func (d Descriptor) Usage() string {
	parts := make([]string, 0, len(d.Args))
	for _, a := range d.Args {
		if name, ok := strings.CutSuffix(a, "?"); ok {
			parts = append(parts, "["+name+"]")
		} else {
			parts = append(parts, "<"+a+">")
		}
	}
	return strings.Join(parts, " ")
}

func (d Descriptor) required() int {
	n := 0
	for _, a := range d.Args {
		if !strings.HasSuffix(a, "?") {
			n++
		}
	}
	return n
}

// Params builds the subscription params from positional args.
func (d Descriptor) Params(args []string) (map[string]any, error) {
	if len(args) < d.required() || len(args) > len(d.Args) {
		return nil, &trerrors.ValidationError{
			Field:      "args",
			Message:    fmt.Sprintf("%s expects %s", d.Name, d.Usage()),
			Suggestion: fmt.Sprintf("Run: trclient subscribe %s %s", d.Name, d.Usage()),
		}
	}
	if d.build == nil {
		return nil, nil
	}
	return d.build(args), nil
}

const defaultExchange = "LSX"

var descriptors = []Descriptor{
	{
		Name:        "ticker",
		Description: "Live bid/ask/last quotes for an instrument on an exchange",
		Args:        []string{"isin", "exchange?"},
		build: func(args []string) map[string]any {
			exchange := defaultExchange
			if len(args) > 1 {
				exchange = args[1]
			}
			return map[string]any{"id": args[0] + "." + exchange}
		},
	},
	{
		Name:        "availableCash",
		Description: "Cash available for trading",
	},
	{
		Name:        "cash",
		Description: "Cash account balances",
	},
	{
		Name:        "portfolio",
		Description: "Full portfolio positions",
	},
	{
		Name:        "compactPortfolio",
		Description: "Portfolio positions without instrument details",
	},
	{
		Name:        "orders",
		Description: "Open orders",
		build: func(args []string) map[string]any {
			return map[string]any{"terminated": false}
		},
	},
	{
		Name:        "timeline",
		Description: "Account timeline events, paged by cursor",
		Args:        []string{"after?"},
		build: func(args []string) map[string]any {
			if len(args) == 0 {
				return nil
			}
			return map[string]any{"after": args[0]}
		},
	},
	{
		Name:        "instrument",
		Description: "Static instrument data (name, exchanges, type)",
		Args:        []string{"isin"},
		Once:        true,
		build: func(args []string) map[string]any {
			return map[string]any{"id": args[0]}
		},
	},
	{
		Name:        "stockDetails",
		Description: "Company details for a stock",
		Args:        []string{"isin"},
		Once:        true,
		build: func(args []string) map[string]any {
			return map[string]any{"id": args[0], "jurisdiction": "DE"}
		},
	},
	{
		Name:        "neonSearch",
		Description: "Instrument search",
		Args:        []string{"query"},
		Once:        true,
		build: func(args []string) map[string]any {
			return map[string]any{
				"data": map[string]any{
					"q":        args[0],
					"page":     1,
					"pageSize": 20,
					"filter":   []map[string]string{{"key": "type", "value": "stock"}},
				},
			}
		},
	},
	{
		Name:        "neonNews",
		Description: "News for an instrument",
		Args:        []string{"isin"},
		Once:        true,
		build: func(args []string) map[string]any {
			return map[string]any{"isin": args[0]}
		},
	},
}

var byName = func() map[string]Descriptor {
	m := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		m[d.Name] = d
	}
	return m
}()

// Lookup returns the descriptor for name.
func Lookup(name string) (Descriptor, error) {
	d, ok := byName[name]
	if !ok {
		return Descriptor{}, &trerrors.NotFoundError{Resource: "topic", ID: name}
	}
	return d, nil
}

// All returns every descriptor sorted by name.
func All() []Descriptor {
	out := append([]Descriptor(nil), descriptors...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve returns the params for a CLI invocation. A single argument that
// starts with '{' is taken as raw JSON params for any topic, known or not.
// Otherwise the topic must be known and args are positional.
func Resolve(name string, args []string) (any, error) {
	if len(args) == 1 && strings.HasPrefix(strings.TrimSpace(args[0]), "{") {
		var params map[string]any
		if err := json.Unmarshal([]byte(args[0]), &params); err != nil {
			return nil, &trerrors.ValidationError{
				Field:      "params",
				Message:    fmt.Sprintf("invalid JSON: %v", err),
				Suggestion: `Quote the params, e.g. '{"id":"US0378331005.LSX"}'`,
			}
		}
		return params, nil
	}

	d, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	params, err := d.Params(args)
	if err != nil {
		return nil, err
	}
	if params == nil {
		return nil, nil
	}
	return params, nil
}
