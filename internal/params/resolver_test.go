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

package params

import (
	"reflect"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		mapping map[string]string
		config  map[string]any
		input   map[string]any
		want    Bag
	}{
		{
			name:    "config prefix navigates config only",
			mapping: map[string]string{"x": "config.a.b"},
			config:  map[string]any{"a": map[string]any{"b": 5}},
			input:   map[string]any{},
			want:    Bag{"x": 5},
		},
		{
			name:    "input prefix navigates input only",
			mapping: map[string]string{"x": "input.y"},
			config:  map[string]any{},
			input:   map[string]any{"y": "v"},
			want:    Bag{"x": "v"},
		},
		{
			name:    "prefixed source does not fall back",
			mapping: map[string]string{"x": "config.y"},
			config:  map[string]any{},
			input:   map[string]any{"y": "v"},
			want:    Bag{},
		},
		{
			name:    "unprefixed prefers config",
			mapping: map[string]string{"to": "to"},
			config:  map[string]any{"to": "ops@example.com"},
			input:   map[string]any{"to": "user@example.com"},
			want:    Bag{"to": "ops@example.com"},
		},
		{
			name:    "unprefixed falls back to input when config is undefined",
			mapping: map[string]string{"subject": "email.subject"},
			config:  map[string]any{"email": nil},
			input:   map[string]any{"email": map[string]any{"subject": "hello"}},
			want:    Bag{"subject": "hello"},
		},
		{
			name:    "unprefixed falls back to input when config is null",
			mapping: map[string]string{"x": "x"},
			config:  map[string]any{"x": nil},
			input:   map[string]any{"x": 3},
			want:    Bag{"x": 3},
		},
		{
			name:    "missing intermediate key is undefined",
			mapping: map[string]string{"x": "config.a.b.c"},
			config:  map[string]any{"a": map[string]any{}},
			want:    Bag{},
		},
		{
			name:    "empty path segment is undefined",
			mapping: map[string]string{"x": "input.a..b", "y": "input."},
			input:   map[string]any{"a": map[string]any{"": map[string]any{"b": 1}}},
			want:    Bag{},
		},
		{
			name:    "navigation through a scalar is undefined",
			mapping: map[string]string{"x": "input.a.b"},
			input:   map[string]any{"a": "scalar"},
			want:    Bag{},
		},
		{
			name:    "nil sources",
			mapping: map[string]string{"x": "a"},
			want:    Bag{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.mapping, tt.config, tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestLookupDefinedNull(t *testing.T) {
	v, ok := Lookup(map[string]any{"a": nil}, "a")
	if !ok || v != nil {
		t.Errorf("Lookup(a) = (%v, %v), want (nil, true)", v, ok)
	}

	if _, ok := Lookup(map[string]any{"a": nil}, "a.b"); ok {
		t.Error("Lookup through nil intermediate should be undefined")
	}
}

func TestMergeConfigAndInput(t *testing.T) {
	config := map[string]any{"a": 1}
	input := map[string]any{"a": 2, "b": 3}

	got := MergeConfigAndInput(config, input)
	want := Bag{"a": 1, "b": 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeConfigAndInput() = %#v, want %#v", got, want)
	}

	if input["a"] != 2 {
		t.Error("MergeConfigAndInput must not modify input")
	}

	if got := MergeConfigAndInput(nil, nil); len(got) != 0 {
		t.Errorf("MergeConfigAndInput(nil, nil) = %#v, want empty", got)
	}
}
