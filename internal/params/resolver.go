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

// Package params merges operator configuration with runtime trigger input.
//
// An undefined value (missing key, or navigation through a nil or
// non-object intermediate) is reported by Lookup as ok == false and is
// omitted from resolved bags. A key explicitly set to nil is defined.
package params

import (
	"strings"
)

const (
	configPrefix = "config."
	inputPrefix  = "input."
)

// Bag is a resolved parameter set.
type Bag map[string]any

// Resolve builds a bag from mapping (parameter name to source path).
//
// Paths prefixed "config." or "input." read only that source. Other paths
// read config first and fall back to input when config yields nil or
// undefined. Undefined results are left out of the bag.
func Resolve(mapping map[string]string, config, input map[string]any) Bag {
	resolved := make(Bag, len(mapping))
	for name, source := range mapping {
		if v, ok := resolveSource(source, config, input); ok {
			resolved[name] = v
		}
	}
	return resolved
}

func resolveSource(source string, config, input map[string]any) (any, bool) {
	switch {
	case strings.HasPrefix(source, configPrefix):
		return Lookup(config, strings.TrimPrefix(source, configPrefix))
	case strings.HasPrefix(source, inputPrefix):
		return Lookup(input, strings.TrimPrefix(source, inputPrefix))
	}

	if v, ok := Lookup(config, source); ok && v != nil {
		return v, true
	}
	return Lookup(input, source)
}

// Lookup navigates a dot-separated path into data. Empty paths, empty
// segments and nil or non-object intermediates yield ok == false.
func Lookup(data map[string]any, path string) (any, bool) {
	if path == "" || data == nil {
		return nil, false
	}

	var current any = data
	for _, key := range strings.Split(path, ".") {
		if key == "" {
			return nil, false
		}
		obj, ok := asObject(current)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// MergeConfigAndInput returns a flat bag holding every input key, with
// config values winning on collision. Neither argument is modified.
func MergeConfigAndInput(config, input map[string]any) Bag {
	merged := make(Bag, len(config)+len(input))
	for k, v := range input {
		merged[k] = v
	}
	for k, v := range config {
		merged[k] = v
	}
	return merged
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, m != nil
	case Bag:
		return m, m != nil
	default:
		return nil, false
	}
}
