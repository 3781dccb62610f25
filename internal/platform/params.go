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

package platform

import (
	"fmt"
	"strconv"
	"strings"
)

// String returns params[name] as a string. Non-string scalars are formatted;
// absent or nil values yield "".
func String(params map[string]any, name string) string {
	switch v := params[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Int returns params[name] as an int, falling back to def when absent.
// JSON numbers and numeric strings are accepted; anything else is an
// InvalidParameter error.
func Int(params map[string]any, name string, def int) (int, error) {
	switch v := params[name].(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, invalidParam(name, "expected integer")
		}
		return int(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return def, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, invalidParam(name, "expected integer")
		}
		return n, nil
	default:
		return 0, invalidParam(name, "expected integer")
	}
}

// Bool returns params[name] as a bool, falling back to def when absent.
func Bool(params map[string]any, name string, def bool) (bool, error) {
	switch v := params[name].(type) {
	case nil:
		return def, nil
	case bool:
		return v, nil
	case string:
		if v == "" {
			return def, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, invalidParam(name, "expected boolean")
		}
		return b, nil
	default:
		return false, invalidParam(name, "expected boolean")
	}
}

// Require returns the named string parameters, or a MissingParameter error
// for the first one that is empty.
func Require(params map[string]any, names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = strings.TrimSpace(String(params, name))
		if out[i] == "" {
			return nil, &Error{
				Kind:    KindMissingParameter,
				Field:   name,
				Message: fmt.Sprintf("required parameter %q is missing", name),
			}
		}
	}
	return out, nil
}

func invalidParam(name, msg string) *Error {
	return &Error{Kind: KindInvalidParameter, Field: name, Message: msg}
}
