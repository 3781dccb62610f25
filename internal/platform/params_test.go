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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamAccessors(t *testing.T) {
	p := map[string]any{
		"s":     "hello",
		"n":     float64(60),
		"ns":    " 90 ",
		"frac":  1.5,
		"b":     true,
		"bs":    "false",
		"other": 12,
	}

	assert.Equal(t, "hello", String(p, "s"))
	assert.Equal(t, "12", String(p, "other"))
	assert.Equal(t, "", String(p, "absent"))

	n, err := Int(p, "n", 30)
	require.NoError(t, err)
	assert.Equal(t, 60, n)

	n, err = Int(p, "ns", 30)
	require.NoError(t, err)
	assert.Equal(t, 90, n)

	n, err = Int(p, "absent", 30)
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	_, err = Int(p, "frac", 30)
	assert.True(t, IsKind(err, KindInvalidParameter))

	_, err = Int(p, "s", 30)
	assert.True(t, IsKind(err, KindInvalidParameter))

	b, err := Bool(p, "b", false)
	require.NoError(t, err)
	assert.True(t, b)

	b, err = Bool(p, "bs", true)
	require.NoError(t, err)
	assert.False(t, b)

	_, err = Bool(p, "s", false)
	assert.True(t, IsKind(err, KindInvalidParameter))
}

func TestRequire(t *testing.T) {
	vals, err := Require(map[string]any{"to": "a@b.c", "subject": "hi"}, "to", "subject")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@b.c", "hi"}, vals)

	_, err = Require(map[string]any{"to": "a@b.c", "subject": "  "}, "to", "subject")
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindMissingParameter, pe.Kind)
	assert.Equal(t, "subject", pe.Field)
}
