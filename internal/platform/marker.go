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
	"math/big"
	"strings"
	"time"
)

// MarkerComparer is implemented by change sources whose markers need an
// ordering other than CompareMarkers.
type MarkerComparer interface {
	CompareMarkers(a, b string) int
}

// CompareMarkers orders two change markers. Markers that are both decimal
// integers (Gmail historyId, sequence numbers) compare numerically regardless
// of length, and markers that are both RFC 3339 timestamps compare as
// instants regardless of fractional precision. Anything else compares
// lexically, which is only correct for fixed-width tokens.
func CompareMarkers(a, b string) int {
	na, okA := new(big.Int).SetString(a, 10)
	nb, okB := new(big.Int).SetString(b, 10)
	if okA && okB {
		return na.Cmp(nb)
	}
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA == nil && errB == nil {
		return ta.Compare(tb)
	}
	return strings.Compare(a, b)
}

// MarkerOrder returns the comparison to use for source's markers.
func MarkerOrder(source any) func(a, b string) int {
	if c, ok := source.(MarkerComparer); ok {
		return c.CompareMarkers
	}
	return CompareMarkers
}
