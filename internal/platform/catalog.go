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

// OperationKind distinguishes triggers from effects.
type OperationKind string

const (
	// KindAction is a trigger condition the integration can detect.
	KindAction OperationKind = "action"

	// KindReaction is an effect the integration can perform.
	KindReaction OperationKind = "reaction"
)

// Descriptor describes one published action or reaction.
type Descriptor struct {
	// Name is the operation identifier (e.g. "send_email")
	Name string `json:"name" yaml:"name"`

	// Kind is action or reaction
	Kind OperationKind `json:"kind" yaml:"kind"`

	// Description is a human-readable description
	Description string `json:"description" yaml:"description"`

	// Parameters describes the operation inputs
	Parameters []ParameterInfo `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Outputs describes the emitted event (actions) or result (reactions)
	Outputs []OutputField `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// ParameterInfo describes an operation parameter.
type ParameterInfo struct {
	// Name is the parameter identifier
	Name string `json:"name" yaml:"name"`

	// Type is the parameter type (string, integer, number, boolean, array, object)
	Type string `json:"type" yaml:"type"`

	// Description is a human-readable description
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Required indicates if the parameter must be present
	Required bool `json:"required" yaml:"required"`

	// Default is used when the parameter is absent (nil if no default)
	Default any `json:"default,omitempty" yaml:"default,omitempty"`

	// Source is an optional resolver path ("config.a.b", "input.x", "a.b").
	// Empty means the parameter is read by name from the merged bag.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// OutputField describes a field of an emitted event or a result.
type OutputField struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Find returns the descriptor with the given kind and name.
func Find(catalog []Descriptor, kind OperationKind, name string) (Descriptor, bool) {
	for _, d := range catalog {
		if d.Name == name && d.Kind == kind {
			return d, true
		}
	}
	return Descriptor{}, false
}
