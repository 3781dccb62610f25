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

package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const (
	// EnvBackendPriority is the highest priority so the environment can
	// override stored secrets.
	EnvBackendPriority = 100

	envSecretPrefix = "AREAHUB_SECRET_"
)

// EnvBackend reads secrets from AREAHUB_SECRET_<KEY> variables, where KEY is
// the secret key upper-cased with "/", "-" and "." replaced by "_"
// (gmail/client_secret -> AREAHUB_SECRET_GMAIL_CLIENT_SECRET).
type EnvBackend struct{}

// NewEnvBackend creates a new environment variable backend.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{}
}

// Name returns the backend identifier.
func (e *EnvBackend) Name() string {
	return "env"
}

// Get retrieves a secret from the environment.
func (e *EnvBackend) Get(_ context.Context, key string) (string, error) {
	if value := os.Getenv(EnvKey(key)); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s not set", ErrSecretNotFound, EnvKey(key))
}

// Set returns ErrReadOnlyBackend.
func (e *EnvBackend) Set(context.Context, string, string) error {
	return ErrReadOnlyBackend
}

// Delete returns ErrReadOnlyBackend.
func (e *EnvBackend) Delete(context.Context, string) error {
	return ErrReadOnlyBackend
}

// Available returns true as environment variables are always available.
func (e *EnvBackend) Available() bool {
	return true
}

// Priority returns the backend priority.
func (e *EnvBackend) Priority() int {
	return EnvBackendPriority
}

var envKeyReplacer = strings.NewReplacer("/", "_", "-", "_", ".", "_")

// EnvKey returns the environment variable consulted for key.
func EnvKey(key string) string {
	return envSecretPrefix + strings.ToUpper(envKeyReplacer.Replace(key))
}
