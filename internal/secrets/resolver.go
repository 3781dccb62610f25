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
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Resolver manages a chain of SecretBackends and resolves secrets by
// querying backends in priority order.
type Resolver struct {
	backends []SecretBackend
}

// NewResolver creates a resolver over the available backends, sorted by
// priority (highest first).
func NewResolver(backends ...SecretBackend) *Resolver {
	available := make([]SecretBackend, 0, len(backends))
	for _, b := range backends {
		if b.Available() {
			available = append(available, b)
		}
	}
	sort.SliceStable(available, func(i, j int) bool {
		return available[i].Priority() > available[j].Priority()
	})
	return &Resolver{backends: available}
}

// NewDefaultResolver chains the environment and keychain backends.
func NewDefaultResolver() *Resolver {
	return NewResolver(NewEnvBackend(), NewKeychainBackend())
}

// Get retrieves a secret by querying backends in priority order.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	if len(r.backends) == 0 {
		return "", fmt.Errorf("%w: no available backends", ErrBackendUnavailable)
	}

	var lastErr error
	for _, backend := range r.backends {
		value, err := backend.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("failed to get secret %q: %w", key, lastErr)
	}
	return "", fmt.Errorf("%w: %q", ErrSecretNotFound, key)
}

// Set stores a secret in the named backend, or in the first writable
// backend when backendName is empty.
func (r *Resolver) Set(ctx context.Context, key, value, backendName string) error {
	for _, backend := range r.backends {
		if backendName != "" && backend.Name() != backendName {
			continue
		}
		err := backend.Set(ctx, key, value)
		if errors.Is(err, ErrReadOnlyBackend) && backendName == "" {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to set secret in %s: %w", backend.Name(), err)
		}
		return nil
	}
	if backendName != "" {
		return fmt.Errorf("backend %q not found or unavailable", backendName)
	}
	return errors.New("no writable backend available")
}

// Delete removes a secret from every writable backend holding it.
func (r *Resolver) Delete(ctx context.Context, key string) error {
	deleted := false
	for _, backend := range r.backends {
		err := backend.Delete(ctx, key)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrSecretNotFound), errors.Is(err, ErrReadOnlyBackend):
		default:
			return fmt.Errorf("failed to delete secret from %s: %w", backend.Name(), err)
		}
	}
	if !deleted {
		return fmt.Errorf("%w: %q", ErrSecretNotFound, key)
	}
	return nil
}

// backend returns the available backend with the given name.
func (r *Resolver) backend(name string) (SecretBackend, bool) {
	for _, b := range r.backends {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// ResolveRef returns the secret a configuration value refers to. Values
// without a recognized scheme are returned unchanged.
func (r *Resolver) ResolveRef(ctx context.Context, value string) (string, error) {
	scheme, ref, ok := strings.Cut(value, ":")
	if !ok || ref == "" {
		return value, nil
	}

	switch scheme {
	case "env":
		if v := os.Getenv(ref); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("%w: environment variable %s not set", ErrSecretNotFound, ref)
	case "keychain":
		b, ok := r.backend("keychain")
		if !ok {
			return "", fmt.Errorf("%w: keychain", ErrBackendUnavailable)
		}
		return b.Get(ctx, ref)
	case "secret":
		return r.Get(ctx, ref)
	default:
		return value, nil
	}
}
