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

package credential

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryKey struct {
	userID      string
	integration string
}

// MemoryStore keeps credentials in process memory. Used by tests and by
// `areahub poll --dry-run` style tooling that must not touch a database.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[memoryKey]Credential
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[memoryKey]Credential),
		now:   time.Now,
	}
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, userID, integration string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.items[memoryKey{userID, integration}]
	if !ok {
		return nil, nil
	}
	return cloneCredential(c), nil
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(ctx context.Context, userID, integration string, patch Patch) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{userID, integration}
	now := m.now().UTC()
	c, ok := m.items[key]
	if !ok {
		if patch.AccessToken == nil {
			return nil, ErrNotFound
		}
		c = Credential{UserID: userID, Integration: integration, CreatedAt: now}
	}
	patch.apply(&c)
	c.UpdatedAt = now
	m.items[key] = c
	return cloneCredential(c), nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, userID, integration string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, memoryKey{userID, integration})
	return nil
}

// ListUsers implements Store.
func (m *MemoryStore) ListUsers(ctx context.Context, integration string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var users []string
	for k := range m.items {
		if k.integration == integration {
			users = append(users, k.userID)
		}
	}
	sort.Strings(users)
	return users, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

func cloneCredential(c Credential) *Credential {
	out := c
	if c.ExpiresAt != nil {
		exp := *c.ExpiresAt
		out.ExpiresAt = &exp
	}
	return &out
}
