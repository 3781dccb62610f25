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
	"strings"
	"testing"
)

func TestSealedStoreContract(t *testing.T) {
	sealed, err := NewSealedStore(NewMemoryStore(), "master-key")
	if err != nil {
		t.Fatalf("NewSealedStore() error = %v", err)
	}
	runStoreContract(t, sealed)
}

func TestSealedStoreEncryptsAtRest(t *testing.T) {
	inner := NewMemoryStore()
	sealed, err := NewSealedStore(inner, "master-key")
	if err != nil {
		t.Fatalf("NewSealedStore() error = %v", err)
	}
	ctx := context.Background()

	got, err := sealed.Upsert(ctx, "u1", "gmail", Patch{AccessToken: strPtr("plain-access"), RefreshToken: strPtr("plain-refresh")})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if got.AccessToken != "plain-access" || got.RefreshToken != "plain-refresh" {
		t.Errorf("Upsert() returned %+v, want decrypted tokens", got)
	}

	raw, _ := inner.Get(ctx, "u1", "gmail")
	if !strings.HasPrefix(raw.AccessToken, sealedPrefix) || strings.Contains(raw.AccessToken, "plain") {
		t.Errorf("stored access token %q is not sealed", raw.AccessToken)
	}
	if !strings.HasPrefix(raw.RefreshToken, sealedPrefix) {
		t.Errorf("stored refresh token %q is not sealed", raw.RefreshToken)
	}
}

func TestSealedStoreRejectsMovedToken(t *testing.T) {
	inner := NewMemoryStore()
	sealed, _ := NewSealedStore(inner, "master-key")
	ctx := context.Background()

	if _, err := sealed.Upsert(ctx, "u1", "gmail", Patch{AccessToken: strPtr("secret")}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	raw, _ := inner.Get(ctx, "u1", "gmail")

	// Copy the sealed value onto another user's row.
	if _, err := inner.Upsert(ctx, "u2", "gmail", Patch{AccessToken: &raw.AccessToken}); err != nil {
		t.Fatalf("inner Upsert() error = %v", err)
	}
	if _, err := sealed.Get(ctx, "u2", "gmail"); err == nil {
		t.Error("Get() of a token sealed for another user should fail")
	}
}

func TestSealedStoreReadsLegacyPlaintext(t *testing.T) {
	inner := NewMemoryStore()
	ctx := context.Background()
	if _, err := inner.Upsert(ctx, "u1", "gmail", Patch{AccessToken: strPtr("legacy")}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	sealed, _ := NewSealedStore(inner, "master-key")
	c, err := sealed.Get(ctx, "u1", "gmail")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if c.AccessToken != "legacy" {
		t.Errorf("AccessToken = %q, want legacy", c.AccessToken)
	}
}

func TestNewSealedStoreRequiresKey(t *testing.T) {
	if _, err := NewSealedStore(NewMemoryStore(), ""); err == nil {
		t.Error("NewSealedStore(empty key) error = nil, want error")
	}
}
