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

// Package credential persists per-user OAuth credentials and keeps their
// access tokens valid.
//
// Writes are field-scoped: a Patch only touches the fields it sets, so a
// token refresh and a cursor advance on the same record never clobber each
// other.
package credential

import (
	"context"
	"errors"
	"time"

	"github.com/tombee/areahub/internal/platform"
)

// ErrNotFound is returned by Upsert when a patch without an access token
// targets a credential that does not exist.
var ErrNotFound = errors.New("credential not found")

// Credential is the stored token material for one (user, integration) pair.
type Credential struct {
	UserID      string
	Integration string

	AccessToken  string
	RefreshToken string

	// ExpiresAt is nil for non-expiring tokens.
	ExpiresAt *time.Time

	// Cursor is the last-seen change marker. Empty means never initialized.
	Cursor string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the access token expires at or before now+margin.
func (c *Credential) Expired(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now.Add(margin))
}

// Patch is a field-scoped update. Nil fields are left untouched.
type Patch struct {
	AccessToken  *string
	RefreshToken *string

	// ExpiresAt sets the expiry; ClearExpiry marks the token non-expiring.
	ExpiresAt   *time.Time
	ClearExpiry bool

	// Cursor sets the cursor. A pointer to "" discards it.
	Cursor *string
}

// TokenPatch builds the patch persisted after authorization or refresh. The
// refresh token is only written when the grant carries a new one.
func TokenPatch(grant *platform.TokenGrant, now time.Time) Patch {
	p := Patch{AccessToken: &grant.AccessToken}
	if grant.RefreshToken != "" {
		p.RefreshToken = &grant.RefreshToken
	}
	if grant.ExpiresIn > 0 {
		exp := now.Add(grant.ExpiresIn).UTC()
		p.ExpiresAt = &exp
	} else {
		p.ClearExpiry = true
	}
	return p
}

// CursorPatch builds the patch persisted when the poller moves the cursor.
func CursorPatch(cursor string) Patch {
	return Patch{Cursor: &cursor}
}

// apply copies the patch onto c. Used by backends without native partial
// updates.
func (p Patch) apply(c *Credential) {
	if p.AccessToken != nil {
		c.AccessToken = *p.AccessToken
	}
	if p.RefreshToken != nil {
		c.RefreshToken = *p.RefreshToken
	}
	if p.ClearExpiry {
		c.ExpiresAt = nil
	}
	if p.ExpiresAt != nil {
		exp := *p.ExpiresAt
		c.ExpiresAt = &exp
	}
	if p.Cursor != nil {
		c.Cursor = *p.Cursor
	}
}

// Store is the credential persistence boundary.
type Store interface {
	// Get returns the credential, or nil if none is stored.
	Get(ctx context.Context, userID, integration string) (*Credential, error)

	// Upsert applies patch and returns the resulting credential. A missing
	// credential is created only when the patch sets an access token;
	// otherwise ErrNotFound is returned.
	Upsert(ctx context.Context, userID, integration string, patch Patch) (*Credential, error)

	// Delete removes the credential. Deleting a missing credential is not an error.
	Delete(ctx context.Context, userID, integration string) error

	// ListUsers returns the ids of users holding a credential for integration.
	ListUsers(ctx context.Context, integration string) ([]string, error)

	// Close releases backend resources.
	Close() error
}
