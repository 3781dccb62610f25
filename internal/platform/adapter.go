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

// Package platform defines the boundary between the generic execution core
// and the per-platform adapters (Gmail, Twitch, ...).
//
// The core depends only on these interfaces. An adapter that supports change
// detection additionally implements ChangeSource; adapters that hold upstream
// subscriptions on a user's behalf implement SubscriptionReleaser.
package platform

import (
	"context"
	"time"
)

// TokenGrant is the result of an OAuth token refresh or authorization.
type TokenGrant struct {
	AccessToken string

	// RefreshToken is empty when the platform kept the previous refresh token.
	RefreshToken string

	// ExpiresIn is the access token lifetime. Zero means non-expiring.
	ExpiresIn time.Duration
}

// Change is one detected upstream change.
type Change struct {
	// Marker is the platform change marker the item was observed at.
	Marker string

	// Payload is the event data forwarded to the trigger notifier.
	Payload map[string]any

	// AuthorHint identifies who produced the change (e.g. a From header).
	AuthorHint string

	// Sentinel is true when the change carries the marker the automation
	// system stamps on content it creates.
	Sentinel bool
}

// Adapter is implemented once per external platform.
type Adapter interface {
	// Name returns the integration identifier (e.g. "gmail").
	Name() string

	// Catalog returns the actions and reactions the integration publishes.
	Catalog() []Descriptor

	// RefreshToken exchanges a refresh token for a new access token.
	RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error)

	// Invoke runs a named action or reaction with an already-valid token.
	Invoke(ctx context.Context, operation string, token string, params map[string]any) (map[string]any, error)
}

// ChangeSource is implemented by adapters that support polled change detection.
type ChangeSource interface {
	// FetchCurrentMarker returns the platform's marker as of now.
	FetchCurrentMarker(ctx context.Context, token string) (string, error)

	// FetchChangesSince returns changes strictly after marker. It returns an
	// error matching ErrCursorInvalidated when marker is no longer recognized.
	FetchChangesSince(ctx context.Context, token string, marker string) ([]Change, error)
}

// IdentityProvider is implemented by adapters that can report the identity of
// the account a token belongs to, used to filter self-authored changes.
type IdentityProvider interface {
	SelfIdentity(ctx context.Context, token string) (string, error)
}

// SubscriptionReleaser is implemented by adapters that hold upstream
// subscriptions (webhooks) on a user's behalf.
type SubscriptionReleaser interface {
	ReleaseSubscriptions(ctx context.Context, token string) error
}

// EventNamer is implemented by change sources to name the action their
// changes are delivered as. The poller falls back to "<integration>.change".
type EventNamer interface {
	EventName() string
}
