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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tombee/areahub/internal/platform"
)

// DefaultRefreshMargin is how long before expiry a token is refreshed.
const DefaultRefreshMargin = 60 * time.Second

// DefaultRefreshTimeout bounds one shared token refresh.
const DefaultRefreshTimeout = 30 * time.Second

// ManagerConfig configures the credential lifecycle manager.
type ManagerConfig struct {
	// Store persists credentials (required)
	Store Store

	// RefreshMargin treats tokens expiring within the margin as expired
	RefreshMargin time.Duration

	// RefreshTimeout bounds a refresh shared by concurrent callers
	// (default: 30s)
	RefreshTimeout time.Duration

	// Logger for lifecycle events (default: slog.Default())
	Logger *slog.Logger

	// Now overrides the clock in tests
	Now func() time.Time
}

// Manager hands out valid access tokens, refreshing and persisting them when
// they expire.
type Manager struct {
	store    Store
	margin   time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
	refreshG singleflight.Group

	mu       sync.RWMutex
	adapters map[string]platform.Adapter
}

// NewManager creates a lifecycle manager over cfg.Store.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("credential store is required")
	}
	if cfg.RefreshMargin < 0 {
		return nil, fmt.Errorf("refresh margin must not be negative, got %v", cfg.RefreshMargin)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &Manager{
		store:    cfg.Store,
		margin:   cfg.RefreshMargin,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "credential")),
		now:      now,
		adapters: make(map[string]platform.Adapter),
	}, nil
}

// Register makes an adapter's refresh operation available to the manager.
func (m *Manager) Register(adapter platform.Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[adapter.Name()] = adapter
}

// Store returns the underlying credential store.
func (m *Manager) Store() Store {
	return m.store
}

func (m *Manager) adapter(integration string) (platform.Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[integration]
	if !ok {
		return nil, fmt.Errorf("integration %q is not registered", integration)
	}
	return a, nil
}

// ValidAccessToken returns a usable access token for the user, refreshing it
// first when it has expired or is within the refresh margin.
//
// Fails with KindNoCredential, KindRefreshUnavailable or KindRefreshFailed.
// A failed refresh leaves the stored credential untouched.
func (m *Manager) ValidAccessToken(ctx context.Context, userID, integration string) (string, error) {
	c, err := m.store.Get(ctx, userID, integration)
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}
	if c == nil {
		return "", &platform.Error{
			Kind:        platform.KindNoCredential,
			Integration: integration,
			Message:     fmt.Sprintf("no credential stored for user %s", userID),
		}
	}
	if !c.Expired(m.now(), m.margin) {
		return c.AccessToken, nil
	}
	if c.RefreshToken == "" {
		return "", &platform.Error{
			Kind:        platform.KindRefreshUnavailable,
			Integration: integration,
			Message:     "access token expired and no refresh token is stored",
		}
	}

	// Concurrent callers for the same credential share one refresh. The
	// flight is detached from any one caller so a caller giving up does not
	// fail the others.
	ch := m.refreshG.DoChan(userID+"\x00"+integration, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return m.refresh(flightCtx, userID, integration)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context, userID, integration string) (string, error) {
	// Re-read: a refresh that finished between the caller's read and
	// entering the flight has already persisted a fresh token.
	c, err := m.store.Get(ctx, userID, integration)
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}
	if c == nil {
		return "", &platform.Error{Kind: platform.KindNoCredential, Integration: integration,
			Message: fmt.Sprintf("no credential stored for user %s", userID)}
	}
	if !c.Expired(m.now(), m.margin) {
		return c.AccessToken, nil
	}
	if c.RefreshToken == "" {
		return "", &platform.Error{Kind: platform.KindRefreshUnavailable, Integration: integration,
			Message: "access token expired and no refresh token is stored"}
	}

	adapter, err := m.adapter(integration)
	if err != nil {
		return "", err
	}

	grant, err := adapter.RefreshToken(ctx, c.RefreshToken)
	if err != nil {
		m.logger.Warn("token refresh failed",
			slog.String("integration", integration),
			slog.String("user_id", userID),
			slog.Any("error", err))
		return "", &platform.Error{
			Kind:        platform.KindRefreshFailed,
			Integration: integration,
			Message:     "token refresh failed",
			Cause:       err,
		}
	}
	if grant == nil || grant.AccessToken == "" {
		return "", &platform.Error{Kind: platform.KindRefreshFailed, Integration: integration,
			Message: "token refresh returned no access token"}
	}

	if _, err := m.store.Upsert(ctx, userID, integration, TokenPatch(grant, m.now())); err != nil {
		return "", &platform.Error{
			Kind:        platform.KindRefreshFailed,
			Integration: integration,
			Message:     "failed to persist refreshed token",
			Cause:       err,
		}
	}

	m.logger.Debug("token refreshed",
		slog.String("integration", integration),
		slog.String("user_id", userID),
		slog.Bool("rotated", grant.RefreshToken != ""))
	return grant.AccessToken, nil
}

// Save stores a credential obtained from a completed authorization flow.
// An existing cursor is kept.
func (m *Manager) Save(ctx context.Context, userID, integration string, grant *platform.TokenGrant) (*Credential, error) {
	if grant == nil || grant.AccessToken == "" {
		return nil, errors.New("access token is required")
	}
	return m.store.Upsert(ctx, userID, integration, TokenPatch(grant, m.now()))
}

// Disconnect deletes the user's credential. Upstream subscriptions held by
// the adapter are released first; failures there are logged, not returned.
func (m *Manager) Disconnect(ctx context.Context, userID, integration string) error {
	c, err := m.store.Get(ctx, userID, integration)
	if err != nil {
		return fmt.Errorf("failed to load credential: %w", err)
	}
	if c == nil {
		return nil
	}

	if adapter, err := m.adapter(integration); err == nil {
		if releaser, ok := adapter.(platform.SubscriptionReleaser); ok {
			m.releaseSubscriptions(ctx, releaser, userID, integration)
		}
	}

	if err := m.store.Delete(ctx, userID, integration); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	m.logger.Info("integration disconnected by user",
		slog.String("integration", integration),
		slog.String("user_id", userID))
	return nil
}

func (m *Manager) releaseSubscriptions(ctx context.Context, releaser platform.SubscriptionReleaser, userID, integration string) {
	token, err := m.ValidAccessToken(ctx, userID, integration)
	if err != nil {
		m.logger.Warn("skipping upstream subscription release",
			slog.String("integration", integration),
			slog.String("user_id", userID),
			slog.Any("error", err))
		return
	}
	if err := releaser.ReleaseSubscriptions(ctx, token); err != nil {
		m.logger.Warn("failed to release upstream subscriptions",
			slog.String("integration", integration),
			slog.String("user_id", userID),
			slog.Any("error", err))
	}
}
