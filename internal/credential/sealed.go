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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for deriving the sealing key from the configured
// master key. Derivation runs once per process.
const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024 // 64MB in KB
	argon2Parallelism = 4
	argon2KeyLength   = 32 // AES-256

	sealedPrefix = "enc:v1:"
)

// sealSalt is fixed so the same master key always yields the same sealing key.
var sealSalt = []byte("areahub/credential/seal/v1")

// SealedStore encrypts access and refresh tokens with AES-256-GCM before
// they reach the wrapped store. Values written before sealing was enabled
// are returned as-is.
type SealedStore struct {
	Store
	aead cipher.AEAD
}

// NewSealedStore wraps inner, deriving the sealing key from masterKey.
func NewSealedStore(inner Store, masterKey string) (*SealedStore, error) {
	if masterKey == "" {
		return nil, errors.New("encryption key is empty")
	}
	key := argon2.IDKey([]byte(masterKey), sealSalt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLength)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &SealedStore{Store: inner, aead: aead}, nil
}

// Get implements Store.
func (s *SealedStore) Get(ctx context.Context, userID, integration string) (*Credential, error) {
	c, err := s.Store.Get(ctx, userID, integration)
	if err != nil || c == nil {
		return c, err
	}
	return s.open(c)
}

// Upsert implements Store.
func (s *SealedStore) Upsert(ctx context.Context, userID, integration string, patch Patch) (*Credential, error) {
	aad := sealAAD(userID, integration)
	if patch.AccessToken != nil {
		sealed, err := s.seal(*patch.AccessToken, aad)
		if err != nil {
			return nil, err
		}
		patch.AccessToken = &sealed
	}
	if patch.RefreshToken != nil && *patch.RefreshToken != "" {
		sealed, err := s.seal(*patch.RefreshToken, aad)
		if err != nil {
			return nil, err
		}
		patch.RefreshToken = &sealed
	}

	c, err := s.Store.Upsert(ctx, userID, integration, patch)
	if err != nil {
		return nil, err
	}
	return s.open(c)
}

func (s *SealedStore) open(c *Credential) (*Credential, error) {
	aad := sealAAD(c.UserID, c.Integration)
	var err error
	if c.AccessToken, err = s.unseal(c.AccessToken, aad); err != nil {
		return nil, fmt.Errorf("failed to open access token: %w", err)
	}
	if c.RefreshToken, err = s.unseal(c.RefreshToken, aad); err != nil {
		return nil, fmt.Errorf("failed to open refresh token: %w", err)
	}
	return c, nil
}

func (s *SealedStore) seal(plaintext string, aad []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), aad)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

func (s *SealedStore) unseal(value string, aad []byte) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", err
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return "", errors.New("sealed value too short")
	}
	plaintext, err := s.aead.Open(nil, raw[:n], raw[n:], aad)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// sealAAD binds a sealed token to its (user, integration) row.
func sealAAD(userID, integration string) []byte {
	return []byte(userID + "\x00" + integration)
}
