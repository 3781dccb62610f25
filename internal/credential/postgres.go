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
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const postgresOperationTimeout = 5 * time.Second

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore is the credential backend for multi-instance deployments.
// The connection and schema are set up lazily on first use.
type PostgresStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	store    sqlStore
}

// NewPostgresStore creates a Postgres-backed store for dsn.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	return &PostgresStore{dsn: dsn, openDB: sql.Open}, nil
}

func (p *PostgresStore) ensureReady() error {
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = fmt.Errorf("failed to open database: %w", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		p.store = sqlStore{
			db:          db,
			placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
			now:         time.Now,
		}
		if err := p.store.migrate(ctx); err != nil {
			_ = db.Close()
			p.store.db = nil
			p.initErr = err
		}
	})
	return p.initErr
}

// Get implements Store.
func (p *PostgresStore) Get(ctx context.Context, userID, integration string) (*Credential, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	return p.store.Get(ctx, userID, integration)
}

// Upsert implements Store.
func (p *PostgresStore) Upsert(ctx context.Context, userID, integration string, patch Patch) (*Credential, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	return p.store.Upsert(ctx, userID, integration, patch)
}

// Delete implements Store.
func (p *PostgresStore) Delete(ctx context.Context, userID, integration string) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	return p.store.Delete(ctx, userID, integration)
}

// ListUsers implements Store.
func (p *PostgresStore) ListUsers(ctx context.Context, integration string) ([]string, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	return p.store.ListUsers(ctx, integration)
}

// Close implements Store.
func (p *PostgresStore) Close() error {
	return p.store.Close()
}
