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
	"time"
)

const credentialsTable = "credentials"

// sqlStore implements Store over database/sql. The SQLite and Postgres
// backends differ only in placeholder syntax and connection setup.
type sqlStore struct {
	db          *sql.DB
	placeholder func(n int) string
	now         func() time.Time
}

var credentialsSchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + credentialsTable + ` (
		user_id TEXT NOT NULL,
		integration TEXT NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL DEFAULT '',
		expires_at BIGINT,
		poll_cursor TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (user_id, integration)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credentials_integration ON ` + credentialsTable + `(integration)`,
}

const credentialColumns = `user_id, integration, access_token, refresh_token, expires_at, poll_cursor, created_at, updated_at`

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range credentialsSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Get(ctx context.Context, userID, integration string) (*Credential, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = %s AND integration = %s`,
		credentialColumns, credentialsTable, s.placeholder(1), s.placeholder(2))

	c, err := scanCredential(s.db.QueryRowContext(ctx, query, userID, integration))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return c, nil
}

// patchColumns returns the columns and values a patch writes.
func patchColumns(p Patch) ([]string, []any) {
	var cols []string
	var args []any
	if p.AccessToken != nil {
		cols = append(cols, "access_token")
		args = append(args, *p.AccessToken)
	}
	if p.RefreshToken != nil {
		cols = append(cols, "refresh_token")
		args = append(args, *p.RefreshToken)
	}
	if p.ExpiresAt != nil {
		cols = append(cols, "expires_at")
		args = append(args, p.ExpiresAt.UnixMilli())
	} else if p.ClearExpiry {
		cols = append(cols, "expires_at")
		args = append(args, nil)
	}
	if p.Cursor != nil {
		cols = append(cols, "poll_cursor")
		args = append(args, *p.Cursor)
	}
	return cols, args
}

func (s *sqlStore) Upsert(ctx context.Context, userID, integration string, patch Patch) (*Credential, error) {
	now := s.now().UTC().UnixMilli()
	cols, args := patchColumns(patch)

	if patch.AccessToken == nil {
		return s.update(ctx, userID, integration, cols, args, now)
	}

	// Full row for the insert branch; the conflict branch only assigns the
	// patched columns.
	var refresh string
	var expires any
	var cursor string
	if patch.RefreshToken != nil {
		refresh = *patch.RefreshToken
	}
	if patch.ExpiresAt != nil {
		expires = patch.ExpiresAt.UnixMilli()
	}
	if patch.Cursor != nil {
		cursor = *patch.Cursor
	}

	sets := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	sets = append(sets, "updated_at = excluded.updated_at")

	ph := make([]string, 8)
	for i := range ph {
		ph[i] = s.placeholder(i + 1)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (user_id, integration) DO UPDATE SET %s
		RETURNING %s`,
		credentialsTable, credentialColumns, strings.Join(ph, ", "),
		strings.Join(sets, ", "), credentialColumns)

	c, err := scanCredential(s.db.QueryRowContext(ctx, query,
		userID, integration, *patch.AccessToken, refresh, expires, cursor, now, now))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert credential: %w", err)
	}
	return c, nil
}

func (s *sqlStore) update(ctx context.Context, userID, integration string, cols []string, args []any, now int64) (*Credential, error) {
	sets := make([]string, 0, len(cols)+1)
	n := 0
	for _, col := range cols {
		n++
		sets = append(sets, fmt.Sprintf("%s = %s", col, s.placeholder(n)))
	}
	n++
	sets = append(sets, fmt.Sprintf("updated_at = %s", s.placeholder(n)))
	args = append(args, now, userID, integration)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE user_id = %s AND integration = %s RETURNING %s`,
		credentialsTable, strings.Join(sets, ", "), s.placeholder(n+1), s.placeholder(n+2), credentialColumns)

	c, err := scanCredential(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update credential: %w", err)
	}
	return c, nil
}

func (s *sqlStore) Delete(ctx context.Context, userID, integration string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = %s AND integration = %s`,
		credentialsTable, s.placeholder(1), s.placeholder(2))
	if _, err := s.db.ExecContext(ctx, query, userID, integration); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (s *sqlStore) ListUsers(ctx context.Context, integration string) ([]string, error) {
	query := fmt.Sprintf(`SELECT user_id FROM %s WHERE integration = %s ORDER BY user_id`,
		credentialsTable, s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, integration)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func scanCredential(row *sql.Row) (*Credential, error) {
	var c Credential
	var expires sql.NullInt64
	var created, updated int64
	err := row.Scan(&c.UserID, &c.Integration, &c.AccessToken, &c.RefreshToken,
		&expires, &c.Cursor, &created, &updated)
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		exp := time.UnixMilli(expires.Int64).UTC()
		c.ExpiresAt = &exp
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	c.UpdatedAt = time.UnixMilli(updated).UTC()
	return &c, nil
}
