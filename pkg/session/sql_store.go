// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/optica/pkg/config"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS host_sessions (
    session_id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255),
    turns INTEGER NOT NULL,
    document TEXT NOT NULL,
    updated_ns BIGINT NOT NULL
)`

// SQLStore keeps one row per session holding the whole document.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates the schema if needed. The connection is owned by the
// caller.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := config.ValidateDialect(dialect); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createSessionsTable); err != nil {
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		config.Rebind(s.dialect, `SELECT document FROM host_sessions WHERE session_id = ?`), sessionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return decodeRecord([]byte(doc))
}

func (s *SQLStore) Save(ctx context.Context, r *Record) error {
	if r == nil || r.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", r.SessionID, err)
	}

	var query string
	switch s.dialect {
	case config.DialectMySQL:
		query = `
INSERT INTO host_sessions (session_id, user_id, turns, document, updated_ns) VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE user_id = VALUES(user_id), turns = VALUES(turns),
    document = VALUES(document), updated_ns = VALUES(updated_ns)`
	default:
		query = `
INSERT INTO host_sessions (session_id, user_id, turns, document, updated_ns) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (session_id) DO UPDATE SET user_id = excluded.user_id, turns = excluded.turns,
    document = excluded.document, updated_ns = excluded.updated_ns`
	}
	_, err = s.db.ExecContext(ctx, config.Rebind(s.dialect, query),
		r.SessionID, r.UserID, len(r.History), string(doc), r.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", r.SessionID, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		config.Rebind(s.dialect, `DELETE FROM host_sessions WHERE session_id = ?`), sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, user_id, turns, updated_ns FROM host_sessions ORDER BY updated_ns DESC, session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			userID  sql.NullString
			updated int64
		)
		if err := rows.Scan(&sum.SessionID, &userID, &sum.Turns, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sum.UserID = userID.String
		sum.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		config.Rebind(s.dialect, `DELETE FROM host_sessions WHERE updated_ns < ?`), before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close is a no-op; the connection belongs to the pool that opened it.
func (s *SQLStore) Close() error { return nil }

var _ Store = (*SQLStore)(nil)
