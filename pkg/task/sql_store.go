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

package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/config"
)

// SQLStore persists tasks in a relational database.
// Supports PostgreSQL, MySQL, and SQLite via database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const createTasksTable = `
CREATE TABLE IF NOT EXISTS a2a_tasks (
    id VARCHAR(255) PRIMARY KEY,
    context_id VARCHAR(255) NOT NULL,
    state VARCHAR(32) NOT NULL,
    task_json TEXT NOT NULL,
    created_ns BIGINT NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

// NewSQLStore creates the schema if needed and returns the store. The connection is
// owned by the caller (usually a config.DBPool).
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := config.ValidateDialect(dialect); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize task schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createTasksTable); err != nil {
		return err
	}
	// MySQL has no CREATE INDEX IF NOT EXISTS; the primary key covers lookups there.
	if s.dialect != config.DialectMySQL {
		if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_a2a_tasks_context ON a2a_tasks(context_id)`); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Put(ctx context.Context, t *a2a.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	return s.put(ctx, s.db, t)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) put(ctx context.Context, db execer, t *a2a.Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to serialize task %s: %w", t.ID, err)
	}

	var query string
	switch s.dialect {
	case config.DialectMySQL:
		query = `
INSERT INTO a2a_tasks (id, context_id, state, task_json, created_ns, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE context_id = VALUES(context_id), state = VALUES(state),
    task_json = VALUES(task_json), updated_at = VALUES(updated_at)`
	default:
		query = `
INSERT INTO a2a_tasks (id, context_id, state, task_json, created_ns, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET context_id = excluded.context_id, state = excluded.state,
    task_json = excluded.task_json, updated_at = excluded.updated_at`
	}

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx, config.Rebind(s.dialect, query),
		string(t.ID), t.ContextID, string(t.Status.State), string(raw), now.UnixNano(), now)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id a2a.TaskID) (*a2a.Task, error) {
	return s.get(ctx, s.db, id, false)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) get(ctx context.Context, db queryer, id a2a.TaskID, forUpdate bool) (*a2a.Task, error) {
	query := `SELECT task_json FROM a2a_tasks WHERE id = ?`
	if forUpdate && s.dialect != config.DialectSQLite {
		query += ` FOR UPDATE`
	}

	var raw string
	err := db.QueryRowContext(ctx, config.Rebind(s.dialect, query), string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task %s: %w", id, err)
	}
	return decodeTask(raw)
}

func (s *SQLStore) Cancel(ctx context.Context, id a2a.TaskID) (*a2a.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := s.get(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if a2a.IsTerminal(t.Status.State) {
		return t, fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, t.Status.State)
	}
	if err := Transition(t, a2a.TaskStatus{State: a2a.TaskStateCanceled}); err != nil {
		return nil, err
	}
	if err := s.put(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancel of %s: %w", id, err)
	}
	return t, nil
}

func (s *SQLStore) Enumerate(ctx context.Context, match Predicate) ([]*a2a.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_json FROM a2a_tasks ORDER BY created_ns, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate tasks: %w", err)
	}
	defer rows.Close()

	var out []*a2a.Task
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t, err := decodeTask(raw)
		if err != nil {
			return nil, err
		}
		if match == nil || match(t) {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

// Close is a no-op; the connection belongs to the pool that opened it.
func (s *SQLStore) Close() error { return nil }

func decodeTask(raw string) (*a2a.Task, error) {
	var t a2a.Task
	if err := a2a.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &t, nil
}

var _ Store = (*SQLStore)(nil)
