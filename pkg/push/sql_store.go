package push

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/config"
)

const createPushConfigsTable = `
CREATE TABLE IF NOT EXISTS a2a_push_configs (
    task_id VARCHAR(255) NOT NULL,
    config_id VARCHAR(255) NOT NULL,
    config_json TEXT NOT NULL,
    created_ns BIGINT NOT NULL,
    PRIMARY KEY (task_id, config_id)
)`

// SQLConfigStore persists subscriptions so they survive an agent restart.
type SQLConfigStore struct {
	db      *sql.DB
	dialect string
}

func NewSQLConfigStore(db *sql.DB, dialect string) (*SQLConfigStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := config.ValidateDialect(dialect); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createPushConfigsTable); err != nil {
		return nil, fmt.Errorf("failed to initialize push config schema: %w", err)
	}
	return &SQLConfigStore{db: db, dialect: dialect}, nil
}

func (s *SQLConfigStore) Set(ctx context.Context, taskID a2a.TaskID, cfg a2a.PushConfig) (a2a.PushConfig, error) {
	cfg, err := prepare(taskID, cfg)
	if err != nil {
		return cfg, err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to serialize push config: %w", err)
	}

	var query string
	switch s.dialect {
	case config.DialectMySQL:
		query = `
INSERT INTO a2a_push_configs (task_id, config_id, config_json, created_ns)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE config_json = VALUES(config_json)`
	default:
		query = `
INSERT INTO a2a_push_configs (task_id, config_id, config_json, created_ns)
VALUES (?, ?, ?, ?)
ON CONFLICT (task_id, config_id) DO UPDATE SET config_json = excluded.config_json`
	}

	_, err = s.db.ExecContext(ctx, config.Rebind(s.dialect, query),
		string(taskID), cfg.ID, string(raw), time.Now().UnixNano())
	if err != nil {
		return cfg, fmt.Errorf("failed to store push config for task %s: %w", taskID, err)
	}
	return cfg, nil
}

func (s *SQLConfigStore) Get(ctx context.Context, taskID a2a.TaskID) ([]a2a.PushConfig, error) {
	rows, err := s.db.QueryContext(ctx, config.Rebind(s.dialect,
		`SELECT config_json FROM a2a_push_configs WHERE task_id = ? ORDER BY created_ns, config_id`), string(taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to query push configs for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []a2a.PushConfig
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan push config: %w", err)
		}
		var cfg a2a.PushConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode push config: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *SQLConfigStore) Delete(ctx context.Context, taskID a2a.TaskID) error {
	_, err := s.db.ExecContext(ctx, config.Rebind(s.dialect, `DELETE FROM a2a_push_configs WHERE task_id = ?`), string(taskID))
	if err != nil {
		return fmt.Errorf("failed to delete push configs for task %s: %w", taskID, err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the pool that opened it.
func (s *SQLConfigStore) Close() error { return nil }

// NewConfigStoreFromConfig builds the subscription store selected by
// cfg.Server.Push.Store.
func NewConfigStoreFromConfig(cfg *config.Config, pool *config.DBPool) (ConfigStore, error) {
	sc := cfg.Server.Push.Store
	switch sc.Backend {
	case config.StorageBackendInMemory, "":
		return NewMemoryConfigStore(), nil
	case config.StorageBackendSQL:
		db, dialect, err := pool.Named(cfg, sc.Database)
		if err != nil {
			return nil, fmt.Errorf("push config store: %w", err)
		}
		return NewSQLConfigStore(db, dialect)
	default:
		return nil, fmt.Errorf("unsupported push config store backend %q", sc.Backend)
	}
}

var _ ConfigStore = (*SQLConfigStore)(nil)
