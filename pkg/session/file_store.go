package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore keeps one JSON document per session in a directory. Writes go to a
// temporary file that is renamed over the document, so a crash never leaves a
// torn record behind.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// path escapes the id so it can never leave the directory.
func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, url.PathEscape(sessionID)+".json")
}

func (s *FileStore) Load(_ context.Context, sessionID string) (*Record, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	return decodeRecord(data)
}

func (s *FileStore) Save(_ context.Context, r *Record) error {
	if r == nil || r.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", r.SessionID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session %s: %w", r.SessionID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync session %s: %w", r.SessionID, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path(r.SessionID)); err != nil {
		return fmt.Errorf("failed to replace session %s: %w", r.SessionID, err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, sessionID string) error {
	err := os.Remove(s.path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return err
}

func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	records, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(records))
	for _, r := range records {
		out = append(out, r.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func (s *FileStore) Prune(ctx context.Context, before time.Time) (int, error) {
	records, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range records {
		if r.UpdatedAt.Before(before) {
			if err := os.Remove(s.path(r.SessionID)); err == nil {
				n++
			}
		}
	}
	return n, nil
}

func (s *FileStore) scan(ctx context.Context) ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var out []*Record
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		r, err := decodeRecord(data)
		if err != nil {
			slog.Warn("Skipping unreadable session document", "file", name, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *FileStore) Close() error { return nil }

// decodeRecord ignores unknown fields and fills the maps a record relies on.
func decodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if r.MemoryContext == nil {
		r.MemoryContext = make(map[string]any)
	}
	return &r, nil
}

var _ Store = (*FileStore)(nil)
