package session

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps sessions in process memory. Sessions idle longer than the
// TTL expire; beyond the size cap the least recently used one is evicted.
type MemoryStore struct {
	records *expirable.LRU[string, *Record]
}

// NewMemoryStore creates a store for up to size sessions.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 10000
	}
	return &MemoryStore{records: expirable.NewLRU[string, *Record](size, nil, ttl)}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*Record, error) {
	r, ok := s.records.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, r *Record) error {
	if r == nil || r.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	s.records.Add(r.SessionID, r.Clone())
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	if !s.records.Remove(sessionID) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Summary, error) {
	values := s.records.Values()
	out := make([]Summary, 0, len(values))
	for _, r := range values {
		out = append(out, r.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	n := 0
	for _, r := range s.records.Values() {
		if r.UpdatedAt.Before(before) && s.records.Remove(r.SessionID) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	s.records.Purge()
	return nil
}

var _ Store = (*MemoryStore)(nil)
