// Package push delivers task events to webhook subscribers registered through
// tasks/pushNotificationConfig/set.
package push

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kadirpekel/optica/pkg/a2a"
)

// ConfigStore is the registry of webhooks per task. Setting a config whose id is
// already registered for the task replaces it; an empty id is assigned one.
type ConfigStore interface {
	Set(ctx context.Context, taskID a2a.TaskID, cfg a2a.PushConfig) (a2a.PushConfig, error)
	Get(ctx context.Context, taskID a2a.TaskID) ([]a2a.PushConfig, error)
	Delete(ctx context.Context, taskID a2a.TaskID) error
	Close() error
}

func prepare(taskID a2a.TaskID, cfg a2a.PushConfig) (a2a.PushConfig, error) {
	if taskID == "" {
		return cfg, fmt.Errorf("task id is required")
	}
	if err := a2a.ValidatePushConfig(&cfg); err != nil {
		return cfg, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	return cfg, nil
}

// MemoryConfigStore keeps subscriptions in process memory.
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[a2a.TaskID][]a2a.PushConfig
}

func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{configs: make(map[a2a.TaskID][]a2a.PushConfig)}
}

func (s *MemoryConfigStore) Set(_ context.Context, taskID a2a.TaskID, cfg a2a.PushConfig) (a2a.PushConfig, error) {
	cfg, err := prepare(taskID, cfg)
	if err != nil {
		return cfg, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.configs[taskID]
	for i := range list {
		if list[i].ID == cfg.ID {
			list[i] = cfg
			return cfg, nil
		}
	}
	s.configs[taskID] = append(list, cfg)
	return cfg, nil
}

func (s *MemoryConfigStore) Get(_ context.Context, taskID a2a.TaskID) ([]a2a.PushConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]a2a.PushConfig(nil), s.configs[taskID]...), nil
}

func (s *MemoryConfigStore) Delete(_ context.Context, taskID a2a.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, taskID)
	return nil
}

func (s *MemoryConfigStore) Close() error { return nil }

var _ ConfigStore = (*MemoryConfigStore)(nil)
