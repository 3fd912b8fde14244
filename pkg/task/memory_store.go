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
	"fmt"
	"sync"

	"github.com/kadirpekel/optica/pkg/a2a"
)

// MemoryStore keeps tasks in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[a2a.TaskID]*a2a.Task
	order []a2a.TaskID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[a2a.TaskID]*a2a.Task)}
}

func (s *MemoryStore) Put(_ context.Context, t *a2a.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	cp := a2a.CloneTask(t)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		s.order = append(s.order, t.ID)
	}
	s.tasks[t.ID] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id a2a.TaskID) (*a2a.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return a2a.CloneTask(t), nil
}

func (s *MemoryStore) Cancel(_ context.Context, id a2a.TaskID) (*a2a.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if a2a.IsTerminal(t.Status.State) {
		return a2a.CloneTask(t), fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, t.Status.State)
	}
	if err := Transition(t, a2a.TaskStatus{State: a2a.TaskStateCanceled}); err != nil {
		return nil, err
	}
	return a2a.CloneTask(t), nil
}

func (s *MemoryStore) Enumerate(_ context.Context, match Predicate) ([]*a2a.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*a2a.Task
	for _, id := range s.order {
		t := a2a.CloneTask(s.tasks[id])
		if match == nil || match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
