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

// Package task holds server-side task state: the state machine, the task stores and
// the per-task event queues.
//
// A Task is the unit of work in the A2A protocol. This package implements:
//   - The task state machine (submitted → working → completed/failed/canceled,
//     with input-required as a resumable halt)
//   - Swappable stores (in-memory for development, SQL for production)
//   - Single-producer, multi-consumer event queues with bounded replay
package task

import (
	"context"
	"errors"

	"github.com/kadirpekel/optica/pkg/a2a"
)

var (
	// ErrTaskNotFound is returned when a task id is unknown to the store.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskTerminal is returned when a terminal task would be modified.
	ErrTaskTerminal = errors.New("task is in a terminal state")
)

// Predicate selects tasks during enumeration.
type Predicate func(t *a2a.Task) bool

// Store persists tasks. Implementations must be safe for concurrent use and must
// never hand out references to their internal state: Get and Enumerate return
// copies, and Put stores a copy.
type Store interface {
	// Put inserts or replaces a task.
	Put(ctx context.Context, t *a2a.Task) error

	// Get returns the task or ErrTaskNotFound.
	Get(ctx context.Context, id a2a.TaskID) (*a2a.Task, error)

	// Cancel moves a non-terminal task to canceled and returns the updated task.
	// It returns ErrTaskTerminal for tasks that already finished.
	Cancel(ctx context.Context, id a2a.TaskID) (*a2a.Task, error)

	// Enumerate returns the tasks matching the predicate in creation order.
	// A nil predicate matches every task.
	Enumerate(ctx context.Context, match Predicate) ([]*a2a.Task, error)

	// Close releases resources held by the store.
	Close() error
}

// ByContext matches the tasks of a conversation context.
func ByContext(contextID string) Predicate {
	return func(t *a2a.Task) bool { return t.ContextID == contextID }
}

// Live matches tasks that have not reached a terminal state.
func Live(t *a2a.Task) bool {
	return !a2a.IsTerminal(t.Status.State)
}

// And combines predicates.
func And(preds ...Predicate) Predicate {
	return func(t *a2a.Task) bool {
		for _, p := range preds {
			if p != nil && !p(t) {
				return false
			}
		}
		return true
	}
}
