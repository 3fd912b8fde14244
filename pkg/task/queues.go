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
	"sync"

	"github.com/kadirpekel/optica/pkg/a2a"
)

// Queues tracks the live event queue of every task. A queue is retired once it is
// closed and all of its subscribers have released it; a later run of the same task
// (after an input-required halt) opens a fresh queue.
type Queues struct {
	mu      sync.Mutex
	backlog int
	queues  map[a2a.TaskID]*Queue
}

// NewQueues creates a registry whose queues keep backlog events for replay.
func NewQueues(backlog int) *Queues {
	return &Queues{backlog: backlog, queues: make(map[a2a.TaskID]*Queue)}
}

// Open returns the open queue of a task, creating one when there is none or the
// previous one is closed.
func (r *Queues) Open(taskID a2a.TaskID) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[taskID]; ok && !q.Closed() {
		return q
	}
	q := NewQueue(taskID, r.backlog)
	q.onRetired = func() { r.retire(taskID, q) }
	r.queues[taskID] = q
	return q
}

// Get returns the current queue of a task, open or draining.
func (r *Queues) Get(taskID a2a.TaskID) (*Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[taskID]
	return q, ok
}

// Len returns the number of tracked queues.
func (r *Queues) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues)
}

func (r *Queues) retire(taskID a2a.TaskID, q *Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queues[taskID] == q {
		delete(r.queues, taskID)
	}
}
