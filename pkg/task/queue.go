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
	"errors"
	"io"
	"sync"

	"github.com/kadirpekel/optica/pkg/a2a"
)

// DefaultBacklog is the replay depth offered to late subscribers.
const DefaultBacklog = 256

// ErrQueueClosed is returned when publishing to a closed queue.
var ErrQueueClosed = errors.New("event queue is closed")

// Queue is the ordered event channel of one task. It has a single producer and any
// number of consumers; every consumer observes the same sequence. Publishing never
// blocks on slow consumers: each subscription buffers what it has not read yet.
type Queue struct {
	taskID     a2a.TaskID
	maxBacklog int

	mu        sync.Mutex
	backlog   []a2a.Event
	subs      map[*Subscription]struct{}
	closed    bool
	onRetired func()
	retired   bool
}

// NewQueue creates a queue keeping up to backlog events for replay.
func NewQueue(taskID a2a.TaskID, backlog int) *Queue {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Queue{
		taskID:     taskID,
		maxBacklog: backlog,
		subs:       make(map[*Subscription]struct{}),
	}
}

// TaskID returns the task the queue belongs to.
func (q *Queue) TaskID() a2a.TaskID { return q.taskID }

// Publish appends an event. A final event closes the queue after delivery.
func (q *Queue) Publish(ev a2a.Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	q.backlog = append(q.backlog, ev)
	if over := len(q.backlog) - q.maxBacklog; over > 0 {
		q.backlog = append([]a2a.Event(nil), q.backlog[over:]...)
	}
	for sub := range q.subs {
		sub.pending = append(sub.pending, ev)
		sub.wake()
	}
	if a2a.IsFinal(ev) {
		q.closeLocked()
	}
	retire := q.shouldRetireLocked()
	q.mu.Unlock()

	if retire != nil {
		retire()
	}
	return nil
}

// Close stops the queue without a final event. Subscribers drain what they have
// and then observe io.EOF.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closeLocked()
	retire := q.shouldRetireLocked()
	q.mu.Unlock()

	if retire != nil {
		retire()
	}
}

func (q *Queue) closeLocked() {
	if q.closed {
		return
	}
	q.closed = true
	for sub := range q.subs {
		sub.wake()
	}
}

// Closed reports whether the queue accepts no more events.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Subscribe attaches a consumer. It first receives the buffered backlog, then live
// events. On a closed queue it receives the backlog only.
func (q *Queue) Subscribe() *Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()

	sub := &Subscription{
		q:       q,
		pending: append([]a2a.Event(nil), q.backlog...),
		signal:  make(chan struct{}, 1),
	}
	q.subs[sub] = struct{}{}
	return sub
}

// Subscribers returns the number of attached consumers.
func (q *Queue) Subscribers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.subs)
}

// shouldRetireLocked returns the retirement callback once the queue is closed and
// every subscriber has let go.
func (q *Queue) shouldRetireLocked() func() {
	if !q.closed || len(q.subs) > 0 || q.retired || q.onRetired == nil {
		return nil
	}
	q.retired = true
	return q.onRetired
}

func (q *Queue) release(sub *Subscription) {
	q.mu.Lock()
	delete(q.subs, sub)
	sub.released = true
	sub.pending = nil
	retire := q.shouldRetireLocked()
	q.mu.Unlock()

	if retire != nil {
		retire()
	}
}

// Subscription is one consumer's cursor over a queue.
type Subscription struct {
	q        *Queue
	pending  []a2a.Event
	signal   chan struct{}
	released bool
}

func (s *Subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next blocks until the next event is available. It returns io.EOF once the queue
// is closed and every buffered event was read, and ctx.Err() when ctx ends first.
func (s *Subscription) Next(ctx context.Context) (a2a.Event, error) {
	for {
		s.q.mu.Lock()
		if s.released {
			s.q.mu.Unlock()
			return nil, io.EOF
		}
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending[0] = nil
			s.pending = s.pending[1:]
			s.q.mu.Unlock()
			return ev, nil
		}
		if s.q.closed {
			s.q.mu.Unlock()
			return nil, io.EOF
		}
		s.q.mu.Unlock()

		select {
		case <-s.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release detaches the subscription. It is safe to call more than once.
func (s *Subscription) Release() {
	s.q.release(s)
}
