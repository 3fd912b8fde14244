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

// Package session provides the host's conversational memory.
//
// A session is one document per session id holding:
//   - the bounded conversation history
//   - structured memory extracted from agent results (products, cart, orders)
//   - the last intent and its parameters
//   - the remote tasks waiting for the user's input
//
// Documents are written whole and decoded leniently, so stores written by other
// versions stay readable.
package session

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

// ErrSessionNotFound is returned by Load and Delete for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// DefaultHistoryLimit bounds the stored history of a session.
const DefaultHistoryLimit = 100

// Roles of history entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one history item.
type Entry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Agents    []string  `json:"agents,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CartItem is one product line the user is considering.
type CartItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name,omitempty"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price,omitempty"`
}

// Record is the persisted state of one session.
type Record struct {
	SessionID      string         `json:"sessionId"`
	UserID         string         `json:"userId,omitempty"`
	History        []Entry        `json:"history"`
	MemoryContext  map[string]any `json:"memoryContext"`
	LastIntent     string         `json:"lastIntent,omitempty"`
	LastParameters map[string]any `json:"lastParameters,omitempty"`
	CartItems      []CartItem     `json:"cartItems"`

	// PendingTasks maps an agent name to the id of its task that halted on
	// input-required, so the next call to that agent resumes it.
	PendingTasks map[string]string `json:"pendingTasks,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New creates an empty session.
func New(sessionID, userID string) *Record {
	now := time.Now().UTC()
	return &Record{
		SessionID:     sessionID,
		UserID:        userID,
		MemoryContext: make(map[string]any),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Append adds an entry, dropping the oldest ones beyond limit.
func (r *Record) Append(e Entry, limit int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	r.History = append(r.History, e)
	if over := len(r.History) - limit; over > 0 {
		r.History = slices.Clone(r.History[over:])
	}
	r.UpdatedAt = e.Timestamp
}

// Tail returns the last n history entries.
func (r *Record) Tail(n int) []Entry {
	if n <= 0 || n >= len(r.History) {
		return slices.Clone(r.History)
	}
	return slices.Clone(r.History[len(r.History)-n:])
}

// Remember stores an extracted memory value. A nil value forgets the key.
func (r *Record) Remember(key string, value any) {
	if r.MemoryContext == nil {
		r.MemoryContext = make(map[string]any)
	}
	if value == nil {
		delete(r.MemoryContext, key)
		return
	}
	r.MemoryContext[key] = value
}

// SetPending records (or with an empty taskID clears) the task of agent that
// waits for the user.
func (r *Record) SetPending(agent, taskID string) {
	if taskID == "" {
		delete(r.PendingTasks, agent)
		return
	}
	if r.PendingTasks == nil {
		r.PendingTasks = make(map[string]string)
	}
	r.PendingTasks[agent] = taskID
}

// Reset clears history and memory but keeps the identity of the session.
func (r *Record) Reset() {
	r.History = nil
	r.MemoryContext = make(map[string]any)
	r.LastIntent = ""
	r.LastParameters = nil
	r.CartItems = nil
	r.PendingTasks = nil
	r.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep enough copy for a store to hand out: slices and the
// top-level maps are copied.
func (r *Record) Clone() *Record {
	cp := *r
	cp.History = slices.Clone(r.History)
	for i := range cp.History {
		cp.History[i].Agents = slices.Clone(cp.History[i].Agents)
	}
	cp.MemoryContext = maps.Clone(r.MemoryContext)
	cp.LastParameters = maps.Clone(r.LastParameters)
	cp.CartItems = slices.Clone(r.CartItems)
	cp.PendingTasks = maps.Clone(r.PendingTasks)
	return &cp
}

// Summary describes a session without its content.
type Summary struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	Turns     int       `json:"turns"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r *Record) Summary() Summary {
	return Summary{SessionID: r.SessionID, UserID: r.UserID, Turns: len(r.History), UpdatedAt: r.UpdatedAt}
}

// Store persists session records. Implementations are safe for concurrent use;
// records passed in and handed out are never shared with the store.
type Store interface {
	// Load returns ErrSessionNotFound for unknown ids.
	Load(ctx context.Context, sessionID string) (*Record, error)
	Save(ctx context.Context, r *Record) error
	Delete(ctx context.Context, sessionID string) error

	// List returns the stored sessions, most recently updated first.
	List(ctx context.Context) ([]Summary, error)

	// Prune removes sessions not updated since before and returns how many.
	Prune(ctx context.Context, before time.Time) (int, error)

	Close() error
}

func sortSummaries(out []Summary) {
	slices.SortFunc(out, func(a, b Summary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if a.SessionID < b.SessionID {
			return -1
		}
		if a.SessionID > b.SessionID {
			return 1
		}
		return 0
	})
}
