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
	"errors"
	"fmt"
	"slices"

	"github.com/kadirpekel/optica/pkg/a2a"
)

// ErrInvalidTransition wraps every rejected state change.
var ErrInvalidTransition = errors.New("invalid task state transition")

var allowedTransitions = map[a2a.TaskState][]a2a.TaskState{
	a2a.TaskStateSubmitted: {
		a2a.TaskStateWorking,
		a2a.TaskStateCanceled,
	},
	a2a.TaskStateWorking: {
		a2a.TaskStateWorking,
		a2a.TaskStateInputRequired,
		a2a.TaskStateCompleted,
		a2a.TaskStateFailed,
		a2a.TaskStateCanceled,
	},
	a2a.TaskStateInputRequired: {
		a2a.TaskStateWorking,
		a2a.TaskStateCanceled,
		a2a.TaskStateFailed,
	},
}

// ValidateTransition checks a state change against the task state machine:
//
//	submitted      → working
//	working        → working | input-required | completed | failed | canceled
//	input-required → working | canceled | failed
//	any non-terminal → canceled
//
// Terminal states (completed, failed, canceled) are immutable.
func ValidateTransition(current, next a2a.TaskState) error {
	if !a2a.IsValidState(next) {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, next)
	}
	if a2a.IsTerminal(current) {
		return fmt.Errorf("%w: %s is terminal, cannot move to %s", ErrInvalidTransition, current, next)
	}
	valid, ok := allowedTransitions[current]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, current)
	}
	if !slices.Contains(valid, next) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, current, next)
	}
	return nil
}

// Transition validates and applies a status change, stamping it and recording it in
// the task's transition history. A status message joins the message history.
func Transition(t *a2a.Task, status a2a.TaskStatus) error {
	if err := ValidateTransition(t.Status.State, status.State); err != nil {
		return err
	}
	if status.Timestamp == nil {
		status.Timestamp = a2a.Now()
	}
	t.Status = status
	a2a.RecordTransition(t, status)
	if status.Message != nil {
		t.History = append(t.History, status.Message)
	}
	return nil
}

// Apply folds one event into a task snapshot, enforcing the state machine. Callers
// reconstructing a task from a stream start from the first snapshot event.
func Apply(t *a2a.Task, ev a2a.Event) error {
	switch e := ev.(type) {
	case *a2a.Task:
		*t = *a2a.CloneTask(e)
		return nil
	case *a2a.TaskStatusUpdateEvent:
		if e.TaskID != t.ID {
			return fmt.Errorf("status update for task %s applied to task %s", e.TaskID, t.ID)
		}
		// A snapshot taken after this update already contains it.
		if sameStatus(e.Status, t.Status) {
			return nil
		}
		return Transition(t, e.Status)
	case *a2a.TaskArtifactUpdateEvent:
		if e.TaskID != t.ID {
			return fmt.Errorf("artifact update for task %s applied to task %s", e.TaskID, t.ID)
		}
		if a2a.IsTerminal(t.Status.State) {
			return fmt.Errorf("%w: artifact after terminal state %s", ErrInvalidTransition, t.Status.State)
		}
		if e.Artifact == nil {
			return fmt.Errorf("artifact update for task %s carries no artifact", e.TaskID)
		}
		MergeArtifact(t, e.Artifact, e.Append)
		return nil
	case *a2a.Message:
		return nil
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

func sameStatus(a, b a2a.TaskStatus) bool {
	if a.Timestamp == nil || b.Timestamp == nil {
		return false
	}
	return a.State == b.State && a.Timestamp.Equal(*b.Timestamp)
}

// MergeArtifact adds a copy of an artifact to the task. With appendParts set,
// parts are appended to the existing artifact of the same id; otherwise that
// artifact is replaced. Unknown ids are appended in order.
func MergeArtifact(t *a2a.Task, art *a2a.Artifact, appendParts bool) {
	cp := *art
	cp.Parts = slices.Clone(art.Parts)
	for i, existing := range t.Artifacts {
		if existing == nil || existing.ID != art.ID {
			continue
		}
		if appendParts {
			merged := *existing
			merged.Parts = append(slices.Clone(existing.Parts), art.Parts...)
			t.Artifacts[i] = &merged
		} else {
			t.Artifacts[i] = &cp
		}
		return
	}
	t.Artifacts = append(t.Artifacts, &cp)
}
