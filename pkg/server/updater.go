package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/observability"
	"github.com/kadirpekel/optica/pkg/push"
	"github.com/kadirpekel/optica/pkg/task"
)

// ErrTaskFinalized is returned by every updater call after the task's final event
// was published. Executors treat it as a signal to stop.
var ErrTaskFinalized = errors.New("task already emitted its final event")

// TaskUpdater is the only writer of a task during a run. Each call checks the state
// machine, persists the task, publishes the event on the task's queue and hands it
// to the push notifier, in that order and under one lock, so every observer sees
// the same sequence.
type TaskUpdater struct {
	agent     string
	taskID    a2a.TaskID
	contextID string
	store     task.Store
	queue     *task.Queue
	notifier  *push.Notifier

	mu        sync.Mutex
	task      *a2a.Task
	announced bool
	final     bool
}

func newTaskUpdater(agent string, t *a2a.Task, store task.Store, queue *task.Queue, notifier *push.Notifier) *TaskUpdater {
	return &TaskUpdater{
		agent:     agent,
		taskID:    t.ID,
		contextID: t.ContextID,
		store:     store,
		queue:     queue,
		notifier:  notifier,
		task:      a2a.CloneTask(t),
	}
}

func (u *TaskUpdater) TaskID() a2a.TaskID { return u.taskID }

func (u *TaskUpdater) ContextID() string { return u.contextID }

// Task returns a snapshot of the task as the updater last wrote it.
func (u *TaskUpdater) Task() *a2a.Task {
	u.mu.Lock()
	defer u.mu.Unlock()
	return a2a.CloneTask(u.task)
}

// State returns the current task state.
func (u *TaskUpdater) State() a2a.TaskState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.task.Status.State
}

// Final reports whether the final event was published.
func (u *TaskUpdater) Final() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.final
}

// Submit persists the task and publishes its snapshot as the first event of the
// run. Later calls are no-ops.
func (u *TaskUpdater) Submit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.announced {
		return nil
	}
	if u.final {
		return ErrTaskFinalized
	}
	if err := u.store.Put(ctx, u.task); err != nil {
		return fmt.Errorf("failed to persist task %s: %w", u.task.ID, err)
	}
	u.announced = true
	u.publishLocked(ctx, a2a.CloneTask(u.task))
	observability.GetGlobalMetrics().RecordTaskState(ctx, u.agent, string(u.task.Status.State))
	return nil
}

// StartWork moves the task to working, optionally with a progress message.
func (u *TaskUpdater) StartWork(ctx context.Context, msg *a2a.Message) error {
	return u.UpdateStatus(ctx, a2a.TaskStateWorking, msg)
}

// RequireInput halts the task until a follow-up message on the same context
// resumes it. The halt is not final: the task stays live.
func (u *TaskUpdater) RequireInput(ctx context.Context, msg *a2a.Message) error {
	return u.UpdateStatus(ctx, a2a.TaskStateInputRequired, msg)
}

// Complete finishes the task successfully.
func (u *TaskUpdater) Complete(ctx context.Context, msg *a2a.Message) error {
	return u.UpdateStatus(ctx, a2a.TaskStateCompleted, msg)
}

// Fail finishes the task with the error's kind recorded in the status message.
func (u *TaskUpdater) Fail(ctx context.Context, err error) error {
	if err == nil {
		err = a2a.NewError(a2a.KindInternal, "task failed")
	}
	return u.UpdateStatus(ctx, a2a.TaskStateFailed, a2a.FailureMessage(err))
}

// Cancel finishes the task as canceled.
func (u *TaskUpdater) Cancel(ctx context.Context, msg *a2a.Message) error {
	return u.UpdateStatus(ctx, a2a.TaskStateCanceled, msg)
}

// adoptFinal takes over a task that the store already moved to a terminal state
// and publishes its final status event.
func (u *TaskUpdater) adoptFinal(ctx context.Context, t *a2a.Task) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.final {
		return ErrTaskFinalized
	}
	if !a2a.IsTerminal(t.Status.State) {
		return fmt.Errorf("task %s is %s, not terminal", t.ID, t.Status.State)
	}
	u.task = a2a.CloneTask(t)
	u.final = true
	u.publishLocked(ctx, &a2a.TaskStatusUpdateEvent{
		TaskID:    t.ID,
		ContextID: t.ContextID,
		Status:    t.Status,
		Final:     true,
	})
	observability.GetGlobalMetrics().RecordTaskState(ctx, u.agent, string(t.Status.State))
	return nil
}

// UpdateStatus applies a status transition. The event is final exactly when the
// state is terminal, so a live task never closes its queue.
func (u *TaskUpdater) UpdateStatus(ctx context.Context, state a2a.TaskState, msg *a2a.Message) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.final {
		return ErrTaskFinalized
	}
	if msg != nil {
		msg.TaskID = u.task.ID
		msg.ContextID = u.task.ContextID
	}

	// A submitted or resumed task passes through working before it may halt or
	// finish.
	current := u.task.Status.State
	if task.ValidateTransition(current, state) != nil &&
		task.ValidateTransition(current, a2a.TaskStateWorking) == nil &&
		task.ValidateTransition(a2a.TaskStateWorking, state) == nil {
		if err := u.transitionLocked(ctx, a2a.TaskStateWorking, nil); err != nil {
			return err
		}
	}
	return u.transitionLocked(ctx, state, msg)
}

func (u *TaskUpdater) transitionLocked(ctx context.Context, state a2a.TaskState, msg *a2a.Message) error {
	next := a2a.CloneTask(u.task)
	if err := task.Transition(next, a2a.TaskStatus{State: state, Message: msg}); err != nil {
		return err
	}
	if err := u.store.Put(ctx, next); err != nil {
		return fmt.Errorf("failed to persist task %s: %w", next.ID, err)
	}
	u.task = next
	u.final = a2a.IsTerminal(state)

	u.publishLocked(ctx, &a2a.TaskStatusUpdateEvent{
		TaskID:    next.ID,
		ContextID: next.ContextID,
		Status:    next.Status,
		Final:     u.final,
	})
	observability.GetGlobalMetrics().RecordTaskState(ctx, u.agent, string(state))
	return nil
}

// ArtifactOptions describes one artifact update. An empty ArtifactID gets a fresh
// id; Append adds the parts to the artifact with that id instead of replacing it.
type ArtifactOptions struct {
	ArtifactID  a2a.ArtifactID
	Name        string
	Description string
	Append      bool
	LastChunk   bool
	Metadata    map[string]any
}

// AddArtifact publishes an artifact (or a chunk of one) and returns its id.
func (u *TaskUpdater) AddArtifact(ctx context.Context, parts []a2a.Part, opts ArtifactOptions) (a2a.ArtifactID, error) {
	if len(parts) == 0 {
		return "", a2a.NewError(a2a.KindInvalidParams, "artifact has no parts")
	}
	for i, p := range parts {
		if err := a2a.ValidatePart(p); err != nil {
			return "", a2a.NewError(a2a.KindInvalidParams, "artifact part %d: %v", i, err)
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.final {
		return "", ErrTaskFinalized
	}
	if opts.ArtifactID == "" {
		opts.ArtifactID = a2a.ArtifactID(uuid.NewString())
	}
	art := &a2a.Artifact{
		ID:          opts.ArtifactID,
		Name:        opts.Name,
		Description: opts.Description,
		Parts:       parts,
		Metadata:    opts.Metadata,
	}

	next := a2a.CloneTask(u.task)
	task.MergeArtifact(next, art, opts.Append)
	if err := u.store.Put(ctx, next); err != nil {
		return "", fmt.Errorf("failed to persist task %s: %w", next.ID, err)
	}
	u.task = next

	u.publishLocked(ctx, &a2a.TaskArtifactUpdateEvent{
		TaskID:    next.ID,
		ContextID: next.ContextID,
		Artifact:  art,
		Append:    opts.Append,
		LastChunk: opts.LastChunk,
	})
	return art.ID, nil
}

// SetMetadata merges kv into the task metadata and persists it. No event is
// published; the metadata is visible in later snapshots and to a resumed run.
// A nil value deletes the key.
func (u *TaskUpdater) SetMetadata(ctx context.Context, kv map[string]any) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.final {
		return ErrTaskFinalized
	}
	next := a2a.CloneTask(u.task)
	if next.Metadata == nil {
		next.Metadata = make(map[string]any, len(kv))
	}
	maps.Copy(next.Metadata, kv)
	for k, v := range kv {
		if v == nil {
			delete(next.Metadata, k)
		}
	}
	if err := u.store.Put(ctx, next); err != nil {
		return fmt.Errorf("failed to persist task %s: %w", next.ID, err)
	}
	u.task = next
	return nil
}

func (u *TaskUpdater) publishLocked(ctx context.Context, ev a2a.Event) {
	if err := u.queue.Publish(ev); err != nil {
		slog.Warn("Dropped task event", "task_id", u.task.ID, "kind", a2a.KindOfEvent(ev), "error", err)
	}
	if u.notifier != nil {
		u.notifier.Notify(ctx, u.task.ID, ev)
	}
	observability.GetGlobalMetrics().RecordTaskEvent(ctx, u.agent, string(a2a.KindOfEvent(ev)))
}
