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

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/config"
	"github.com/kadirpekel/optica/pkg/observability"
	"github.com/kadirpekel/optica/pkg/push"
	"github.com/kadirpekel/optica/pkg/task"
)

const (
	DefaultExecuteTimeout = 5 * time.Minute
	DefaultStreamLinger   = 30 * time.Second
)

// Handler implements the A2A operations of one agent.
type Handler struct {
	card     *a2a.AgentCard
	executor AgentExecutor

	store          task.Store
	queues         *task.Queues
	notifier       *push.Notifier
	tracer         *observability.Tracer
	executeTimeout time.Duration
	streamLinger   time.Duration
	backlog        int

	mu     sync.Mutex
	runs   map[a2a.TaskID]*run
	closed bool
	wg     sync.WaitGroup
}

// run is one execution of a task, from a new message or a resumption until the
// executor returns or the task is finalized.
type run struct {
	reqCtx  *RequestContext
	updater *TaskUpdater
	queue   *task.Queue
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// streams counts attached event streams; guarded by Handler.mu.
	streams int
}

// Option configures a Handler.
type Option func(*Handler)

// WithTaskStore sets the task store. Defaults to an in-memory store.
func WithTaskStore(store task.Store) Option {
	return func(h *Handler) { h.store = store }
}

// WithNotifier enables push delivery. Without it push subscriptions are rejected.
func WithNotifier(n *push.Notifier) Option {
	return func(h *Handler) { h.notifier = n }
}

func WithExecuteTimeout(d time.Duration) Option {
	return func(h *Handler) { h.executeTimeout = d }
}

// WithStreamLinger sets how long a run survives after its last stream detached
// before it is cancelled.
func WithStreamLinger(d time.Duration) Option {
	return func(h *Handler) { h.streamLinger = d }
}

func WithQueueBacklog(n int) Option {
	return func(h *Handler) { h.backlog = n }
}

func WithTracer(t *observability.Tracer) Option {
	return func(h *Handler) { h.tracer = t }
}

// OptionsFromConfig maps the shared server settings to handler options.
func OptionsFromConfig(cfg config.ServerConfig) []Option {
	return []Option{
		WithExecuteTimeout(cfg.ExecuteTimeout),
		WithStreamLinger(cfg.StreamLinger),
		WithQueueBacklog(cfg.QueueBacklog),
	}
}

// NewHandler creates the handler of the agent described by card.
func NewHandler(card *a2a.AgentCard, executor AgentExecutor, opts ...Option) (*Handler, error) {
	if card == nil {
		return nil, fmt.Errorf("agent card is required")
	}
	if err := a2a.ValidateCard(card); err != nil {
		return nil, err
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	card = withCardDefaults(card)

	h := &Handler{
		card:           card,
		executor:       executor,
		executeTimeout: DefaultExecuteTimeout,
		streamLinger:   DefaultStreamLinger,
		backlog:        task.DefaultBacklog,
		runs:           make(map[a2a.TaskID]*run),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.store == nil {
		h.store = task.NewMemoryStore()
	}
	if h.executeTimeout <= 0 {
		h.executeTimeout = DefaultExecuteTimeout
	}
	if h.streamLinger < 0 {
		h.streamLinger = 0
	}
	h.queues = task.NewQueues(h.backlog)
	return h, nil
}

// withCardDefaults fills the protocol fields every served card advertises.
func withCardDefaults(card *a2a.AgentCard) *a2a.AgentCard {
	out := *card
	if out.ProtocolVersion == "" {
		out.ProtocolVersion = a2a.ProtocolVersion
	}
	if out.PreferredTransport == "" {
		out.PreferredTransport = a2a.TransportProtocolJSONRPC
	}
	return &out
}

func (h *Handler) Card() *a2a.AgentCard { return h.card }

func (h *Handler) Store() task.Store { return h.store }

// ============================================================================
// OPERATIONS
// ============================================================================

// HandleMessageSend creates or resumes a task and, unless the request is
// non-blocking, waits until the task halts on input-required or finishes. A task
// that failed is reported as the protocol error recorded on it.
func (h *Handler) HandleMessageSend(ctx context.Context, params *a2a.MessageSendParams) (a2a.SendMessageResult, error) {
	r, err := h.begin(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := h.registerInlinePush(ctx, r, params.Config); err != nil {
		h.finish(r)
		return nil, err
	}

	blocking := a2a.IsBlocking(params.Config)
	var sub *task.Subscription
	if blocking {
		sub = r.queue.Subscribe()
		defer sub.Release()
	}
	if err := h.launch(r); err != nil {
		return nil, err
	}
	if blocking {
		if err := awaitHalt(ctx, sub); err != nil {
			return nil, err
		}
	}

	t := r.updater.Task()
	if e := a2a.TaskError(t); e != nil {
		return nil, e
	}
	var historyLength *int
	if params.Config != nil {
		historyLength = params.Config.HistoryLength
	}
	return trimHistory(t, historyLength), nil
}

// HandleMessageStream creates or resumes a task and returns its event stream. The
// stream is subscribed before the executor starts, so it observes every event of
// the run, beginning with the task snapshot.
func (h *Handler) HandleMessageStream(ctx context.Context, params *a2a.MessageSendParams) (*EventStream, error) {
	if !h.card.Capabilities.Streaming {
		return nil, a2a.NewError(a2a.KindUnsupportedOperation, "agent %q does not support streaming", h.card.Name)
	}
	r, err := h.begin(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := h.registerInlinePush(ctx, r, params.Config); err != nil {
		h.finish(r)
		return nil, err
	}

	h.mu.Lock()
	r.streams++
	h.mu.Unlock()
	stream := &EventStream{h: h, taskID: r.reqCtx.TaskID, run: r, sub: r.queue.Subscribe()}

	if err := h.launch(r); err != nil {
		stream.drained = true
		stream.Close()
		return nil, err
	}
	return stream, nil
}

// HandleResubscribe attaches a new stream to a task. While the task runs the stream
// replays the buffered events of the run and continues live; otherwise it yields
// the current snapshot only.
func (h *Handler) HandleResubscribe(ctx context.Context, params *a2a.TaskIDParams) (*EventStream, error) {
	if !h.card.Capabilities.Streaming {
		return nil, a2a.NewError(a2a.KindUnsupportedOperation, "agent %q does not support streaming", h.card.Name)
	}
	if params == nil || params.ID == "" {
		return nil, a2a.NewError(a2a.KindInvalidParams, "task id is required")
	}

	h.mu.Lock()
	if r := h.runs[params.ID]; r != nil && !r.queue.Closed() {
		r.streams++
		stream := &EventStream{h: h, taskID: params.ID, run: r, sub: r.queue.Subscribe()}
		h.mu.Unlock()
		return stream, nil
	}
	h.mu.Unlock()

	t, err := h.getTask(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return &EventStream{h: h, taskID: t.ID, replay: []a2a.Event{t}}, nil
}

// HandleCancel cancels a live task. Unknown tasks are NotFound, finished ones
// InvalidParams, and an executor that cannot be interrupted makes the request
// fail with UnsupportedOperation and no side effects.
func (h *Handler) HandleCancel(ctx context.Context, params *a2a.TaskIDParams) (*a2a.Task, error) {
	if params == nil || params.ID == "" {
		return nil, a2a.NewError(a2a.KindInvalidParams, "task id is required")
	}

	h.mu.Lock()
	if r := h.runs[params.ID]; r != nil {
		h.mu.Unlock()
		return h.cancelRun(ctx, r)
	}
	// Holding the lock keeps a resumption from starting a run on the task while it
	// is being cancelled.
	defer h.mu.Unlock()

	t, err := h.getTask(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if a2a.IsTerminal(t.Status.State) {
		return nil, a2a.NewError(a2a.KindInvalidParams, "task %s is already %s", t.ID, t.Status.State)
	}

	q := h.queues.Open(t.ID)
	u := newTaskUpdater(h.card.Name, t, h.store, q, h.notifier)
	reqCtx := &RequestContext{Task: a2a.CloneTask(t), TaskID: t.ID, ContextID: t.ContextID}
	if err := h.executor.Cancel(ctx, reqCtx, u); errors.Is(err, a2a.ErrUnsupportedOperation) {
		q.Close()
		return nil, a2a.AsError(err)
	}
	if u.Final() {
		return u.Task(), nil
	}

	// No run owns the task, so the store applies the transition itself.
	canceled, err := h.store.Cancel(context.WithoutCancel(ctx), t.ID)
	if err != nil {
		q.Close()
		if errors.Is(err, task.ErrTaskTerminal) && canceled != nil {
			return nil, a2a.NewError(a2a.KindInvalidParams, "task %s is already %s", t.ID, canceled.Status.State)
		}
		return nil, fmt.Errorf("failed to cancel task %s: %w", t.ID, err)
	}
	if err := u.adoptFinal(ctx, canceled); err != nil {
		q.Close()
		return nil, err
	}
	return u.Task(), nil
}

// HandleGetTask returns the stored task, its status history trimmed to the
// requested length.
func (h *Handler) HandleGetTask(ctx context.Context, params *a2a.TaskQueryParams) (*a2a.Task, error) {
	if params == nil || params.ID == "" {
		return nil, a2a.NewError(a2a.KindInvalidParams, "task id is required")
	}
	t, err := h.getTask(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return trimHistory(t, params.HistoryLength), nil
}

// HandlePushSubscribe registers a webhook for every later event of a task.
func (h *Handler) HandlePushSubscribe(ctx context.Context, params *a2a.TaskPushConfig) (*a2a.TaskPushConfig, error) {
	if err := h.checkPush(); err != nil {
		return nil, err
	}
	if params == nil || params.TaskID == "" {
		return nil, a2a.NewError(a2a.KindInvalidParams, "task id is required")
	}
	if _, err := h.getTask(ctx, params.TaskID); err != nil {
		return nil, err
	}
	if err := a2a.ValidatePushConfig(&params.Config); err != nil {
		return nil, a2a.NewError(a2a.KindInvalidParams, "%v", err)
	}

	cfg, err := h.notifier.Store().Set(ctx, params.TaskID, params.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to register push config: %w", err)
	}
	slog.Debug("Registered push subscription", "task_id", params.TaskID, "config_id", cfg.ID)
	return &a2a.TaskPushConfig{TaskID: params.TaskID, Config: cfg}, nil
}

// HandleGetPushConfig returns the first webhook registered for a task.
func (h *Handler) HandleGetPushConfig(ctx context.Context, params *a2a.TaskIDParams) (*a2a.TaskPushConfig, error) {
	if err := h.checkPush(); err != nil {
		return nil, err
	}
	if params == nil || params.ID == "" {
		return nil, a2a.NewError(a2a.KindInvalidParams, "task id is required")
	}
	if _, err := h.getTask(ctx, params.ID); err != nil {
		return nil, err
	}
	configs, err := h.notifier.Store().Get(ctx, params.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load push configs: %w", err)
	}
	if len(configs) == 0 {
		return nil, a2a.NewError(a2a.KindNotFound, "task %s has no push notification config", params.ID)
	}
	return &a2a.TaskPushConfig{TaskID: params.ID, Config: configs[0]}, nil
}

// Shutdown cancels the running tasks, waits for their runs to settle and drains
// pending push deliveries.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for _, r := range h.runs {
		r.cancel()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if h.notifier != nil {
		return h.notifier.Close(ctx)
	}
	return nil
}

// ============================================================================
// RUN LIFECYCLE
// ============================================================================

// begin resolves the task a message belongs to and registers a run for it:
//
//   - a message naming a taskId resumes that task, which must require input;
//   - otherwise, when the newest live task of the message's context requires
//     input, that task is resumed;
//   - otherwise a new task is created in submitted.
//
// A resumption waits for the previous run of the task to wind down.
func (h *Handler) begin(ctx context.Context, params *a2a.MessageSendParams) (*run, error) {
	if params == nil || params.Message == nil {
		return nil, a2a.NewError(a2a.KindInvalidParams, "message is required")
	}
	msg := params.Message
	if err := a2a.ValidateMessage(msg); err != nil {
		return nil, a2a.NewError(a2a.KindInvalidParams, "%v", err)
	}
	if msg.Role != a2a.RoleUser {
		return nil, a2a.NewError(a2a.KindInvalidParams, "message role must be %q", a2a.RoleUser)
	}

	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, a2a.NewError(a2a.KindUnsupportedOperation, "agent %q is shutting down", h.card.Name)
		}
		t, resumed, busy, err := h.resolveLocked(ctx, msg)
		if err != nil {
			h.mu.Unlock()
			return nil, err
		}
		if busy != nil {
			h.mu.Unlock()
			select {
			case <-busy.done:
				continue
			case <-ctx.Done():
				return nil, a2a.NewError(a2a.KindTimeout, "task %s is still running", busy.reqCtx.TaskID)
			}
		}
		r := h.newRunLocked(ctx, t, msg, params.Metadata, resumed)
		h.mu.Unlock()
		return r, nil
	}
}

func (h *Handler) resolveLocked(ctx context.Context, msg *a2a.Message) (*a2a.Task, bool, *run, error) {
	if msg.TaskID != "" {
		if r := h.runs[msg.TaskID]; r != nil {
			return nil, false, r, nil
		}
		t, err := h.getTask(ctx, msg.TaskID)
		if err != nil {
			return nil, false, nil, err
		}
		if t.Status.State != a2a.TaskStateInputRequired {
			return nil, false, nil, a2a.NewError(a2a.KindInvalidParams,
				"task %s is %s and cannot be resumed", t.ID, t.Status.State)
		}
		if msg.ContextID != "" && msg.ContextID != t.ContextID {
			return nil, false, nil, a2a.NewError(a2a.KindInvalidParams,
				"task %s does not belong to context %s", t.ID, msg.ContextID)
		}
		return t, true, nil, nil
	}

	if msg.ContextID != "" {
		live, err := h.store.Enumerate(ctx, task.And(task.ByContext(msg.ContextID), task.Live))
		if err != nil {
			return nil, false, nil, fmt.Errorf("failed to look up context %s: %w", msg.ContextID, err)
		}
		if n := len(live); n > 0 && live[n-1].Status.State == a2a.TaskStateInputRequired {
			newest := live[n-1]
			if r := h.runs[newest.ID]; r != nil {
				return nil, false, r, nil
			}
			return newest, true, nil, nil
		}
	}

	contextID := msg.ContextID
	if contextID == "" {
		contextID = uuid.NewString()
	}
	status := a2a.TaskStatus{State: a2a.TaskStateSubmitted, Timestamp: a2a.Now()}
	t := &a2a.Task{
		ID:        a2a.TaskID(uuid.NewString()),
		ContextID: contextID,
		Status:    status,
	}
	a2a.RecordTransition(t, status)
	return t, false, nil, nil
}

func (h *Handler) newRunLocked(ctx context.Context, t *a2a.Task, msg *a2a.Message, metadata map[string]any, resumed bool) *run {
	msg.TaskID = t.ID
	msg.ContextID = t.ContextID
	t.History = append(t.History, msg)

	// The run outlives the request that started it (non-blocking sends, streams
	// whose client went away) but keeps its values, such as the trace span.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q := h.queues.Open(t.ID)
	r := &run{
		reqCtx: &RequestContext{
			Message:   msg,
			Task:      a2a.CloneTask(t),
			TaskID:    t.ID,
			ContextID: t.ContextID,
			Resumed:   resumed,
			Metadata:  metadata,
		},
		updater: newTaskUpdater(h.card.Name, t, h.store, q, h.notifier),
		queue:   q,
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	h.runs[t.ID] = r
	h.wg.Add(1)
	return r
}

func (h *Handler) registerInlinePush(ctx context.Context, r *run, cfg *a2a.MessageSendConfig) error {
	if cfg == nil || cfg.PushConfig == nil {
		return nil
	}
	if err := h.checkPush(); err != nil {
		return err
	}
	if err := a2a.ValidatePushConfig(cfg.PushConfig); err != nil {
		return a2a.NewError(a2a.KindInvalidParams, "%v", err)
	}
	if _, err := h.notifier.Store().Set(ctx, r.reqCtx.TaskID, *cfg.PushConfig); err != nil {
		return fmt.Errorf("failed to register push config: %w", err)
	}
	return nil
}

// launch announces the task and starts the executor.
func (h *Handler) launch(r *run) error {
	if err := r.updater.Submit(r.ctx); err != nil {
		h.finish(r)
		return err
	}
	slog.Debug("Starting task run", "agent", h.card.Name, "task_id", r.reqCtx.TaskID,
		"context_id", r.reqCtx.ContextID, "resumed", r.reqCtx.Resumed)
	go h.execute(r)
	return nil
}

func (h *Handler) execute(r *run) {
	defer h.finish(r)

	ctx, span := h.tracer.StartTaskRun(r.ctx, h.card.Name, string(r.reqCtx.TaskID), r.reqCtx.ContextID)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, h.executeTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				slog.Error("Executor panicked", "task_id", r.reqCtx.TaskID, "panic", p, "stack", string(debug.Stack()))
				errc <- a2a.NewError(a2a.KindInternal, "executor panicked: %v", p)
			}
		}()
		errc <- h.executor.Execute(ctx, r.reqCtx, r.updater)
	}()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
	}
	if err != nil {
		h.tracer.RecordError(span, err)
	}
	h.settle(ctx, r, err)
}

// settle makes sure the run leaves the task either halted on input-required or
// finalized, whatever the executor did.
func (h *Handler) settle(ctx context.Context, r *run, execErr error) {
	u := r.updater
	if u.Final() {
		if execErr != nil && !errors.Is(execErr, ErrTaskFinalized) && !errors.Is(execErr, context.Canceled) {
			slog.Debug("Executor error after final event", "task_id", r.reqCtx.TaskID, "error", execErr)
		}
		return
	}

	bg := context.WithoutCancel(ctx)
	var err error
	switch {
	case r.ctx.Err() != nil:
		err = u.Cancel(bg, nil)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		slog.Warn("Task run exceeded its deadline", "task_id", r.reqCtx.TaskID, "timeout", h.executeTimeout)
		err = u.Fail(bg, a2a.NewError(a2a.KindTimeout, "execution exceeded %s", h.executeTimeout))
	case execErr != nil:
		slog.Warn("Task run failed", "task_id", r.reqCtx.TaskID, "error", execErr)
		err = u.Fail(bg, execErr)
	case u.State() == a2a.TaskStateInputRequired:
		return
	default:
		err = u.Fail(bg, a2a.NewError(a2a.KindInternal, "executor returned while the task was %s", u.State()))
	}
	if err != nil && !errors.Is(err, ErrTaskFinalized) {
		slog.Error("Failed to settle task", "task_id", r.reqCtx.TaskID, "error", err)
	}
}

func (h *Handler) finish(r *run) {
	h.mu.Lock()
	if h.runs[r.reqCtx.TaskID] == r {
		delete(h.runs, r.reqCtx.TaskID)
	}
	h.mu.Unlock()

	r.queue.Close()
	r.cancel()
	close(r.done)
	h.wg.Done()
}

// cancelRun cancels a task while its run is active.
func (h *Handler) cancelRun(ctx context.Context, r *run) (*a2a.Task, error) {
	if r.updater.Final() {
		return nil, a2a.NewError(a2a.KindInvalidParams, "task %s is already %s", r.reqCtx.TaskID, r.updater.State())
	}
	if err := h.executor.Cancel(ctx, r.reqCtx, r.updater); err != nil {
		if errors.Is(err, a2a.ErrUnsupportedOperation) {
			return nil, a2a.AsError(err)
		}
		slog.Warn("Executor cancel hook failed", "task_id", r.reqCtx.TaskID, "error", err)
	}

	err := r.updater.Cancel(context.WithoutCancel(ctx), nil)
	r.cancel()

	t := r.updater.Task()
	switch {
	case errors.Is(err, ErrTaskFinalized):
		if t.Status.State != a2a.TaskStateCanceled {
			return nil, a2a.NewError(a2a.KindInvalidParams, "task %s is already %s", t.ID, t.Status.State)
		}
	case err != nil:
		return nil, err
	}
	return t, nil
}

// detach is called when a stream of r goes away. When the last stream left before
// the run finished, the run is cancelled after the linger window unless a
// resubscription attached in the meantime.
func (h *Handler) detach(r *run, drained bool) {
	h.mu.Lock()
	r.streams--
	orphaned := !drained && r.streams == 0 && h.runs[r.reqCtx.TaskID] == r
	h.mu.Unlock()
	if !orphaned {
		return
	}

	time.AfterFunc(h.streamLinger, func() {
		h.mu.Lock()
		abandoned := h.runs[r.reqCtx.TaskID] == r && r.streams == 0
		h.mu.Unlock()
		if !abandoned {
			return
		}
		slog.Info("Cancelling task abandoned by its stream", "task_id", r.reqCtx.TaskID)
		if _, err := h.cancelRun(context.Background(), r); err != nil {
			slog.Debug("Abandoned task not cancelled", "task_id", r.reqCtx.TaskID, "error", err)
		}
	})
}

func (h *Handler) checkPush() error {
	if !h.card.Capabilities.PushNotifications || h.notifier == nil {
		return a2a.NewError(a2a.KindUnsupportedOperation, "agent %q does not support push notifications", h.card.Name)
	}
	return nil
}

func (h *Handler) getTask(ctx context.Context, id a2a.TaskID) (*a2a.Task, error) {
	t, err := h.store.Get(ctx, id)
	if errors.Is(err, task.ErrTaskNotFound) {
		return nil, a2a.NewError(a2a.KindNotFound, "task %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	return t, nil
}

// awaitHalt consumes a run's events until the task requires input or finishes.
func awaitHalt(ctx context.Context, sub *task.Subscription) error {
	for {
		ev, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return a2a.NewError(a2a.KindTimeout, "gave up waiting for the task: %v", err)
		}
		if st, ok := ev.(*a2a.TaskStatusUpdateEvent); ok {
			if st.Final || st.Status.State == a2a.TaskStateInputRequired {
				return nil
			}
		}
	}
}

func trimHistory(t *a2a.Task, length *int) *a2a.Task {
	if length != nil && *length >= 0 && len(t.History) > *length {
		t.History = t.History[len(t.History)-*length:]
	}
	return t
}

// ============================================================================
// EVENT STREAM
// ============================================================================

// EventStream is one caller's view of a task's events. Close must always be
// called; closing a stream before it was drained starts the linger window.
type EventStream struct {
	h      *Handler
	taskID a2a.TaskID
	run    *run
	sub    *task.Subscription
	replay []a2a.Event

	drained   bool
	closeOnce sync.Once
}

func (s *EventStream) TaskID() a2a.TaskID { return s.taskID }

// Next returns the next event, io.EOF once the run ended and every event was
// delivered, or ctx.Err().
func (s *EventStream) Next(ctx context.Context) (a2a.Event, error) {
	if len(s.replay) > 0 {
		ev := s.replay[0]
		s.replay = s.replay[1:]
		return ev, nil
	}
	if s.sub == nil {
		s.drained = true
		return nil, io.EOF
	}
	ev, err := s.sub.Next(ctx)
	if errors.Is(err, io.EOF) {
		s.drained = true
	}
	return ev, err
}

func (s *EventStream) Close() {
	s.closeOnce.Do(func() {
		if s.sub != nil {
			s.sub.Release()
		}
		if s.run != nil {
			s.h.detach(s.run, s.drained)
		}
	})
}
