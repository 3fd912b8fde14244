package server

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/push"
	"github.com/kadirpekel/optica/pkg/task"
)

// funcExecutor adapts functions to AgentExecutor.
type funcExecutor struct {
	execute func(ctx context.Context, rc *RequestContext, u *TaskUpdater) error
	cancel  func(ctx context.Context, rc *RequestContext, u *TaskUpdater) error
}

func (f *funcExecutor) Execute(ctx context.Context, rc *RequestContext, u *TaskUpdater) error {
	return f.execute(ctx, rc, u)
}

func (f *funcExecutor) Cancel(ctx context.Context, rc *RequestContext, u *TaskUpdater) error {
	if f.cancel == nil {
		return nil
	}
	return f.cancel(ctx, rc, u)
}

func testCard() *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:         "echo",
		URL:          "http://localhost:9000",
		Version:      "1.0.0",
		Capabilities: a2a.AgentCapabilities{Streaming: true, PushNotifications: true},
		Skills:       []a2a.AgentSkill{{ID: "echo", Name: "Echo"}},
	}
}

func newTestHandler(t *testing.T, exec AgentExecutor, opts ...Option) *Handler {
	t.Helper()
	h, err := NewHandler(testCard(), exec, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

func userText(text string) *a2a.MessageSendParams {
	return &a2a.MessageSendParams{Message: a2a.NewMessage(a2a.RoleUser, a2a.NewTextPart(text))}
}

// send runs message/send and returns the task it produced.
func send(t *testing.T, h *Handler, params *a2a.MessageSendParams) *a2a.Task {
	t.Helper()
	res, err := h.HandleMessageSend(context.Background(), params)
	require.NoError(t, err)
	tk, ok := res.(*a2a.Task)
	require.True(t, ok, "result is %T", res)
	return tk
}

func collect(t *testing.T, s *EventStream) []a2a.Event {
	t.Helper()
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []a2a.Event
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func states(events []a2a.Event) []a2a.TaskState {
	var out []a2a.TaskState
	for _, ev := range events {
		switch e := ev.(type) {
		case *a2a.Task:
			out = append(out, e.Status.State)
		case *a2a.TaskStatusUpdateEvent:
			out = append(out, e.Status.State)
		}
	}
	return out
}

var echo = &funcExecutor{execute: func(ctx context.Context, rc *RequestContext, u *TaskUpdater) error {
	if err := u.StartWork(ctx, nil); err != nil {
		return err
	}
	if _, err := u.AddArtifact(ctx, []a2a.Part{a2a.NewTextPart(rc.UserText())}, ArtifactOptions{Name: "echo"}); err != nil {
		return err
	}
	return u.Complete(ctx, a2a.NewAgentText("done"))
}}

func TestNewHandler_RejectsInvalidCard(t *testing.T) {
	card := testCard()
	card.URL = "not a url"
	_, err := NewHandler(card, echo)
	assert.Error(t, err)

	_, err = NewHandler(testCard(), nil)
	assert.Error(t, err)
}

func TestNewHandler_CardAdvertisesJSONRPC(t *testing.T) {
	card := testCard()
	h, err := NewHandler(card, echo)
	require.NoError(t, err)
	assert.Equal(t, a2a.TransportProtocolJSONRPC, h.Card().PreferredTransport)
	assert.Equal(t, a2a.ProtocolVersion, h.Card().ProtocolVersion)
	assert.Empty(t, card.PreferredTransport, "the caller's card is not modified")
}

func TestHandleMessageSend_Completes(t *testing.T) {
	h := newTestHandler(t, echo)

	res := send(t, h, userText("hello"))

	assert.Equal(t, a2a.TaskStateCompleted, res.Status.State)
	assert.NotEmpty(t, res.ContextID)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, "hello", a2a.PartsText(res.Artifacts[0].Parts))

	stored, err := h.HandleGetTask(context.Background(), &a2a.TaskQueryParams{ID: res.ID})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, stored.Status.State)
	assert.Len(t, a2a.Transitions(stored), 3)
	require.Len(t, stored.History, 2)
	assert.Equal(t, a2a.RoleUser, stored.History[0].Role)

	one := 1
	trimmed, err := h.HandleGetTask(context.Background(), &a2a.TaskQueryParams{ID: res.ID, HistoryLength: &one})
	require.NoError(t, err)
	require.Len(t, trimmed.History, 1)
	assert.Equal(t, "done", a2a.MessageText(trimmed.History[0]))
}

func TestHandleMessageSend_RejectsAgentRole(t *testing.T) {
	h := newTestHandler(t, echo)
	_, err := h.HandleMessageSend(context.Background(), &a2a.MessageSendParams{Message: a2a.NewAgentText("hi")})
	assert.ErrorIs(t, err, a2a.ErrInvalidParams)

	_, err = h.HandleMessageSend(context.Background(), &a2a.MessageSendParams{})
	assert.ErrorIs(t, err, a2a.ErrInvalidParams)
}

func TestHandleMessageSend_ExecutorErrorKeepsKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"typed", a2a.NewError(a2a.KindInvalidParams, "bad frame size"), a2a.ErrInvalidParams},
		{"untyped", errors.New("boom"), a2a.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &funcExecutor{execute: func(ctx context.Context, _ *RequestContext, u *TaskUpdater) error {
				_ = u.StartWork(ctx, nil)
				return tt.err
			}})
			_, err := h.HandleMessageSend(context.Background(), userText("x"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			tasks, err := h.Store().Enumerate(context.Background(), nil)
			require.NoError(t, err)
			require.Len(t, tasks, 1)
			assert.Equal(t, a2a.TaskStateFailed, tasks[0].Status.State)
		})
	}
}

func TestHandleMessageSend_PanicFailsTask(t *testing.T) {
	h := newTestHandler(t, &funcExecutor{execute: func(context.Context, *RequestContext, *TaskUpdater) error {
		panic("lens grinder jammed")
	}})
	_, err := h.HandleMessageSend(context.Background(), userText("x"))
	assert.ErrorIs(t, err, a2a.ErrInternal)
}

func TestHandleMessageSend_ReturnWithoutFinalFails(t *testing.T) {
	h := newTestHandler(t, &funcExecutor{execute: func(ctx context.Context, _ *RequestContext, u *TaskUpdater) error {
		return u.StartWork(ctx, nil)
	}})
	_, err := h.HandleMessageSend(context.Background(), userText("x"))
	assert.ErrorIs(t, err, a2a.ErrInternal)
}

func TestHandleMessageSend_Timeout(t *testing.T) {
	h := newTestHandler(t, &funcExecutor{execute: func(ctx context.Context, _ *RequestContext, u *TaskUpdater) error {
		_ = u.StartWork(ctx, nil)
		<-ctx.Done()
		return ctx.Err()
	}}, WithExecuteTimeout(50*time.Millisecond))

	_, err := h.HandleMessageSend(context.Background(), userText("x"))
	assert.ErrorIs(t, err, a2a.ErrTimeout)
}

func TestHandleMessageSend_NonBlockingReturnsSnapshot(t *testing.T) {
	release := make(chan struct{})
	h := newTestHandler(t, &funcExecutor{execute: func(ctx context.Context, _ *RequestContext, u *TaskUpdater) error {
		<-release
		return u.Complete(ctx, nil)
	}})

	params := userText("x")
	params.Config = a2a.NonBlocking()
	res := send(t, h, params)
	assert.Equal(t, a2a.TaskStateSubmitted, res.Status.State)
	close(release)

	require.Eventually(t, func() bool {
		got, err := h.HandleGetTask(context.Background(), &a2a.TaskQueryParams{ID: res.ID})
		return err == nil && got.Status.State == a2a.TaskStateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

// askThenConfirm halts on input-required until it sees "yes".
var askThenConfirm = &funcExecutor{execute: func(ctx context.Context, rc *RequestContext, u *TaskUpdater) error {
	if !rc.Resumed {
		if err := u.SetMetadata(ctx, map[string]any{"draft": rc.UserText()}); err != nil {
			return err
		}
		return u.RequireInput(ctx, a2a.NewAgentText("confirm?"))
	}
	if rc.UserText() != "yes" {
		return u.RequireInput(ctx, a2a.NewAgentText("please answer yes"))
	}
	draft, _ := rc.Task.Metadata["draft"].(string)
	return u.Complete(ctx, a2a.NewAgentText("confirmed "+draft))
}}

func TestHandleMessageSend_ResumesInputRequired(t *testing.T) {
	h := newTestHandler(t, askThenConfirm)

	first := send(t, h, userText("2 frames"))
	assert.Equal(t, a2a.TaskStateInputRequired, first.Status.State)

	follow := userText("yes")
	follow.Message.ContextID = first.ContextID
	second := send(t, h, follow)

	assert.Equal(t, first.ID, second.ID, "follow-up on the context resumes the same task")
	assert.Equal(t, a2a.TaskStateCompleted, second.Status.State)
	assert.Equal(t, "confirmed 2 frames", a2a.MessageText(second.Status.Message))
}

func TestHandleMessageSend_ResumeByTaskID(t *testing.T) {
	h := newTestHandler(t, askThenConfirm)
	ctx := context.Background()

	first := send(t, h, userText("draft"))

	follow := userText("no")
	follow.Message.TaskID = first.ID
	second := send(t, h, follow)
	assert.Equal(t, a2a.TaskStateInputRequired, second.Status.State)

	follow = userText("yes")
	follow.Message.TaskID = first.ID
	third := send(t, h, follow)
	assert.Equal(t, a2a.TaskStateCompleted, third.Status.State)

	// A finished task cannot be resumed.
	follow = userText("yes")
	follow.Message.TaskID = first.ID
	_, err := h.HandleMessageSend(ctx, follow)
	assert.ErrorIs(t, err, a2a.ErrInvalidParams)

	follow = userText("yes")
	follow.Message.TaskID = "missing"
	_, err = h.HandleMessageSend(ctx, follow)
	assert.ErrorIs(t, err, a2a.ErrNotFound)
}

func TestHandleMessageSend_NewTaskAfterCompletedContext(t *testing.T) {
	h := newTestHandler(t, echo)

	first := send(t, h, userText("a"))

	next := userText("b")
	next.Message.ContextID = first.ContextID
	second := send(t, h, next)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.ContextID, second.ContextID)
}

func TestHandleMessageStream_EventOrder(t *testing.T) {
	h := newTestHandler(t, echo)

	stream, err := h.HandleMessageStream(context.Background(), userText("hi"))
	require.NoError(t, err)
	events := collect(t, stream)

	require.Len(t, events, 4)
	assert.IsType(t, &a2a.Task{}, events[0])
	assert.IsType(t, &a2a.TaskArtifactUpdateEvent{}, events[2])
	assert.Equal(t, []a2a.TaskState{a2a.TaskStateSubmitted, a2a.TaskStateWorking, a2a.TaskStateCompleted}, states(events))
	assert.True(t, a2a.IsFinal(events[3]))
	for _, ev := range events {
		assert.Equal(t, stream.TaskID(), ev.TaskInfo().TaskID)
	}
}

func TestHandleMessageStream_InputRequiredEndsStream(t *testing.T) {
	h := newTestHandler(t, askThenConfirm)

	stream, err := h.HandleMessageStream(context.Background(), userText("draft"))
	require.NoError(t, err)
	events := collect(t, stream)

	last, ok := events[len(events)-1].(*a2a.TaskStatusUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, a2a.TaskStateInputRequired, last.Status.State)
	assert.False(t, last.Final)
}

func TestHandleMessageStream_RequiresCapability(t *testing.T) {
	card := testCard()
	card.Capabilities.Streaming = false
	h, err := NewHandler(card, echo)
	require.NoError(t, err)

	_, err = h.HandleMessageStream(context.Background(), userText("x"))
	assert.ErrorIs(t, err, a2a.ErrUnsupportedOperation)
	_, err = h.HandleResubscribe(context.Background(), &a2a.TaskIDParams{ID: "t"})
	assert.ErrorIs(t, err, a2a.ErrUnsupportedOperation)
}

// blocker works until its context ends.
func blocker(started chan<- a2a.TaskID) *funcExecutor {
	return &funcExecutor{execute: func(ctx context.Context, rc *RequestContext, u *TaskUpdater) error {
		if err := u.StartWork(ctx, nil); err != nil {
			return err
		}
		started <- rc.TaskID
		<-ctx.Done()
		return ctx.Err()
	}}
}

func TestHandleCancel_RunningTask(t *testing.T) {
	started := make(chan a2a.TaskID, 1)
	h := newTestHandler(t, blocker(started))

	stream, err := h.HandleMessageStream(context.Background(), userText("x"))
	require.NoError(t, err)
	taskID := <-started

	begin := time.Now()
	canceled, err := h.HandleCancel(context.Background(), &a2a.TaskIDParams{ID: taskID})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCanceled, canceled.Status.State)

	events := collect(t, stream)
	assert.Less(t, time.Since(begin), 2*time.Second)
	assert.True(t, a2a.IsFinal(events[len(events)-1]), "nothing follows the final event")
	assert.Equal(t, a2a.TaskStateCanceled, states(events)[len(states(events))-1])

	_, err = h.HandleCancel(context.Background(), &a2a.TaskIDParams{ID: taskID})
	assert.ErrorIs(t, err, a2a.ErrInvalidParams)
	_, err = h.HandleCancel(context.Background(), &a2a.TaskIDParams{ID: "missing"})
	assert.ErrorIs(t, err, a2a.ErrNotFound)
}

// cancelCountingStore records the cancellations the store applied itself.
type cancelCountingStore struct {
	task.Store
	cancels atomic.Int32
}

func (s *cancelCountingStore) Cancel(ctx context.Context, id a2a.TaskID) (*a2a.Task, error) {
	s.cancels.Add(1)
	return s.Store.Cancel(ctx, id)
}

func TestHandleCancel_IdleInputRequiredTask(t *testing.T) {
	store := &cancelCountingStore{Store: task.NewMemoryStore()}
	h := newTestHandler(t, askThenConfirm, WithTaskStore(store))
	res := send(t, h, userText("draft"))

	canceled, err := h.HandleCancel(context.Background(), &a2a.TaskIDParams{ID: res.ID})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCanceled, canceled.Status.State)
	assert.Equal(t, int32(1), store.cancels.Load(), "an idle task is cancelled by the store")

	stored, err := h.HandleGetTask(context.Background(), &a2a.TaskQueryParams{ID: res.ID})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCanceled, stored.Status.State)
	transitions := a2a.Transitions(stored)
	assert.Equal(t, a2a.TaskStateCanceled, transitions[len(transitions)-1].State)

	// The cancellation is the final event seen by a later resubscription.
	stream, err := h.HandleResubscribe(context.Background(), &a2a.TaskIDParams{ID: res.ID})
	require.NoError(t, err)
	events := collect(t, stream)
	require.Len(t, events, 1)
	assert.Equal(t, a2a.TaskStateCanceled, events[0].(*a2a.Task).Status.State)

	_, err = h.HandleCancel(context.Background(), &a2a.TaskIDParams{ID: res.ID})
	assert.ErrorIs(t, err, a2a.ErrInvalidParams)
}

func TestHandleCancel_IdleTaskExecutorFinalizes(t *testing.T) {
	store := &cancelCountingStore{Store: task.NewMemoryStore()}
	exec := &funcExecutor{
		execute: askThenConfirm.execute,
		cancel: func(ctx context.Context, _ *RequestContext, u *TaskUpdater) error {
			return u.Cancel(ctx, a2a.NewAgentText("order discarded"))
		},
	}
	h := newTestHandler(t, exec, WithTaskStore(store))
	res := send(t, h, userText("draft"))

	canceled, err := h.HandleCancel(context.Background(), &a2a.TaskIDParams{ID: res.ID})
	require.NoError(t, err)
	assert.Equal(t, "order discarded", a2a.MessageText(canceled.Status.Message))
	assert.Zero(t, store.cancels.Load())
}

func TestHandleCancel_NotSupportedLeavesTask(t *testing.T) {
	started := make(chan a2a.TaskID, 1)
	exec := blocker(started)
	exec.cancel = func(context.Context, *RequestContext, *TaskUpdater) error { return ErrCancelNotSupported }
	h := newTestHandler(t, exec)

	stream, err := h.HandleMessageStream(context.Background(), userText("x"))
	require.NoError(t, err)
	defer stream.Close()
	taskID := <-started

	_, err = h.HandleCancel(context.Background(), &a2a.TaskIDParams{ID: taskID})
	assert.ErrorIs(t, err, a2a.ErrUnsupportedOperation)

	stored, err := h.HandleGetTask(context.Background(), &a2a.TaskQueryParams{ID: taskID})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateWorking, stored.Status.State)
}

func TestHandleResubscribe(t *testing.T) {
	started := make(chan a2a.TaskID, 1)
	h := newTestHandler(t, blocker(started))

	stream, err := h.HandleMessageStream(context.Background(), userText("x"))
	require.NoError(t, err)
	taskID := <-started

	again, err := h.HandleResubscribe(context.Background(), &a2a.TaskIDParams{ID: taskID})
	require.NoError(t, err)

	_, err = h.HandleCancel(context.Background(), &a2a.TaskIDParams{ID: taskID})
	require.NoError(t, err)

	first := collect(t, stream)
	second := collect(t, again)
	assert.Equal(t, states(first), states(second), "a resubscribed stream replays the run")

	// Once finished, a resubscription yields the snapshot only.
	done, err := h.HandleResubscribe(context.Background(), &a2a.TaskIDParams{ID: taskID})
	require.NoError(t, err)
	events := collect(t, done)
	require.Len(t, events, 1)
	assert.Equal(t, a2a.TaskStateCanceled, events[0].(*a2a.Task).Status.State)

	_, err = h.HandleResubscribe(context.Background(), &a2a.TaskIDParams{ID: "missing"})
	assert.ErrorIs(t, err, a2a.ErrNotFound)
}

func TestEventStream_AbandonedRunIsCancelledAfterLinger(t *testing.T) {
	started := make(chan a2a.TaskID, 1)
	h := newTestHandler(t, blocker(started), WithStreamLinger(20*time.Millisecond))

	stream, err := h.HandleMessageStream(context.Background(), userText("x"))
	require.NoError(t, err)
	taskID := <-started
	stream.Close()

	require.Eventually(t, func() bool {
		got, err := h.HandleGetTask(context.Background(), &a2a.TaskQueryParams{ID: taskID})
		return err == nil && got.Status.State == a2a.TaskStateCanceled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandlePushSubscribe(t *testing.T) {
	notifier := push.NewNotifier(push.NewMemoryConfigStore())
	h := newTestHandler(t, askThenConfirm, WithNotifier(notifier))
	ctx := context.Background()

	res := send(t, h, userText("draft"))

	_, err := h.HandleGetPushConfig(ctx, &a2a.TaskIDParams{ID: res.ID})
	assert.ErrorIs(t, err, a2a.ErrNotFound)

	set, err := h.HandlePushSubscribe(ctx, &a2a.TaskPushConfig{
		TaskID: res.ID,
		Config: a2a.PushConfig{URL: "http://hooks.local/a2a", Token: "tok"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, set.Config.ID)

	got, err := h.HandleGetPushConfig(ctx, &a2a.TaskIDParams{ID: res.ID})
	require.NoError(t, err)
	assert.Equal(t, set.Config, got.Config)

	_, err = h.HandlePushSubscribe(ctx, &a2a.TaskPushConfig{
		TaskID: res.ID,
		Config: a2a.PushConfig{URL: "relative/path"},
	})
	assert.ErrorIs(t, err, a2a.ErrInvalidParams)

	_, err = h.HandlePushSubscribe(ctx, &a2a.TaskPushConfig{
		TaskID: "missing",
		Config: a2a.PushConfig{URL: "http://hooks.local/a2a"},
	})
	assert.ErrorIs(t, err, a2a.ErrNotFound)
}

func TestHandlePushSubscribe_RequiresNotifier(t *testing.T) {
	h := newTestHandler(t, echo)
	_, err := h.HandlePushSubscribe(context.Background(), &a2a.TaskPushConfig{TaskID: "t"})
	assert.ErrorIs(t, err, a2a.ErrUnsupportedOperation)

	params := userText("x")
	params.Config = &a2a.MessageSendConfig{
		PushConfig: &a2a.PushConfig{URL: "http://hooks.local"},
	}
	_, err = h.HandleMessageSend(context.Background(), params)
	assert.ErrorIs(t, err, a2a.ErrUnsupportedOperation)
}

func TestHandler_ConcurrentSendsDoNotInterleave(t *testing.T) {
	h := newTestHandler(t, echo)

	var wg sync.WaitGroup
	ids := make([]a2a.TaskID, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.HandleMessageSend(context.Background(), userText("x"))
			if assert.NoError(t, err) {
				if tk, ok := res.(*a2a.Task); assert.True(t, ok) {
					ids[i] = tk.ID
				}
			}
		}(i)
	}
	wg.Wait()

	tasks, err := h.Store().Enumerate(context.Background(), task.Live)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	seen := map[a2a.TaskID]bool{}
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestHandler_ShutdownCancelsRuns(t *testing.T) {
	started := make(chan a2a.TaskID, 1)
	h, err := NewHandler(testCard(), blocker(started))
	require.NoError(t, err)

	params := userText("x")
	params.Config = a2a.NonBlocking()
	_, err = h.HandleMessageSend(context.Background(), params)
	require.NoError(t, err)
	taskID := <-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	got, err := h.HandleGetTask(context.Background(), &a2a.TaskQueryParams{ID: taskID})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCanceled, got.Status.State)

	_, err = h.HandleMessageSend(context.Background(), userText("late"))
	assert.Error(t, err)
}
