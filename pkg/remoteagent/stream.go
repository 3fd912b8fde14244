package remoteagent

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2aclient"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/observability"
	"github.com/kadirpekel/optica/pkg/task"
)

// Stream is the event stream of a remote task. Next returns io.EOF once the
// agent ended the stream.
type Stream struct {
	c      *Connector
	x      *exchange
	ctx    context.Context
	cancel context.CancelFunc
	next   func() (a2a.Event, error, bool)
	stop   func()

	// pending is the first event, read when the stream was opened so that a
	// request rejected before the stream started fails the open call.
	pending a2a.Event
	done    bool

	closeOnce sync.Once
}

// SendMessageStream calls message/stream. The stream is bounded by the
// connector's stream timeout; Close must always be called.
func (c *Connector) SendMessageStream(ctx context.Context, msg *a2a.Message, cfg *a2a.MessageSendConfig) (*Stream, error) {
	return c.openStream(ctx, a2a.MethodMessageStream, func(ctx context.Context, client *a2aclient.Client) iter.Seq2[a2a.Event, error] {
		return client.SendStreamingMessage(ctx, &a2a.MessageSendParams{Message: msg, Config: cfg})
	})
}

// Resubscribe reattaches to the events of a running task.
func (c *Connector) Resubscribe(ctx context.Context, taskID a2a.TaskID) (*Stream, error) {
	return c.openStream(ctx, a2a.MethodTasksResubscribe, func(ctx context.Context, client *a2aclient.Client) iter.Seq2[a2a.Event, error] {
		return client.ResubscribeToTask(ctx, &a2a.TaskIDParams{ID: taskID})
	})
}

func (c *Connector) openStream(ctx context.Context, method string, open func(context.Context, *a2aclient.Client) iter.Seq2[a2a.Event, error]) (*Stream, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.opts.StreamTimeout)
	client, err := c.rpcClient(ctx)
	if err != nil {
		cancel()
		return nil, c.finishAt(ctx, method, start, err)
	}

	ctx, x := withExchange(ctx, method)
	next, stop := iter.Pull2(open(ctx, client))
	s := &Stream{c: c, x: x, ctx: ctx, cancel: cancel, next: next, stop: stop}

	first, err := s.read()
	if err != nil && !errors.Is(err, io.EOF) {
		s.Close()
		return nil, c.finishAt(ctx, method, start, err)
	}
	s.pending = first
	c.finishAt(ctx, method, start, nil)
	return s, nil
}

// Next returns the next event. An error frame is returned as the protocol error
// it carries.
func (s *Stream) Next() (a2a.Event, error) {
	if s.pending != nil {
		ev := s.pending
		s.pending = nil
		return ev, nil
	}
	return s.read()
}

func (s *Stream) read() (a2a.Event, error) {
	if s.done {
		return nil, io.EOF
	}
	ev, err, ok := s.next()
	switch {
	case !ok:
		s.done = true
		// An agent that rejects a stream answers with a plain JSON-RPC error,
		// which the client does not report as an event.
		if e := s.x.protocolError(); e != nil {
			return nil, e
		}
		if errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
			return nil, a2a.NewError(a2a.KindTimeout, "%s stream exceeded its deadline", s.c.name)
		}
		return nil, io.EOF
	case err != nil:
		s.done = true
		if errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
			return nil, a2a.NewError(a2a.KindTimeout, "%s stream exceeded its deadline", s.c.name)
		}
		return nil, s.c.failure(s.ctx, s.x, err)
	case ev == nil:
		return s.read()
	}
	a2a.Normalize(ev)
	observability.GetGlobalMetrics().RecordTaskEvent(s.ctx, s.c.name, string(a2a.KindOfEvent(ev)))
	return ev, nil
}

// Close aborts the stream. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.stop()
		s.cancel()
	})
	return nil
}

// Collect consumes the stream and folds it into the task it describes. It
// returns when the task finishes, when it halts on input-required, or when the
// agent ends the stream. A task that failed is returned with the error recorded
// on it; a message answered instead of a task is returned as the second value.
func (s *Stream) Collect() (*a2a.Task, *a2a.Message, error) {
	defer s.Close()

	var current *a2a.Task
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return current, nil, err
		}

		switch e := ev.(type) {
		case *a2a.Message:
			return current, e, nil
		case *a2a.Task:
			current = a2a.CloneTask(e)
		default:
			if current == nil {
				info := ev.TaskInfo()
				current = &a2a.Task{ID: info.TaskID, ContextID: info.ContextID}
			}
			if err := task.Apply(current, ev); err != nil {
				return current, nil, a2a.NewError(a2a.KindInternal, "%s sent an inconsistent event: %v", s.c.name, err)
			}
		}

		if st, ok := ev.(*a2a.TaskStatusUpdateEvent); ok && (st.Final || st.Status.State == a2a.TaskStateInputRequired) {
			break
		}
		// A resumed task opens with its input-required snapshot, so only a
		// terminal snapshot ends the collection.
		if t, ok := ev.(*a2a.Task); ok && a2a.IsTerminal(t.Status.State) {
			break
		}
	}

	if current == nil {
		return nil, nil, a2a.NewError(a2a.KindInternal, "%s ended the stream without a task", s.c.name)
	}
	if e := a2a.TaskError(current); e != nil {
		return current, nil, e
	}
	return current, nil, nil
}
