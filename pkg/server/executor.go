// Package server hosts one agent behind the A2A task protocol. It owns task
// creation and resumption, runs the agent's executor under a deadline, and fans
// the resulting events out to the caller, to resubscribed streams and to push
// subscribers.
package server

import (
	"context"

	"github.com/kadirpekel/optica/pkg/a2a"
)

// ErrCancelNotSupported is what an executor returns from Cancel when it cannot be
// interrupted. The request then fails with UnsupportedOperation and the task is
// left untouched.
var ErrCancelNotSupported = a2a.NewError(a2a.KindUnsupportedOperation, "agent does not support cancellation")

// AgentExecutor is the agent-specific part of a server.
//
// Execute drives one run of a task through the updater. It returns once the task
// reached a terminal state or input-required; returning an error fails the task
// with the error's kind (Internal when it carries none). ctx ends on cancellation
// and on the execution deadline.
//
// Cancel is called before the framework cancels a task. It may emit its own
// canceled status through the updater; otherwise the framework does.
type AgentExecutor interface {
	Execute(ctx context.Context, reqCtx *RequestContext, updater *TaskUpdater) error
	Cancel(ctx context.Context, reqCtx *RequestContext, updater *TaskUpdater) error
}

// NoCancel can be embedded by executors that cannot be interrupted.
type NoCancel struct{}

func (NoCancel) Cancel(context.Context, *RequestContext, *TaskUpdater) error {
	return ErrCancelNotSupported
}

// RequestContext is what an executor knows about the request that started a run.
type RequestContext struct {
	// Message is the user message of this run. It is nil when the context is built
	// for cancelling an idle task.
	Message *a2a.Message

	// Task is the task as it was when the run started, including metadata left by
	// an earlier run that halted on input-required.
	Task *a2a.Task

	TaskID    a2a.TaskID
	ContextID string

	// Resumed is true when Message continues a task that required input.
	Resumed bool

	// Metadata is the request-level metadata of message/send.
	Metadata map[string]any
}

// UserText joins the text parts of the message.
func (r *RequestContext) UserText() string {
	return a2a.MessageText(r.Message)
}

// DataParts returns the structured parts of the message in order.
func (r *RequestContext) DataParts() []map[string]any {
	if r.Message == nil {
		return nil
	}
	var out []map[string]any
	for _, p := range r.Message.Parts {
		if d, ok := a2a.DataOf([]a2a.Part{p}); ok && d != nil {
			out = append(out, d)
		}
	}
	return out
}

// FileParts returns the file parts of the message in order.
func (r *RequestContext) FileParts() []*a2a.Attachment {
	if r.Message == nil {
		return nil
	}
	var out []*a2a.Attachment
	for _, p := range r.Message.Parts {
		switch f := p.(type) {
		case a2a.FilePart:
			out = append(out, a2a.AttachmentOf(f))
		case *a2a.FilePart:
			out = append(out, a2a.AttachmentOf(*f))
		}
	}
	return out
}

// MessageMetadata returns a metadata value of the message, falling back to the
// request metadata.
func (r *RequestContext) MessageMetadata(key string) (any, bool) {
	if r.Message != nil {
		if v, ok := r.Message.Metadata[key]; ok {
			return v, true
		}
	}
	v, ok := r.Metadata[key]
	return v, ok
}
