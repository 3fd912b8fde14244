// Package testutils provides helpers for driving agent executors in tests.
package testutils

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/config"
	"github.com/kadirpekel/optica/pkg/server"
)

// TestConfig returns the built-in configuration with defaults applied and no
// reasoning credentials.
func TestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Reasoning.Provider = "none"
	cfg.SetDefaults()
	return cfg
}

// NewHandler serves exec in process and shuts it down when the test ends.
func NewHandler(tb testing.TB, card *a2a.AgentCard, exec server.AgentExecutor, opts ...server.Option) *server.Handler {
	tb.Helper()
	h, err := server.NewHandler(card, exec, opts...)
	require.NoError(tb, err)
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

// UserMessage builds a user message from text plus extra parts. An empty text
// adds no text part.
func UserMessage(text string, parts ...a2a.Part) *a2a.Message {
	var all []a2a.Part
	if text != "" {
		all = append(all, a2a.NewTextPart(text))
	}
	return a2a.NewMessage(a2a.RoleUser, append(all, parts...)...)
}

// FollowUp builds a user message continuing a context.
func FollowUp(contextID, text string) *a2a.Message {
	msg := UserMessage(text)
	msg.ContextID = contextID
	return msg
}

// Send runs a blocking message/send. A failed task comes back as its error.
func Send(ctx context.Context, h *server.Handler, msg *a2a.Message) (*a2a.Task, error) {
	res, err := h.HandleMessageSend(ctx, &a2a.MessageSendParams{Message: msg})
	if err != nil {
		return nil, err
	}
	t, ok := res.(*a2a.Task)
	if !ok {
		return nil, errors.New("agent answered with a message instead of a task")
	}
	return t, nil
}

// Stream runs message/stream and collects every event until the stream ends.
func Stream(tb testing.TB, h *server.Handler, msg *a2a.Message) []a2a.Event {
	tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := h.HandleMessageStream(ctx, &a2a.MessageSendParams{Message: msg})
	require.NoError(tb, err)
	defer s.Close()

	var out []a2a.Event
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(tb, err)
		out = append(out, ev)
	}
}

// States lists the status states seen in events.
func States(events []a2a.Event) []a2a.TaskState {
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

// ArtifactData returns the first data part of the task's artifacts.
func ArtifactData(t *a2a.Task) map[string]any {
	for _, art := range t.Artifacts {
		if data, ok := a2a.DataOf(art.Parts); ok {
			return data
		}
	}
	return nil
}

// ArtifactText joins the text parts of the task's artifacts.
func ArtifactText(t *a2a.Task) string {
	var parts []a2a.Part
	for _, art := range t.Artifacts {
		parts = append(parts, art.Parts...)
	}
	return a2a.PartsText(parts)
}

// StatusText returns the text of the task's current status message.
func StatusText(t *a2a.Task) string {
	return a2a.MessageText(t.Status.Message)
}
