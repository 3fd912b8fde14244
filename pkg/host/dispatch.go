package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/reasoning"
	"github.com/kadirpekel/optica/pkg/remoteagent"
)

// Attachment is a file uploaded with a user turn.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

func (a Attachment) isImage() bool { return strings.HasPrefix(a.MimeType, "image/") }

// outcome is what one send_message call produced.
type outcome struct {
	call  reasoning.ToolCall
	agent *Agent

	task          *a2a.Task
	parts         []a2a.Part
	inputRequired bool

	// miss marks an agent name that matches no card; no request was sent.
	miss bool
	err  error
}

// capability names the agent a failed call was meant for.
func (o *outcome) capability() string {
	if o.agent != nil {
		return o.agent.Card.Name
	}
	if name := o.call.String("agent_name"); name != "" {
		return name
	}
	return o.call.Name
}

// succeeded reports whether an agent answered the call.
func (o *outcome) succeeded() bool { return o.err == nil && !o.miss }

// toolResult renders the outcome for the engine.
func (o *outcome) toolResult() reasoning.ToolResult {
	r := reasoning.ToolResult{CallID: o.call.ID, Name: o.call.Name}
	switch {
	case o.err != nil:
		r.IsError = true
		r.Content = o.err.Error()
	case o.inputRequired:
		r.Content = "[input-required] The agent needs more information from the user: " + renderParts(o.parts)
	default:
		r.Content = renderParts(o.parts)
	}
	return r
}

// dispatch is the per-turn context of outgoing calls.
type dispatch struct {
	sessionID   string
	userID      string
	pending     map[string]string
	attachments []Attachment
}

// message mints the outgoing message for one call.
func (d *dispatch) message(agent *Agent, text string) *a2a.Message {
	parts := []a2a.Part{a2a.NewTextPart(text)}
	for _, att := range d.attachments {
		if att.isImage() && a2a.AcceptsInputMode(agent.Card, att.MimeType) {
			parts = append(parts, a2a.NewFilePart(att.Name, att.MimeType, att.Data))
		}
	}
	msg := a2a.NewMessage(a2a.RoleUser, parts...)
	msg.ContextID = d.sessionID
	msg.TaskID = a2a.TaskID(d.pending[agent.Card.Name])
	if d.userID != "" {
		msg.Metadata = map[string]any{"user_id": d.userID}
	}
	return msg
}

// call sends one subtask, retrying once on a timeout or transport failure.
// A stale pending task is dropped and the subtask sent as a new task.
func (d *dispatch) call(ctx context.Context, agent *Agent, text string) *outcome {
	msg := d.message(agent, text)
	t, m, err := send(ctx, agent, msg)
	switch {
	case err == nil:
	case remoteagent.IsRetryable(err) && !remoteagent.IsCircuitOpen(err) && ctx.Err() == nil:
		slog.Warn("Retrying remote agent call", "agent", agent.Card.Name, "error", err)
		msg = d.message(agent, text)
		t, m, err = send(ctx, agent, msg)
	case msg.TaskID != "" && (a2a.KindOf(err) == a2a.KindNotFound || a2a.KindOf(err) == a2a.KindInvalidParams):
		slog.Info("Pending task is gone, starting a new one", "agent", agent.Card.Name, "task_id", msg.TaskID, "error", err)
		msg = d.message(agent, text)
		msg.TaskID = ""
		t, m, err = send(ctx, agent, msg)
	}

	o := &outcome{agent: agent, task: t}
	if err != nil {
		o.err = fmt.Errorf("%s failed: %w", agent.Card.Name, err)
		return o
	}
	if m != nil {
		o.parts = m.Parts
		return o
	}
	o.inputRequired = t.Status.State == a2a.TaskStateInputRequired
	o.parts = resultParts(t)
	if len(o.parts) == 0 && !o.inputRequired {
		o.err = fmt.Errorf("%s returned no result", agent.Card.Name)
	}
	return o
}

// send streams when the agent supports it and otherwise blocks on message/send,
// polling if the agent answered before the task settled.
func send(ctx context.Context, agent *Agent, msg *a2a.Message) (*a2a.Task, *a2a.Message, error) {
	conn := agent.Connector
	if agent.Card.Capabilities.Streaming {
		s, err := conn.SendMessageStream(ctx, msg, nil)
		if err != nil {
			return nil, nil, err
		}
		return s.Collect()
	}

	res, err := conn.SendMessage(ctx, msg, nil)
	if err != nil {
		return nil, nil, err
	}
	t, ok := res.(*a2a.Task)
	if !ok {
		m, _ := res.(*a2a.Message)
		return nil, m, nil
	}
	if !a2a.IsTerminal(t.Status.State) && t.Status.State != a2a.TaskStateInputRequired {
		t, err = conn.WaitForCompletion(ctx, t.ID)
		if err != nil {
			return t, nil, err
		}
	}
	return t, nil, nil
}

// resultParts returns the artifact parts of a task followed by its status
// message.
func resultParts(t *a2a.Task) []a2a.Part {
	var parts []a2a.Part
	for _, art := range t.Artifacts {
		parts = append(parts, art.Parts...)
	}
	if t.Status.Message != nil {
		parts = append(parts, t.Status.Message.Parts...)
	}
	return parts
}

// renderParts flattens parts for the engine: text as is, data as JSON, files
// by name.
func renderParts(parts []a2a.Part) string {
	var out []string
	for _, p := range parts {
		switch a2a.KindOfPart(p) {
		case a2a.PartKindText:
			if s := strings.TrimSpace(a2a.PartsText([]a2a.Part{p})); s != "" {
				out = append(out, s)
			}
		case a2a.PartKindData:
			data, _ := a2a.DataOf([]a2a.Part{p})
			raw, err := json.Marshal(data)
			if err == nil {
				out = append(out, string(raw))
			}
		case a2a.PartKindFile:
			if name, mimeType := fileInfo(p); name != "" || mimeType != "" {
				out = append(out, fmt.Sprintf("[file %s %s]", name, mimeType))
			}
		}
	}
	return strings.Join(out, "\n")
}

func fileInfo(p a2a.Part) (name, mimeType string) {
	switch f := p.(type) {
	case a2a.FilePart:
		return a2a.FileInfo(f)
	case *a2a.FilePart:
		return a2a.FileInfo(*f)
	}
	return "", ""
}

// textOf is renderParts without data parts, for user-facing fallbacks.
func textOf(parts []a2a.Part) string {
	var out []string
	for _, p := range parts {
		if a2a.KindOfPart(p) != a2a.PartKindText {
			continue
		}
		if s := strings.TrimSpace(a2a.PartsText([]a2a.Part{p})); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n")
}
