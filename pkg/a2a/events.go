package a2a

import (
	"encoding/json"
	"fmt"
)

// EventKind discriminates the values carried on a task's event channel and in
// streamed responses.
type EventKind string

const (
	EventKindTask           EventKind = "task"
	EventKindMessage        EventKind = "message"
	EventKindStatusUpdate   EventKind = "status-update"
	EventKindArtifactUpdate EventKind = "artifact-update"
)

// KindOfEvent returns the wire kind of ev.
func KindOfEvent(ev Event) EventKind {
	switch ev.(type) {
	case *Task:
		return EventKindTask
	case *Message:
		return EventKindMessage
	case *TaskStatusUpdateEvent:
		return EventKindStatusUpdate
	case *TaskArtifactUpdateEvent:
		return EventKindArtifactUpdate
	}
	return ""
}

// IsFinal reports whether the event closes its task's event channel.
func IsFinal(e Event) bool {
	switch ev := e.(type) {
	case *TaskStatusUpdateEvent:
		return ev.Final
	case *Message:
		return true
	}
	return false
}

// DecodeEvent decodes any event kind from its JSON form.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Kind EventKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	var ev Event
	switch head.Kind {
	case EventKindTask:
		ev = &Task{}
	case EventKindMessage:
		ev = &Message{}
	case EventKindStatusUpdate:
		ev = &TaskStatusUpdateEvent{}
	case EventKindArtifactUpdate:
		ev = &TaskArtifactUpdateEvent{}
	default:
		return nil, fmt.Errorf("decode event: unknown kind %q", head.Kind)
	}
	if err := Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Kind, err)
	}
	return ev, nil
}

// DecodeSendResult decodes a message/send result, which is either a task or a
// message discriminated by kind.
func DecodeSendResult(data []byte) (SendMessageResult, error) {
	ev, err := DecodeEvent(data)
	if err != nil {
		return nil, err
	}
	switch v := ev.(type) {
	case *Task:
		return v, nil
	case *Message:
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected %s in send result", KindOfEvent(ev))
	}
}
