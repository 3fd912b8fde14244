package a2a

import (
	"errors"
	"fmt"

	core "github.com/a2aproject/a2a-go/a2a"
)

// ErrorKind is the protocol error taxonomy shared by servers and clients.
type ErrorKind string

const (
	KindInvalidParams        ErrorKind = "InvalidParams"
	KindNotFound             ErrorKind = "NotFound"
	KindUnsupportedOperation ErrorKind = "UnsupportedOperation"
	KindInternal             ErrorKind = "Internal"
	KindTimeout              ErrorKind = "Timeout"
)

// JSON-RPC error codes.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeTaskNotFound         = -32001
	CodeTaskNotCancelable    = -32002
	CodePushNotSupported     = -32003
	CodeUnsupportedOperation = -32004
	CodeTimeout              = -32010
)

// Code returns the JSON-RPC code a kind is transmitted with.
func (k ErrorKind) Code() int {
	switch k {
	case KindInvalidParams:
		return CodeInvalidParams
	case KindNotFound:
		return CodeTaskNotFound
	case KindUnsupportedOperation:
		return CodeUnsupportedOperation
	case KindTimeout:
		return CodeTimeout
	default:
		return CodeInternalError
	}
}

// KindFromCode maps a JSON-RPC error code back to its kind.
func KindFromCode(code int) ErrorKind {
	switch code {
	case CodeInvalidParams, CodeParseError, CodeInvalidRequest, CodeTaskNotCancelable:
		return KindInvalidParams
	case CodeTaskNotFound:
		return KindNotFound
	case CodeUnsupportedOperation, CodeMethodNotFound, CodePushNotSupported:
		return KindUnsupportedOperation
	case CodeTimeout:
		return KindTimeout
	default:
		return KindInternal
	}
}

// Error is a protocol error. It travels as a JSON-RPC error object and, for failed
// tasks, inside the final status message metadata.
type Error struct {
	Kind    ErrorKind
	Message string
	Data    any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works for
// every not-found error regardless of its message. The a2a-go sentinels of a
// kind match too: a not-found *Error is also a2a.ErrTaskNotFound.
func (e *Error) Is(target error) bool {
	if k, ok := sentinelKind(target); ok {
		return k == e.Kind
	}
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// sentinels maps the a2a-go protocol errors onto the taxonomy. The client
// reports JSON-RPC error codes as these.
var sentinels = []struct {
	err  error
	kind ErrorKind
}{
	{core.ErrTaskNotFound, KindNotFound},
	{core.ErrInvalidParams, KindInvalidParams},
	{core.ErrInvalidRequest, KindInvalidParams},
	{core.ErrParseError, KindInvalidParams},
	{core.ErrTaskNotCancelable, KindInvalidParams},
	{core.ErrUnsupportedOperation, KindUnsupportedOperation},
	{core.ErrMethodNotFound, KindUnsupportedOperation},
	{core.ErrPushNotificationNotSupported, KindUnsupportedOperation},
	{core.ErrInternalError, KindInternal},
}

func sentinelKind(target error) (ErrorKind, bool) {
	for _, s := range sentinels {
		if target == s.err {
			return s.kind, true
		}
	}
	return "", false
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidParams        = &Error{Kind: KindInvalidParams}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrUnsupportedOperation = &Error{Kind: KindUnsupportedOperation}
	ErrInternal             = &Error{Kind: KindInternal}
	ErrTimeout              = &Error{Kind: KindTimeout}
)

// NewError builds a protocol error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a protocol error from err. Errors that carry no kind are
// reported as Internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return &Error{Kind: s.kind, Message: err.Error()}
		}
	}
	return &Error{Kind: KindInternal, Message: err.Error()}
}

// KindOf returns the kind of err, Internal when it carries none, and "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}

// RPCError converts the error into its JSON-RPC form.
func (e *Error) RPCError() *RPCError {
	return &RPCError{Code: e.Kind.Code(), Message: e.Message, Data: e.Data}
}

// ErrorFromRPC converts a JSON-RPC error object into a protocol error, keeping the
// server's message verbatim.
func ErrorFromRPC(r *RPCError) *Error {
	return &Error{Kind: KindFromCode(r.Code), Message: r.Message, Data: r.Data}
}

// ErrorMetadataKey is the status message metadata key carrying a task failure.
const ErrorMetadataKey = "error"

// FailureMessage builds the agent message attached to a failed task status.
func FailureMessage(err error) *Message {
	e := AsError(err)
	msg := NewAgentText(e.Message)
	msg.Metadata = map[string]any{
		ErrorMetadataKey: map[string]any{
			"kind":    string(e.Kind),
			"code":    e.Kind.Code(),
			"message": e.Message,
		},
	}
	return msg
}

// TaskError reports the protocol error recorded on a failed task, or nil when the
// task did not fail. A failure without recorded kind is Internal.
func TaskError(t *Task) *Error {
	if t == nil || t.Status.State != TaskStateFailed {
		return nil
	}
	e := &Error{Kind: KindInternal, Message: MessageText(t.Status.Message)}
	if t.Status.Message == nil {
		e.Message = "task failed"
		return e
	}
	if raw, ok := t.Status.Message.Metadata[ErrorMetadataKey].(map[string]any); ok {
		if k, ok := raw["kind"].(string); ok && k != "" {
			e.Kind = ErrorKind(k)
		}
		if m, ok := raw["message"].(string); ok && m != "" {
			e.Message = m
		}
	}
	return e
}
