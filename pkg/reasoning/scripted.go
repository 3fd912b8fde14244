package reasoning

import (
	"context"
	"fmt"
	"sync"
)

// Step produces one decision of a Scripted engine.
type Step func(req *Request) (*Decision, error)

// Scripted replays a fixed sequence of steps. It is deterministic and is used by
// tests and offline demos.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	requests []*Request
	fallback Step
}

func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// WithFallback sets the step used once the script is exhausted.
func (s *Scripted) WithFallback(step Step) *Scripted {
	s.fallback = step
	return s
}

func (s *Scripted) Decide(ctx context.Context, req *Request) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var step Step
	if len(s.steps) > 0 {
		step, s.steps = s.steps[0], s.steps[1:]
	} else {
		step = s.fallback
	}
	s.mu.Unlock()

	if step == nil {
		return nil, fmt.Errorf("scripted engine exhausted")
	}
	return step(req)
}

// Requests returns every request seen so far.
func (s *Scripted) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Request(nil), s.requests...)
}

// Say answers with text.
func Say(text string) Step {
	return func(*Request) (*Decision, error) { return &Decision{Text: text}, nil }
}

// Call requests the given tool calls.
func Call(calls ...ToolCall) Step {
	return func(*Request) (*Decision, error) { return &Decision{ToolCalls: calls}, nil }
}

// Fail returns err.
func Fail(err error) Step {
	return func(*Request) (*Decision, error) { return nil, err }
}

// Echo answers with the last tool result, or the last user text when there is none.
func Echo() Step {
	return func(req *Request) (*Decision, error) {
		for i := len(req.Messages) - 1; i >= 0; i-- {
			m := req.Messages[i]
			if m.Role == RoleTool && m.Result != nil {
				return &Decision{Text: m.Result.Content}, nil
			}
			if m.Role == RoleUser {
				return &Decision{Text: m.Content}, nil
			}
		}
		return &Decision{}, nil
	}
}
