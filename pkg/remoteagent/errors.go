package remoteagent

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker/v2"

	"github.com/kadirpekel/optica/pkg/a2a"
)

// TransportError is a failure to reach a remote agent or to get a usable HTTP
// answer from it. It is always worth retrying.
type TransportError struct {
	Agent      string
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %v", e.Agent, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Agent, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed remote call may succeed when repeated:
// transport failures and timeouts. Protocol errors raised by the agent are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	return a2a.KindOf(err) == a2a.KindTimeout
}

// IsCircuitOpen reports whether err comes from an open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// countsAsFailure decides what trips the breaker: an agent that answers with a
// protocol error is healthy.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	switch a2a.KindOf(err) {
	case a2a.KindTimeout, a2a.KindInternal:
		return true
	default:
		return false
	}
}

// classify maps a local failure to the error taxonomy the router works with.
func classify(ctx context.Context, agent, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *a2a.Error
	if errors.As(err, &pe) {
		return pe
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return a2a.NewError(a2a.KindTimeout, "%s %s: deadline exceeded", agent, op)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &TransportError{Agent: agent, Op: op, Err: err}
}
