package reasoning

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"github.com/kadirpekel/optica/pkg/config"
)

// Breaker stops calling a failing engine until its open timeout elapses.
type Breaker struct {
	engine Engine
	cb     *gobreaker.CircuitBreaker[*Decision]
}

func NewBreaker(engine Engine, cfg config.BreakerConfig) *Breaker {
	cfg.SetDefaults()
	maxFailures := cfg.MaxFailures
	return &Breaker{
		engine: engine,
		cb: gobreaker.NewCircuitBreaker[*Decision](gobreaker.Settings{
			Name:        "reasoning",
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
			// The caller giving up says nothing about the engine.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
	}
}

func (b *Breaker) Decide(ctx context.Context, req *Request) (*Decision, error) {
	return b.cb.Execute(func() (*Decision, error) { return b.engine.Decide(ctx, req) })
}

// State reports the breaker state for health endpoints.
func (b *Breaker) State() string { return b.cb.State().String() }
