// Package httpclient is an HTTP client that retries transient failures with
// exponential backoff and jitter, honoring Retry-After.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	Retry
)

type RetryStrategyFunc func(statusCode int) RetryStrategy

type Client struct {
	client         *http.Client
	maxRetries     int
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
	strategyFunc   RetryStrategyFunc
	onRetry        func(attempt int, delay time.Duration, err error)
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithMaxDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = delay
	}
}

// WithAttemptTimeout bounds each attempt separately from the caller's context.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.attemptTimeout = d
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

// WithOnRetry observes every scheduled retry.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(c *Client) {
		c.onRetry = fn
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		client:         &http.Client{},
		maxRetries:     5,
		baseDelay:      500 * time.Millisecond,
		maxDelay:       30 * time.Second,
		attemptTimeout: 10 * time.Second,
		strategyFunc:   DefaultRetryStrategy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultRetryStrategy retries timeouts, throttling and server errors. Other
// statuses are final.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch {
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		return Retry
	default:
		return NoRetry
	}
}

// Do sends req, retrying transient failures until it succeeds, the retries are
// exhausted or req's context ends. A 2xx response is returned with a nil error; a
// final non-2xx status yields a *StatusError; exhaustion yields a *RetryableError.
// Requests with a body must set GetBody (http.NewRequest does for common readers).
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if req.Body != nil && req.GetBody == nil {
				return nil, fmt.Errorf("cannot retry request without GetBody: %w", lastErr)
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
				}
				req.Body = body
			}
		}

		resp, retryAfter, err := c.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && c.strategyFunc(statusErr.StatusCode) == NoRetry {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == c.maxRetries {
			break
		}

		delay := c.backoff(attempt, retryAfter)
		if c.onRetry != nil {
			c.onRetry(attempt+1, delay, err)
		}
		slog.Debug("Retrying HTTP request", "url", req.URL.Redacted(), "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, &RetryableError{
		Message: fmt.Sprintf("max retries (%d) exceeded", c.maxRetries),
		Err:     lastErr,
	}
}

func (c *Client) attempt(ctx context.Context, req *http.Request) (*http.Response, time.Duration, error) {
	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.attemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
	}

	resp, err := c.client.Do(req.WithContext(attemptCtx))
	if err != nil {
		cancel()
		return nil, 0, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, 0, nil
	}

	retryAfter := ParseRetryAfter(resp.Header)
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_ = resp.Body.Close()
	cancel()
	return nil, retryAfter, &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
}

// backoff returns base·2^attempt plus up to 50% jitter, capped at maxDelay. A
// server-provided Retry-After wins when it is longer.
func (c *Client) backoff(attempt int, retryAfter time.Duration) time.Duration {
	d := time.Duration(float64(c.baseDelay) * math.Pow(2, float64(attempt)))
	if d > c.maxDelay || d <= 0 {
		d = c.maxDelay
	}
	if half := int64(d / 2); half > 0 {
		d += time.Duration(rand.Int64N(half))
	}
	if retryAfter > d {
		d = retryAfter
	}
	return min(d, c.maxDelay)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
