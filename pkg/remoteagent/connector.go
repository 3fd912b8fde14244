// Package remoteagent is the client side of the A2A protocol: one Connector per
// remote agent, with card discovery, unary calls, event streams and circuit
// breaking. Cards are resolved with the a2a-go agentcard resolver and calls go
// through an a2aclient.Client whose HTTP transport adds the fabric's rate
// limiting, breaker and trace propagation.
package remoteagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/config"
	"github.com/kadirpekel/optica/pkg/httpclient"
	"github.com/kadirpekel/optica/pkg/observability"
)

const (
	DefaultSendTimeout   = 30 * time.Second
	DefaultStreamTimeout = 300 * time.Second
)

// Options tunes a Connector. Zero values take the defaults.
type Options struct {
	Headers       map[string]string
	SendTimeout   time.Duration
	StreamTimeout time.Duration

	// RateLimit caps outgoing requests per second. 0 disables limiting.
	RateLimit float64

	Breaker config.BreakerConfig

	// Cards is shared between connectors when set; otherwise each connector
	// caches its own card for CardTTL.
	Cards   *CardCache
	CardTTL time.Duration

	HTTPClient *http.Client
	Tracer     *observability.Tracer
}

// OptionsFromConfig maps a remote agent entry and the router timeouts.
func OptionsFromConfig(ra *config.RemoteAgentConfig, router config.RouterConfig) Options {
	return Options{
		Headers:       ra.Headers,
		SendTimeout:   router.SendTimeout,
		StreamTimeout: router.StreamTimeout,
		RateLimit:     ra.RateLimit,
		Breaker:       ra.Breaker,
		CardTTL:       ra.CardTTL,
	}
}

// Connector talks to one remote agent. It is safe for concurrent use.
type Connector struct {
	name    string
	baseURL string
	opts    Options

	http     *http.Client
	resolver *agentcard.Resolver
	rpc      *http.Client
	cards    *CardCache
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[*http.Response]

	mu       sync.Mutex
	client   *a2aclient.Client
	clientOf *a2a.AgentCard
}

// New creates the connector of the agent served at baseURL. name is the
// configuration id used in logs and metrics until the card is known.
func New(name, baseURL string, opts Options) (*Connector, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("remote agent %q: url is required", name)
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = DefaultStreamTimeout
	}
	opts.Breaker.SetDefaults()
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	c := &Connector{
		name:    name,
		baseURL: baseURL,
		opts:    opts,
		http:    opts.HTTPClient,
		cards:   opts.Cards,
	}
	if c.cards == nil {
		c.cards = NewCardCache(1, opts.CardTTL)
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, int(opts.RateLimit)))
	}

	cardGet := httpclient.New(
		httpclient.WithHTTPClient(opts.HTTPClient),
		httpclient.WithMaxRetries(2),
		httpclient.WithBaseDelay(200*time.Millisecond),
		httpclient.WithMaxDelay(2*time.Second),
	)
	c.resolver = agentcard.NewResolver(&http.Client{Transport: &cardTransport{c: c, get: cardGet}})
	c.rpc = &http.Client{Transport: &rpcTransport{c: c}}

	maxFailures := opts.Breaker.MaxFailures
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "agent:" + name,
		MaxRequests: 1,
		Timeout:     opts.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool { return !countsAsFailure(err) },
	})
	return c, nil
}

// Name returns the configured id of the agent.
func (c *Connector) Name() string { return c.name }

// URL returns the base URL of the agent.
func (c *Connector) URL() string { return c.baseURL }

// Card returns the agent card, fetching it when the cache has none.
func (c *Connector) Card(ctx context.Context) (*a2a.AgentCard, error) {
	return c.cards.Get(ctx, c.baseURL, c.fetchCard)
}

// InvalidateCard forces the next Card call to refetch.
func (c *Connector) InvalidateCard() {
	c.cards.Invalidate(c.baseURL)
}

func (c *Connector) fetchCard(ctx context.Context) (*a2a.AgentCard, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()

	card, err := c.resolver.Resolve(ctx, c.baseURL, agentcard.WithPath(a2a.WellKnownCardPath))
	if err != nil {
		var se *httpclient.StatusError
		var te *TransportError
		switch {
		case errors.As(err, &se):
			return nil, &TransportError{Agent: c.name, Op: "card", StatusCode: se.StatusCode, Err: err}
		case errors.As(err, &te):
			return nil, te
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, a2a.NewError(a2a.KindTimeout, "%s card: deadline exceeded", c.name)
		case errors.Is(err, context.Canceled):
			return nil, err
		}
		return nil, a2a.NewError(a2a.KindInternal, "%s served an undecodable agent card: %v", c.name, err)
	}
	if err := a2a.ValidateCard(card); err != nil {
		return nil, a2a.NewError(a2a.KindInternal, "%s served an invalid agent card: %v", c.name, err)
	}
	slog.Debug("Fetched agent card", "agent", c.name, "card_name", card.Name, "skills", len(card.Skills))
	return card, nil
}

// rpcClient returns the a2a-go client of the current card, rebuilding it when
// the card was refetched. The client always talks to the configured base URL;
// the URL an agent advertises may only be reachable from its own network.
func (c *Connector) rpcClient(ctx context.Context) (*a2aclient.Client, error) {
	card, err := c.Card(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.clientOf == card {
		return c.client, nil
	}

	endpoint := *card
	endpoint.URL = c.baseURL + "/"
	endpoint.PreferredTransport = a2a.TransportProtocolJSONRPC
	client, err := a2aclient.NewFromCard(ctx, &endpoint, a2aclient.WithJSONRPCTransport(c.rpc))
	if err != nil {
		return nil, a2a.NewError(a2a.KindInternal, "%s: failed to create client: %v", c.name, err)
	}
	if c.client != nil {
		_ = c.client.Destroy()
	}
	c.client, c.clientOf = client, card
	return client, nil
}

// ============================================================================
// UNARY CALLS
// ============================================================================

// SendMessage calls message/send. The result is a *a2a.Task or a *a2a.Message.
// A task that failed on the agent is reported as the error recorded on it.
func (c *Connector) SendMessage(ctx context.Context, msg *a2a.Message, cfg *a2a.MessageSendConfig) (a2a.SendMessageResult, error) {
	var res a2a.SendMessageResult
	err := c.unary(ctx, a2a.MethodMessageSend, func(ctx context.Context, client *a2aclient.Client) error {
		var err error
		res, err = client.SendMessage(ctx, &a2a.MessageSendParams{Message: msg, Config: cfg})
		return err
	})
	if err != nil {
		return nil, err
	}
	switch v := res.(type) {
	case *a2a.Task:
		a2a.Normalize(v)
		if e := a2a.TaskError(v); e != nil {
			return nil, e
		}
	case *a2a.Message:
		a2a.Normalize(v)
	case nil:
		return nil, a2a.NewError(a2a.KindInternal, "%s returned an empty result", c.name)
	}
	return res, nil
}

func (c *Connector) GetTask(ctx context.Context, taskID a2a.TaskID, historyLength *int) (*a2a.Task, error) {
	var t *a2a.Task
	err := c.unary(ctx, a2a.MethodTasksGet, func(ctx context.Context, client *a2aclient.Client) error {
		var err error
		t, err = client.GetTask(ctx, &a2a.TaskQueryParams{ID: taskID, HistoryLength: historyLength})
		return err
	})
	if err != nil {
		return nil, err
	}
	a2a.Normalize(t)
	return t, nil
}

func (c *Connector) CancelTask(ctx context.Context, taskID a2a.TaskID) (*a2a.Task, error) {
	var t *a2a.Task
	err := c.unary(ctx, a2a.MethodTasksCancel, func(ctx context.Context, client *a2aclient.Client) error {
		var err error
		t, err = client.CancelTask(ctx, &a2a.TaskIDParams{ID: taskID})
		return err
	})
	if err != nil {
		return nil, err
	}
	a2a.Normalize(t)
	return t, nil
}

// SetPushConfig registers a webhook for a task.
func (c *Connector) SetPushConfig(ctx context.Context, taskID a2a.TaskID, cfg a2a.PushConfig) (*a2a.TaskPushConfig, error) {
	var out *a2a.TaskPushConfig
	err := c.unary(ctx, a2a.MethodPushConfigSet, func(ctx context.Context, client *a2aclient.Client) error {
		var err error
		out, err = client.SetTaskPushConfig(ctx, &a2a.TaskPushConfig{TaskID: taskID, Config: cfg})
		return err
	})
	return out, err
}

func (c *Connector) GetPushConfig(ctx context.Context, taskID a2a.TaskID) (*a2a.TaskPushConfig, error) {
	var out *a2a.TaskPushConfig
	err := c.unary(ctx, a2a.MethodPushConfigGet, func(ctx context.Context, client *a2aclient.Client) error {
		var err error
		out, err = client.GetTaskPushConfig(ctx, &a2a.GetTaskPushConfigParams{TaskID: taskID})
		return err
	})
	return out, err
}

// WaitForCompletion polls a task until it requires input or finishes. A task
// that failed is reported as the error recorded on it.
func (c *Connector) WaitForCompletion(ctx context.Context, taskID a2a.TaskID) (*a2a.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.StreamTimeout)
	defer cancel()

	delay := 200 * time.Millisecond
	for {
		t, err := c.GetTask(ctx, taskID, nil)
		if err != nil && !IsRetryable(err) {
			return nil, err
		}
		if err == nil && halted(t) {
			if e := a2a.TaskError(t); e != nil {
				return t, e
			}
			return t, nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, classify(ctx, c.name, "wait", ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, 2*time.Second)
	}
}

func halted(t *a2a.Task) bool {
	return a2a.IsTerminal(t.Status.State) || t.Status.State == a2a.TaskStateInputRequired
}

// unary runs one client call under the send timeout, a trace span and the call
// metrics, and maps its failure onto the error taxonomy.
func (c *Connector) unary(ctx context.Context, method string, call func(context.Context, *a2aclient.Client) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()

	start := time.Now()
	ctx, span := c.opts.Tracer.StartRemoteCall(ctx, c.name, method)
	defer span.End()

	client, err := c.rpcClient(ctx)
	if err != nil {
		c.opts.Tracer.RecordError(span, err)
		return c.finishAt(ctx, method, start, err)
	}
	ctx, x := withExchange(ctx, method)
	if err := call(ctx, client); err != nil {
		err = c.failure(ctx, x, err)
		c.opts.Tracer.RecordError(span, err)
		return c.finishAt(ctx, method, start, err)
	}
	return c.finishAt(ctx, method, start, nil)
}

func (c *Connector) finishAt(ctx context.Context, method string, start time.Time, err error) error {
	outcome := observability.OutcomeSuccess
	if err != nil {
		outcome = observability.OutcomeFailure
		slog.Debug("Remote call failed", "agent", c.name, "method", method, "error", err)
	}
	observability.GetGlobalMetrics().RecordRemoteCall(ctx, c.name, method, outcome, time.Since(start))
	return err
}

// Close releases the client and idle connections.
func (c *Connector) Close() error {
	c.mu.Lock()
	client := c.client
	c.client, c.clientOf = nil, nil
	c.mu.Unlock()

	var err error
	if client != nil {
		err = client.Destroy()
	}
	c.http.CloseIdleConnections()
	return err
}
