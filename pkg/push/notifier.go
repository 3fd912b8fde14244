package push

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/config"
	"github.com/kadirpekel/optica/pkg/httpclient"
	"github.com/kadirpekel/optica/pkg/observability"
)

// TokenHeader carries the subscription token chosen by the subscriber.
const TokenHeader = "X-A2A-Notification-Token"

// Authentication schemes understood in PushAuthInfo.Schemes.
const (
	SchemeBearer = "Bearer"
	SchemeJWT    = "JWT"
)

const defaultTokenTTL = 5 * time.Minute

// Notifier relays task events to the task's webhooks. Each task has its own FIFO
// worker so events of one task are delivered in order while tasks proceed
// independently. Delivery is at-least-once; after the retries are exhausted the
// event is logged and dropped.
type Notifier struct {
	store  ConfigStore
	client *httpclient.Client
	issuer string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[a2a.TaskID]*worker
	wg      sync.WaitGroup
	closed  bool
}

type worker struct {
	pending []delivery
}

type delivery struct {
	configs []a2a.PushConfig
	payload []byte
	kind    a2a.EventKind
}

type Option func(*notifierOptions)

type notifierOptions struct {
	httpOpts []httpclient.Option
	issuer   string
}

// WithHTTPOptions tunes the retrying delivery client.
func WithHTTPOptions(opts ...httpclient.Option) Option {
	return func(o *notifierOptions) { o.httpOpts = append(o.httpOpts, opts...) }
}

// WithIssuer sets the iss claim of JWT deliveries.
func WithIssuer(issuer string) Option {
	return func(o *notifierOptions) { o.issuer = issuer }
}

func NewNotifier(store ConfigStore, opts ...Option) *Notifier {
	o := notifierOptions{issuer: "optica"}
	for _, opt := range opts {
		opt(&o)
	}

	recordRetry := httpclient.WithOnRetry(func(attempt int, delay time.Duration, err error) {
		observability.GetGlobalMetrics().RecordPushDelivery(context.Background(), observability.OutcomeRetry)
		slog.Debug("Retrying push delivery", "attempt", attempt, "delay", delay, "error", err)
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		store:   store,
		client:  httpclient.New(append([]httpclient.Option{recordRetry}, o.httpOpts...)...),
		issuer:  o.issuer,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[a2a.TaskID]*worker),
	}
}

// NewNotifierFromConfig builds a notifier with the delivery policy in cfg.
func NewNotifierFromConfig(cfg config.PushConfig, store ConfigStore) *Notifier {
	return NewNotifier(store,
		WithIssuer(cfg.Issuer),
		WithHTTPOptions(
			httpclient.WithAttemptTimeout(cfg.Timeout),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(cfg.BaseDelay),
			httpclient.WithMaxDelay(cfg.MaxDelay),
		),
	)
}

// Store returns the subscription registry.
func (n *Notifier) Store() ConfigStore { return n.store }

// Notify queues ev for every webhook currently registered for taskID. It never
// waits for delivery.
func (n *Notifier) Notify(ctx context.Context, taskID a2a.TaskID, ev a2a.Event) {
	configs, err := n.store.Get(context.WithoutCancel(ctx), taskID)
	if err != nil {
		slog.Warn("Failed to load push configs", "task_id", taskID, "error", err)
		return
	}
	if len(configs) == 0 {
		return
	}
	payload, err := a2a.Marshal(ev)
	if err != nil {
		slog.Error("Failed to encode push payload", "task_id", taskID, "error", err)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	w, ok := n.workers[taskID]
	if !ok {
		w = &worker{}
		n.workers[taskID] = w
		n.wg.Add(1)
		go n.run(taskID, w)
	}
	w.pending = append(w.pending, delivery{configs: configs, payload: payload, kind: a2a.KindOfEvent(ev)})
}

// run drains one task's deliveries in order and retires once idle. A later Notify
// for the task starts a fresh worker, which cannot overlap this one because both
// the handoff and the retirement happen under n.mu.
func (n *Notifier) run(taskID a2a.TaskID, w *worker) {
	defer n.wg.Done()
	for {
		n.mu.Lock()
		if len(w.pending) == 0 {
			delete(n.workers, taskID)
			n.mu.Unlock()
			return
		}
		d := w.pending[0]
		w.pending = w.pending[1:]
		n.mu.Unlock()

		for _, cfg := range d.configs {
			if err := n.deliver(n.ctx, taskID, cfg, d.payload); err != nil {
				slog.Warn("Push delivery abandoned",
					"task_id", taskID, "webhook", cfg.URL, "event", d.kind, "error", err)
			}
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, taskID a2a.TaskID, cfg a2a.PushConfig, payload []byte) error {
	metrics := observability.GetGlobalMetrics()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		metrics.RecordPushDelivery(ctx, observability.OutcomeFailure)
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set(TokenHeader, cfg.Token)
	}
	if err := n.authorize(req, taskID, cfg.Auth); err != nil {
		metrics.RecordPushDelivery(ctx, observability.OutcomeFailure)
		return err
	}

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.RecordPushDelivery(ctx, observability.OutcomeFailure)
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	metrics.RecordPushDelivery(ctx, observability.OutcomeSuccess)
	return nil
}

func (n *Notifier) authorize(req *http.Request, taskID a2a.TaskID, auth *a2a.PushAuthInfo) error {
	if auth == nil {
		return nil
	}
	has := func(scheme string) bool {
		return slices.ContainsFunc(auth.Schemes, func(s string) bool { return strings.EqualFold(s, scheme) })
	}
	switch {
	case has(SchemeJWT):
		token, err := SignJWT(auth.Credentials, n.issuer, string(taskID), defaultTokenTTL)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case has(SchemeBearer):
		if auth.Credentials == "" {
			return fmt.Errorf("bearer scheme requires credentials")
		}
		req.Header.Set("Authorization", "Bearer "+auth.Credentials)
	}
	return nil
}

// Pending reports the number of tasks with undelivered events.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.workers)
}

// Close stops accepting events and waits for queued deliveries. When ctx ends first,
// in-flight deliveries are aborted.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}
