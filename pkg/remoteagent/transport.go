package remoteagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/httpclient"
)

// exchange records what the agent answered on the wire during one call. The
// a2a-go client reports JSON-RPC errors as its own sentinels, which have no
// counterpart for the fabric's Timeout code and drop the agent's message; the
// transport keeps the original error object here.
type exchange struct {
	method string

	mu     sync.Mutex
	rpcErr *a2a.Error
}

type exchangeKey struct{}

func withExchange(ctx context.Context, method string) (context.Context, *exchange) {
	x := &exchange{method: method}
	return context.WithValue(ctx, exchangeKey{}, x), x
}

func exchangeOf(ctx context.Context) *exchange {
	x, _ := ctx.Value(exchangeKey{}).(*exchange)
	return x
}

func (x *exchange) record(body []byte) {
	var envelope struct {
		Error *a2a.RPCError `json:"error"`
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		x.rpcErr = a2a.ErrorFromRPC(envelope.Error)
	}
}

// protocolError returns the JSON-RPC error the agent answered with, if any.
func (x *exchange) protocolError() *a2a.Error {
	if x == nil {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.rpcErr
}

func (x *exchange) op() string {
	if x == nil || x.method == "" {
		return "rpc"
	}
	return x.method
}

// rpcTransport carries the a2a-go client's requests through the connector's
// limiter and breaker. Any answer other than HTTP 200 is a TransportError; a
// JSON-RPC error inside a 200 answer means the agent is healthy.
type rpcTransport struct {
	c *Connector
}

func (t *rpcTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c := t.c
	ctx := req.Context()
	x := exchangeOf(ctx)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, classify(ctx, c.name, x.op(), err)
		}
	}
	req = req.Clone(ctx)
	c.decorate(ctx, req)

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, classify(ctx, c.name, x.op(), err)
		}
		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound {
				c.InvalidateCard()
			}
			return nil, &TransportError{Agent: c.name, Op: x.op(), StatusCode: resp.StatusCode,
				Err: errors.New(strings.TrimSpace(string(snippet)))}
		}
		return resp, nil
	})
	if err != nil {
		if IsCircuitOpen(err) {
			err = &TransportError{Agent: c.name, Op: x.op(), Err: err}
		}
		return nil, err
	}

	// Event streams are read by the client as they arrive; anything else is a
	// single JSON-RPC response, which may carry an error object.
	if x == nil || isEventStream(resp) {
		return resp, nil
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, classify(ctx, c.name, x.op(), err)
	}
	x.record(body)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// cardTransport fetches agent cards for the agentcard resolver with the
// retrying client.
type cardTransport struct {
	c   *Connector
	get *httpclient.Client
}

func (t *cardTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	req = req.Clone(ctx)
	t.c.decorate(ctx, req)

	resp, err := t.get.Do(req)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, classify(ctx, t.c.name, "card", err)
	}
	return resp, nil
}

func (c *Connector) decorate(ctx context.Context, req *http.Request) {
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

func isEventStream(resp *http.Response) bool {
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return mt == "text/event-stream"
}

// failure maps an error returned by the a2a-go client onto the taxonomy. The
// error object recorded on the wire wins over the client's sentinel.
func (c *Connector) failure(ctx context.Context, x *exchange, err error) error {
	if e := x.protocolError(); e != nil {
		return e
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	var pe *a2a.Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return a2a.NewError(a2a.KindTimeout, "%s %s: deadline exceeded", c.name, x.op())
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if kind := a2a.KindOf(err); kind != a2a.KindInternal {
		return a2a.AsError(err)
	}
	c.InvalidateCard()
	return a2a.NewError(a2a.KindInternal, "%s returned an undecodable %s response: %v", c.name, x.op(), err)
}
