package host

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/config"
	"github.com/kadirpekel/optica/pkg/reasoning"
	"github.com/kadirpekel/optica/pkg/server"
	"github.com/kadirpekel/optica/pkg/session"
	"github.com/kadirpekel/optica/pkg/transport"
)

type execFunc func(ctx context.Context, rc *server.RequestContext, u *server.TaskUpdater) error

// testAgent is a remote agent served over HTTP that counts its runs.
type testAgent struct {
	exec execFunc
	runs atomic.Int32
}

func (a *testAgent) Execute(ctx context.Context, rc *server.RequestContext, u *server.TaskUpdater) error {
	a.runs.Add(1)
	return a.exec(ctx, rc, u)
}

func (a *testAgent) Cancel(context.Context, *server.RequestContext, *server.TaskUpdater) error {
	return nil
}

func startAgent(t *testing.T, name string, streaming bool, exec execFunc) (*testAgent, string) {
	t.Helper()
	agent := &testAgent{exec: exec}
	h, err := server.NewHandler(&a2a.AgentCard{
		Name:               name,
		Description:        name + " for tests",
		URL:                "http://placeholder",
		Version:            "1.0.0",
		DefaultInputModes:  []string{"text/plain", "image/*"},
		DefaultOutputModes: []string{"text/plain", "application/json"},
		Capabilities:       a2a.AgentCapabilities{Streaming: streaming},
		Skills:             []a2a.AgentSkill{{ID: strings.ToLower(strings.ReplaceAll(name, " ", "-")), Name: name}},
	}, agent)
	require.NoError(t, err)
	srv := httptest.NewServer(transport.NewRouter(h))
	t.Cleanup(func() {
		srv.Close()
		_ = h.Shutdown(context.Background())
	})
	return agent, srv.URL
}

func newTestRouter(t *testing.T, engine reasoning.Engine, urls map[string]string) *Router {
	t.Helper()
	cfg := &config.HostConfig{
		RemoteAgents: map[string]*config.RemoteAgentConfig{},
		Router: config.RouterConfig{
			SendTimeout:   5 * time.Second,
			StreamTimeout: 5 * time.Second,
		},
	}
	for id, url := range urls {
		cfg.RemoteAgents[id] = &config.RemoteAgentConfig{URL: url}
	}
	dir, err := NewDirectory(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })

	r, err := NewRouter(engine, dir, session.NewMemoryStore(100, time.Hour), Options{Router: cfg.Router})
	require.NoError(t, err)
	return r
}

func sendTo(agent, task string) reasoning.ToolCall {
	return reasoning.ToolCall{
		ID:   agent + ":" + task,
		Name: SendMessageTool,
		Args: map[string]any{"agent_name": agent, "task": task},
	}
}

func textAnswer(text string) execFunc {
	return func(ctx context.Context, _ *server.RequestContext, u *server.TaskUpdater) error {
		return u.Complete(ctx, a2a.NewAgentText(text))
	}
}

func lastToolResults(req *reasoning.Request) []*reasoning.ToolResult {
	var out []*reasoning.ToolResult
	for _, m := range req.Messages {
		if m.Role == reasoning.RoleTool {
			out = append(out, m.Result)
		}
	}
	return out
}

func TestRouter_UnknownAgentIsRoutingMiss(t *testing.T) {
	search, searchURL := startAgent(t, "Search Agent", true, textAnswer("ok"))
	order, orderURL := startAgent(t, "Order Agent", false, textAnswer("ok"))

	engine := reasoning.NewScripted().WithFallback(reasoning.Call(sendTo("Cart Agent", "add product 5 to cart")))
	r := newTestRouter(t, engine, map[string]string{"search": searchURL, "order": orderURL})

	reply, err := r.HandleTurn(context.Background(), Turn{SessionID: "s1", Text: "thêm sản phẩm 5 vào giỏ"})
	require.NoError(t, err)

	assert.Contains(t, reply.Text, "Cart Agent")
	assert.Empty(t, reply.Agents)
	assert.Zero(t, search.runs.Load())
	assert.Zero(t, order.runs.Load())

	reqs := engine.Requests()
	require.Len(t, reqs, DefaultMaxRoutingRetries)
	results := lastToolResults(reqs[1])
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, `no agent named "Cart Agent"`)
	assert.Contains(t, reqs[0].System, "Search Agent")
	assert.Contains(t, reqs[0].System, "Order Agent")
}

func TestRouter_RoutingMissKeepsGatheredResults(t *testing.T) {
	search, searchURL := startAgent(t, "Search Agent", true, textAnswer("found 2 frames"))
	engine := reasoning.NewScripted(
		reasoning.Call(sendTo("Search Agent", "black frames"), sendTo("Cart Agent", "add P-1")),
	).WithFallback(reasoning.Call(sendTo("Cart Agent", "add P-1")))
	r := newTestRouter(t, engine, map[string]string{"search": searchURL})

	reply, err := r.HandleTurn(context.Background(), Turn{SessionID: "miss", Text: "find black frames and add one to my cart"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(reply.Text, "found 2 frames"), reply.Text)
	assert.Contains(t, reply.Text, "Cart Agent is not available")
	assert.Equal(t, []string{"Search Agent"}, reply.Agents)
	assert.Equal(t, int32(1), search.runs.Load())
	assert.Len(t, engine.Requests(), DefaultMaxRoutingRetries)
}

func TestRouter_EngineRevisesAfterMiss(t *testing.T) {
	_, searchURL := startAgent(t, "Search Agent", true, textAnswer("found 2 frames"))
	engine := reasoning.NewScripted(
		reasoning.Call(sendTo("Finder", "black frames")),
		reasoning.Call(sendTo("Search Agent", "black frames")),
		reasoning.Echo(),
	)
	r := newTestRouter(t, engine, map[string]string{"search": searchURL})

	reply, err := r.HandleTurn(context.Background(), Turn{SessionID: "s", Text: "black frames"})
	require.NoError(t, err)
	assert.Equal(t, "found 2 frames", reply.Text)
	assert.Equal(t, []string{"Search Agent"}, reply.Agents)
}

func TestRouter_StreamingResultIsComposed(t *testing.T) {
	products := []any{
		map[string]any{"id": "P-1", "name": "Rayban Noir"},
		map[string]any{"id": "P-2", "name": "Oakley Shadow"},
		map[string]any{"id": "P-3", "name": "Gucci Onyx"},
	}
	_, searchURL := startAgent(t, "Search Agent", true, func(ctx context.Context, rc *server.RequestContext, u *server.TaskUpdater) error {
		if err := u.StartWork(ctx, nil); err != nil {
			return err
		}
		parts := []a2a.Part{
			a2a.NewDataPart(map[string]any{"products": products, "query": rc.UserText()}),
			a2a.NewTextPart("Found 3 black frames."),
		}
		if _, err := u.AddArtifact(ctx, parts, server.ArtifactOptions{Name: "results"}); err != nil {
			return err
		}
		return u.Complete(ctx, nil)
	})

	engine := reasoning.NewScripted(reasoning.Call(sendTo("Search Agent", "tìm kính đen")), reasoning.Echo())
	r := newTestRouter(t, engine, map[string]string{"search": searchURL})

	reply, err := r.HandleTurn(context.Background(), Turn{SessionID: "s2", Text: "tìm kính đen"})
	require.NoError(t, err)
	for _, name := range []string{"Rayban Noir", "Oakley Shadow", "Gucci Onyx"} {
		assert.Contains(t, reply.Text, name)
	}

	rec, err := r.Sessions().Load(context.Background(), "s2")
	require.NoError(t, err)
	require.Len(t, rec.History, 2)
	assert.Equal(t, session.RoleAssistant, rec.History[1].Role)
	assert.Equal(t, []string{"Search Agent"}, rec.History[1].Agents)
	assert.Equal(t, "P-1", rec.MemoryContext[MemoryLastProductID])
	assert.Len(t, rec.MemoryContext[MemoryProducts], 3)
	assert.Equal(t, "Search Agent", rec.LastIntent)
}

func TestRouter_ResumesInputRequiredTask(t *testing.T) {
	var firstTask atomic.Value
	_, orderURL := startAgent(t, "Order Agent", false, func(ctx context.Context, rc *server.RequestContext, u *server.TaskUpdater) error {
		if !rc.Resumed {
			firstTask.Store(string(rc.TaskID))
			if err := u.SetMetadata(ctx, map[string]any{"draft": map[string]any{"product_id": "1", "quantity": 2}}); err != nil {
				return err
			}
			return u.RequireInput(ctx, a2a.NewAgentText("missing: shipping_address, phone, payment"))
		}
		if string(rc.TaskID) != firstTask.Load() {
			return a2a.NewError(a2a.KindInvalidParams, "resumed the wrong task")
		}
		order := map[string]any{"order_id": "ORD-1", "total": 240.0}
		if _, err := u.AddArtifact(ctx, []a2a.Part{a2a.NewDataPart(map[string]any{"order": order}), a2a.NewTextPart("Order ORD-1 created.")}, server.ArtifactOptions{}); err != nil {
			return err
		}
		return u.Complete(ctx, nil)
	})

	engine := reasoning.NewScripted(
		reasoning.Call(sendTo("Order Agent", "đặt 2 sản phẩm ID 1")),
		reasoning.Echo(),
		reasoning.Call(sendTo("Order Agent", "123 Le Loi, 0900000000, COD")),
		reasoning.Echo(),
	)
	r := newTestRouter(t, engine, map[string]string{"order": orderURL})
	ctx := context.Background()

	reply, err := r.HandleTurn(ctx, Turn{SessionID: "s3", UserID: "u-1", Text: "đặt 2 sản phẩm ID 1"})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "missing: shipping_address, phone, payment")

	rec, err := r.Sessions().Load(ctx, "s3")
	require.NoError(t, err)
	assert.Equal(t, firstTask.Load(), rec.PendingTasks["Order Agent"])
	assert.NotNil(t, rec.MemoryContext[MemoryPendingOrder])
	assert.Contains(t, engine.Requests()[2].System, "waitingForUserInput")

	reply, err = r.HandleTurn(ctx, Turn{SessionID: "s3", Text: "123 Le Loi, 0900000000, COD"})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "ORD-1")

	rec, err = r.Sessions().Load(ctx, "s3")
	require.NoError(t, err)
	assert.Empty(t, rec.PendingTasks)
	assert.Equal(t, "ORD-1", rec.MemoryContext[MemoryLastOrderID])
	assert.Nil(t, rec.MemoryContext[MemoryPendingOrder])
	assert.Equal(t, "u-1", rec.UserID)
}

func TestRouter_RetriesOnceOnTimeout(t *testing.T) {
	var calls atomic.Int32
	agent, url := startAgent(t, "Search Agent", true, func(ctx context.Context, _ *server.RequestContext, u *server.TaskUpdater) error {
		if calls.Add(1) == 1 {
			return a2a.NewError(a2a.KindTimeout, "index busy")
		}
		return u.Complete(ctx, a2a.NewAgentText("found it"))
	})
	engine := reasoning.NewScripted(reasoning.Call(sendTo("Search Agent", "x")), reasoning.Echo())
	r := newTestRouter(t, engine, map[string]string{"search": url})

	reply, err := r.HandleTurn(context.Background(), Turn{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "found it", reply.Text)
	assert.Equal(t, int32(2), agent.runs.Load())
	assert.NotEmpty(t, reply.SessionID)
}

func TestRouter_NoRetryOnInvalidParamsAndNeverEmpty(t *testing.T) {
	agent, url := startAgent(t, "Order Agent", false, func(context.Context, *server.RequestContext, *server.TaskUpdater) error {
		return a2a.NewError(a2a.KindInvalidParams, "insufficient stock for product 7")
	})
	engine := reasoning.NewScripted(reasoning.Call(sendTo("Order Agent", "buy 7")), reasoning.Say(""))
	r := newTestRouter(t, engine, map[string]string{"order": url})

	reply, err := r.HandleTurn(context.Background(), Turn{Text: "buy 7"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), agent.runs.Load())
	assert.Contains(t, reply.Text, "Order Agent")

	results := lastToolResults(engine.Requests()[1])
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "insufficient stock")
}

func TestRouter_ParallelCallsKeepOrder(t *testing.T) {
	_, slowURL := startAgent(t, "Consultation Agent", true, func(ctx context.Context, _ *server.RequestContext, u *server.TaskUpdater) error {
		time.Sleep(100 * time.Millisecond)
		return u.Complete(ctx, a2a.NewAgentText("round faces suit square frames"))
	})
	_, fastURL := startAgent(t, "Search Agent", true, textAnswer("3 square frames"))

	engine := reasoning.NewScripted(
		reasoning.Call(sendTo("Consultation Agent", "advice"), sendTo("Search Agent", "square frames")),
		reasoning.Say("combined"),
	)
	r := newTestRouter(t, engine, map[string]string{"consultation": slowURL, "search": fastURL})

	start := time.Now()
	reply, err := r.HandleTurn(context.Background(), Turn{Text: "what suits me?"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "combined", reply.Text)
	assert.Equal(t, []string{"Consultation Agent", "Search Agent"}, reply.Agents)

	results := lastToolResults(engine.Requests()[1])
	require.Len(t, results, 2)
	assert.Equal(t, "round faces suit square frames", results[0].Content)
	assert.Equal(t, "3 square frames", results[1].Content)
}

func TestRouter_DepthBoundStillAnswers(t *testing.T) {
	_, url := startAgent(t, "Search Agent", true, textAnswer("partial result"))
	engine := reasoning.NewScripted().WithFallback(reasoning.Call(sendTo("Search Agent", "again")))
	r := newTestRouter(t, engine, map[string]string{"search": url})

	reply, err := r.HandleTurn(context.Background(), Turn{Text: "loop"})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "partial result")
	assert.Len(t, engine.Requests(), DefaultMaxDepth)
}

func TestRouter_EngineFailureStillAnswers(t *testing.T) {
	_, url := startAgent(t, "Search Agent", true, textAnswer("x"))
	engine := reasoning.NewScripted(reasoning.Fail(fmt.Errorf("quota exceeded")))
	r := newTestRouter(t, engine, map[string]string{"search": url})

	reply, err := r.HandleTurn(context.Background(), Turn{SessionID: "e", Text: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, reply.Text)

	history, err := r.History(context.Background(), "e")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRouter_RejectsEmptyTurn(t *testing.T) {
	_, url := startAgent(t, "Search Agent", true, textAnswer("x"))
	r := newTestRouter(t, reasoning.NewScripted(), map[string]string{"search": url})

	_, err := r.HandleTurn(context.Background(), Turn{Text: "   "})
	assert.Equal(t, a2a.KindInvalidParams, a2a.KindOf(err))
}

func TestRouter_SerializesTurnsPerSession(t *testing.T) {
	_, url := startAgent(t, "Search Agent", true, textAnswer("x"))
	var inFlight, overlap atomic.Int32
	engine := reasoning.EngineFunc(func(_ context.Context, req *reasoning.Request) (*reasoning.Decision, error) {
		if inFlight.Add(1) > 1 {
			overlap.Add(1)
		}
		defer inFlight.Add(-1)
		time.Sleep(5 * time.Millisecond)
		last := req.Messages[len(req.Messages)-1]
		return &reasoning.Decision{Text: "re: " + last.Content}, nil
	})
	r := newTestRouter(t, engine, map[string]string{"search": url})

	const turns = 10
	var wg sync.WaitGroup
	for i := range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.HandleTurn(context.Background(), Turn{SessionID: "same", Text: fmt.Sprintf("msg %d", i)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Zero(t, overlap.Load())

	history, err := r.History(context.Background(), "same")
	require.NoError(t, err)
	require.Len(t, history, 2*turns)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, session.RoleUser, history[i].Role)
		assert.Equal(t, session.RoleAssistant, history[i+1].Role)
		assert.Equal(t, "re: "+history[i].Content, history[i+1].Content)
	}
}

func TestRouter_SessionsAreIsolated(t *testing.T) {
	_, url := startAgent(t, "Search Agent", true, func(ctx context.Context, rc *server.RequestContext, u *server.TaskUpdater) error {
		product := map[string]any{"id": rc.UserText(), "name": "frame " + rc.UserText()}
		_, err := u.AddArtifact(ctx, []a2a.Part{a2a.NewDataPart(map[string]any{"products": []any{product}})}, server.ArtifactOptions{})
		if err != nil {
			return err
		}
		return u.Complete(ctx, nil)
	})
	engine := reasoning.EngineFunc(func(_ context.Context, req *reasoning.Request) (*reasoning.Decision, error) {
		last := req.Messages[len(req.Messages)-1]
		if last.Role == reasoning.RoleTool {
			return &reasoning.Decision{Text: last.Result.Content}, nil
		}
		return &reasoning.Decision{ToolCalls: []reasoning.ToolCall{sendTo("Search Agent", last.Content)}}, nil
	})
	r := newTestRouter(t, engine, map[string]string{"search": url})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, sid := range []string{"A", "B"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 3 {
				_, err := r.HandleTurn(ctx, Turn{SessionID: sid, Text: fmt.Sprintf("%s-%d", sid, i)})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for _, sid := range []string{"A", "B"} {
		rec, err := r.Sessions().Load(ctx, sid)
		require.NoError(t, err)
		require.Len(t, rec.History, 6)
		for _, e := range rec.History {
			assert.Contains(t, e.Content, sid+"-")
		}
		assert.Equal(t, sid+"-2", rec.MemoryContext[MemoryLastProductID])
	}
}

func TestRouter_ClearResetsSession(t *testing.T) {
	_, url := startAgent(t, "Search Agent", true, textAnswer("x"))
	r := newTestRouter(t, reasoning.NewScripted().WithFallback(reasoning.Say("hello")), map[string]string{"search": url})
	ctx := context.Background()

	_, err := r.HandleTurn(ctx, Turn{SessionID: "c", Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, r.Clear(ctx, "c"))

	history, err := r.History(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.ErrorIs(t, r.Clear(ctx, "missing"), session.ErrSessionNotFound)
}

func TestConversation_TrimsToBudget(t *testing.T) {
	tail := []session.Entry{
		{Role: session.RoleUser, Content: strings.Repeat("long message ", 200)},
		{Role: session.RoleAssistant, Content: "ok"},
		{Role: session.RoleUser, Content: "and now?"},
	}
	msgs := conversation(tail, reasoning.NewTokenCounter(), 50)
	require.Len(t, msgs, 2)
	assert.Equal(t, reasoning.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "and now?", msgs[1].Content)
}
