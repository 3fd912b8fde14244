package host

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/config"
	"github.com/kadirpekel/optica/pkg/reasoning"
	"github.com/kadirpekel/optica/pkg/server"
)

func postForm(t *testing.T, h http.Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHTTP_ChatAndSessions(t *testing.T) {
	_, agentURL := startAgent(t, "Search Agent", true, textAnswer("two round frames"))
	engine := reasoning.NewScripted().WithFallback(func(req *reasoning.Request) (*reasoning.Decision, error) {
		last := req.Messages[len(req.Messages)-1]
		if last.Role == reasoning.RoleTool {
			return &reasoning.Decision{Text: last.Result.Content}, nil
		}
		return &reasoning.Decision{ToolCalls: []reasoning.ToolCall{sendTo("Search Agent", last.Content)}}, nil
	})
	h := NewHTTPHandler(newTestRouter(t, engine, map[string]string{"search": agentURL}), HTTPOptions{})

	rec := postForm(t, h, formValues("message", "round frames", "user_id", "u-7"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "two round frames", body["response"])
	assert.Equal(t, []any{"Search Agent"}, body["agents_used"])
	sid, _ := body["session_id"].(string)
	require.NotEmpty(t, sid)
	assert.NotEmpty(t, body["timestamp"])

	rec = postForm(t, h, formValues("message", "cheaper ones?", "session_id", sid))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sid, decode(t, rec)["session_id"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+sid+"/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode(t, rec)["history"].([]any)
	require.Len(t, history, 4)
	assert.Equal(t, "round frames", history[0].(map[string]any)["content"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/"+sid+"/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+sid+"/history", nil))
	assert.Empty(t, decode(t, rec)["history"])

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "/sessions/nope/history", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
}

func formValues(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

func TestHTTP_ChatRequiresMessage(t *testing.T) {
	_, agentURL := startAgent(t, "Search Agent", true, textAnswer("x"))
	h := NewHTTPHandler(newTestRouter(t, reasoning.NewScripted(), map[string]string{"search": agentURL}), HTTPOptions{})

	rec := postForm(t, h, formValues("message", "  "))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "message is required")
}

func TestHTTP_ImageAttachmentReachesAgent(t *testing.T) {
	var gotFile atomic.Value
	_, agentURL := startAgent(t, "Search Agent", true, func(ctx context.Context, rc *server.RequestContext, u *server.TaskUpdater) error {
		if files := rc.FileParts(); len(files) == 1 {
			gotFile.Store(files[0].MimeType + " " + files[0].Name)
		}
		return u.Complete(ctx, a2a.NewAgentText("similar frames"))
	})
	engine := reasoning.NewScripted(reasoning.Call(sendTo("Search Agent", "find similar")), reasoning.Echo())
	h := NewHTTPHandler(newTestRouter(t, engine, map[string]string{"search": agentURL}), HTTPOptions{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("message", "find frames like this"))
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="files"; filename="face.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/chat", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "similar frames", decode(t, rec)["response"])
	assert.Equal(t, "image/png face.png", gotFile.Load())
}

func TestHTTP_RateLimit(t *testing.T) {
	_, agentURL := startAgent(t, "Search Agent", true, textAnswer("x"))
	engine := reasoning.NewScripted().WithFallback(reasoning.Say("hi"))
	h := NewHTTPHandler(newTestRouter(t, engine, map[string]string{"search": agentURL}), HTTPOptions{
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1},
	})

	assert.Equal(t, http.StatusOK, postForm(t, h, formValues("message", "one")).Code)
	rec := postForm(t, h, formValues("message", "two"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Other endpoints are not limited.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTP_AgentStatus(t *testing.T) {
	_, up := startAgent(t, "Search Agent", true, textAnswer("x"))
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	h := NewHTTPHandler(newTestRouter(t, reasoning.NewScripted(), map[string]string{"search": up, "order": downURL}), HTTPOptions{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agents/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["reachable"])

	agents := body["agents"].([]any)
	byID := map[string]map[string]any{}
	for _, a := range agents {
		m := a.(map[string]any)
		byID[m["id"].(string)] = m
	}
	assert.Equal(t, true, byID["search"]["reachable"])
	assert.Equal(t, "Search Agent", byID["search"]["name"])
	assert.Equal(t, false, byID["order"]["reachable"])
	assert.NotEmpty(t, byID["order"]["error"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, float64(2), decode(t, rec)["agents"])
}

func TestDirectory_Reload(t *testing.T) {
	_, first := startAgent(t, "Search Agent", true, textAnswer("x"))
	_, second := startAgent(t, "Order Agent", true, textAnswer("y"))

	cfg := &config.HostConfig{RemoteAgents: map[string]*config.RemoteAgentConfig{"search": {URL: first}}}
	dir, err := NewDirectory(cfg, nil)
	require.NoError(t, err)
	defer dir.Close()

	agents := dir.Discover(context.Background())
	require.Len(t, agents, 1)
	assert.Equal(t, "Search Agent", agents[0].Card.Name)

	cfg.RemoteAgents["order"] = &config.RemoteAgentConfig{URL: second}
	require.NoError(t, dir.Reload(cfg))
	assert.Equal(t, []string{"order", "search"}, dir.IDs())
	assert.Len(t, dir.Discover(context.Background()), 2)

	assert.Error(t, dir.Reload(&config.HostConfig{}))
	assert.Len(t, dir.IDs(), 2, "a failed reload keeps the previous table")
}
