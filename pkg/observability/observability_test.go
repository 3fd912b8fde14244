// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	ctx := context.Background()
	m.RecordTaskState(ctx, "order", "completed")
	m.RecordTaskState(ctx, "order", "completed")
	m.RecordTaskEvent(ctx, "order", "status-update")
	m.RecordPushDelivery(ctx, OutcomeRetry)
	m.RecordRemoteCall(ctx, "search", "message/send", OutcomeSuccess, 20*time.Millisecond)
	m.RecordHostTurn(ctx, OutcomeSuccess, 2)
	m.RecordReasoning(ctx, "gemini-2.5-flash", OutcomeSuccess, time.Second)

	out := scrape(t, m.Handler())
	assert.Contains(t, out, `optica_tasks_total{agent="order",state="completed"} 2`)
	assert.Contains(t, out, `optica_task_events_total{agent="order",kind="status-update"} 1`)
	assert.Contains(t, out, `optica_push_deliveries_total{outcome="retry"} 1`)
	assert.Contains(t, out, `optica_remote_calls_total{agent="search",method="message/send",outcome="success"} 1`)
	assert.Contains(t, out, `optica_remote_call_duration_seconds_count`)
	assert.Contains(t, out, `optica_host_turns_total{outcome="success"} 1`)
	assert.Contains(t, out, `optica_reasoning_duration_seconds_count`)
}

func TestMetricsInstancesAreIsolated(t *testing.T) {
	a, err := NewMetrics(nil)
	require.NoError(t, err)
	b, err := NewMetrics(nil)
	require.NoError(t, err)

	a.RecordPushDelivery(context.Background(), OutcomeSuccess)

	assert.Contains(t, scrape(t, a.Handler()), "optica_push_deliveries_total")
	assert.NotContains(t, scrape(t, b.Handler()), "optica_push_deliveries_total")
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware(nil, m))
	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	out := scrape(t, m.Handler())
	assert.Contains(t, out, `optica_http_requests_total{method="GET",path="/sessions/{id}",status="418"} 1`)
}

func TestMiddlewareKeepsFlusher(t *testing.T) {
	h := HTTPMiddleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Flusher)
		assert.True(t, ok)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestGlobalMetricsDefaultsToNoop(t *testing.T) {
	SetGlobalMetrics(nil)
	assert.IsType(t, NoopRecorder{}, GetGlobalMetrics())

	m, err := NewMetrics(nil)
	require.NoError(t, err)
	SetGlobalMetrics(m)
	t.Cleanup(func() { SetGlobalMetrics(nil) })
	assert.Same(t, m, GetGlobalMetrics())
}

func TestNilTracerIsSafe(t *testing.T) {
	var tr *Tracer
	ctx, span := tr.StartRemoteCall(context.Background(), "order", "message/send")
	assert.NotNil(t, ctx)
	tr.RecordError(span, assert.AnError)
	span.End()
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestTracerDisabledReturnsNil(t *testing.T) {
	tr, err := NewTracer(context.Background(), &TracingConfig{})
	require.NoError(t, err)
	assert.Nil(t, tr)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Tracing: TracingConfig{Enabled: true, Exporter: "jaeger"}}
	cfg.SetDefaults()
	assert.Error(t, cfg.Validate())

	cfg = Config{Tracing: TracingConfig{Enabled: true, SamplingRate: 2}}
	cfg.SetDefaults()
	assert.Error(t, cfg.Validate())

	cfg = Config{Tracing: TracingConfig{Enabled: true}, Metrics: MetricsConfig{Enabled: true}}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "optica", cfg.Tracing.ServiceName)
	assert.Equal(t, "/metrics", cfg.Metrics.Endpoint)
	assert.True(t, cfg.Tracing.IsInsecure())
}

func TestManagerWithMetricsOnly(t *testing.T) {
	mgr := NewManager(Config{Metrics: MetricsConfig{Enabled: true}})
	require.NoError(t, mgr.Initialize(context.Background()))
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	assert.Nil(t, mgr.Tracer())
	require.NotNil(t, mgr.MetricsHandler())
	assert.Same(t, mgr.Recorder(), GetGlobalMetrics())
}

func TestHTTPMiddlewareLabelsStreamsAndSkipsPaths(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware(nil, m, "/metrics"))
	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	out := scrape(t, m.Handler())
	assert.Contains(t, out, `path="/ (stream)"`)
	assert.NotContains(t, out, `path="/metrics"`)
}

func TestMetricsEndpointValidation(t *testing.T) {
	for _, endpoint := range []string{"metrics", "/"} {
		cfg := Config{Metrics: MetricsConfig{Enabled: true, Endpoint: endpoint}}
		cfg.SetDefaults()
		assert.Error(t, cfg.Validate(), endpoint)
	}
}

func TestTracingEndpointFromEnvironment(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4317")
	cfg := TracingConfig{}
	cfg.SetDefaults()
	assert.Equal(t, "collector:4317", cfg.Endpoint)
}
