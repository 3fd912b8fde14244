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
	"fmt"
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records the fabric's counters and histograms through OpenTelemetry and
// exposes them in the Prometheus text format. Each instance owns its registry so
// several can live in one process (tests, or a host and an agent side by side).
type Metrics struct {
	registry *prom.Registry
	provider *sdkmetric.MeterProvider

	httpDuration      metric.Float64Histogram
	httpRequests      metric.Int64Counter
	tasks             metric.Int64Counter
	taskEvents        metric.Int64Counter
	pushDeliveries    metric.Int64Counter
	remoteCalls       metric.Int64Counter
	remoteDuration    metric.Float64Histogram
	hostTurns         metric.Int64Counter
	hostHops          metric.Int64Histogram
	reasoningDuration metric.Float64Histogram
}

// NewMetrics builds the instruments described by cfg.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = &MetricsConfig{}
	}
	cfg.SetDefaults()

	registry := prom.NewRegistry()
	exporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
		prometheus.WithNamespace(cfg.Namespace),
		prometheus.WithoutScopeInfo(),
		prometheus.WithoutTargetInfo(),
		prometheus.WithoutUnits(),
		prometheus.WithoutCounterSuffixes(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(DefaultServiceName)
	m := &Metrics{registry: registry, provider: provider}

	if m.httpDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total HTTP requests")); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}
	if m.tasks, err = meter.Int64Counter("tasks_total",
		metric.WithDescription("Task state transitions by resulting state")); err != nil {
		return nil, fmt.Errorf("failed to create tasks counter: %w", err)
	}
	if m.taskEvents, err = meter.Int64Counter("task_events_total",
		metric.WithDescription("Events published on task queues")); err != nil {
		return nil, fmt.Errorf("failed to create task events counter: %w", err)
	}
	if m.pushDeliveries, err = meter.Int64Counter("push_deliveries_total",
		metric.WithDescription("Push notification delivery attempts by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create push deliveries counter: %w", err)
	}
	if m.remoteCalls, err = meter.Int64Counter("remote_calls_total",
		metric.WithDescription("Calls to remote agents by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create remote calls counter: %w", err)
	}
	if m.remoteDuration, err = meter.Float64Histogram("remote_call_duration_seconds",
		metric.WithDescription("Remote agent call duration in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create remote duration histogram: %w", err)
	}
	if m.hostTurns, err = meter.Int64Counter("host_turns_total",
		metric.WithDescription("User turns handled by the host router")); err != nil {
		return nil, fmt.Errorf("failed to create host turns counter: %w", err)
	}
	if m.hostHops, err = meter.Int64Histogram("host_turn_hops",
		metric.WithDescription("Agent delegations per user turn"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 4, 5)); err != nil {
		return nil, fmt.Errorf("failed to create host hops histogram: %w", err)
	}
	if m.reasoningDuration, err = meter.Float64Histogram("reasoning_duration_seconds",
		metric.WithDescription("Reasoning engine call duration in seconds")); err != nil {
		return nil, fmt.Errorf("failed to create reasoning duration histogram: %w", err)
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
}

func (m *Metrics) RecordTaskState(ctx context.Context, agent, state string) {
	m.tasks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("state", state),
	))
}

func (m *Metrics) RecordTaskEvent(ctx context.Context, agent, kind string) {
	m.taskEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("kind", kind),
	))
}

func (m *Metrics) RecordPushDelivery(ctx context.Context, outcome string) {
	m.pushDeliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordRemoteCall(ctx context.Context, agent, method, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	)
	m.remoteCalls.Add(ctx, 1, attrs)
	m.remoteDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) RecordHostTurn(ctx context.Context, outcome string, hops int) {
	m.hostTurns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.hostHops.Record(ctx, int64(hops))
}

func (m *Metrics) RecordReasoning(ctx context.Context, model, outcome string, duration time.Duration) {
	m.reasoningDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	))
}

var _ Recorder = (*Metrics)(nil)
