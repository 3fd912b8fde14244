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
	"errors"
	"net/http"
	"sync"
)

// Manager owns the tracer and metrics of one process.
type Manager struct {
	mu      sync.RWMutex
	config  Config
	tracer  *Tracer
	metrics *Metrics
}

func NewManager(cfg Config) *Manager {
	cfg.SetDefaults()
	return &Manager{config: cfg}
}

// Initialize builds the configured exporters and installs the metrics as the global
// recorder.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracer, err := NewTracer(ctx, &m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracer = tracer

	if m.config.Metrics.Enabled {
		metrics, err := NewMetrics(&m.config.Metrics)
		if err != nil {
			return err
		}
		m.metrics = metrics
		SetGlobalMetrics(metrics)
	}
	return nil
}

// Tracer returns the tracer; nil when tracing is off.
func (m *Manager) Tracer() *Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracer
}

// Recorder returns the active metrics recorder, a no-op when metrics are off.
func (m *Manager) Recorder() Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metrics == nil {
		return NoopRecorder{}
	}
	return m.metrics
}

// MetricsHandler returns the scrape handler, or nil when metrics are off.
func (m *Manager) MetricsHandler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metrics == nil {
		return nil
	}
	return m.metrics.Handler()
}

func (m *Manager) MetricsPath() string {
	return m.config.Metrics.Endpoint
}

// Middleware returns the HTTP instrumentation for this manager. Scrapes of the
// metrics endpoint are not recorded.
func (m *Manager) Middleware() func(http.Handler) http.Handler {
	return HTTPMiddleware(m.Tracer(), m.Recorder(), m.MetricsPath())
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.tracer != nil {
		errs = append(errs, m.tracer.Shutdown(ctx))
	}
	if m.metrics != nil {
		errs = append(errs, m.metrics.Shutdown(ctx))
		SetGlobalMetrics(nil)
	}
	return errors.Join(errs...)
}
