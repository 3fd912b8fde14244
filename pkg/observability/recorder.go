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
	"sync"
	"time"
)

// Recorder is the metrics surface the rest of the module records through.
type Recorder interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
	RecordTaskState(ctx context.Context, agent, state string)
	RecordTaskEvent(ctx context.Context, agent, kind string)
	RecordPushDelivery(ctx context.Context, outcome string)
	RecordRemoteCall(ctx context.Context, agent, method, outcome string, duration time.Duration)
	RecordHostTurn(ctx context.Context, outcome string, hops int)
	RecordReasoning(ctx context.Context, model, outcome string, duration time.Duration)
}

var (
	globalMu      sync.RWMutex
	globalMetrics Recorder = NoopRecorder{}
)

// SetGlobalMetrics installs the process-wide recorder. A nil recorder restores the
// no-op default.
func SetGlobalMetrics(r Recorder) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if r == nil {
		r = NoopRecorder{}
	}
	globalMetrics = r
}

// GetGlobalMetrics returns the process-wide recorder.
func GetGlobalMetrics() Recorder {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {}
func (NoopRecorder) RecordTaskState(context.Context, string, string) {}
func (NoopRecorder) RecordTaskEvent(context.Context, string, string) {}
func (NoopRecorder) RecordPushDelivery(context.Context, string) {}
func (NoopRecorder) RecordRemoteCall(context.Context, string, string, string, time.Duration) {}
func (NoopRecorder) RecordHostTurn(context.Context, string, int) {}
func (NoopRecorder) RecordReasoning(context.Context, string, string, time.Duration) {}
