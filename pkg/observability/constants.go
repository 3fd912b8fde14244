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

const (
	DefaultServiceName  = "optica"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)

// Span names.
const (
	SpanHTTPRequest = "http.request"
	SpanTaskRun     = "a2a.task.run"
	SpanRemoteCall  = "a2a.remote.call"
	SpanHostTurn    = "host.turn"
	SpanReasoning   = "reasoning.decide"
)

// Attribute keys.
const (
	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.path"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"
	AttrErrorType        = "error.type"

	AttrTaskID    = "a2a.task_id"
	AttrContextID = "a2a.context_id"
	AttrMethod    = "a2a.method"
	AttrAgent     = "optica.agent"
	AttrSessionID = "optica.session_id"
	AttrModel     = "optica.model"
)

// Outcome labels shared by the counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeRetry   = "retry"
)
