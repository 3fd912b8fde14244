// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package reasoning is the host's decision engine: given the conversation and the
// tools on offer it answers either with text or with tool calls.
//
// The engine is a pure function of its request. Tool execution, retries and
// memory belong to the caller.
package reasoning

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/optica/pkg/config"
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one invocation requested by the engine.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// String reads a string argument.
func (c ToolCall) String(name string) string {
	s, _ := c.Args[name].(string)
	return strings.TrimSpace(s)
}

// ToolResult answers one ToolCall.
type ToolResult struct {
	CallID  string `json:"callId"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// Message is one conversation item. Assistant messages may carry tool calls;
// tool messages carry exactly one result.
type Message struct {
	Role      Role
	Content   string
	ToolCalls []ToolCall
	Result    *ToolResult
}

// Tool is a function the engine may call. Parameters is a JSON Schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is the input of one decision.
type Request struct {
	System   string
	Messages []Message
	Tools    []Tool
}

// Decision is the engine's answer: final text, tool calls, or both.
type Decision struct {
	Text      string
	ToolCalls []ToolCall
}

// Final reports whether the decision ends the turn.
func (d *Decision) Final() bool { return len(d.ToolCalls) == 0 }

// Engine decides the next step of a conversation.
type Engine interface {
	Decide(ctx context.Context, req *Request) (*Decision, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, req *Request) (*Decision, error)

func (f EngineFunc) Decide(ctx context.Context, req *Request) (*Decision, error) { return f(ctx, req) }

// NewEngineFromConfig builds the configured engine wrapped in a circuit breaker.
func NewEngineFromConfig(cfg *config.ReasoningConfig) (Engine, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("reasoning engine requires provider credentials (set REASONING_API_KEY)")
	}
	switch cfg.Provider {
	case "gemini", "":
		g, err := NewGeminiEngine(GeminiOptions{
			APIKey:          cfg.APIKey,
			Model:           cfg.Model,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
			Timeout:         cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return NewBreaker(g, cfg.Breaker), nil
	default:
		return nil, fmt.Errorf("unsupported reasoning provider %q", cfg.Provider)
	}
}
