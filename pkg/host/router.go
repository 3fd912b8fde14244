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

// Package host implements the user-facing router. For each user turn it asks the
// reasoning engine which remote agents to call, calls them over A2A, and keeps
// the conversation and what was learned from the agents in the session.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/config"
	"github.com/kadirpekel/optica/pkg/observability"
	"github.com/kadirpekel/optica/pkg/reasoning"
	"github.com/kadirpekel/optica/pkg/session"
)

// Router defaults.
const (
	DefaultMaxDepth          = 5
	DefaultMaxRoutingRetries = 2
	DefaultHistoryWindow     = 10

	// maxParallelCalls bounds the fan-out of one engine decision.
	maxParallelCalls = 8
)

// Turn is one user message.
type Turn struct {
	SessionID   string
	UserID      string
	Text        string
	Attachments []Attachment
}

// Reply is the router's answer to a turn.
type Reply struct {
	Text      string    `json:"response"`
	SessionID string    `json:"session_id"`
	Agents    []string  `json:"agents_used"`
	Timestamp time.Time `json:"timestamp"`
}

// Options tunes a Router.
type Options struct {
	Router       config.RouterConfig
	HistoryLimit int
	Tracer       *observability.Tracer
}

// Router routes user turns to remote agents. It is safe for concurrent use;
// turns of the same session run one at a time.
type Router struct {
	engine   reasoning.Engine
	agents   *Directory
	sessions session.Store
	leases   *session.Leases
	tokens   *reasoning.TokenCounter

	cfg          config.RouterConfig
	historyLimit int
	tracer       *observability.Tracer
}

func NewRouter(engine reasoning.Engine, agents *Directory, sessions session.Store, opts Options) (*Router, error) {
	if engine == nil {
		return nil, fmt.Errorf("reasoning engine is required")
	}
	if agents == nil || sessions == nil {
		return nil, fmt.Errorf("agent directory and session store are required")
	}
	cfg := opts.Router
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxRoutingRetries <= 0 {
		cfg.MaxRoutingRetries = DefaultMaxRoutingRetries
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	return &Router{
		engine:       engine,
		agents:       agents,
		sessions:     sessions,
		leases:       session.NewLeases(),
		tokens:       reasoning.NewTokenCounter(),
		cfg:          cfg,
		historyLimit: opts.HistoryLimit,
		tracer:       opts.Tracer,
	}, nil
}

// Agents returns the agent directory.
func (r *Router) Agents() *Directory { return r.agents }

// Sessions returns the session store.
func (r *Router) Sessions() session.Store { return r.sessions }

// Reload swaps the remote agent table.
func (r *Router) Reload(cfg *config.HostConfig) error {
	return r.agents.Reload(cfg)
}

// HandleTurn runs one user turn to completion and persists the session. Turns
// of one session are serialized; a turn waits until the previous one is saved.
func (r *Router) HandleTurn(ctx context.Context, turn Turn) (*Reply, error) {
	text := strings.TrimSpace(turn.Text)
	if text == "" && len(turn.Attachments) == 0 {
		return nil, a2a.NewError(a2a.KindInvalidParams, "message is required")
	}
	sessionID := strings.TrimSpace(turn.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, span := r.tracer.StartHostTurn(ctx, sessionID)
	defer span.End()

	release, err := r.leases.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := r.sessions.Load(ctx, sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		rec = session.New(sessionID, turn.UserID)
	} else if err != nil {
		r.tracer.RecordError(span, err)
		return nil, err
	}
	userID := turn.UserID
	if userID == "" {
		userID = rec.UserID
	} else if rec.UserID == "" {
		rec.UserID = userID
	}

	content := text
	if len(turn.Attachments) > 0 {
		names := make([]string, 0, len(turn.Attachments))
		for _, a := range turn.Attachments {
			names = append(names, a.Name)
		}
		content = strings.TrimSpace(content + " [attached: " + strings.Join(names, ", ") + "]")
	}
	rec.Append(session.Entry{Role: session.RoleUser, Content: content}, r.historyLimit)

	res := r.route(ctx, rec, &dispatch{
		sessionID:   sessionID,
		userID:      userID,
		pending:     maps.Clone(rec.PendingTasks),
		attachments: turn.Attachments,
	})
	rec.Append(session.Entry{Role: session.RoleAssistant, Content: res.text, Agents: res.agents}, r.historyLimit)

	// The turn is answered; a client that went away must not lose it.
	if err := r.sessions.Save(context.WithoutCancel(ctx), rec); err != nil {
		r.tracer.RecordError(span, err)
		return nil, fmt.Errorf("failed to persist session %s: %w", sessionID, err)
	}
	observability.GetGlobalMetrics().RecordHostTurn(ctx, res.outcome, res.hops)
	slog.Info("Turn completed", "session_id", sessionID, "outcome", res.outcome, "hops", res.hops, "agents", res.agents)

	return &Reply{
		Text:      res.text,
		SessionID: sessionID,
		Agents:    res.agents,
		Timestamp: time.Now().UTC(),
	}, nil
}

type routed struct {
	text    string
	agents  []string
	outcome string
	hops    int
}

// route runs the engine loop: decide, call the requested agents in parallel,
// feed their results back, until the engine answers or the depth bound is hit.
func (r *Router) route(ctx context.Context, rec *session.Record, d *dispatch) routed {
	agents := r.agents.Discover(ctx)
	byName := make(map[string]*Agent, len(agents))
	names := make([]string, 0, len(agents))
	for i := range agents {
		byName[agents[i].Card.Name] = &agents[i]
		names = append(names, agents[i].Card.Name)
	}

	req := &reasoning.Request{
		System:   systemPrompt(r.cfg.Instruction, agents, rec),
		Messages: conversation(rec.Tail(r.cfg.HistoryWindow), r.tokens, r.cfg.HistoryTokenBudget),
		Tools:    []reasoning.Tool{sendMessageTool(agents)},
	}

	var (
		res    routed
		all    []*outcome
		misses int
	)
	for res.hops = 0; res.hops < r.cfg.MaxDepth; res.hops++ {
		start := time.Now()
		dec, err := r.engine.Decide(ctx, req)
		observability.GetGlobalMetrics().RecordReasoning(ctx, "router", outcomeLabel(err), time.Since(start))
		if err != nil {
			slog.Error("Reasoning engine failed", "session_id", d.sessionID, "error", err)
			res.text = compose(all, "engine")
			res.outcome = "engine_error"
			return res
		}
		if dec.Final() {
			res.text = dec.Text
			res.outcome = "answered"
			if res.text == "" {
				res.text = compose(all, "")
				res.outcome = "fallback"
			}
			return res
		}

		req.Messages = append(req.Messages, reasoning.Message{Role: reasoning.RoleAssistant, Content: dec.Text, ToolCalls: dec.ToolCalls})
		outs := r.fanOut(ctx, d, byName, names, dec.ToolCalls)

		var lastMiss *outcome
		for _, o := range outs {
			result := o.toolResult()
			req.Messages = append(req.Messages, reasoning.Message{Role: reasoning.RoleTool, Result: &result})
			all = append(all, o)
			if o.miss {
				misses++
				lastMiss = o
				continue
			}
			if o.agent != nil && !slices.Contains(res.agents, o.agent.Card.Name) {
				res.agents = append(res.agents, o.agent.Card.Name)
			}
			remember(rec, o)
		}
		d.pending = maps.Clone(rec.PendingTasks)

		if lastMiss != nil && misses >= r.cfg.MaxRoutingRetries {
			res.text = missingCapability(lastMiss.capability(), names)
			// Results already gathered this turn are still answered.
			if slices.ContainsFunc(all, (*outcome).succeeded) {
				res.text = compose(all, "") + "\n\n" + res.text
			}
			res.outcome = "routing_miss"
			return res
		}
	}

	slog.Warn("Routing depth exhausted", "session_id", d.sessionID, "max_depth", r.cfg.MaxDepth)
	res.text = compose(all, "")
	res.outcome = "depth_exhausted"
	return res
}

// fanOut runs the calls of one decision concurrently. Results keep the order
// of the calls. Unknown agents and tools are routing misses and send nothing.
func (r *Router) fanOut(ctx context.Context, d *dispatch, byName map[string]*Agent, names []string, calls []reasoning.ToolCall) []*outcome {
	outs := make([]*outcome, len(calls))

	var g errgroup.Group
	g.SetLimit(maxParallelCalls)
	for i, call := range calls {
		if call.Name != SendMessageTool {
			outs[i] = &outcome{call: call, miss: true, err: fmt.Errorf("unknown tool %q, use %s", call.Name, SendMessageTool)}
			continue
		}
		name := call.String("agent_name")
		agent, ok := byName[name]
		if !ok {
			slog.Warn("Unknown agent requested", "agent_name", name, "available", names)
			outs[i] = &outcome{call: call, miss: true, err: fmt.Errorf("no agent named %q, available agents: %s", name, strings.Join(names, ", "))}
			continue
		}
		task := call.String("task")
		if task == "" {
			outs[i] = &outcome{call: call, agent: agent, miss: true, err: fmt.Errorf("task is required for %s", name)}
			continue
		}
		g.Go(func() error {
			o := d.call(ctx, agent, task)
			o.call = call
			outs[i] = o
			return nil
		})
	}
	_ = g.Wait()
	return outs
}

// compose answers from what the agents returned when the engine could not.
// It never returns an empty string.
func compose(outs []*outcome, cause string) string {
	var (
		answers []string
		failed  []string
	)
	for _, o := range outs {
		if o.succeeded() {
			text := textOf(o.parts)
			if text == "" {
				text = renderParts(o.parts)
			}
			if text != "" {
				answers = append(answers, text)
			}
			continue
		}
		if c := o.capability(); c != "" && !slices.Contains(failed, c) {
			failed = append(failed, c)
		}
	}
	switch {
	case len(answers) > 0:
		return strings.Join(answers, "\n\n")
	case len(failed) > 0:
		return fmt.Sprintf("Sorry, I could not complete your request because %s is not available right now. Please try again later.", strings.Join(failed, ", "))
	case cause == "engine":
		return "Sorry, I am having trouble processing your request right now. Please try again in a moment."
	default:
		return "Sorry, I could not find an answer to that. Could you rephrase your request?"
	}
}

func missingCapability(name string, available []string) string {
	if len(available) == 0 {
		return fmt.Sprintf("Sorry, I cannot help with that: %s is not available and no agents are reachable right now.", name)
	}
	return fmt.Sprintf("Sorry, I cannot help with that: %s is not available. I can work with %s.", name, strings.Join(available, ", "))
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// History returns the stored conversation of a session.
func (r *Router) History(ctx context.Context, sessionID string) ([]session.Entry, error) {
	rec, err := r.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return rec.History, nil
}

// Clear forgets the history and memory of a session. It waits for a running
// turn of the session to finish.
func (r *Router) Clear(ctx context.Context, sessionID string) error {
	release, err := r.leases.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	rec, err := r.sessions.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	rec.Reset()
	return r.sessions.Save(ctx, rec)
}
