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

// Package consultation implements the Consultation Agent: it answers technical
// and style questions about eyewear from passages retrieved out of a document
// corpus. It keeps no state between tasks.
package consultation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/optica"
	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/reasoning"
	"github.com/kadirpekel/optica/pkg/server"
	"github.com/kadirpekel/optica/pkg/vector"
)

const (
	AgentName = "Consultation Agent"

	SkillTechnicalQA = "technical-qa"
	SkillStyle       = "style-recommendation"

	DefaultTopK = 4
)

// Card returns the discovery card served at url.
func Card(url string) *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:               AgentName,
		Description:        "Answers questions about lenses, frames, eye care and style from the store's knowledge base.",
		Version:            optica.Version,
		URL:                url,
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Capabilities:       a2a.AgentCapabilities{Streaming: true, PushNotifications: true},
		Skills: []a2a.AgentSkill{
			{
				ID:          SkillTechnicalQA,
				Name:        "Technical Q&A",
				Description: "Explains lens types, coatings, materials, prescriptions and eyewear care.",
				Tags:        []string{"lens", "coating", "material", "care"},
				Examples:    []string{"What is the difference between polarized and UV400 lenses?", "Tròng kính chống ánh sáng xanh có tác dụng gì?"},
			},
			{
				ID:          SkillStyle,
				Name:        "Style recommendation",
				Description: "Recommends frame shapes and styles for a face shape, occasion or taste.",
				Tags:        []string{"style", "face shape", "recommendation"},
				Examples:    []string{"Which frames suit a round face?", "Khuôn mặt vuông nên đeo kính gì?"},
			},
		},
	}
}

// Options tune an Agent.
type Options struct {
	TopK int

	// Engine composes answers from the retrieved passages. Without it the
	// answer is extractive.
	Engine reasoning.Engine
}

// Agent is the executor of the Consultation Agent.
type Agent struct {
	index  *vector.Index
	engine reasoning.Engine
	topK   int
}

func New(index *vector.Index, opts Options) (*Agent, error) {
	if index == nil {
		return nil, fmt.Errorf("knowledge index is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &Agent{index: index, engine: opts.Engine, topK: opts.TopK}, nil
}

func (a *Agent) Execute(ctx context.Context, rc *server.RequestContext, u *server.TaskUpdater) error {
	question := strings.TrimSpace(rc.UserText())
	if question == "" {
		return a2a.NewError(a2a.KindInvalidParams, "a question is required")
	}
	skill := selectSkill(rc, question)

	if err := u.StartWork(ctx, a2a.NewAgentText("Looking through the knowledge base...")); err != nil {
		return err
	}

	hits, err := a.index.Query(ctx, question, a.topK)
	if err != nil {
		return fmt.Errorf("knowledge search failed: %w", err)
	}

	answer := a.answer(ctx, skill, question, hits)
	if _, err := u.AddArtifact(ctx, []a2a.Part{a2a.NewTextPart(answer)}, server.ArtifactOptions{
		Name:     "answer",
		Metadata: map[string]any{"skill": skill, "sources": sources(hits)},
	}); err != nil {
		return err
	}
	return u.Complete(ctx, nil)
}

// Cancel lets the framework emit the canceled status; Execute observes ctx.
func (a *Agent) Cancel(context.Context, *server.RequestContext, *server.TaskUpdater) error {
	return nil
}

func (a *Agent) answer(ctx context.Context, skill, question string, hits []vector.Result) string {
	if len(hits) == 0 {
		return "I could not find anything about that in our eyewear guide. Could you rephrase the question or ask our staff in store?"
	}
	if a.engine != nil {
		text, err := a.compose(ctx, skill, question, hits)
		if err == nil && strings.TrimSpace(text) != "" {
			return text
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Answer composition failed, falling back to extractive answer", "error", err)
		}
	}
	return extractive(skill, hits)
}

const composeInstruction = `You are an eyewear consultant for an optical store.
Answer the customer's question using only the reference passages provided.
Reply in the language of the question. Be concise and practical.
If the passages do not contain the answer, say so.`

func (a *Agent) compose(ctx context.Context, skill, question string, hits []vector.Result) (string, error) {
	var b strings.Builder
	if skill == SkillStyle {
		b.WriteString("The customer wants a style recommendation.\n\n")
	}
	b.WriteString("Reference passages:\n")
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, h.Metadata["source"], h.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)

	d, err := a.engine.Decide(ctx, &reasoning.Request{
		System:   composeInstruction,
		Messages: []reasoning.Message{{Role: reasoning.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return "", err
	}
	return d.Text, nil
}

// extractive answers with the best passages verbatim.
func extractive(skill string, hits []vector.Result) string {
	var b strings.Builder
	if skill == SkillStyle {
		b.WriteString("Here is what our style guide recommends:\n\n")
	} else {
		b.WriteString("Here is what our eyewear guide says:\n\n")
	}
	for i, h := range hits[:min(2, len(hits))] {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(h.Content)
	}
	if src := sources(hits[:min(2, len(hits))]); len(src) > 0 {
		fmt.Fprintf(&b, "\n\nSources: %s", strings.Join(src, ", "))
	}
	return b.String()
}

func sources(hits []vector.Result) []string {
	seen := map[string]bool{}
	var out []string
	for _, h := range hits {
		s := h.Metadata["source"]
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

var styleWords = []string{
	"style", "suit", "face shape", "recommend", "look good", "fashion", "outfit",
	"phong cách", "hợp", "khuôn mặt", "gợi ý", "tư vấn", "thời trang",
}

// selectSkill honors an explicit {"skill": ...} data part, otherwise guesses
// from the wording.
func selectSkill(rc *server.RequestContext, question string) string {
	for _, d := range rc.DataParts() {
		if s, ok := d["skill"].(string); ok && (s == SkillStyle || s == SkillTechnicalQA) {
			return s
		}
	}
	q := strings.ToLower(question)
	for _, w := range styleWords {
		if strings.Contains(q, w) {
			return SkillStyle
		}
	}
	return SkillTechnicalQA
}
