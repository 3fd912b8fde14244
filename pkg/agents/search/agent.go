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

// Package search implements the Search Agent: product search over the catalog
// by text, by image, or both.
//
// Every product is indexed by the embedding of its description. A text query is
// embedded directly; an image is first described by an ImageDescriber and the
// description is embedded. The final score of a product is
//
//	TextWeight*textSimilarity + ImageWeight*imageSimilarity
//
// and results are ordered by score, ties broken by catalog order.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/kadirpekel/optica"
	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/agents/catalog"
	"github.com/kadirpekel/optica/pkg/server"
	"github.com/kadirpekel/optica/pkg/vector"
)

const (
	AgentName = "Search Agent"

	SkillText     = "text-search"
	SkillImage    = "image-search"
	SkillCombined = "combined-search"

	ModeText     = "text"
	ModeImage    = "image"
	ModeCombined = "combined"

	DefaultTopK = 5
)

func Card(url string) *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:               AgentName,
		Description:        "Finds eyewear products in the store catalog from a description, a photo, or both.",
		Version:            optica.Version,
		URL:                url,
		DefaultInputModes:  []string{"text/plain", "image/png", "image/jpeg", "image/webp"},
		DefaultOutputModes: []string{"application/json", "text/plain"},
		Capabilities:       a2a.AgentCapabilities{Streaming: true, PushNotifications: true},
		Skills: []a2a.AgentSkill{
			{
				ID:          SkillText,
				Name:        "Text search",
				Description: "Searches products by name, brand, color, shape or material.",
				Tags:        []string{"search", "catalog"},
				Examples:    []string{"black round frames", "tìm kính đen"},
				InputModes:  []string{"text/plain"},
			},
			{
				ID:          SkillImage,
				Name:        "Image search",
				Description: "Finds products that look like the eyewear in a photo.",
				Tags:        []string{"search", "image"},
				InputModes:  []string{"image/png", "image/jpeg", "image/webp"},
			},
			{
				ID:          SkillCombined,
				Name:        "Combined search",
				Description: "Ranks products by both a description and a photo.",
				Tags:        []string{"search", "image"},
				InputModes:  []string{"text/plain", "image/png", "image/jpeg", "image/webp"},
			},
		},
	}
}

type Options struct {
	TopK        int
	TextWeight  float64
	ImageWeight float64

	// Describer enables image search.
	Describer ImageDescriber
}

// Agent is the executor of the Search Agent.
type Agent struct {
	products  []catalog.Product
	position  map[string]int
	index     *vector.Index
	describer ImageDescriber
	topK      int
	wText     float64
	wImage    float64
}

// New indexes the catalog and returns the executor.
func New(ctx context.Context, products []catalog.Product, index *vector.Index, opts Options) (*Agent, error) {
	if index == nil {
		return nil, fmt.Errorf("product index is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.TextWeight < 0 || opts.ImageWeight < 0 {
		return nil, fmt.Errorf("search weights must not be negative")
	}
	if opts.TextWeight == 0 && opts.ImageWeight == 0 {
		opts.TextWeight, opts.ImageWeight = 0.5, 0.5
	}

	a := &Agent{
		products:  products,
		position:  make(map[string]int, len(products)),
		index:     index,
		describer: opts.Describer,
		topK:      opts.TopK,
		wText:     opts.TextWeight,
		wImage:    opts.ImageWeight,
	}
	docs := make([]vector.Document, 0, len(products))
	for i, p := range products {
		id := strconv.FormatInt(p.ID, 10)
		a.position[id] = i
		docs = append(docs, vector.Document{ID: id, Content: p.Text()})
	}
	if err := index.Add(ctx, docs); err != nil {
		return nil, fmt.Errorf("failed to index catalog: %w", err)
	}
	slog.Info("Catalog indexed", "products", len(products), "collection", index.Collection())
	return a, nil
}

// query is what one task asks for.
type query struct {
	text   string
	images []*a2a.Attachment
	topK   int
}

func (q query) mode() string {
	switch {
	case q.text != "" && len(q.images) > 0:
		return ModeCombined
	case len(q.images) > 0:
		return ModeImage
	default:
		return ModeText
	}
}

func (a *Agent) parse(rc *server.RequestContext) query {
	q := query{text: strings.TrimSpace(rc.UserText()), topK: a.topK}
	for _, f := range rc.FileParts() {
		if strings.HasPrefix(f.MimeType, "image/") {
			q.images = append(q.images, f)
		}
	}
	for _, d := range rc.DataParts() {
		if s, ok := d["query"].(string); ok && q.text == "" {
			q.text = strings.TrimSpace(s)
		}
		if n, ok := d["top_k"].(float64); ok && n >= 1 {
			q.topK = int(n)
		}
	}
	return q
}

func (a *Agent) Execute(ctx context.Context, rc *server.RequestContext, u *server.TaskUpdater) error {
	q := a.parse(rc)
	if q.text == "" && len(q.images) == 0 {
		return a2a.NewError(a2a.KindInvalidParams, "a search text or an image is required")
	}
	if len(q.images) > 0 && a.describer == nil {
		if q.text == "" {
			return a2a.NewError(a2a.KindUnsupportedOperation, "image search is not configured")
		}
		slog.Warn("Ignoring images, image search is not configured", "task_id", rc.TaskID)
		q.images = nil
	}
	mode := q.mode()

	if err := u.StartWork(ctx, a2a.NewAgentText("Searching the catalog...")); err != nil {
		return err
	}

	ranked, err := a.rank(ctx, q)
	if err != nil {
		return err
	}

	summaries := make([]any, 0, len(ranked))
	for _, r := range ranked {
		s := r.product.Summary()
		s["score"] = r.score
		summaries = append(summaries, s)
	}
	data := map[string]any{"products": summaries, "query": q.text, "mode": mode}
	parts := []a2a.Part{a2a.NewDataPart(data), a2a.NewTextPart(summarize(q.text, mode, ranked))}

	if _, err := u.AddArtifact(ctx, parts, server.ArtifactOptions{Name: "search-results"}); err != nil {
		return err
	}
	return u.Complete(ctx, nil)
}

func (a *Agent) Cancel(context.Context, *server.RequestContext, *server.TaskUpdater) error {
	return nil
}

type scored struct {
	product catalog.Product
	score   float64
	pos     int
}

// candidates widens each similarity lookup so that products strong in only one
// modality can still surface in a combined search.
func candidates(topK int) int { return max(topK*4, 20) }

func (a *Agent) rank(ctx context.Context, q query) ([]scored, error) {
	textScores := map[string]float64{}
	imageScores := map[string]float64{}

	if q.text != "" {
		hits, err := a.index.Query(ctx, q.text, candidates(q.topK))
		if err != nil {
			return nil, fmt.Errorf("text search failed: %w", err)
		}
		for _, h := range hits {
			textScores[h.ID] = float64(h.Score)
		}
	}
	for _, img := range q.images {
		desc, err := a.describer.Describe(ctx, img)
		if err != nil {
			return nil, a2a.NewError(a2a.KindInternal, "could not analyze image %q: %v", img.Name, err)
		}
		slog.Debug("Image described", "image", img.Name, "description", desc)
		hits, err := a.index.Query(ctx, desc, candidates(q.topK))
		if err != nil && !errors.Is(err, vector.ErrEmptyQuery) {
			return nil, fmt.Errorf("image search failed: %w", err)
		}
		for _, h := range hits {
			imageScores[h.ID] = max(imageScores[h.ID], float64(h.Score))
		}
	}

	wText, wImage := a.wText, a.wImage
	switch q.mode() {
	case ModeText:
		wText, wImage = 1, 0
	case ModeImage:
		wText, wImage = 0, 1
	}

	var out []scored
	for id, pos := range a.position {
		s := wText*textScores[id] + wImage*imageScores[id]
		if s <= 0 {
			continue
		}
		out = append(out, scored{product: a.products[pos], score: s, pos: pos})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].pos < out[j].pos
	})
	return out[:min(len(out), q.topK)], nil
}

func summarize(text, mode string, ranked []scored) string {
	subject := fmt.Sprintf("%q", text)
	switch mode {
	case ModeImage:
		subject = "your photo"
	case ModeCombined:
		subject = fmt.Sprintf("%q and your photo", text)
	}
	if len(ranked) == 0 {
		return fmt.Sprintf("No products matched %s.", subject)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d product(s) for %s:", len(ranked), subject)
	for i, r := range ranked {
		p := r.product
		fmt.Fprintf(&b, "\n%d. %s", i+1, p.Name)
		if p.Brand != "" {
			fmt.Fprintf(&b, " (%s)", p.Brand)
		}
		fmt.Fprintf(&b, " - %s VND, id %d", formatPrice(p.Price), p.ID)
		if p.Stock == 0 {
			b.WriteString(", out of stock")
		}
	}
	return b.String()
}

// formatPrice groups thousands: 1200000 -> 1,200,000.
func formatPrice(v float64) string {
	s := strconv.FormatInt(int64(v), 10)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}
