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

// Package vector provides the similarity index shared by the consultation and
// search agents.
//
// A Provider stores pre-computed vectors (chromem embedded, Qdrant, Pinecone);
// an Embedder turns text into vectors; an Index ties both to one collection.
package vector

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyQuery is returned when a query has no text to embed.
var ErrEmptyQuery = errors.New("query text is empty")

// Document is one entry of a collection.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
	Vector   []float32
}

// Result is one search hit. Higher scores are more similar.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]string
}

// Provider is a vector store holding pre-computed embeddings.
type Provider interface {
	Name() string

	// Upsert inserts documents or replaces the ones with the same id.
	Upsert(ctx context.Context, collection string, docs []Document) error

	// Search returns up to topK documents ordered by decreasing similarity.
	// A missing or empty collection yields no results.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	Delete(ctx context.Context, collection string, ids ...string) error
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}

// Embedder turns text into vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// embedBatchSize bounds the texts sent per EmbedBatch call.
const embedBatchSize = 64

// Index is a collection of a provider searched by text.
type Index struct {
	provider   Provider
	embedder   Embedder
	collection string
}

func NewIndex(provider Provider, embedder Embedder, collection string) (*Index, error) {
	if provider == nil || embedder == nil {
		return nil, fmt.Errorf("vector provider and embedder are required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	return &Index{provider: provider, embedder: embedder, collection: collection}, nil
}

func (ix *Index) Collection() string { return ix.collection }

// Add embeds and stores documents. Documents carrying a vector are stored as is;
// documents with neither content nor vector are skipped.
func (ix *Index) Add(ctx context.Context, docs []Document) error {
	pending := make([]Document, 0, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document id is required")
		}
		if len(d.Vector) == 0 && strings.TrimSpace(d.Content) == "" {
			continue
		}
		pending = append(pending, d)
	}

	for start := 0; start < len(pending); start += embedBatchSize {
		batch := pending[start:min(start+embedBatchSize, len(pending))]

		var texts []string
		var slots []int
		for i, d := range batch {
			if len(d.Vector) == 0 {
				texts = append(texts, d.Content)
				slots = append(slots, i)
			}
		}
		if len(texts) > 0 {
			vecs, err := ix.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed documents: %w", err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
			}
			for j, i := range slots {
				batch[i].Vector = vecs[j]
			}
		}
		if err := ix.provider.Upsert(ctx, ix.collection, batch); err != nil {
			return err
		}
	}
	return nil
}

// Query embeds text and returns the topK nearest documents.
func (ix *Index) Query(ctx context.Context, text string, topK int) ([]Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return ix.provider.Search(ctx, ix.collection, vec, topK)
}

func (ix *Index) Delete(ctx context.Context, ids ...string) error {
	return ix.provider.Delete(ctx, ix.collection, ids...)
}

func (ix *Index) Count(ctx context.Context) (int, error) {
	return ix.provider.Count(ctx, ix.collection)
}
