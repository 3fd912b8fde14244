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

package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

const pineconeContentKey = "_content"

type PineconeConfig struct {
	APIKey string
	// Host overrides the control plane endpoint.
	Host string
}

// PineconeProvider stores vectors in Pinecone. A collection maps to an index,
// which must already exist.
type PineconeProvider struct {
	client *pinecone.Client

	mu    sync.Mutex
	hosts map[string]string
}

func NewPineconeProvider(cfg PineconeConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}
	params := pinecone.NewClientParams{ApiKey: cfg.APIKey}
	if cfg.Host != "" {
		params.Host = cfg.Host
	}
	client, err := pinecone.NewClient(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}
	return &PineconeProvider{client: client, hosts: make(map[string]string)}, nil
}

func (p *PineconeProvider) Name() string { return "pinecone" }

func (p *PineconeProvider) connect(ctx context.Context, index string) (*pinecone.IndexConnection, error) {
	p.mu.Lock()
	host, ok := p.hosts[index]
	p.mu.Unlock()

	if !ok {
		desc, err := p.client.DescribeIndex(ctx, index)
		if err != nil {
			return nil, fmt.Errorf("failed to describe index %s: %w", index, err)
		}
		host = desc.Host
		p.mu.Lock()
		p.hosts[index] = host
		p.mu.Unlock()
	}

	conn, err := p.client.Index(pinecone.NewIndexConnParams{Host: host})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to index %s: %w", index, err)
	}
	return conn, nil
}

func (p *PineconeProvider) Upsert(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	conn, err := p.connect(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	vectors := make([]*pinecone.Vector, 0, len(docs))
	for _, d := range docs {
		fields := map[string]any{pineconeContentKey: d.Content}
		for k, v := range d.Metadata {
			fields[k] = v
		}
		meta, err := structpb.NewStruct(fields)
		if err != nil {
			return fmt.Errorf("failed to convert metadata of %s: %w", d.ID, err)
		}
		vectors = append(vectors, &pinecone.Vector{Id: d.ID, Values: d.Vector, Metadata: meta})
	}
	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", collection, err)
	}
	return nil
}

func (p *PineconeProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	conn, err := p.connect(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("search in %s failed: %w", collection, err)
	}

	out := make([]Result, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m.Vector == nil {
			continue
		}
		r := Result{ID: m.Vector.Id, Score: m.Score, Metadata: map[string]string{}}
		if m.Vector.Metadata != nil {
			for k, v := range m.Vector.Metadata.AsMap() {
				s, _ := v.(string)
				if k == pineconeContentKey {
					r.Content = s
				} else {
					r.Metadata[k] = s
				}
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (p *PineconeProvider) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	conn, err := p.connect(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.DeleteVectorsById(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", collection, err)
	}
	return nil
}

func (p *PineconeProvider) Count(ctx context.Context, collection string) (int, error) {
	conn, err := p.connect(ctx, collection)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	stats, err := conn.DescribeIndexStats(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to describe %s: %w", collection, err)
	}
	return int(stats.TotalVectorCount), nil
}

func (p *PineconeProvider) Close() error { return nil }

var _ Provider = (*PineconeProvider)(nil)
