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

package vector

import (
	"fmt"

	"github.com/kadirpekel/optica/pkg/config"
	"github.com/kadirpekel/optica/pkg/reasoning"
)

// ProviderType identifies a vector provider implementation.
type ProviderType string

const (
	// ProviderChromem is embedded and zero-config.
	ProviderChromem ProviderType = "chromem"

	// ProviderQdrant talks to a Qdrant server over gRPC.
	ProviderQdrant ProviderType = "qdrant"

	// ProviderPinecone uses the managed Pinecone service.
	ProviderPinecone ProviderType = "pinecone"
)

// NewProviderFromConfig creates the provider selected by cfg.Type.
func NewProviderFromConfig(cfg *config.VectorConfig) (Provider, error) {
	switch ProviderType(cfg.Type) {
	case ProviderChromem, "":
		return NewChromemProvider(ChromemConfig{PersistPath: cfg.PersistPath, Compress: cfg.Compress})
	case ProviderQdrant:
		return NewQdrantProvider(QdrantConfig{Host: cfg.Host, Port: cfg.Port, APIKey: cfg.APIKey, UseTLS: cfg.UseTLS})
	case ProviderPinecone:
		return NewPineconeProvider(PineconeConfig{APIKey: cfg.APIKey, Host: cfg.Host})
	default:
		return nil, fmt.Errorf("unknown vector provider type: %q", cfg.Type)
	}
}

// NewEmbedderFromConfig creates the embedder selected by cfg.Embedder. The
// gemini embedder shares the reasoning credentials.
func NewEmbedderFromConfig(cfg *config.VectorConfig, rc *config.ReasoningConfig) (Embedder, error) {
	switch cfg.Embedder {
	case "hash", "":
		return NewHashEmbedder(cfg.Dimension), nil
	case "gemini":
		if rc == nil || !rc.Enabled() {
			return nil, fmt.Errorf("gemini embedder requires reasoning credentials")
		}
		client, err := reasoning.NewGeminiClient(rc.APIKey)
		if err != nil {
			return nil, err
		}
		return NewGeminiEmbedder(client, rc.EmbeddingModel, 0)
	default:
		return nil, fmt.Errorf("unknown embedder: %q", cfg.Embedder)
	}
}
