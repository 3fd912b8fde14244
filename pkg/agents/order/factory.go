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

package order

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/optica/pkg/agents/catalog"
	"github.com/kadirpekel/optica/pkg/config"
)

// NewRepositoryFromConfig builds the repository selected by
// cfg.Agents.Order.Repository.
func NewRepositoryFromConfig(cfg *config.Config, pool *config.DBPool) (Repository, error) {
	rc := cfg.Agents.Order.Repository
	switch rc.Backend {
	case config.StorageBackendInMemory, "":
		return NewMemoryRepository(), nil
	case config.StorageBackendSQL:
		db, dialect, err := pool.Named(cfg, rc.Database)
		if err != nil {
			return nil, fmt.Errorf("order repository: %w", err)
		}
		return NewSQLRepository(db, dialect)
	default:
		return nil, fmt.Errorf("unsupported order repository backend %q", rc.Backend)
	}
}

// Seed imports a catalog file into repo when it holds no products yet. It
// reports how many products were imported.
func Seed(ctx context.Context, repo Repository, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	existing, err := repo.ProductsByName(ctx, "", 1)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		slog.Debug("Order repository already has products, skipping seed", "catalog", path)
		return 0, nil
	}
	products, err := catalog.Load(path)
	if err != nil {
		return 0, err
	}
	if err := repo.UpsertProducts(ctx, products); err != nil {
		return 0, err
	}
	slog.Info("Seeded order repository", "catalog", path, "products", len(products))
	return len(products), nil
}
