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

package main

import (
	"fmt"

	"github.com/kadirpekel/optica/pkg/agents/catalog"
	"github.com/kadirpekel/optica/pkg/agents/order"
)

// ImportCatalogCmd loads a catalog file into the order repository. Existing
// products are updated in place.
type ImportCatalogCmd struct {
	File string `arg:"" help:"Catalog file (.xlsx or .json)." type:"existingfile"`
}

func (c *ImportCatalogCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close()

	products, err := catalog.Load(c.File)
	if err != nil {
		return err
	}
	repo, err := order.NewRepositoryFromConfig(a.cfg, a.pool)
	if err != nil {
		return fmt.Errorf("failed to create order repository: %w", err)
	}
	defer repo.Close()

	if err := repo.UpsertProducts(ctx, products); err != nil {
		return err
	}
	fmt.Printf("Imported %d products from %s (%s repository)\n", len(products), c.File, a.cfg.Agents.Order.Repository.Backend)
	return nil
}
