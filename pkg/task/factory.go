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

package task

import (
	"fmt"

	"github.com/kadirpekel/optica/pkg/config"
)

// NewStoreFromConfig builds the task store selected by cfg.Server.Tasks.
func NewStoreFromConfig(cfg *config.Config, pool *config.DBPool) (Store, error) {
	sc := cfg.Server.Tasks
	switch sc.Backend {
	case config.StorageBackendInMemory, "":
		return NewMemoryStore(), nil
	case config.StorageBackendSQL:
		db, dialect, err := pool.Named(cfg, sc.Database)
		if err != nil {
			return nil, fmt.Errorf("task store: %w", err)
		}
		return NewSQLStore(db, dialect)
	default:
		return nil, fmt.Errorf("unsupported task store backend %q", sc.Backend)
	}
}
