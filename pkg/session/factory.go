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

package session

import (
	"fmt"

	"github.com/kadirpekel/optica/pkg/config"
)

// NewStoreFromConfig builds the session store selected by cfg.Host.Session.
func NewStoreFromConfig(cfg *config.Config, pool *config.DBPool) (Store, error) {
	sc := cfg.Host.Session
	switch sc.Backend {
	case config.StorageBackendInMemory, "":
		return NewMemoryStore(sc.MaxSessions, sc.TTL), nil
	case config.StorageBackendFile:
		dir := sc.Dir
		if dir == "" {
			dir = "./data/sessions"
		}
		return NewFileStore(dir)
	case config.StorageBackendSQL:
		db, dialect, err := pool.Named(cfg, sc.Database)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		return NewSQLStore(db, dialect)
	default:
		return nil, fmt.Errorf("unsupported session store backend %q", sc.Backend)
	}
}
