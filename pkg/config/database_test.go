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


package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/optica/pkg/config/provider"
)

func providerConfigForFile(path string) provider.ProviderConfig {
	return provider.ProviderConfig{Type: provider.TypeFile, Path: path}
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	assert.Equal(t, q, Rebind(DialectSQLite, q))
	assert.Equal(t, q, Rebind(DialectMySQL, q))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", Rebind(DialectPostgres, q))
}

func TestValidateDialect(t *testing.T) {
	for _, d := range []string{DialectSQLite, DialectPostgres, DialectMySQL} {
		assert.NoError(t, ValidateDialect(d))
	}
	assert.Error(t, ValidateDialect("oracle"))
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "sqlite",
			cfg:  DatabaseConfig{Driver: "sqlite3", Database: "./data/optica.db"},
			want: "./data/optica.db",
		},
		{
			name: "postgres",
			cfg:  DatabaseConfig{Driver: "postgres", Host: "db", Database: "optica", Username: "app", Password: "p@ss"},
			want: "postgres://app:p%40ss@db:5432/optica?sslmode=disable",
		},
		{
			name: "mysql",
			cfg:  DatabaseConfig{Driver: "mysql", Host: "db", Database: "optica", Username: "app", Password: "pw"},
			want: "app:pw@tcp(db:3306)/optica?parseTime=true",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.SetDefaults()
			require.NoError(t, tt.cfg.Validate())
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestDatabaseConfig_Validate(t *testing.T) {
	assert.Error(t, (&DatabaseConfig{}).Validate())
	assert.Error(t, (&DatabaseConfig{Driver: "oracle", Database: "x"}).Validate())
	assert.Error(t, (&DatabaseConfig{Driver: "postgres", Database: "x"}).Validate(), "host required")
	assert.Error(t, (&DatabaseConfig{Driver: "sqlite"}).Validate(), "database required")
}

func TestDBPool_SharesConnections(t *testing.T) {
	pool := NewDBPool()
	defer pool.Close()

	cfg := &DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "nested", "pool.db")}
	cfg.SetDefaults()

	db1, err := pool.Get(cfg)
	require.NoError(t, err)
	db2, err := pool.Get(cfg)
	require.NoError(t, err)
	assert.Same(t, db1, db2)

	_, err = db1.Exec(`CREATE TABLE shared_check (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	require.NoError(t, pool.Close())
}
