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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv clears the variables the built-in document reads so that the host's
// own environment cannot leak into assertions.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"HOST", "PORT", "CONSULTATION_URL", "SEARCH_URL", "ORDER_URL",
		"CONSULTATION_AGENT_URL", "SEARCH_AGENT_URL", "ORDER_AGENT_URL",
		"REASONING_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "REASONING_MODEL",
		"SESSION_BACKEND", "SESSION_TTL", "ROUTER_MAX_DEPTH", "SEND_TIMEOUT",
		"DATABASE_DRIVER", "DATABASE_NAME", "ORDER_REPOSITORY", "TASK_STORE",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadDefault_FromEnvironment(t *testing.T) {
	isolateEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("CONSULTATION_URL", "http://consultation:10001/")
	t.Setenv("REASONING_API_KEY", "secret")
	t.Setenv("SESSION_TTL", "2h")

	cfg, loader, err := LoadDefault(context.Background())
	require.NoError(t, err)
	defer loader.Close()

	assert.Equal(t, 9090, cfg.Host.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Host.Addr())
	require.Len(t, cfg.Host.RemoteAgents, 1)
	assert.Equal(t, "http://consultation:10001", cfg.Host.RemoteAgents[AgentConsultation].URL)
	assert.Equal(t, 5*time.Minute, cfg.Host.RemoteAgents[AgentConsultation].CardTTL)
	assert.Equal(t, 2*time.Hour, cfg.Host.Session.TTL)
	assert.Equal(t, StorageBackendInMemory, cfg.Host.Session.Backend)
	assert.Equal(t, 30*time.Second, cfg.Host.Router.SendTimeout)
	assert.Equal(t, 300*time.Second, cfg.Host.Router.StreamTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ExecuteTimeout)
	assert.Equal(t, "secret", cfg.Reasoning.APIKey)
	assert.Equal(t, "gemini", cfg.Vector.Embedder)
	assert.Same(t, cfg, loader.Current())
	assert.NoError(t, cfg.ValidateHost())
}

func TestLoadDefault_APIKeyAliases(t *testing.T) {
	isolateEnv(t)
	t.Setenv("GOOGLE_API_KEY", "from-google")

	cfg, _, err := LoadDefault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-google", cfg.Reasoning.APIKey)
}

func TestLoadDefault_AgentURLAlias(t *testing.T) {
	isolateEnv(t)
	t.Setenv("ORDER_AGENT_URL", "http://order:10003")

	cfg, _, err := LoadDefault(context.Background())
	require.NoError(t, err)
	require.Contains(t, cfg.Host.RemoteAgents, AgentOrder)
	assert.Equal(t, "http://order:10003", cfg.Host.RemoteAgents[AgentOrder].URL)
}

func TestValidateHost_MissingRequirements(t *testing.T) {
	isolateEnv(t)

	cfg, _, err := LoadDefault(context.Background())
	require.NoError(t, err)

	err = cfg.ValidateHost()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is required")
	assert.Contains(t, err.Error(), "at least one agent url")
	assert.Equal(t, "hash", cfg.Vector.Embedder)
}

func TestLoadConfigFile_MergesOverDefaults(t *testing.T) {
	isolateEnv(t)
	t.Setenv("SEARCH_URL", "http://ignored:1")

	path := filepath.Join(t.TempDir(), "optica.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host:
  remote_agents:
    search:
      url: http://search.internal:10002
      rate_limit: 5
  router:
    max_depth: 3
server:
  stream_linger: 5s
`), 0o644))

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()

	assert.Equal(t, "http://search.internal:10002", cfg.Host.RemoteAgents[AgentSearch].URL)
	assert.Equal(t, 5.0, cfg.Host.RemoteAgents[AgentSearch].RateLimit)
	assert.Equal(t, 3, cfg.Host.Router.MaxDepth)
	assert.Equal(t, 10, cfg.Host.Router.HistoryWindow, "untouched defaults survive the merge")
	assert.Equal(t, 5*time.Second, cfg.Server.StreamLinger)
	assert.Equal(t, 8000, cfg.Host.Port)
}

func TestLoadConfigFile_Errors(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "invalid remote agent url",
			content: "host:\n  remote_agents:\n    search:\n      url: ftp://search\n",
			wantErr: "must use http or https",
		},
		{
			name:    "undefined database reference",
			content: "host:\n  session:\n    backend: sql\n    database: sessions\n",
			wantErr: `database "sessions" is not defined`,
		},
		{
			name:    "unknown session backend",
			content: "host:\n  session:\n    backend: redis\n",
			wantErr: "unknown backend",
		},
		{
			name:    "bad duration",
			content: "server:\n  execute_timeout: soon\n",
			wantErr: "failed to decode config",
		},
		{
			name:    "unparsable document",
			content: "host: [unclosed\n",
			wantErr: "failed to parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, _, err := LoadConfigFile(context.Background(), path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, _, err := LoadConfigFile(context.Background(), filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateAgent(t *testing.T) {
	isolateEnv(t)
	cfg, _, err := LoadDefault(context.Background())
	require.NoError(t, err)

	assert.NoError(t, cfg.ValidateAgent(AgentOrder))
	assert.Equal(t, "http://localhost:10003", cfg.Agents.Order.Listen.PublicURL)
	assert.Error(t, cfg.ValidateAgent("billing"))

	cfg.Agents.Search.Listen.PublicURL = "not a url"
	assert.Error(t, cfg.ValidateAgent(AgentSearch))
}

func TestLoader_WatchReloads(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "optica.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host:\n  router:\n    max_depth: 2\n"), 0o644))

	reloaded := make(chan *Config, 4)
	cfg, loader, err := LoadConfig(context.Background(),
		providerConfigForFile(path), WithOnChange(func(c *Config) { reloaded <- c }))
	require.NoError(t, err)
	defer loader.Close()
	require.Equal(t, 2, cfg.Host.Router.MaxDepth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loader.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("host:\n  router:\n    max_depth: 7\n"), 0o644))

	select {
	case c := <-reloaded:
		assert.Equal(t, 7, c.Host.Router.MaxDepth)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestExpandEnvString(t *testing.T) {
	t.Setenv("OPTICA_SET", "value")
	t.Setenv("OPTICA_EMPTY", "")

	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"${OPTICA_SET}", "value"},
		{"$OPTICA_SET/suffix", "value/suffix"},
		{"${OPTICA_EMPTY:-fallback}", "fallback"},
		{"${OPTICA_SET:-fallback}", "value"},
		{"${OPTICA_UNSET_FOR_TEST:-}", ""},
		{"http://${OPTICA_SET}:${OPTICA_PORT_UNSET:-80}", "http://value:80"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandEnvString(tt.in), tt.in)
	}
}

func TestMergeMaps(t *testing.T) {
	base := map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": []any{1, 2},
	}
	overlay := map[string]any{
		"a": map[string]any{"y": 3},
		"b": []any{9},
		"c": "new",
	}
	got := mergeMaps(base, overlay)
	assert.Equal(t, map[string]any{"x": 1, "y": 3}, got["a"])
	assert.Equal(t, []any{9}, got["b"])
	assert.Equal(t, "new", got["c"])
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, base["a"], "base is not mutated")
}

func TestLoadEnvFiles(t *testing.T) {
	const key = "OPTICA_DOTENV_TEST_VALUE"
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-file\n"), 0o644))

	require.NoError(t, LoadEnvFiles(path))
	assert.Equal(t, "from-file", os.Getenv(key))

	assert.Error(t, LoadEnvFiles(filepath.Join(t.TempDir(), "absent.env")))
}

func TestSchema(t *testing.T) {
	s := Schema()
	require.NotNil(t, s.Properties)

	for _, key := range []string{"host", "agents", "server", "reasoning", "vector", "databases", "observability"} {
		_, ok := s.Properties.Get(key)
		assert.True(t, ok, "schema is missing %q", key)
	}
}
