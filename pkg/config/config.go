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

// Package config defines the configuration tree of the host router and the remote
// agents, and loads it from YAML documents with environment expansion.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/optica/pkg/observability"
)

// StorageBackend selects where a store keeps its state.
type StorageBackend string

const (
	StorageBackendInMemory StorageBackend = "inmemory"
	StorageBackendSQL      StorageBackend = "sql"
	StorageBackendFile     StorageBackend = "file"
)

func (b StorageBackend) normalize() StorageBackend {
	switch strings.ToLower(string(b)) {
	case "", "memory", "inmemory", "in-memory":
		return StorageBackendInMemory
	case "sql", "database", "db":
		return StorageBackendSQL
	case "file", "files", "disk":
		return StorageBackendFile
	default:
		return b
	}
}

// Agent identifiers. They name the config sections and the CLI subcommands; the
// router addresses agents by the name on their card.
const (
	AgentConsultation = "consultation"
	AgentSearch       = "search"
	AgentOrder        = "order"
)

// KnownAgents lists the contract agents in a stable order.
var KnownAgents = []string{AgentConsultation, AgentSearch, AgentOrder}

// Config is the root of the configuration tree.
type Config struct {
	Host          HostConfig                 `yaml:"host" json:"host"`
	Agents        AgentsConfig               `yaml:"agents" json:"agents"`
	Server        ServerConfig               `yaml:"server" json:"server"`
	Reasoning     ReasoningConfig            `yaml:"reasoning" json:"reasoning"`
	Vector        VectorConfig               `yaml:"vector" json:"vector"`
	Databases     map[string]*DatabaseConfig `yaml:"databases,omitempty" json:"databases,omitempty"`
	Logger        LoggerConfig               `yaml:"logger" json:"logger"`
	Observability observability.Config       `yaml:"observability" json:"observability"`
}

// ============================================================================
// HOST ROUTER
// ============================================================================

// HostConfig configures the host router process.
type HostConfig struct {
	// Address to bind to. Env: HOST. Default: 0.0.0.0
	Address string `yaml:"address" json:"address"`

	// Port to listen on. Env: PORT. Default: 8000
	Port int `yaml:"port" json:"port" jsonschema:"minimum=1,maximum=65535"`

	// RemoteAgents maps an agent id to the base URL its card is served from.
	// Entries with an empty URL are ignored.
	RemoteAgents map[string]*RemoteAgentConfig `yaml:"remote_agents" json:"remote_agents"`

	Router    RouterConfig    `yaml:"router" json:"router"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// MaxUploadBytes bounds a multipart /chat body. Default: 20MiB
	MaxUploadBytes int64 `yaml:"max_upload_bytes" json:"max_upload_bytes"`
}

// Addr returns the listen address.
func (c *HostConfig) Addr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// RemoteAgentConfig addresses one remote agent.
type RemoteAgentConfig struct {
	URL string `yaml:"url" json:"url" jsonschema:"format=uri"`

	// Headers are added to every request, e.g. an API gateway key.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// CardTTL bounds how long a fetched agent card is reused. Default: 5m
	CardTTL time.Duration `yaml:"card_ttl" json:"card_ttl"`

	// RateLimit caps outgoing requests per second. 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`

	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	// Default: 5
	MaxFailures uint32 `yaml:"max_failures" json:"max_failures"`

	// OpenTimeout is how long the circuit stays open before probing. Default: 30s
	OpenTimeout time.Duration `yaml:"open_timeout" json:"open_timeout"`
}

func (c *BreakerConfig) SetDefaults() {
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
}

// RouterConfig bounds the host's reasoning loop.
type RouterConfig struct {
	// MaxDepth bounds engine/tool rounds per turn. Env: ROUTER_MAX_DEPTH. Default: 5
	MaxDepth int `yaml:"max_depth" json:"max_depth" jsonschema:"minimum=1"`

	// MaxRoutingRetries bounds unresolved agent names per turn before the
	// router answers with the missing capability. Default: 2
	MaxRoutingRetries int `yaml:"max_routing_retries" json:"max_routing_retries"`

	// HistoryWindow is the number of most recent entries offered to the engine.
	// Env: HISTORY_WINDOW. Default: 10
	HistoryWindow int `yaml:"history_window" json:"history_window"`

	// HistoryTokenBudget further trims that window. Env: HISTORY_TOKEN_BUDGET.
	// Default: 4000
	HistoryTokenBudget int `yaml:"history_token_budget" json:"history_token_budget"`

	// SendTimeout bounds a message/send call. Env: SEND_TIMEOUT. Default: 30s
	SendTimeout time.Duration `yaml:"send_timeout" json:"send_timeout"`

	// StreamTimeout bounds waiting for a remote task to settle.
	// Env: STREAM_TIMEOUT. Default: 300s
	StreamTimeout time.Duration `yaml:"stream_timeout" json:"stream_timeout"`

	// Instruction replaces the built-in system prompt.
	Instruction string `yaml:"instruction,omitempty" json:"instruction,omitempty"`
}

// SessionConfig configures conversation memory.
type SessionConfig struct {
	// Backend: inmemory, file or sql. Env: SESSION_BACKEND. Default: inmemory
	Backend StorageBackend `yaml:"backend" json:"backend" jsonschema:"enum=inmemory,enum=file,enum=sql"`

	// Dir holds one JSON document per session for the file backend.
	// Env: SESSION_DIR. Default: ./data/sessions
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// Database references an entry of Config.Databases for the sql backend.
	Database string `yaml:"database,omitempty" json:"database,omitempty"`

	// TTL evicts sessions idle for longer. Env: SESSION_TTL. Default: 24h
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// HistoryLimit bounds the stored history. Env: SESSION_HISTORY_LIMIT. Default: 100
	HistoryLimit int `yaml:"history_limit" json:"history_limit"`

	// MaxSessions caps the in-memory backend. Default: 10000
	MaxSessions int `yaml:"max_sessions" json:"max_sessions"`

	// PruneSchedule is the cron spec of the idle-session pruner. Default: @every 10m
	PruneSchedule string `yaml:"prune_schedule" json:"prune_schedule"`
}

// RateLimitConfig throttles /chat per client address.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// ============================================================================
// AGENT SERVERS
// ============================================================================

// ListenConfig is where an agent server binds and how it is reached.
type ListenConfig struct {
	Address string `yaml:"address" json:"address"`
	Port    int    `yaml:"port" json:"port"`

	// PublicURL is advertised on the agent card. Default: http://localhost:<port>
	PublicURL string `yaml:"public_url,omitempty" json:"public_url,omitempty"`
}

func (c *ListenConfig) Addr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

func (c *ListenConfig) setDefaults(port int) {
	if c.Address == "" {
		c.Address = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = port
	}
	if c.PublicURL == "" {
		c.PublicURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
}

// AgentsConfig configures the three contract agents.
type AgentsConfig struct {
	Consultation ConsultationConfig `yaml:"consultation" json:"consultation"`
	Search       SearchConfig       `yaml:"search" json:"search"`
	Order        OrderConfig        `yaml:"order" json:"order"`
}

// Listen returns the listen section of the named agent.
func (c *AgentsConfig) Listen(name string) (*ListenConfig, error) {
	switch name {
	case AgentConsultation:
		return &c.Consultation.Listen, nil
	case AgentSearch:
		return &c.Search.Listen, nil
	case AgentOrder:
		return &c.Order.Listen, nil
	default:
		return nil, fmt.Errorf("unknown agent %q (valid: %s)", name, strings.Join(KnownAgents, ", "))
	}
}

type ConsultationConfig struct {
	Listen ListenConfig `yaml:"listen" json:"listen"`

	// CorpusDir holds the .pdf, .docx, .txt and .md knowledge documents.
	CorpusDir string `yaml:"corpus_dir" json:"corpus_dir"`

	Collection string `yaml:"collection" json:"collection"`
	TopK       int    `yaml:"top_k" json:"top_k"`

	// ChunkSize is the target passage length in characters. Default: 800
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`

	// UseReasoning composes answers through the reasoning engine instead of
	// returning the best passages verbatim.
	UseReasoning bool `yaml:"use_reasoning" json:"use_reasoning"`
}

type SearchConfig struct {
	Listen ListenConfig `yaml:"listen" json:"listen"`

	// CatalogPath is a .xlsx or .json product catalog.
	CatalogPath string `yaml:"catalog_path" json:"catalog_path"`

	Collection string `yaml:"collection" json:"collection"`
	TopK       int    `yaml:"top_k" json:"top_k"`

	// TextWeight and ImageWeight blend the two similarities of combined search.
	// Defaults: 0.5 / 0.5
	TextWeight  float64 `yaml:"text_weight" json:"text_weight"`
	ImageWeight float64 `yaml:"image_weight" json:"image_weight"`
}

type OrderConfig struct {
	Listen ListenConfig `yaml:"listen" json:"listen"`

	// Repository selects the product/user/order storage.
	Repository StoreConfig `yaml:"repository" json:"repository"`

	// SeedCatalog is imported into an empty repository at startup.
	SeedCatalog string `yaml:"seed_catalog,omitempty" json:"seed_catalog,omitempty"`
}

// StoreConfig selects a storage backend and, for sql, its database.
type StoreConfig struct {
	Backend  StorageBackend `yaml:"backend" json:"backend" jsonschema:"enum=inmemory,enum=sql"`
	Database string         `yaml:"database,omitempty" json:"database,omitempty"`
}

// ServerConfig holds the settings shared by every agent server.
type ServerConfig struct {
	// ExecuteTimeout bounds one executor run. Env: EXECUTE_TIMEOUT. Default: 5m
	ExecuteTimeout time.Duration `yaml:"execute_timeout" json:"execute_timeout"`

	// StreamLinger is how long a task survives its only stream disconnecting.
	// Env: STREAM_LINGER. Default: 30s
	StreamLinger time.Duration `yaml:"stream_linger" json:"stream_linger"`

	// QueueBacklog is the replay depth offered to late stream subscribers.
	QueueBacklog int `yaml:"queue_backlog" json:"queue_backlog"`

	Tasks StoreConfig `yaml:"tasks" json:"tasks"`
	Push  PushConfig  `yaml:"push" json:"push"`
}

// PushConfig configures webhook delivery of task events.
type PushConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Timeout bounds one delivery attempt. Env: PUSH_TIMEOUT. Default: 10s
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`

	// Issuer is the iss claim of JWT-authenticated deliveries.
	Issuer string `yaml:"issuer" json:"issuer"`

	Store StoreConfig `yaml:"store" json:"store"`
}

// ============================================================================
// REASONING, VECTOR INDEX, LOGGING
// ============================================================================

// ReasoningConfig configures the language model behind the host router and the
// optional model-backed features of the agents.
type ReasoningConfig struct {
	// Provider: gemini or none. Default: gemini
	Provider string `yaml:"provider" json:"provider" jsonschema:"enum=gemini,enum=none"`

	// APIKey. Env: REASONING_API_KEY, GEMINI_API_KEY or GOOGLE_API_KEY.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// Model. Env: REASONING_MODEL. Default: gemini-2.5-flash
	Model string `yaml:"model" json:"model"`

	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`
	VisionModel    string `yaml:"vision_model" json:"vision_model"`

	Temperature     float64 `yaml:"temperature" json:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens" json:"max_output_tokens"`

	// Timeout bounds one model call. Default: 60s
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`
}

// Enabled reports whether a real model is configured.
func (c *ReasoningConfig) Enabled() bool {
	return c.Provider != "none" && c.APIKey != ""
}

// VectorConfig selects the vector index shared by consultation and search.
type VectorConfig struct {
	// Type: chromem, qdrant or pinecone. Default: chromem
	Type string `yaml:"type" json:"type" jsonschema:"enum=chromem,enum=qdrant,enum=pinecone"`

	// PersistPath enables chromem persistence.
	PersistPath string `yaml:"persist_path,omitempty" json:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress,omitempty" json:"compress,omitempty"`

	Host   string `yaml:"host,omitempty" json:"host,omitempty"`
	Port   int    `yaml:"port,omitempty" json:"port,omitempty"`
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty" json:"use_tls,omitempty"`

	// Embedder: gemini or hash. Default: gemini when reasoning has credentials.
	Embedder string `yaml:"embedder" json:"embedder" jsonschema:"enum=gemini,enum=hash"`

	// Dimension of the hash embedder. Default: 256
	Dimension int `yaml:"dimension" json:"dimension"`
}

// LoggerConfig mirrors the --log-* flags.
type LoggerConfig struct {
	Level  string `yaml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
	Format string `yaml:"format" json:"format" jsonschema:"enum=simple,enum=verbose,enum=json"`
}

// ============================================================================
// DEFAULTS
// ============================================================================

func (c *Config) SetDefaults() {
	c.Host.SetDefaults()
	c.Agents.SetDefaults()
	c.Server.SetDefaults()
	c.Reasoning.SetDefaults()
	c.Vector.SetDefaults(c.Reasoning.Enabled())
	for _, db := range c.Databases {
		if db != nil {
			db.SetDefaults()
		}
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "simple"
	}
	c.Observability.SetDefaults()
}

func (c *HostConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 20 << 20
	}
	if c.RemoteAgents == nil {
		c.RemoteAgents = make(map[string]*RemoteAgentConfig)
	}
	// <AGENT>_AGENT_URL is accepted next to <AGENT>_URL.
	for _, name := range KnownAgents {
		ra := c.RemoteAgents[name]
		if ra != nil && ra.URL != "" {
			continue
		}
		if v := os.Getenv(strings.ToUpper(name) + "_AGENT_URL"); v != "" {
			if ra == nil {
				ra = &RemoteAgentConfig{}
				c.RemoteAgents[name] = ra
			}
			ra.URL = v
		}
	}
	for name, ra := range c.RemoteAgents {
		if ra == nil || strings.TrimSpace(ra.URL) == "" {
			delete(c.RemoteAgents, name)
			continue
		}
		ra.URL = strings.TrimRight(strings.TrimSpace(ra.URL), "/")
		if ra.CardTTL == 0 {
			ra.CardTTL = 5 * time.Minute
		}
		ra.Breaker.SetDefaults()
	}

	r := &c.Router
	if r.MaxDepth == 0 {
		r.MaxDepth = 5
	}
	if r.MaxRoutingRetries == 0 {
		r.MaxRoutingRetries = 2
	}
	if r.HistoryWindow == 0 {
		r.HistoryWindow = 10
	}
	if r.HistoryTokenBudget == 0 {
		r.HistoryTokenBudget = 4000
	}
	if r.SendTimeout == 0 {
		r.SendTimeout = 30 * time.Second
	}
	if r.StreamTimeout == 0 {
		r.StreamTimeout = 300 * time.Second
	}

	s := &c.Session
	s.Backend = s.Backend.normalize()
	if s.Dir == "" {
		s.Dir = "./data/sessions"
	}
	if s.Backend == StorageBackendSQL && s.Database == "" {
		s.Database = "default"
	}
	if s.TTL == 0 {
		s.TTL = 24 * time.Hour
	}
	if s.HistoryLimit == 0 {
		s.HistoryLimit = 100
	}
	if s.MaxSessions == 0 {
		s.MaxSessions = 10000
	}
	if s.PruneSchedule == "" {
		s.PruneSchedule = "@every 10m"
	}

	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 2
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 5
	}
}

func (c *AgentsConfig) SetDefaults() {
	c.Consultation.Listen.setDefaults(10001)
	if c.Consultation.Collection == "" {
		c.Consultation.Collection = "eyewear_knowledge"
	}
	if c.Consultation.TopK == 0 {
		c.Consultation.TopK = 4
	}
	if c.Consultation.ChunkSize == 0 {
		c.Consultation.ChunkSize = 800
	}

	c.Search.Listen.setDefaults(10002)
	if c.Search.Collection == "" {
		c.Search.Collection = "eyewear_products"
	}
	if c.Search.TopK == 0 {
		c.Search.TopK = 5
	}
	if c.Search.TextWeight == 0 && c.Search.ImageWeight == 0 {
		c.Search.TextWeight, c.Search.ImageWeight = 0.5, 0.5
	}

	c.Order.Listen.setDefaults(10003)
	c.Order.Repository.setDefaults()
}

func (c *StoreConfig) setDefaults() {
	c.Backend = c.Backend.normalize()
	if c.Backend == StorageBackendSQL && c.Database == "" {
		c.Database = "default"
	}
}

func (c *ServerConfig) SetDefaults() {
	if c.ExecuteTimeout == 0 {
		c.ExecuteTimeout = 5 * time.Minute
	}
	if c.StreamLinger == 0 {
		c.StreamLinger = 30 * time.Second
	}
	if c.QueueBacklog == 0 {
		c.QueueBacklog = 256
	}
	c.Tasks.setDefaults()

	p := &c.Push
	if p.Timeout == 0 {
		p.Timeout = 10 * time.Second
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 5
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Issuer == "" {
		p.Issuer = "optica"
	}
	p.Store.setDefaults()
}

func (c *ReasoningConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	if c.APIKey == "" {
		for _, env := range []string{"REASONING_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"} {
			if v := os.Getenv(env); v != "" {
				c.APIKey = v
				break
			}
		}
	}
	if c.Model == "" {
		c.Model = "gemini-2.5-flash"
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "text-embedding-004"
	}
	if c.VisionModel == "" {
		c.VisionModel = c.Model
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = 2048
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	c.Breaker.SetDefaults()
}

func (c *VectorConfig) SetDefaults(reasoningEnabled bool) {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Embedder == "" {
		if reasoningEnabled {
			c.Embedder = "gemini"
		} else {
			c.Embedder = "hash"
		}
	}
	if c.Dimension == 0 {
		c.Dimension = 256
	}
	if c.Port == 0 {
		switch c.Type {
		case "qdrant":
			c.Port = 6334
		}
	}
}

// ============================================================================
// VALIDATION
// ============================================================================

// Validate checks the settings every process needs. Process-specific requirements
// are checked by ValidateHost and ValidateAgent.
func (c *Config) Validate() error {
	var errs []error
	for name, db := range c.Databases {
		if db == nil {
			errs = append(errs, fmt.Errorf("databases.%s: empty definition", name))
			continue
		}
		if err := db.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("databases.%s: %w", name, err))
		}
	}
	for _, ref := range c.databaseRefs() {
		if _, ok := c.Databases[ref.name]; !ok {
			errs = append(errs, fmt.Errorf("%s: database %q is not defined", ref.field, ref.name))
		}
	}
	for name, ra := range c.Host.RemoteAgents {
		if err := validateURL(ra.URL); err != nil {
			errs = append(errs, fmt.Errorf("host.remote_agents.%s.url: %w", name, err))
		}
	}
	if c.Host.Port < 1 || c.Host.Port > 65535 {
		errs = append(errs, fmt.Errorf("host.port: %d out of range", c.Host.Port))
	}
	if c.Host.Router.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("host.router.max_depth must be at least 1"))
	}
	switch c.Host.Session.Backend {
	case StorageBackendInMemory, StorageBackendFile, StorageBackendSQL:
	default:
		errs = append(errs, fmt.Errorf("host.session.backend: unknown backend %q", c.Host.Session.Backend))
	}
	if c.Agents.Search.TextWeight < 0 || c.Agents.Search.ImageWeight < 0 {
		errs = append(errs, fmt.Errorf("agents.search: weights must be non-negative"))
	}
	switch c.Vector.Type {
	case "chromem", "qdrant", "pinecone":
	default:
		errs = append(errs, fmt.Errorf("vector.type: unknown provider %q", c.Vector.Type))
	}
	switch c.Vector.Embedder {
	case "gemini", "hash":
	default:
		errs = append(errs, fmt.Errorf("vector.embedder: unknown embedder %q", c.Vector.Embedder))
	}
	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}
	return errors.Join(errs...)
}

// ValidateHost checks what the host router cannot start without: reasoning
// credentials and at least one resolvable remote agent.
func (c *Config) ValidateHost() error {
	var errs []error
	if !c.Reasoning.Enabled() {
		errs = append(errs, fmt.Errorf("reasoning: api key is required (set REASONING_API_KEY or GEMINI_API_KEY)"))
	}
	if len(c.Host.RemoteAgents) == 0 {
		errs = append(errs, fmt.Errorf("host.remote_agents: at least one agent url is required (set CONSULTATION_URL, SEARCH_URL or ORDER_URL)"))
	}
	return errors.Join(errs...)
}

// ValidateAgent checks the settings of one agent server.
func (c *Config) ValidateAgent(name string) error {
	listen, err := c.Agents.Listen(name)
	if err != nil {
		return err
	}
	if err := validateURL(listen.PublicURL); err != nil {
		return fmt.Errorf("agents.%s.listen.public_url: %w", name, err)
	}
	if c.Vector.Embedder == "gemini" && (name == AgentConsultation || name == AgentSearch) && c.Reasoning.APIKey == "" {
		return fmt.Errorf("vector.embedder gemini requires reasoning credentials")
	}
	return nil
}

// RemoteAgentIDs returns the configured agent ids in a stable order.
func (c *HostConfig) RemoteAgentIDs() []string {
	ids := make([]string, 0, len(c.RemoteAgents))
	for id := range c.RemoteAgents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Database returns a named database definition.
func (c *Config) Database(name string) (*DatabaseConfig, error) {
	db, ok := c.Databases[name]
	if !ok || db == nil {
		return nil, fmt.Errorf("database %q is not defined", name)
	}
	return db, nil
}

type dbRef struct{ field, name string }

func (c *Config) databaseRefs() []dbRef {
	var refs []dbRef
	add := func(field string, backend StorageBackend, name string) {
		if backend == StorageBackendSQL {
			refs = append(refs, dbRef{field, name})
		}
	}
	add("host.session.database", c.Host.Session.Backend, c.Host.Session.Database)
	add("server.tasks.database", c.Server.Tasks.Backend, c.Server.Tasks.Database)
	add("server.push.store.database", c.Server.Push.Store.Backend, c.Server.Push.Store.Database)
	add("agents.order.repository.database", c.Agents.Order.Repository.Backend, c.Agents.Order.Repository.Database)
	return refs
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}
