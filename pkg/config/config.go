// Package config defines the server configuration and the per-agent
// configuration files, with defaulting and validation for both.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the root server configuration, loaded from YAML.
type Config struct {
	// Host is the listen address.
	Host string `yaml:"host" json:"host,omitempty" jsonschema:"title=Host,default=0.0.0.0"`

	// Port is the listen port.
	Port int `yaml:"port" json:"port,omitempty" jsonschema:"title=Port,default=8080"`

	// BaseURL is the public base URL advertised in discovery cards.
	BaseURL string `yaml:"base_url" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Public base URL for discovery cards"`

	// AgentsDir is the directory holding per-agent JSON config files.
	AgentsDir string `yaml:"agents_dir" json:"agents_dir,omitempty" jsonschema:"title=Agents Directory,default=./agents"`

	Log           LogConfig           `yaml:"log" json:"log,omitempty"`
	LLM           LLMConfig           `yaml:"llm" json:"llm,omitempty"`
	Retrieval     RetrievalBackends   `yaml:"retrieval" json:"retrieval,omitempty"`
	Tasks         TasksConfig         `yaml:"tasks" json:"tasks,omitempty"`
	Session       SessionConfig       `yaml:"session" json:"session,omitempty"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability,omitempty"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
	Format string `yaml:"format" json:"format,omitempty" jsonschema:"enum=simple,enum=verbose,enum=json,default=simple"`
	File   string `yaml:"file" json:"file,omitempty" jsonschema:"description=Log file path (stderr when empty)"`
}

// LLMConfig holds provider credentials and fleet-wide model defaults.
// Agents inherit the defaults for fields they leave unset.
type LLMConfig struct {
	APIKey             string  `yaml:"api_key" json:"api_key,omitempty" jsonschema:"description=API key for the native provider"`
	BaseURL            string  `yaml:"base_url" json:"base_url,omitempty" jsonschema:"description=Override endpoint for the native provider"`
	DefaultModel       string  `yaml:"default_model" json:"default_model,omitempty" jsonschema:"default=gemini-2.5-flash"`
	DefaultTemperature float64 `yaml:"default_temperature" json:"default_temperature,omitempty" jsonschema:"minimum=0,maximum=2,default=0.7"`
	DefaultMaxTokens   int     `yaml:"default_max_tokens" json:"default_max_tokens,omitempty" jsonschema:"minimum=1,default=4096"`
}

// RetrievalBackends holds credentials and endpoints for the vector search
// backends plus the embedding endpoint.
type RetrievalBackends struct {
	PineconeAPIKey string       `yaml:"pinecone_api_key" json:"pinecone_api_key,omitempty"`
	ChromaURL      string       `yaml:"chroma_url" json:"chroma_url,omitempty" jsonschema:"default=http://localhost:8000"`
	PgvectorURL    string       `yaml:"pgvector_url" json:"pgvector_url,omitempty" jsonschema:"description=pgvector REST sidecar URL"`
	ChromemPath    string       `yaml:"chromem_path" json:"chromem_path,omitempty" jsonschema:"description=Persistence path for the embedded store (in-memory when empty)"`
	Qdrant         QdrantConfig `yaml:"qdrant" json:"qdrant,omitempty"`
	EmbedURL       string       `yaml:"embed_url" json:"embed_url,omitempty" jsonschema:"description=Embedding endpoint URL"`
	EmbedAPIKey    string       `yaml:"embed_api_key" json:"embed_api_key,omitempty"`
}

// QdrantConfig configures the qdrant gRPC client.
type QdrantConfig struct {
	Host   string `yaml:"host" json:"host,omitempty" jsonschema:"default=localhost"`
	Port   int    `yaml:"port" json:"port,omitempty" jsonschema:"default=6334"`
	APIKey string `yaml:"api_key" json:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls" json:"use_tls,omitempty"`
}

// TasksConfig controls the async task executor.
type TasksConfig struct {
	// MaxAge is how long completed and failed tasks are kept.
	MaxAge time.Duration `yaml:"max_age" json:"max_age,omitempty" jsonschema:"default=1h"`

	// GCInterval is how often old tasks are collected.
	GCInterval time.Duration `yaml:"gc_interval" json:"gc_interval,omitempty" jsonschema:"default=10m"`

	// StepLimit caps LLM calls per agent turn, fleet-wide.
	StepLimit int `yaml:"step_limit" json:"step_limit,omitempty" jsonschema:"minimum=1,default=5"`
}

// SessionConfig controls conversation history storage.
type SessionConfig struct {
	// Backend selects the store: "memory" or "database".
	Backend string `yaml:"backend" json:"backend,omitempty" jsonschema:"enum=memory,enum=database,default=memory"`

	// Database is required when Backend is "database".
	Database *DatabaseConfig `yaml:"database" json:"database,omitempty"`

	// MaxHistoryTokens bounds the history replayed into a turn.
	MaxHistoryTokens int `yaml:"max_history_tokens" json:"max_history_tokens,omitempty" jsonschema:"minimum=0,default=4000"`
}

// ObservabilityConfig controls metrics and tracing.
type ObservabilityConfig struct {
	ServiceName    string `yaml:"service_name" json:"service_name,omitempty" jsonschema:"default=atrium"`
	MetricsEnabled *bool  `yaml:"metrics_enabled" json:"metrics_enabled,omitempty" jsonschema:"default=true"`
	TracingEnabled bool   `yaml:"tracing_enabled" json:"tracing_enabled,omitempty"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" json:"otlp_endpoint,omitempty" jsonschema:"description=OTLP gRPC endpoint for trace export"`
}

// MetricsOn reports whether metrics are enabled (the default).
func (c *ObservabilityConfig) MetricsOn() bool {
	return c.MetricsEnabled == nil || *c.MetricsEnabled
}

// SetDefaults applies defaults to all sections. API keys fall back to the
// conventional environment variables.
func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.AgentsDir == "" {
		c.AgentsDir = "./agents"
	}
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "simple"
	}

	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.LLM.DefaultModel == "" {
		c.LLM.DefaultModel = "gemini-2.5-flash"
	}
	if c.LLM.DefaultTemperature == 0 {
		c.LLM.DefaultTemperature = 0.7
	}
	if c.LLM.DefaultMaxTokens == 0 {
		c.LLM.DefaultMaxTokens = 4096
	}

	if c.Retrieval.PineconeAPIKey == "" {
		c.Retrieval.PineconeAPIKey = os.Getenv("PINECONE_API_KEY")
	}
	if c.Retrieval.ChromaURL == "" {
		c.Retrieval.ChromaURL = "http://localhost:8000"
	}
	if c.Retrieval.Qdrant.Host == "" {
		c.Retrieval.Qdrant.Host = "localhost"
	}
	if c.Retrieval.Qdrant.Port == 0 {
		c.Retrieval.Qdrant.Port = 6334
	}
	if c.Retrieval.EmbedURL == "" {
		c.Retrieval.EmbedURL = "https://generativelanguage.googleapis.com/v1beta/models/text-embedding-004:embedContent"
	}
	if c.Retrieval.EmbedAPIKey == "" {
		c.Retrieval.EmbedAPIKey = c.LLM.APIKey
	}

	if c.Tasks.MaxAge == 0 {
		c.Tasks.MaxAge = time.Hour
	}
	if c.Tasks.GCInterval == 0 {
		c.Tasks.GCInterval = 10 * time.Minute
	}
	if c.Tasks.StepLimit == 0 {
		c.Tasks.StepLimit = 5
	}

	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	if c.Session.MaxHistoryTokens == 0 {
		c.Session.MaxHistoryTokens = 4000
	}
	if c.Session.Database != nil {
		c.Session.Database.SetDefaults()
	}

	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "atrium"
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "simple", "verbose", "json":
	default:
		return fmt.Errorf("invalid log format %q (valid: simple, verbose, json)", c.Log.Format)
	}

	if c.LLM.DefaultTemperature < 0 || c.LLM.DefaultTemperature > 2 {
		return fmt.Errorf("llm.default_temperature must be between 0 and 2, got %g", c.LLM.DefaultTemperature)
	}
	if c.LLM.DefaultMaxTokens < 1 {
		return fmt.Errorf("llm.default_max_tokens must be positive, got %d", c.LLM.DefaultMaxTokens)
	}

	if c.Tasks.StepLimit < 1 {
		return fmt.Errorf("tasks.step_limit must be at least 1, got %d", c.Tasks.StepLimit)
	}
	if c.Tasks.MaxAge < 0 {
		return fmt.Errorf("tasks.max_age must be non-negative")
	}
	if c.Tasks.GCInterval < 0 {
		return fmt.Errorf("tasks.gc_interval must be non-negative")
	}

	switch c.Session.Backend {
	case "memory":
	case "database":
		if c.Session.Database == nil {
			return fmt.Errorf("session.database is required when session.backend is %q", c.Session.Backend)
		}
		if err := c.Session.Database.Validate(); err != nil {
			return fmt.Errorf("session.database: %w", err)
		}
	default:
		return fmt.Errorf("invalid session backend %q (valid: memory, database)", c.Session.Backend)
	}

	return nil
}

// ListenAddr returns the host:port pair to bind.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PublicURL returns the base URL with any trailing slash stripped.
func (c *Config) PublicURL() string {
	return strings.TrimRight(c.BaseURL, "/")
}
