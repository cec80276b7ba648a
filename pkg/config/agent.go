package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// LLM provider kinds.
const (
	ProviderNative           = "native"
	ProviderOpenAICompatible = "openai-compatible"
)

// Tool source transports.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// Retrieval backend kinds.
const (
	RetrievalPinecone = "pinecone"
	RetrievalChroma   = "chroma"
	RetrievalPgvector = "pgvector"
	RetrievalChromem  = "chromem"
	RetrievalQdrant   = "qdrant"
)

// DefaultRetrievalTemplate is used when an agent enables retrieval without
// its own template.
const DefaultRetrievalTemplate = "## Relevant Context:\n\n{{context}}"

var pathPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// AgentConfig declares one hosted agent. Agent configs are JSON files in the
// agents directory; unknown fields are ignored.
type AgentConfig struct {
	// ID uniquely identifies the agent across the fleet.
	ID string `json:"id" yaml:"id" jsonschema:"title=ID,description=Unique agent identifier"`

	// Path is the URL path segment the agent is served under.
	// Lowercase letters, digits, and hyphens only.
	Path string `json:"path" yaml:"path" jsonschema:"title=Path,pattern=^[a-z0-9-]+$"`

	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Provider selects the LLM wire protocol: native or openai-compatible.
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty" jsonschema:"enum=native,enum=openai-compatible,default=native"`

	// Model names the model; the server default applies when empty.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// ProviderConfig is required when Provider is openai-compatible.
	ProviderConfig *ProviderEndpoint `json:"providerConfig,omitempty" yaml:"providerConfig,omitempty"`

	// Temperature in [0,2]. Defaults to 0.7; an explicit 0 is honored.
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" jsonschema:"minimum=0,maximum=2,default=0.7"`

	// MaxTokens caps the completion length. Defaults to 4096.
	MaxTokens int `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty" jsonschema:"minimum=1,default=4096"`

	// SystemPrompt is the agent's base prompt. Required.
	SystemPrompt string `json:"systemPrompt" yaml:"systemPrompt"`

	// EnableTools gates all tool use. Defaults to true.
	EnableTools *bool `json:"enableTools,omitempty" yaml:"enableTools,omitempty" jsonschema:"default=true"`

	ToolSources []ToolSourceConfig `json:"toolSources,omitempty" yaml:"toolSources,omitempty"`
	Discovery   *DiscoveryConfig   `json:"discovery,omitempty" yaml:"discovery,omitempty"`
	Retrieval   *RetrievalConfig   `json:"retrieval,omitempty" yaml:"retrieval,omitempty"`
	Delegation  *DelegationConfig  `json:"delegation,omitempty" yaml:"delegation,omitempty"`
}

// ProviderEndpoint points an agent at an OpenAI-compatible endpoint.
type ProviderEndpoint struct {
	BaseURL string            `json:"baseUrl" yaml:"baseUrl"`
	APIKey  string            `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ToolSourceConfig declares an external tool source attached to an agent.
type ToolSourceConfig struct {
	// ID prefixes the names of tools from this source.
	ID string `json:"id" yaml:"id"`

	// Transport is stdio, sse, or http.
	Transport string `json:"transport" yaml:"transport" jsonschema:"enum=stdio,enum=sse,enum=http"`

	// Command and Args spawn the child process for stdio sources.
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`

	// URL and Headers configure sse and http sources.
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// DiscoveryConfig controls the agent's presence in discovery cards.
type DiscoveryConfig struct {
	// Discoverable defaults to true.
	Discoverable *bool              `json:"discoverable,omitempty" yaml:"discoverable,omitempty" jsonschema:"default=true"`
	Capabilities []CapabilityConfig `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// CapabilityConfig declares one advertised capability.
type CapabilityConfig struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// RetrievalConfig enables vector retrieval for an agent's prompts.
type RetrievalConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Provider is pinecone, chroma, pgvector, chromem, or qdrant.
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty" jsonschema:"enum=pinecone,enum=chroma,enum=pgvector,enum=chromem,enum=qdrant"`

	// Index is the index, collection, or table searched.
	Index     string `json:"index,omitempty" yaml:"index,omitempty"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`

	// TopK results are fetched; defaults to 5.
	TopK int `json:"topK,omitempty" yaml:"topK,omitempty" jsonschema:"minimum=1,default=5"`

	// MinScore in [0,1] filters weak matches. Defaults to 0.
	MinScore float64 `json:"minScore,omitempty" yaml:"minScore,omitempty" jsonschema:"minimum=0,maximum=1"`

	// Template is injected into the system prompt; it must contain
	// {{context}}.
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
}

// DelegationConfig lets an agent call other agents as tools.
type DelegationConfig struct {
	Enabled bool               `json:"enabled" yaml:"enabled"`
	Targets []DelegationTarget `json:"targets,omitempty" yaml:"targets,omitempty"`
}

// DelegationTarget maps a target agent to a tool name.
type DelegationTarget struct {
	AgentPath   string `json:"agentPath" yaml:"agentPath"`
	ToolName    string `json:"toolName" yaml:"toolName"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ToolsEnabled reports whether tool use is on (the default).
func (c *AgentConfig) ToolsEnabled() bool {
	return c.EnableTools == nil || *c.EnableTools
}

// Discoverable reports whether the agent appears in discovery cards.
func (c *AgentConfig) Discoverable() bool {
	return c.Discovery == nil || c.Discovery.Discoverable == nil || *c.Discovery.Discoverable
}

// RetrievalEnabled reports whether retrieval is configured and on.
func (c *AgentConfig) RetrievalEnabled() bool {
	return c.Retrieval != nil && c.Retrieval.Enabled
}

// DelegationEnabled reports whether delegation is configured and on.
func (c *AgentConfig) DelegationEnabled() bool {
	return c.Delegation != nil && c.Delegation.Enabled
}

// SetDefaults fills unset fields. Model defaults come from the server
// config and are applied by the caller before SetDefaults.
func (c *AgentConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderNative
	}
	if c.Temperature == nil {
		t := 0.7
		c.Temperature = &t
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Retrieval != nil {
		if c.Retrieval.TopK == 0 {
			c.Retrieval.TopK = 5
		}
		if c.Retrieval.Template == "" {
			c.Retrieval.Template = DefaultRetrievalTemplate
		}
	}
}

// Validate checks the config after defaults are applied. Cross-agent
// uniqueness of IDs and paths is the registry's concern.
func (c *AgentConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	if !pathPattern.MatchString(c.Path) {
		return fmt.Errorf("path %q is invalid (lowercase letters, digits, and hyphens only)", c.Path)
	}

	switch c.Provider {
	case ProviderNative:
	case ProviderOpenAICompatible:
		if c.ProviderConfig == nil || c.ProviderConfig.BaseURL == "" {
			return fmt.Errorf("providerConfig.baseUrl is required for provider %q", c.Provider)
		}
	default:
		return fmt.Errorf("invalid provider %q (valid: native, openai-compatible)", c.Provider)
	}

	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", *c.Temperature)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("maxTokens must be positive, got %d", c.MaxTokens)
	}
	if c.SystemPrompt == "" {
		return fmt.Errorf("systemPrompt is required")
	}

	seenSources := make(map[string]bool)
	for i, src := range c.ToolSources {
		if err := src.Validate(); err != nil {
			return fmt.Errorf("toolSources[%d]: %w", i, err)
		}
		if seenSources[src.ID] {
			return fmt.Errorf("toolSources[%d]: duplicate source id %q", i, src.ID)
		}
		seenSources[src.ID] = true
	}

	if c.Discovery != nil {
		for i, capability := range c.Discovery.Capabilities {
			if capability.ID == "" {
				return fmt.Errorf("discovery.capabilities[%d]: id is required", i)
			}
		}
	}

	if c.Retrieval != nil && c.Retrieval.Enabled {
		if err := c.Retrieval.Validate(); err != nil {
			return fmt.Errorf("retrieval: %w", err)
		}
	}

	if c.Delegation != nil && c.Delegation.Enabled {
		if err := c.Delegation.Validate(); err != nil {
			return fmt.Errorf("delegation: %w", err)
		}
	}

	return nil
}

// Validate checks one tool source declaration.
func (s *ToolSourceConfig) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	switch s.Transport {
	case TransportStdio:
		if s.Command == "" {
			return fmt.Errorf("command is required for stdio transport")
		}
	case TransportSSE, TransportHTTP:
		if s.URL == "" {
			return fmt.Errorf("url is required for %s transport", s.Transport)
		}
	default:
		return fmt.Errorf("invalid transport %q (valid: stdio, sse, http)", s.Transport)
	}
	return nil
}

// Validate checks retrieval settings; called only when enabled.
func (r *RetrievalConfig) Validate() error {
	switch r.Provider {
	case RetrievalPinecone, RetrievalChroma, RetrievalPgvector, RetrievalChromem, RetrievalQdrant:
	default:
		return fmt.Errorf("invalid provider %q (valid: pinecone, chroma, pgvector, chromem, qdrant)", r.Provider)
	}
	if r.Index == "" {
		return fmt.Errorf("index is required")
	}
	if r.TopK < 1 {
		return fmt.Errorf("topK must be at least 1, got %d", r.TopK)
	}
	if r.MinScore < 0 || r.MinScore > 1 {
		return fmt.Errorf("minScore must be between 0 and 1, got %g", r.MinScore)
	}
	if !strings.Contains(r.Template, "{{context}}") {
		return fmt.Errorf("template must contain {{context}}")
	}
	return nil
}

// Validate checks delegation targets; called only when enabled.
func (d *DelegationConfig) Validate() error {
	seen := make(map[string]bool)
	for i, target := range d.Targets {
		if target.AgentPath == "" {
			return fmt.Errorf("targets[%d]: agentPath is required", i)
		}
		if target.ToolName == "" {
			return fmt.Errorf("targets[%d]: toolName is required", i)
		}
		if seen[target.ToolName] {
			return fmt.Errorf("targets[%d]: duplicate toolName %q", i, target.ToolName)
		}
		seen[target.ToolName] = true
	}
	return nil
}

// LoadAgentConfig reads, defaults, and validates one agent config file.
// Unset model fields inherit from llm before validation.
func LoadAgentConfig(path string, llm LLMConfig) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent config %s: %w", path, err)
	}

	cfg := &AgentConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse agent config %s: %w", path, err)
	}

	cfg.ApplyServerDefaults(llm)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyServerDefaults fills model settings an agent left unset from the
// server-wide defaults.
func (c *AgentConfig) ApplyServerDefaults(llm LLMConfig) {
	if c.Model == "" {
		c.Model = llm.DefaultModel
	}
	if c.Temperature == nil && llm.DefaultTemperature != 0 {
		t := llm.DefaultTemperature
		c.Temperature = &t
	}
	if c.MaxTokens == 0 && llm.DefaultMaxTokens != 0 {
		c.MaxTokens = llm.DefaultMaxTokens
	}
}
