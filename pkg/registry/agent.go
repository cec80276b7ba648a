package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/atriumhq/atrium/pkg/agent"
	"github.com/atriumhq/atrium/pkg/config"
)

// AgentFactory builds the runtime for one validated config. The resolver
// is the registry itself, handed through so delegation tools can look up
// sibling agents.
type AgentFactory func(cfg *config.AgentConfig, resolver agent.Resolver) (*agent.Agent, error)

// AgentSummary is the listing shape for one agent.
type AgentSummary struct {
	Path        string `json:"path"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// entry pairs an agent with the config it was built from.
type entry struct {
	cfg   *config.AgentConfig
	agent *agent.Agent
}

// AgentRegistry holds the hosted fleet, keyed by serving path. Agents are
// registered with their connections unopened; the runtime connects on
// first use.
type AgentRegistry struct {
	llm     config.LLMConfig
	factory AgentFactory
	entries *Registry[*entry]
	ids     *Registry[string]
}

// NewAgentRegistry creates an empty fleet. llm supplies server-wide model
// defaults applied to configs that leave them unset.
func NewAgentRegistry(llm config.LLMConfig, factory AgentFactory) (*AgentRegistry, error) {
	if factory == nil {
		return nil, errors.New("agent factory is required")
	}
	return &AgentRegistry{
		llm:     llm,
		factory: factory,
		entries: New[*entry](),
		ids:     New[string](),
	}, nil
}

// LoadAll registers every *.json agent config in dir. A missing directory
// yields an empty fleet; any unreadable, invalid, or conflicting config
// fails the whole load.
func (r *AgentRegistry) LoadAll(dir string) error {
	files, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Agents directory does not exist, starting with no agents", "dir", dir)
		return nil
	}
	if err != nil {
		return configError(fmt.Sprintf("failed to read agents directory %s", dir), err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		cfg, err := config.LoadAgentConfig(filepath.Join(dir, file.Name()), r.llm)
		if err != nil {
			return configError(fmt.Sprintf("failed to load %s", file.Name()), err)
		}
		if err := r.register(cfg); err != nil {
			return err
		}
	}

	slog.Info("Agent fleet loaded", "dir", dir, "agents", r.Count())
	return nil
}

// Register validates uniqueness and adds one agent to the fleet.
func (r *AgentRegistry) Register(cfg *config.AgentConfig) error {
	if cfg == nil {
		return configError("agent config is required", nil)
	}
	return r.register(cfg)
}

func (r *AgentRegistry) register(cfg *config.AgentConfig) error {
	if err := r.ids.Register(cfg.ID, cfg.Path); err != nil {
		return configError(fmt.Sprintf("duplicate agent id %q", cfg.ID), nil)
	}
	a, err := r.factory(cfg, r)
	if err != nil {
		_ = r.ids.Remove(cfg.ID)
		return configError(fmt.Sprintf("failed to create agent %q", cfg.ID), err)
	}
	if err := r.entries.Register(cfg.Path, &entry{cfg: cfg, agent: a}); err != nil {
		_ = r.ids.Remove(cfg.ID)
		return configError(fmt.Sprintf("duplicate agent path %q", cfg.Path), nil)
	}
	return nil
}

// Get returns the agent served at path.
func (r *AgentRegistry) Get(path string) (*agent.Agent, error) {
	e, ok := r.entries.Get(path)
	if !ok {
		return nil, notFound(path)
	}
	return e.agent, nil
}

// GetConfig returns the validated config of the agent served at path.
func (r *AgentRegistry) GetConfig(path string) (*config.AgentConfig, error) {
	e, ok := r.entries.Get(path)
	if !ok {
		return nil, notFound(path)
	}
	return e.cfg, nil
}

// Has reports whether an agent is served at path.
func (r *AgentRegistry) Has(path string) bool {
	_, ok := r.entries.Get(path)
	return ok
}

// Count returns the fleet size.
func (r *AgentRegistry) Count() int {
	return r.entries.Count()
}

// List returns summaries of every agent, sorted by path.
func (r *AgentRegistry) List() []AgentSummary {
	entries := r.entries.List()
	summaries := make([]AgentSummary, 0, len(entries))
	for _, e := range entries {
		summaries = append(summaries, AgentSummary{
			Path:        e.cfg.Path,
			ID:          e.cfg.ID,
			Name:        e.cfg.Name,
			Description: e.cfg.Description,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Path < summaries[j].Path })
	return summaries
}

// ShutdownAll shuts down every agent, logging per-agent failures, then
// empties the fleet.
func (r *AgentRegistry) ShutdownAll() {
	for _, e := range r.entries.List() {
		if err := e.agent.Shutdown(); err != nil {
			slog.Warn("Agent shutdown failed", "agent", e.cfg.ID, "error", err)
		}
	}
	r.entries.Clear()
	r.ids.Clear()
}

var _ agent.Resolver = (*AgentRegistry)(nil)
