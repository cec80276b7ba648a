// Package agent hosts the per-agent chat runtime: tool sources, retrieval,
// delegation, and the step-capped tool loop that drives the model.
//
// Agents are constructed cheaply from validated configs and connect to
// their tool sources lazily on first use. A failed initialization leaves
// the agent uninitialized so the next turn retries it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/atriumhq/atrium/pkg/config"
	"github.com/atriumhq/atrium/pkg/model"
	"github.com/atriumhq/atrium/pkg/rag"
	"github.com/atriumhq/atrium/pkg/session"
	"github.com/atriumhq/atrium/pkg/tool"
)

const defaultStepLimit = 5

// Resolver looks up co-hosted agents by path for delegation. The agent
// registry satisfies it.
type Resolver interface {
	Get(path string) (*Agent, error)
}

// Options carries the runtime dependencies an agent cannot build from its
// config alone.
type Options struct {
	// LLM is the model the agent talks to. Required.
	LLM model.LLM

	// Sessions stores conversation history. Nil disables history.
	Sessions session.Service

	// Resolver resolves delegation targets. Nil disables delegation even
	// when the config enables it.
	Resolver Resolver

	// NewSource opens a connection to one configured tool source.
	NewSource func(config.ToolSourceConfig) (tool.Source, error)

	// NewSearcher builds the retrieval searcher when retrieval is enabled.
	NewSearcher func(*config.RetrievalConfig) (*rag.Searcher, error)

	// Rules extend the built-in dynamic tool rules.
	Rules []DynamicRule

	// StepLimit caps LLM calls per turn. Defaults to 5.
	StepLimit int

	// MaxHistoryTokens bounds replayed history. Zero or negative disables
	// trimming.
	MaxHistoryTokens int
}

// Agent runs chat turns for one hosted agent config.
type Agent struct {
	cfg           *config.AgentConfig
	sessions      session.Service
	resolver      Resolver
	newSource     func(config.ToolSourceConfig) (tool.Source, error)
	newSearcher   func(*config.RetrievalConfig) (*rag.Searcher, error)
	rules         []DynamicRule
	stepLimit     int
	historyTokens int

	mu          sync.Mutex
	llm         model.LLM
	initialized bool
	static      *tool.Set
	sources     []tool.Source
	searcher    *rag.Searcher
}

// New builds an agent from a validated config. No connections are opened
// until the first turn.
func New(cfg *config.AgentConfig, opts Options) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("agent config is required")
	}
	if opts.LLM == nil {
		return nil, errors.New("llm is required")
	}
	stepLimit := opts.StepLimit
	if stepLimit <= 0 {
		stepLimit = defaultStepLimit
	}
	rules := append([]DynamicRule{pageContextRule}, opts.Rules...)
	return &Agent{
		cfg:           cfg,
		llm:           opts.LLM,
		sessions:      opts.Sessions,
		resolver:      opts.Resolver,
		newSource:     opts.NewSource,
		newSearcher:   opts.NewSearcher,
		rules:         rules,
		stepLimit:     stepLimit,
		historyTokens: opts.MaxHistoryTokens,
	}, nil
}

// ID returns the agent's fleet-wide identifier.
func (a *Agent) ID() string { return a.cfg.ID }

// Path returns the URL path segment the agent is served under.
func (a *Agent) Path() string { return a.cfg.Path }

// Config returns the agent's validated config.
func (a *Agent) Config() *config.AgentConfig { return a.cfg }

// runtime is the snapshot of initialized state a turn runs against, taken
// under the lock so a concurrent Shutdown cannot pull fields out from
// under a running turn.
type runtime struct {
	llm      model.LLM
	tools    *tool.Set
	searcher *rag.Searcher
}

// runtime initializes the agent if needed and returns the live state.
// Initialization holds the lock, so concurrent first turns serialize and
// the losers reuse the winner's connections.
func (a *Agent) runtime(ctx context.Context) (*runtime, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.llm == nil {
		return nil, errors.New("agent has been shut down")
	}
	if !a.initialized {
		if err := a.initLocked(ctx); err != nil {
			return nil, err
		}
	}
	return &runtime{llm: a.llm, tools: a.static, searcher: a.searcher}, nil
}

// initLocked connects tool sources, builds the searcher, and registers
// delegation tools. Caller holds a.mu. On error nothing is retained, so
// the next turn retries from scratch.
func (a *Agent) initLocked(ctx context.Context) error {
	static := tool.NewSet()
	var sources []tool.Source

	if a.cfg.ToolsEnabled() {
		for _, cs := range a.connectSources(ctx) {
			sources = append(sources, cs.src)
			for _, decl := range cs.decls {
				if err := static.Add(tool.FromDeclaration(cs.src, decl)); err != nil {
					slog.Warn("Skipping duplicate tool", "agent", a.cfg.ID, "source", cs.src.ID(), "tool", decl.Name)
				}
			}
		}

		if a.cfg.DelegationEnabled() {
			if a.resolver == nil {
				slog.Warn("Delegation enabled but no resolver configured", "agent", a.cfg.ID)
			} else {
				for _, target := range a.cfg.Delegation.Targets {
					if err := static.Add(delegationTool(target, a.resolver)); err != nil {
						slog.Warn("Skipping duplicate delegation tool", "agent", a.cfg.ID, "tool", target.ToolName)
					}
				}
			}
		}
	}

	var searcher *rag.Searcher
	if a.cfg.RetrievalEnabled() && a.newSearcher != nil {
		s, err := a.newSearcher(a.cfg.Retrieval)
		if err != nil {
			for _, src := range sources {
				_ = src.Close()
			}
			return fmt.Errorf("failed to build retrieval searcher: %w", err)
		}
		searcher = s
	}

	a.static = static
	a.sources = sources
	a.searcher = searcher
	a.initialized = true
	slog.Info("Agent initialized",
		"agent", a.cfg.ID,
		"tools", static.Len(),
		"sources", len(sources),
		"retrieval", searcher != nil)
	return nil
}

// connectedSource pairs an open source with its declared tools.
type connectedSource struct {
	src   tool.Source
	decls []tool.Declaration
}

// connectSources opens every configured source in parallel. Failures are
// logged and dropped; the turn proceeds with whatever connected. Results
// keep config order so tool registration stays deterministic.
func (a *Agent) connectSources(ctx context.Context) []connectedSource {
	results := make([]*connectedSource, len(a.cfg.ToolSources))
	g, gctx := errgroup.WithContext(ctx)
	for i, sc := range a.cfg.ToolSources {
		g.Go(func() error {
			src, err := a.newSource(sc)
			if err != nil {
				slog.Warn("Skipping tool source", "agent", a.cfg.ID, "source", sc.ID, "error", err)
				return nil
			}
			decls, err := src.ListTools(gctx)
			if err != nil {
				slog.Warn("Tool source unavailable", "agent", a.cfg.ID, "source", sc.ID, "error", err)
				_ = src.Close()
				return nil
			}
			results[i] = &connectedSource{src: src, decls: decls}
			return nil
		})
	}
	_ = g.Wait()

	connected := make([]connectedSource, 0, len(results))
	for _, r := range results {
		if r != nil {
			connected = append(connected, *r)
		}
	}
	return connected
}

// Shutdown closes the agent's tool sources, retrieval provider, and model
// client. Subsequent turns fail; the registry drops the agent afterwards.
func (a *Agent) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, src := range a.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tool source %s: %w", src.ID(), err))
		}
	}
	a.sources = nil
	if a.searcher != nil {
		if err := a.searcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("retrieval provider: %w", err))
		}
		a.searcher = nil
	}
	if a.llm != nil {
		if err := a.llm.Close(); err != nil {
			errs = append(errs, fmt.Errorf("llm: %w", err))
		}
		a.llm = nil
	}
	a.static = nil
	a.initialized = false
	return errors.Join(errs...)
}
