package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/atriumhq/atrium/pkg/agent"
	"github.com/atriumhq/atrium/pkg/config"
	"github.com/atriumhq/atrium/pkg/config/provider"
	"github.com/atriumhq/atrium/pkg/embedder"
	"github.com/atriumhq/atrium/pkg/model"
	"github.com/atriumhq/atrium/pkg/model/gemini"
	"github.com/atriumhq/atrium/pkg/model/openaicompat"
	"github.com/atriumhq/atrium/pkg/observability"
	"github.com/atriumhq/atrium/pkg/rag"
	"github.com/atriumhq/atrium/pkg/registry"
	"github.com/atriumhq/atrium/pkg/server"
	"github.com/atriumhq/atrium/pkg/session"
	"github.com/atriumhq/atrium/pkg/task"
	"github.com/atriumhq/atrium/pkg/tool"
	"github.com/atriumhq/atrium/pkg/tool/mcp"
	"github.com/atriumhq/atrium/pkg/vector"
)

// ServeCmd starts the agent host server.
type ServeCmd struct {
	Port  int  `help:"Override the configured listen port."`
	Watch bool `help:"Watch the config source for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down")
		cancel()
	}()

	cfg, loader, err := loadServerConfig(ctx, cli)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	// One pool per process; the session service and any other
	// database-backed component share a connection per DSN.
	pool := config.NewDBPool()
	defer pool.Close()

	sessions, err := session.New(&cfg.Session, pool)
	if err != nil {
		return fmt.Errorf("failed to create session service: %w", err)
	}

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to set up observability: %w", err)
	}

	agents, err := registry.NewAgentRegistry(cfg.LLM, agentFactory(cfg, sessions))
	if err != nil {
		return err
	}
	if err := agents.LoadAll(cfg.AgentsDir); err != nil {
		return err
	}

	executor := task.NewExecutor(agents, task.Options{
		MaxAge:     cfg.Tasks.MaxAge,
		GCInterval: cfg.Tasks.GCInterval,
	})

	version, _ := buildVersion()
	srv, err := server.New(cfg, server.Options{
		Registry:      agents,
		Executor:      executor,
		Observability: obs,
		Version:       version,
	})
	if err != nil {
		return err
	}
	executor.Start()

	printStartupInfo(cfg, agents)

	// Start blocks until ctx is cancelled and drains in-flight requests
	// before returning. The layers behind the HTTP surface come down
	// after it, the registry last so running turns keep their delegation
	// targets.
	err = srv.Start(ctx)

	executor.Stop()
	agents.ShutdownAll()
	if obsErr := obs.Shutdown(context.Background()); obsErr != nil {
		slog.Warn("Observability shutdown", "error", obsErr)
	}
	return err
}

// loadServerConfig loads the config from the source selected by the global
// flags, or falls back to pure defaults when no file is named.
func loadServerConfig(ctx context.Context, cli *CLI) (*config.Config, *config.Loader, error) {
	sourceType, err := provider.ParseType(cli.ConfigType)
	if err != nil {
		return nil, nil, err
	}

	if cli.Config == "" && sourceType == provider.TypeFile {
		cfg, err := config.DefaultConfig()
		if err != nil {
			return nil, nil, err
		}
		slog.Info("No config file given, using defaults")
		return cfg, nil, nil
	}

	cfg, loader, err := config.LoadConfig(ctx, provider.Options{Type: sourceType, Path: cli.Config})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Configuration loaded", "source", string(sourceType), "path", cli.Config)
	return cfg, loader, nil
}

// agentFactory wires the per-agent runtime: the model client for the
// agent's provider, MCP tool sources, the shared session service, and the
// retrieval searcher against the configured backends.
func agentFactory(cfg *config.Config, sessions session.Service) registry.AgentFactory {
	return func(ac *config.AgentConfig, resolver agent.Resolver) (*agent.Agent, error) {
		llm, err := buildLLM(cfg, ac)
		if err != nil {
			return nil, err
		}
		return agent.New(ac, agent.Options{
			LLM:              llm,
			Sessions:         sessions,
			Resolver:         resolver,
			NewSource:        newToolSource,
			NewSearcher:      newSearcher(cfg.Retrieval),
			StepLimit:        cfg.Tasks.StepLimit,
			MaxHistoryTokens: cfg.Session.MaxHistoryTokens,
		})
	}
}

// buildLLM picks the model client for one agent config.
func buildLLM(cfg *config.Config, ac *config.AgentConfig) (model.LLM, error) {
	switch ac.Provider {
	case config.ProviderOpenAICompatible:
		return openaicompat.New(openaicompat.Config{
			BaseURL: ac.ProviderConfig.BaseURL,
			APIKey:  ac.ProviderConfig.APIKey,
			Model:   ac.Model,
			Headers: ac.ProviderConfig.Headers,
		})
	default:
		return gemini.New(gemini.Config{
			APIKey:  cfg.LLM.APIKey,
			Model:   ac.Model,
			BaseURL: cfg.LLM.BaseURL,
		})
	}
}

func newToolSource(sc config.ToolSourceConfig) (tool.Source, error) {
	return mcp.New(mcp.Config{
		ID:        sc.ID,
		Transport: sc.Transport,
		Command:   sc.Command,
		Args:      sc.Args,
		URL:       sc.URL,
		Headers:   sc.Headers,
	})
}

// newSearcher builds retrieval wiring against the server-wide backends.
// Connections open lazily inside the providers, so building a searcher for
// a misconfigured backend fails on first use, not at load.
func newSearcher(backends config.RetrievalBackends) func(*config.RetrievalConfig) (*rag.Searcher, error) {
	return func(rc *config.RetrievalConfig) (*rag.Searcher, error) {
		emb, err := embedder.New(embedder.Config{
			URL:    backends.EmbedURL,
			APIKey: backends.EmbedAPIKey,
		})
		if err != nil {
			return nil, err
		}
		prov, err := vector.NewProvider(rc, backends)
		if err != nil {
			return nil, err
		}
		return rag.NewSearcher(rc, emb, prov)
	}
}

func printStartupInfo(cfg *config.Config, agents *registry.AgentRegistry) {
	fmt.Printf("\nAtrium server ready\n")
	fmt.Printf("   Listen:      http://%s\n", cfg.ListenAddr())
	fmt.Printf("   Discovery:   %s/.well-known/agent.json\n", cfg.PublicURL())
	fmt.Printf("   Health:      %s/health\n", cfg.PublicURL())
	if cfg.Observability.MetricsOn() {
		fmt.Printf("   Metrics:     %s/metrics\n", cfg.PublicURL())
	}
	if cfg.Session.Backend == "database" {
		fmt.Printf("   Sessions:    persistent (%s)\n", cfg.Session.Database.Driver)
	} else {
		fmt.Printf("   Sessions:    in-memory\n")
	}

	fmt.Printf("\n   Agents:\n")
	for _, a := range agents.List() {
		fmt.Printf("     - %s/agents/%s\n", cfg.PublicURL(), a.Path)
	}
	fmt.Println("\nPress Ctrl+C to stop")
}
