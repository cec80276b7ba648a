package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/atriumhq/atrium/pkg/config"
)

// ValidateCmd validates the server config and every agent config file in
// its agents directory, printing one verdict per file.
type ValidateCmd struct {
	// Config is the server config file path. Falls back to the global
	// --config; with neither, the built-in defaults are checked.
	Config string `arg:"" optional:"" name:"config" help:"Server config file path." placeholder:"PATH"`

	// Format selects the verdict output format.
	Format string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()

	path := c.Config
	if path == "" {
		path = cli.Config
	}

	cfg, err := loadValidatedConfig(ctx, path)
	label := path
	if label == "" {
		label = "(defaults)"
	}
	if err != nil {
		printVerdict(c.Format, label, err)
		return fmt.Errorf("config validation failed")
	}
	printVerdict(c.Format, label, nil)

	failed, total, err := validateAgentDir(c.Format, cfg)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d agent configs invalid", failed, total)
	}
	return nil
}

func loadValidatedConfig(ctx context.Context, path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig()
	}
	cfg, loader, err := config.LoadConfigFile(ctx, path)
	if loader != nil {
		defer loader.Close()
	}
	return cfg, err
}

// validateAgentDir checks every *.json file in the agents directory the
// way the registry loads them, plus cross-file path and id uniqueness.
// A missing directory is fine; the server starts with an empty fleet.
func validateAgentDir(format string, cfg *config.Config) (failed, total int, err error) {
	entries, err := os.ReadDir(cfg.AgentsDir)
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read agents directory %s: %w", cfg.AgentsDir, err)
	}

	paths := make(map[string]string)
	ids := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		total++
		file := filepath.Join(cfg.AgentsDir, entry.Name())

		ac, err := config.LoadAgentConfig(file, cfg.LLM)
		if err != nil {
			printVerdict(format, file, err)
			failed++
			continue
		}
		if prev, ok := ids[ac.ID]; ok {
			printVerdict(format, file, fmt.Errorf("duplicate agent id %q (also used by %s)", ac.ID, prev))
			failed++
			continue
		}
		if prev, ok := paths[ac.Path]; ok {
			printVerdict(format, file, fmt.Errorf("duplicate agent path %q (also used by %s)", ac.Path, prev))
			failed++
			continue
		}
		ids[ac.ID] = file
		paths[ac.Path] = file
		printVerdict(format, file, nil)
	}
	return failed, total, nil
}

// verdict is the JSON output shape for one file.
type verdict struct {
	Valid bool   `json:"valid"`
	File  string `json:"file"`
	Error string `json:"error,omitempty"`
}

func printVerdict(format, file string, err error) {
	switch format {
	case "json":
		v := verdict{Valid: err == nil, File: file}
		if err != nil {
			v.Error = err.Error()
		}
		encoder := json.NewEncoder(os.Stdout)
		if encodeErr := encoder.Encode(v); encodeErr != nil {
			fmt.Fprintf(os.Stderr, "error encoding JSON: %v\n", encodeErr)
		}
	case "verbose":
		if err != nil {
			fmt.Fprintf(os.Stderr, "File:   %s\n", file)
			fmt.Fprintf(os.Stderr, "Status: INVALID\n")
			fmt.Fprintf(os.Stderr, "Error:  %s\n\n", err.Error())
			return
		}
		fmt.Fprintf(os.Stdout, "File:   %s\n", file)
		fmt.Fprintf(os.Stdout, "Status: valid\n\n")
	default: // compact
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", file, err.Error())
			return
		}
		fmt.Fprintf(os.Stdout, "%s: valid\n", file)
	}
}
