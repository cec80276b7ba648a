package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/atriumhq/atrium/pkg/config"
)

// SchemaCmd prints the JSON Schema for a configuration type. Output goes
// to stdout so it can be redirected into editor and CI tooling.
type SchemaCmd struct {
	// Type selects which config struct to reflect.
	Type string `help:"Config type: server or agent." default:"server" enum:"server,agent"`

	// Compact disables indentation.
	Compact bool `help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		// Strict validation: flag unknown keys instead of ignoring them.
		AllowAdditionalProperties: false,
		// Inline all definitions (no $ref) for form-builder compatibility.
		DoNotReference: true,
	}

	var schema *jsonschema.Schema
	switch c.Type {
	case "agent":
		schema = reflector.Reflect(&config.AgentConfig{})
		schema.ID = "https://atrium.dev/schemas/agent.json"
		schema.Title = "Atrium Agent Configuration"
		schema.Description = "Schema for one hosted agent's JSON config file"
	default:
		schema = reflector.Reflect(&config.Config{})
		schema.ID = "https://atrium.dev/schemas/config.json"
		schema.Title = "Atrium Server Configuration"
		schema.Description = "Schema for the Atrium server configuration file"
	}
	schema.Version = "http://json-schema.org/draft-07/schema#"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
