package tool

import (
	"context"
	"fmt"
)

// Declaration is a tool as described by an external source.
type Declaration struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Result is the raw outcome of a source-side tool call.
type Result struct {
	Content string
	IsError bool
}

// Source is a long-lived connection to an external tool provider.
type Source interface {
	// ID returns the configured source id.
	ID() string

	// ListTools returns the tools the source currently exposes.
	ListTools(ctx context.Context) ([]Declaration, error)

	// CallTool invokes a source-side tool by its declared name.
	CallTool(ctx context.Context, name string, args map[string]any) (Result, error)

	// Close terminates the connection. Safe to call more than once.
	Close() error
}

// FromDeclaration translates a declared tool into a Tool that forwards
// calls to its source. The translated name is "<sourceID>_<name>" so tools
// from different sources cannot collide.
func FromDeclaration(src Source, decl Declaration) Tool {
	name := src.ID() + "_" + decl.Name
	description := decl.Description
	if description == "" {
		description = "Tool: " + name
	}
	return &sourceTool{
		src:         src,
		remote:      decl.Name,
		name:        name,
		description: description,
		params:      ParseSchema(decl.InputSchema),
	}
}

// sourceTool forwards calls to a Source under the source-side tool name.
type sourceTool struct {
	src         Source
	remote      string
	name        string
	description string
	params      *ArgSpec
}

func (t *sourceTool) Name() string        { return t.name }
func (t *sourceTool) Description() string { return t.description }

func (t *sourceTool) Definition() Definition {
	return Definition{Name: t.name, Description: t.description, Parameters: t.params}
}

// Call validates args, forwards them to the source and turns a source-side
// error flag into an ordinary error.
func (t *sourceTool) Call(ctx context.Context, args map[string]any) (string, error) {
	if err := t.params.ValidateArgs(args); err != nil {
		return "", err
	}
	res, err := t.src.CallTool(ctx, t.remote, args)
	if err != nil {
		return "", err
	}
	if res.IsError {
		msg := res.Content
		if msg == "" {
			msg = "unknown error"
		}
		return "", fmt.Errorf("%s: %s", t.remote, msg)
	}
	return res.Content, nil
}

var _ Tool = (*sourceTool)(nil)
