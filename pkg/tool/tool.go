// Package tool defines the tools agents expose to their models.
//
// A Tool pairs a function-calling definition with an executable body.
// Tools come from three places: external tool sources (declarations
// translated in source.go), delegation targets, and per-request dynamic
// rules. All of them satisfy the same interface so the agent loop treats
// them uniformly.
package tool

import (
	"context"
	"fmt"
)

// Tool is a capability the model can invoke during a turn.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns a human-readable description of what the tool
	// does. Shown to the model so it can decide when to call the tool.
	Description() string

	// Definition returns the function-calling declaration for this tool.
	Definition() Definition

	// Call executes the tool. The returned string is fed back to the
	// model as the tool result content.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Definition describes a tool for LLM function calling.
type Definition struct {
	Name        string
	Description string
	Parameters  *ArgSpec
}

// ToolCall represents a model's request to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult is the outcome of a tool invocation, used when building the
// conversation history.
type ToolResult struct {
	ToolCallID string
	Content    string
	Error      string
	Metadata   map[string]any
}

// Func adapts a plain function into a Tool.
type Func struct {
	name        string
	description string
	params      *ArgSpec
	fn          func(ctx context.Context, args map[string]any) (string, error)
}

// NewFunc builds a Tool from a name, description, argument spec and body.
// A nil spec means the tool takes no arguments.
func NewFunc(name, description string, params *ArgSpec, fn func(ctx context.Context, args map[string]any) (string, error)) *Func {
	return &Func{name: name, description: description, params: params, fn: fn}
}

func (f *Func) Name() string        { return f.name }
func (f *Func) Description() string { return f.description }

func (f *Func) Definition() Definition {
	return Definition{Name: f.name, Description: f.description, Parameters: f.params}
}

// Call validates args against the spec and runs the function.
func (f *Func) Call(ctx context.Context, args map[string]any) (string, error) {
	if err := f.params.ValidateArgs(args); err != nil {
		return "", err
	}
	return f.fn(ctx, args)
}

// Set is a name-keyed tool collection preserving insertion order, so the
// definitions sent to a model are deterministic. Mutation is not
// synchronized; build the set during agent initialization and treat it as
// read-only afterwards (per-turn additions go through Clone).
type Set struct {
	tools map[string]Tool
	order []string
}

// NewSet returns an empty tool set.
func NewSet() *Set {
	return &Set{tools: make(map[string]Tool)}
}

// Add registers a tool. Duplicate names are rejected.
func (s *Set) Add(t Tool) error {
	name := t.Name()
	if _, exists := s.tools[name]; exists {
		return fmt.Errorf("duplicate tool name: %s", name)
	}
	s.tools[name] = t
	s.order = append(s.order, name)
	return nil
}

// Get looks up a tool by name.
func (s *Set) Get(name string) (Tool, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// Len returns the number of tools in the set.
func (s *Set) Len() int {
	return len(s.order)
}

// Names returns the tool names in insertion order.
func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

// Definitions returns the function-calling declarations in insertion order.
func (s *Set) Definitions() []Definition {
	defs := make([]Definition, 0, len(s.order))
	for _, name := range s.order {
		defs = append(defs, s.tools[name].Definition())
	}
	return defs
}

// Clone returns a shallow copy that can be extended without affecting the
// receiver.
func (s *Set) Clone() *Set {
	clone := &Set{
		tools: make(map[string]Tool, len(s.tools)),
		order: append([]string(nil), s.order...),
	}
	for name, t := range s.tools {
		clone.tools[name] = t
	}
	return clone
}

var _ Tool = (*Func)(nil)
