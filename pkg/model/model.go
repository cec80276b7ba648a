// Package model defines the LLM abstraction shared by all providers.
//
// A single GenerateContent method covers both modes: non-streaming calls
// yield exactly one Response, streaming calls yield partial Responses
// (Partial=true) followed by one aggregated Response (Partial=false) that
// is suitable for session persistence. Conversation history is carried as
// a2a messages; tool calls and results ride along as data parts (see
// message.go).
package model

import (
	"context"
	"iter"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/atriumhq/atrium/pkg/tool"
)

// LLM is the interface for language models.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	// Provider returns the provider type, used for provider-specific
	// message formatting.
	Provider() Provider

	// GenerateContent produces responses for the given request.
	//
	// When stream is false the iterator yields exactly one Response with
	// complete content. When stream is true it yields partial Responses
	// for display followed by the aggregated final Response.
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]

	// Close releases any resources held by the LLM.
	Close() error
}

// Provider identifies the LLM provider kind.
type Provider string

const (
	// ProviderGemini is the native provider backed by the genai SDK.
	ProviderGemini Provider = "gemini"

	// ProviderOpenAICompatible speaks the chat-completions wire format
	// against a configured base URL.
	ProviderOpenAICompatible Provider = "openai-compatible"
)

// Request contains the input for an LLM call.
type Request struct {
	// Messages is the conversation history.
	Messages []*a2a.Message

	// Tools available for the model to call.
	Tools []tool.Definition

	// Config contains generation configuration.
	Config *GenerateConfig

	// SystemInstruction is prepended to the conversation.
	SystemInstruction string
}

// GenerateConfig contains generation configuration.
type GenerateConfig struct {
	// Temperature controls randomness (0-2).
	Temperature *float64

	// MaxTokens limits the response length.
	MaxTokens *int
}

// Clone returns a copy that can be modified without sharing pointers with
// the original.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Temperature != nil {
		temp := *c.Temperature
		clone.Temperature = &temp
	}
	if c.MaxTokens != nil {
		maxTokens := *c.MaxTokens
		clone.MaxTokens = &maxTokens
	}
	return &clone
}

// Response contains the result of an LLM call.
type Response struct {
	// Content is the generated content.
	Content *Content

	// Partial marks a streaming chunk. The aggregated final response of a
	// stream has Partial=false.
	Partial bool

	// TurnComplete indicates the model has finished its turn.
	TurnComplete bool

	// ToolCalls requested by the model.
	ToolCalls []tool.ToolCall

	// Usage statistics, when the provider reports them.
	Usage *Usage

	// FinishReason indicates why generation stopped.
	FinishReason FinishReason
}

// Content is the content of a response.
type Content struct {
	Parts []a2a.Part
	Role  a2a.MessageRole
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishReasonStop   FinishReason = "stop"
	FinishReasonLength FinishReason = "length"
	FinishReasonError  FinishReason = "error"

	// FinishReasonToolCalls never surfaces to clients; the agent loop
	// consumes it and continues the turn.
	FinishReasonToolCalls FinishReason = "tool-calls"

	// FinishReasonSteps is set by the agent loop when the per-turn step
	// cap is reached.
	FinishReasonSteps FinishReason = "steps"
)

// TextContent extracts the concatenated text parts of a response.
func (r *Response) TextContent() string {
	if r == nil || r.Content == nil {
		return ""
	}
	var text string
	for _, part := range r.Content.Parts {
		if tp, ok := part.(a2a.TextPart); ok {
			text += tp.Text
		}
	}
	return text
}

// HasToolCalls reports whether the response requests tool calls.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// ToMessage converts a Response into an a2a message for history.
func (r *Response) ToMessage() *a2a.Message {
	if r == nil || r.Content == nil {
		return nil
	}
	return a2a.NewMessage(r.Content.Role, r.Content.Parts...)
}
