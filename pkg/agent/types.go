package agent

import (
	"github.com/atriumhq/atrium/pkg/model"
	"github.com/atriumhq/atrium/pkg/tool"
)

// ChatInput is one user turn.
type ChatInput struct {
	// Message is the user's text. Required.
	Message string `json:"message"`

	// ConversationID keys the stored history this turn continues.
	ConversationID string `json:"conversationId,omitempty"`

	// Metadata carries request-scoped hints, such as pageContext.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ChatOutput is the complete result of a turn.
type ChatOutput struct {
	Text         string     `json:"text"`
	ToolCalls    []ToolCall `json:"toolCalls,omitempty"`
	Usage        *Usage     `json:"usage,omitempty"`
	FinishReason string     `json:"finishReason"`
}

// ToolCall is a model-requested tool invocation on the wire.
type ToolCall struct {
	ID       string         `json:"id"`
	ToolName string         `json:"toolName"`
	Args     map[string]any `json:"args,omitempty"`
}

// ToolResult reports one executed tool call on the wire.
type ToolResult struct {
	ID     string `json:"id"`
	Result string `json:"result"`
}

// Usage aggregates token counts across the steps of a turn.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Chunk types emitted while streaming a turn.
const (
	ChunkTypeText       = "text"
	ChunkTypeToolCall   = "tool-call"
	ChunkTypeToolResult = "tool-result"
	ChunkTypeError      = "error"
	ChunkTypeFinish     = "finish"
)

// ChatChunk is one streaming event. Exactly one of the payload fields is
// set, selected by Type.
type ChatChunk struct {
	Type         string      `json:"type"`
	Content      string      `json:"content,omitempty"`
	ToolCall     *ToolCall   `json:"toolCall,omitempty"`
	ToolResult   *ToolResult `json:"toolResult,omitempty"`
	FinishReason string      `json:"finishReason,omitempty"`
	Usage        *Usage      `json:"usage,omitempty"`
}

func textChunk(text string) *ChatChunk {
	return &ChatChunk{Type: ChunkTypeText, Content: text}
}

func toolCallChunk(tc tool.ToolCall) *ChatChunk {
	wire := wireToolCall(tc)
	return &ChatChunk{Type: ChunkTypeToolCall, ToolCall: &wire}
}

func toolResultChunk(id, result string) *ChatChunk {
	return &ChatChunk{Type: ChunkTypeToolResult, ToolResult: &ToolResult{ID: id, Result: result}}
}

func errorChunk(message string) *ChatChunk {
	return &ChatChunk{Type: ChunkTypeError, Content: message}
}

func finishChunk(reason string, usage *Usage) *ChatChunk {
	return &ChatChunk{Type: ChunkTypeFinish, FinishReason: reason, Usage: usage}
}

func wireToolCall(tc tool.ToolCall) ToolCall {
	return ToolCall{ID: tc.ID, ToolName: tc.Name, Args: tc.Args}
}

// mapFinishReason narrows internal finish reasons to the wire vocabulary
// (stop, steps, length, error). Anything else reads as a normal stop;
// tool-calls in particular never surfaces because the loop consumes it.
func mapFinishReason(r model.FinishReason) string {
	switch r {
	case model.FinishReasonStop, model.FinishReasonSteps,
		model.FinishReasonLength, model.FinishReasonError:
		return string(r)
	default:
		return string(model.FinishReasonStop)
	}
}

func addUsage(total **Usage, u *model.Usage) {
	if u == nil {
		return
	}
	if *total == nil {
		*total = &Usage{}
	}
	(*total).PromptTokens += u.PromptTokens
	(*total).CompletionTokens += u.CompletionTokens
	(*total).TotalTokens += u.TotalTokens
}
