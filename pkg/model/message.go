package model

import (
	"strings"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/atriumhq/atrium/pkg/tool"
)

// Tool calls and results are embedded in conversation history as data
// parts: {"type":"tool_use","id","name","arguments"} on agent messages and
// {"type":"tool_result","tool_call_id","tool_name","content","is_error"}
// on user messages. Providers translate these to their wire formats.

// TextMessage builds a message with a single text part.
func TextMessage(role a2a.MessageRole, text string) *a2a.Message {
	return a2a.NewMessage(role, a2a.TextPart{Text: text})
}

// ToolCallPart encodes a tool call for an agent message.
func ToolCallPart(tc tool.ToolCall) a2a.DataPart {
	return a2a.DataPart{
		Data: map[string]any{
			"type":      "tool_use",
			"id":        tc.ID,
			"name":      tc.Name,
			"arguments": tc.Args,
		},
	}
}

// ToolResultPart encodes a tool result for a user message.
func ToolResultPart(name string, tr tool.ToolResult) a2a.DataPart {
	return a2a.DataPart{
		Data: map[string]any{
			"type":         "tool_result",
			"tool_call_id": tr.ToolCallID,
			"tool_name":    name,
			"content":      tr.Content,
			"is_error":     tr.Error != "",
		},
	}
}

// ExtractText returns the concatenated text parts of a message.
func ExtractText(msg *a2a.Message) string {
	var text strings.Builder
	for _, part := range msg.Parts {
		if tp, ok := part.(a2a.TextPart); ok {
			text.WriteString(tp.Text)
		}
	}
	return text.String()
}

// ExtractToolCalls returns the tool calls embedded in a message.
func ExtractToolCalls(msg *a2a.Message) []tool.ToolCall {
	var calls []tool.ToolCall
	for _, part := range msg.Parts {
		dp, ok := part.(a2a.DataPart)
		if !ok || dp.Data["type"] != "tool_use" {
			continue
		}
		tc := tool.ToolCall{
			ID:   getString(dp.Data, "id"),
			Name: getString(dp.Data, "name"),
		}
		if args, ok := dp.Data["arguments"].(map[string]any); ok {
			tc.Args = args
		}
		calls = append(calls, tc)
	}
	return calls
}

// ExtractToolResults returns the tool results embedded in a message.
func ExtractToolResults(msg *a2a.Message) []tool.ToolResult {
	var results []tool.ToolResult
	for _, part := range msg.Parts {
		dp, ok := part.(a2a.DataPart)
		if !ok || dp.Data["type"] != "tool_result" {
			continue
		}
		tr := tool.ToolResult{
			ToolCallID: getString(dp.Data, "tool_call_id"),
			Content:    getString(dp.Data, "content"),
		}
		if isError, ok := dp.Data["is_error"].(bool); ok && isError {
			tr.Error = tr.Content
		}
		results = append(results, tr)
	}
	return results
}

func getString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
