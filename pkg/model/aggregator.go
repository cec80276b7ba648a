package model

import (
	"iter"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/atriumhq/atrium/pkg/tool"
)

// StreamingAggregator folds partial streaming responses into one final
// response.
//
// Providers feed it deltas as they arrive; each Process method yields the
// partial Response to forward to the caller while the aggregator
// accumulates state. Close returns the aggregated response with
// Partial=false, or nil when nothing was accumulated.
type StreamingAggregator struct {
	text         string
	role         a2a.MessageRole
	toolCalls    []tool.ToolCall
	usage        *Usage
	finishReason FinishReason
}

// NewStreamingAggregator returns an aggregator producing agent-role
// responses.
func NewStreamingAggregator() *StreamingAggregator {
	return &StreamingAggregator{role: a2a.MessageRoleAgent}
}

// ProcessTextDelta accumulates a text delta and yields it as a partial
// response. Empty deltas yield nothing.
func (s *StreamingAggregator) ProcessTextDelta(text string) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if text == "" {
			return
		}
		s.text += text
		yield(&Response{
			Content: &Content{
				Parts: []a2a.Part{a2a.TextPart{Text: text}},
				Role:  s.role,
			},
			Partial: true,
		}, nil)
	}
}

// ProcessToolCall records a complete tool call and yields it as a partial
// response.
func (s *StreamingAggregator) ProcessToolCall(tc tool.ToolCall) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		s.toolCalls = append(s.toolCalls, tc)
		yield(&Response{
			Content: &Content{
				Parts: []a2a.Part{ToolCallPart(tc)},
				Role:  s.role,
			},
			Partial:   true,
			ToolCalls: []tool.ToolCall{tc},
		}, nil)
	}
}

// SetUsage records usage statistics, typically from the final event.
func (s *StreamingAggregator) SetUsage(usage *Usage) {
	s.usage = usage
}

// SetFinishReason records why generation stopped.
func (s *StreamingAggregator) SetFinishReason(reason FinishReason) {
	s.finishReason = reason
}

// Close builds the final aggregated response and resets the aggregator.
// Returns nil when no content or tool calls were accumulated.
func (s *StreamingAggregator) Close() *Response {
	if s.text == "" && len(s.toolCalls) == 0 {
		return nil
	}

	var parts []a2a.Part
	if s.text != "" {
		parts = append(parts, a2a.TextPart{Text: s.text})
	}
	for _, tc := range s.toolCalls {
		parts = append(parts, ToolCallPart(tc))
	}

	resp := &Response{
		Content: &Content{
			Parts: parts,
			Role:  s.role,
		},
		TurnComplete: true,
		ToolCalls:    s.toolCalls,
		Usage:        s.usage,
		FinishReason: s.finishReason,
	}

	s.text = ""
	s.toolCalls = nil
	s.usage = nil
	s.finishReason = ""

	return resp
}
