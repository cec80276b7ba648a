package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atriumhq/atrium/pkg/model"
	"github.com/atriumhq/atrium/pkg/rag"
	"github.com/atriumhq/atrium/pkg/tool"
)

// errStreamClosed aborts a turn whose stream consumer stopped reading.
// Nothing more can be delivered, so no error chunk is emitted either.
var errStreamClosed = errors.New("stream closed by consumer")

// Chat runs one complete turn and returns the aggregated output.
func (a *Agent) Chat(ctx context.Context, input *ChatInput) (*ChatOutput, error) {
	return a.run(ctx, input, false, nil)
}

// ChatStream runs one turn, yielding chunks as they are produced. The
// sequence ends with exactly one finish chunk, or with an error chunk and
// no finish when the turn fails.
func (a *Agent) ChatStream(ctx context.Context, input *ChatInput) iter.Seq[*ChatChunk] {
	return func(yield func(*ChatChunk) bool) {
		out, err := a.run(ctx, input, true, yield)
		if err != nil {
			if !errors.Is(err, errStreamClosed) {
				yield(errorChunk(err.Error()))
			}
			return
		}
		yield(finishChunk(out.FinishReason, out.Usage))
	}
}

// run is the shared turn loop. When stream is true, emit receives chunks
// and its false return aborts the turn with errStreamClosed.
func (a *Agent) run(ctx context.Context, input *ChatInput, stream bool, emit func(*ChatChunk) bool) (out *ChatOutput, err error) {
	if input == nil || strings.TrimSpace(input.Message) == "" {
		return nil, &ExecutionError{AgentID: a.cfg.ID, Err: errors.New("message is required")}
	}

	ctx, span := a.startTurnSpan(ctx, input, stream)
	defer func() { endTurnSpan(span, out, err) }()

	rt, err := a.runtime(ctx)
	if err != nil {
		return nil, &ExecutionError{AgentID: a.cfg.ID, Err: err}
	}

	tools, pageTool := a.effectiveTools(rt.tools, input)
	system := a.systemPrompt(ctx, rt.searcher, input.Message, pageTool)

	var history []*a2a.Message
	if input.ConversationID != "" && a.sessions != nil {
		history, err = a.sessions.History(ctx, input.ConversationID, a.historyTokens)
		if err != nil {
			return nil, &ExecutionError{AgentID: a.cfg.ID, Err: fmt.Errorf("failed to load history: %w", err)}
		}
	}

	userMsg := model.TextMessage(a2a.MessageRoleUser, input.Message)
	messages := append(history, userMsg)

	var (
		text      strings.Builder
		usage     *Usage
		wireCalls []ToolCall
		finish    string
	)

	for step := 0; step < a.stepLimit; step++ {
		req := &model.Request{
			Messages:          messages,
			Config:            a.generateConfig(),
			SystemInstruction: system,
		}
		if a.cfg.ToolsEnabled() && tools.Len() > 0 {
			req.Tools = tools.Definitions()
		}

		stepCtx, stepSpan := startStepSpan(ctx, step)
		resp, err := generate(stepCtx, rt.llm, req, stream, emit)
		endStepSpan(stepSpan, resp, err)
		if err != nil {
			if errors.Is(err, errStreamClosed) {
				return nil, err
			}
			return nil, &ExecutionError{AgentID: a.cfg.ID, Err: err}
		}

		if msg := resp.ToMessage(); msg != nil {
			messages = append(messages, msg)
		}
		text.WriteString(resp.TextContent())
		addUsage(&usage, resp.Usage)

		if !resp.HasToolCalls() {
			finish = mapFinishReason(resp.FinishReason)
			break
		}

		resultParts := make([]a2a.Part, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			wireCalls = append(wireCalls, wireToolCall(tc))
			if stream && !emit(toolCallChunk(tc)) {
				return nil, errStreamClosed
			}

			content, failed := executeTool(ctx, tools, tc)
			if stream && !emit(toolResultChunk(tc.ID, content)) {
				return nil, errStreamClosed
			}

			result := tool.ToolResult{ToolCallID: tc.ID, Content: content}
			if failed {
				result.Error = content
			}
			resultParts = append(resultParts, model.ToolResultPart(tc.Name, result))
		}
		messages = append(messages, a2a.NewMessage(a2a.MessageRoleUser, resultParts...))
	}
	if finish == "" {
		finish = string(model.FinishReasonSteps)
	}

	out = &ChatOutput{
		Text:         text.String(),
		ToolCalls:    wireCalls,
		Usage:        usage,
		FinishReason: finish,
	}

	if input.ConversationID != "" && a.sessions != nil {
		agentMsg := model.TextMessage(a2a.MessageRoleAgent, out.Text)
		if err := a.sessions.Append(ctx, input.ConversationID, userMsg, agentMsg); err != nil {
			slog.Warn("Failed to persist conversation turn",
				"agent", a.cfg.ID, "conversation", input.ConversationID, "error", err)
		}
	}
	return out, nil
}

// effectiveTools extends the static set with tools derived from the input.
// The static set is never mutated; rules that produce nothing keep the
// original set in play without a copy.
func (a *Agent) effectiveTools(static *tool.Set, input *ChatInput) (*tool.Set, bool) {
	if !a.cfg.ToolsEnabled() {
		return static, false
	}

	var dynamic []tool.Tool
	for _, rule := range a.rules {
		dynamic = append(dynamic, rule(input)...)
	}
	if len(dynamic) == 0 {
		return static, false
	}

	tools := static.Clone()
	pageTool := false
	for _, t := range dynamic {
		if err := tools.Add(t); err != nil {
			slog.Warn("Skipping duplicate dynamic tool", "agent", a.cfg.ID, "tool", t.Name())
			continue
		}
		if t.Name() == pageContentToolName {
			pageTool = true
		}
	}
	return tools, pageTool
}

// systemPrompt assembles the per-turn system instruction: the base prompt,
// retrieved context when the searcher finds any, and the page tool notice
// when injected. Retrieval failures fall back to the base prompt.
func (a *Agent) systemPrompt(ctx context.Context, searcher *rag.Searcher, query string, pageTool bool) string {
	prompt := a.cfg.SystemPrompt
	if searcher != nil {
		results, err := searcher.Search(ctx, query)
		switch {
		case err != nil:
			slog.Debug("Retrieval failed, continuing without context", "agent", a.cfg.ID, "error", err)
		case len(results) > 0:
			prompt += "\n\n" + searcher.PromptContext(results)
		}
	}
	if pageTool {
		prompt += "\n\n" + pageContentInstruction
	}
	return prompt
}

func (a *Agent) generateConfig() *model.GenerateConfig {
	cfg := &model.GenerateConfig{Temperature: a.cfg.Temperature}
	if a.cfg.MaxTokens > 0 {
		maxTokens := a.cfg.MaxTokens
		cfg.MaxTokens = &maxTokens
	}
	return cfg
}

// generate runs one LLM call and returns the final response. Streaming
// partials are forwarded to emit as text chunks.
func generate(ctx context.Context, llm model.LLM, req *model.Request, stream bool, emit func(*ChatChunk) bool) (*model.Response, error) {
	var final *model.Response
	for resp, err := range llm.GenerateContent(ctx, req, stream) {
		if err != nil {
			return nil, err
		}
		if resp.Partial {
			if text := resp.TextContent(); text != "" && emit != nil && !emit(textChunk(text)) {
				return nil, errStreamClosed
			}
			continue
		}
		final = resp
	}
	if final == nil {
		return nil, errors.New("model returned no response")
	}
	return final, nil
}

// executeTool runs one requested call. Failures become the result content
// so the model can read and react to them; failed reports whether the
// content is an error.
func executeTool(ctx context.Context, tools *tool.Set, tc tool.ToolCall) (content string, failed bool) {
	ctx, span := tracer.Start(ctx, "agent.tool",
		trace.WithAttributes(attribute.String("tool.name", tc.Name)))
	defer span.End()

	t, ok := tools.Get(tc.Name)
	if !ok {
		span.SetStatus(codes.Error, "tool not found")
		return fmt.Sprintf("Error: tool %q not found", tc.Name), true
	}
	result, err := t.Call(ctx, tc.Args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Sprintf("Error: %v", err), true
	}
	span.SetStatus(codes.Ok, "")
	return result, false
}
