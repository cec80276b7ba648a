package agent

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atriumhq/atrium/pkg/model"
)

// The global provider delegates, so this is valid before observability
// setup runs and upgrades to the real provider afterwards.
var tracer = otel.Tracer("atrium.agent")

func preview(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

// startTurnSpan opens the span covering one full chat turn.
func (a *Agent) startTurnSpan(ctx context.Context, input *ChatInput, stream bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String("agent.id", a.cfg.ID),
			attribute.String("agent.model", a.cfg.Model),
			attribute.Bool("agent.stream", stream),
			attribute.String("input.preview", preview(input.Message, 100)),
		),
	)
}

func endTurnSpan(span trace.Span, out *ChatOutput, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	span.SetAttributes(
		attribute.String("agent.finish_reason", out.FinishReason),
		attribute.Int("agent.tool_calls", len(out.ToolCalls)),
	)
	if out.Usage != nil {
		span.SetAttributes(attribute.Int("agent.total_tokens", out.Usage.TotalTokens))
	}
	span.SetStatus(codes.Ok, "")
	span.End()
}

// startStepSpan opens the span for one model round within a turn.
func startStepSpan(ctx context.Context, step int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent.step",
		trace.WithAttributes(attribute.Int("agent.step", step)),
	)
}

func endStepSpan(span trace.Span, resp *model.Response, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	span.SetAttributes(
		attribute.String("llm.finish_reason", string(resp.FinishReason)),
		attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
	)
	if resp.Usage != nil {
		span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
	}
	span.SetStatus(codes.Ok, "")
	span.End()
}
