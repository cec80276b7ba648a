package gemini

import (
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"google.golang.org/genai"

	"github.com/atriumhq/atrium/pkg/model"
	"github.com/atriumhq/atrium/pkg/tool"
)

func TestNewRequiresKeyAndModel(t *testing.T) {
	if _, err := New(Config{Model: "gemini-2.5-flash"}); err == nil {
		t.Error("expected error for missing api key")
	}
	if _, err := New(Config{APIKey: "key"}); err == nil {
		t.Error("expected error for missing model name")
	}
}

func TestToSchema(t *testing.T) {
	spec := tool.ParseSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "search terms"},
			"mode":  map[string]any{"type": "string", "enum": []any{"fast", "full"}},
			"limit": map[string]any{"type": "integer"},
			"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"filter": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"site": map[string]any{"type": "string"},
				},
				"required": []any{"site"},
			},
		},
		"required": []any{"query"},
	})

	s := toSchema(spec)
	if s.Type != genai.TypeObject {
		t.Fatalf("root type = %v, want OBJECT", s.Type)
	}
	if len(s.Required) != 1 || s.Required[0] != "query" {
		t.Errorf("required = %v, want [query]", s.Required)
	}

	query := s.Properties["query"]
	if query.Type != genai.TypeString || query.Description != "search terms" {
		t.Errorf("query schema = %+v", query)
	}
	if mode := s.Properties["mode"]; mode.Type != genai.TypeString || len(mode.Enum) != 2 {
		t.Errorf("mode schema = %+v", mode)
	}
	if limit := s.Properties["limit"]; limit.Type != genai.TypeNumber {
		t.Errorf("limit type = %v, want NUMBER", limit.Type)
	}
	tags := s.Properties["tags"]
	if tags.Type != genai.TypeArray || tags.Items == nil || tags.Items.Type != genai.TypeString {
		t.Errorf("tags schema = %+v", tags)
	}
	filter := s.Properties["filter"]
	if filter.Type != genai.TypeObject || len(filter.Required) != 1 {
		t.Errorf("filter schema = %+v", filter)
	}

	if toSchema(nil) != nil {
		t.Error("nil spec should produce nil schema")
	}
}

func TestBuildToolsWidensNonObjectRoot(t *testing.T) {
	defs := []tool.Definition{
		{Name: "lookup", Description: "Tool: lookup", Parameters: tool.ParseSchema(nil)},
		{Name: "noop", Description: "Tool: noop"},
	}

	tools := buildTools(defs)
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}

	lookup := tools[0].FunctionDeclarations[0]
	if lookup.Name != "lookup" {
		t.Errorf("name = %q", lookup.Name)
	}
	if lookup.Parameters == nil || lookup.Parameters.Type != genai.TypeObject {
		t.Errorf("opaque root should widen to an object, got %+v", lookup.Parameters)
	}
	if noop := tools[1].FunctionDeclarations[0]; noop.Parameters != nil {
		t.Errorf("nil spec should keep nil parameters, got %+v", noop.Parameters)
	}
}

func TestMessageToContent(t *testing.T) {
	user := messageToContent(model.TextMessage(a2a.MessageRoleUser, "hello"))
	if user == nil || user.Role != "user" || user.Parts[0].Text != "hello" {
		t.Errorf("user content = %+v", user)
	}

	agent := messageToContent(model.TextMessage(a2a.MessageRoleAgent, "hi"))
	if agent == nil || agent.Role != "model" {
		t.Errorf("agent content = %+v", agent)
	}

	if got := messageToContent(&a2a.Message{Role: a2a.MessageRoleUser}); got != nil {
		t.Errorf("empty message should collapse to nil, got %+v", got)
	}
	if got := messageToContent(nil); got != nil {
		t.Errorf("nil message should collapse to nil, got %+v", got)
	}
}

func TestMessageToContentToolParts(t *testing.T) {
	call := a2a.NewMessage(a2a.MessageRoleAgent, model.ToolCallPart(tool.ToolCall{
		ID:   "call-1",
		Name: "search",
		Args: map[string]any{"query": "go"},
	}))
	content := messageToContent(call)
	if content == nil || content.Parts[0].FunctionCall == nil {
		t.Fatalf("content = %+v", content)
	}
	fc := content.Parts[0].FunctionCall
	if fc.ID != "call-1" || fc.Name != "search" || fc.Args["query"] != "go" {
		t.Errorf("function call = %+v", fc)
	}

	result := a2a.NewMessage(a2a.MessageRoleUser, model.ToolResultPart("search", tool.ToolResult{
		ToolCallID: "call-1",
		Content:    "three results",
	}))
	content = messageToContent(result)
	if content == nil || content.Parts[0].FunctionResponse == nil {
		t.Fatalf("content = %+v", content)
	}
	fr := content.Parts[0].FunctionResponse
	if fr.ID != "call-1" || fr.Name != "search" {
		t.Errorf("function response = %+v", fr)
	}
	if fr.Response["result"] != "three results" {
		t.Errorf("response payload = %+v", fr.Response)
	}
}

func TestBuildRequest(t *testing.T) {
	temp := 0.2
	maxTokens := 512
	req := &model.Request{
		Messages:          []*a2a.Message{model.TextMessage(a2a.MessageRoleUser, "hi")},
		Tools:             []tool.Definition{{Name: "search"}},
		Config:            &model.GenerateConfig{Temperature: &temp, MaxTokens: &maxTokens},
		SystemInstruction: "You are helpful.",
	}

	contents, config := buildRequest(req)
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	if config.SystemInstruction == nil || config.SystemInstruction.Parts[0].Text != "You are helpful." {
		t.Errorf("system instruction = %+v", config.SystemInstruction)
	}
	if config.Temperature == nil || *config.Temperature != 0.2 {
		t.Errorf("temperature = %v", config.Temperature)
	}
	if config.MaxOutputTokens != 512 {
		t.Errorf("max output tokens = %d", config.MaxOutputTokens)
	}
	if len(config.Tools) != 1 {
		t.Errorf("tools = %+v", config.Tools)
	}
}

func TestProcessChunkStream(t *testing.T) {
	agg := model.NewStreamingAggregator()
	seen := make(map[string]bool)

	chunks := []*genai.GenerateContentResponse{
		{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "Let me "}}},
		}}},
		{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "check."}}},
		}}},
		{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{
				FunctionCall: &genai.FunctionCall{Name: "search", Args: map[string]any{"query": "go"}},
			}}},
		}}},
		{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{
				FunctionCall: &genai.FunctionCall{ID: "dup-1", Name: "search", Args: map[string]any{"query": "again"}},
			}}},
		}}},
		{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{
				FunctionCall: &genai.FunctionCall{ID: "dup-1", Name: "search", Args: map[string]any{"query": "again"}},
			}}},
			FinishReason: genai.FinishReasonStop,
		}}},
	}

	var partials []*model.Response
	for _, chunk := range chunks {
		for resp, err := range processChunk(agg, chunk, seen) {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			partials = append(partials, resp)
		}
	}

	// Two text deltas, the unnamed call, and one copy of the duplicate.
	if len(partials) != 4 {
		t.Fatalf("got %d partials, want 4", len(partials))
	}
	for _, p := range partials {
		if !p.Partial {
			t.Error("chunk responses should be partial")
		}
	}

	final := agg.Close()
	if final == nil {
		t.Fatal("expected aggregated response")
	}
	if final.TextContent() != "Let me check." {
		t.Errorf("text = %q", final.TextContent())
	}
	if len(final.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(final.ToolCalls))
	}
	if final.ToolCalls[0].ID == "" {
		t.Error("missing id should be filled in")
	}
	if final.ToolCalls[1].ID != "dup-1" {
		t.Errorf("second call id = %q", final.ToolCalls[1].ID)
	}
	if final.FinishReason != model.FinishReasonStop {
		t.Errorf("finish reason = %q", final.FinishReason)
	}
}

func TestParseResponse(t *testing.T) {
	resp, err := parseResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: "model",
				Parts: []*genai.Part{
					{Text: "Searching."},
					{FunctionCall: &genai.FunctionCall{ID: "c1", Name: "search", Args: map[string]any{"query": "go"}}},
				},
			},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     10,
			CandidatesTokenCount: 5,
			TotalTokenCount:      15,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.TextContent() != "Searching." {
		t.Errorf("text = %q", resp.TextContent())
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "search" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if !resp.TurnComplete || resp.Partial {
		t.Error("parsed response should be final")
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	if _, err := parseResponse(&genai.GenerateContentResponse{}); err == nil {
		t.Error("expected error for empty response")
	}
}

func TestMapFinishReason(t *testing.T) {
	cases := []struct {
		in   genai.FinishReason
		want model.FinishReason
	}{
		{genai.FinishReasonStop, model.FinishReasonStop},
		{genai.FinishReasonMaxTokens, model.FinishReasonLength},
		{genai.FinishReasonSafety, model.FinishReasonError},
		{genai.FinishReasonRecitation, model.FinishReasonError},
		{genai.FinishReason("SOMETHING_NEW"), model.FinishReasonStop},
	}
	for _, tc := range cases {
		if got := mapFinishReason(tc.in); got != tc.want {
			t.Errorf("mapFinishReason(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
