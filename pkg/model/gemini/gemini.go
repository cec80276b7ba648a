// Package gemini implements model.LLM over the official Google genai SDK.
package gemini

import (
	"context"
	"fmt"
	"iter"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/atriumhq/atrium/pkg/model"
	"github.com/atriumhq/atrium/pkg/tool"
)

// Config configures the native Gemini provider.
type Config struct {
	// APIKey authenticates against the Gemini API.
	APIKey string

	// Model is the model name, e.g. "gemini-2.5-flash".
	Model string

	// BaseURL overrides the API endpoint. Empty uses the public endpoint.
	BaseURL string
}

type geminiModel struct {
	client *genai.Client
	name   string
}

// New creates a Gemini-backed model.
func New(cfg Config) (model.LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini: model name is required")
	}

	cc := &genai.ClientConfig{APIKey: cfg.APIKey}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}

	return &geminiModel{client: client, name: cfg.Model}, nil
}

func (m *geminiModel) Name() string { return m.name }

func (m *geminiModel) Provider() model.Provider { return model.ProviderGemini }

func (m *geminiModel) Close() error { return nil }

// GenerateContent produces responses for the request. When stream is true
// the sequence yields partial responses followed by the aggregated final
// one; otherwise it yields the final response only.
func (m *geminiModel) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return m.generateStream(ctx, req)
	}
	return func(yield func(*model.Response, error) bool) {
		resp, err := m.generate(ctx, req)
		yield(resp, err)
	}
}

func (m *geminiModel) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	contents, config := buildRequest(req)
	genResp, err := m.client.Models.GenerateContent(ctx, m.name, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini: generation failed: %w", err)
	}
	return parseResponse(genResp)
}

func (m *geminiModel) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		contents, config := buildRequest(req)
		agg := model.NewStreamingAggregator()
		seen := make(map[string]bool)

		for genResp, err := range m.client.Models.GenerateContentStream(ctx, m.name, contents, config) {
			if err != nil {
				yield(nil, fmt.Errorf("gemini: streaming failed: %w", err))
				return
			}
			for resp, err := range processChunk(agg, genResp, seen) {
				if !yield(resp, err) {
					return
				}
			}
		}

		if final := agg.Close(); final != nil {
			yield(final, nil)
		}
	}
}

// processChunk folds one streaming chunk into the aggregator and yields
// the partial responses it produces. Gemini may resend a function call
// part in later chunks under the same id; those repeats are dropped. Calls
// arriving without an id get a fresh uuid.
func processChunk(agg *model.StreamingAggregator, genResp *genai.GenerateContentResponse, seen map[string]bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if len(genResp.Candidates) == 0 {
			return
		}
		candidate := genResp.Candidates[0]

		if candidate.FinishReason != "" {
			agg.SetFinishReason(mapFinishReason(candidate.FinishReason))
		}
		if genResp.UsageMetadata != nil {
			agg.SetUsage(&model.Usage{
				PromptTokens:     int(genResp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int(genResp.UsageMetadata.TotalTokenCount),
			})
		}
		if candidate.Content == nil {
			return
		}

		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				for resp, err := range agg.ProcessTextDelta(part.Text) {
					if !yield(resp, err) {
						return
					}
				}
			}
			if part.FunctionCall == nil {
				continue
			}

			id := part.FunctionCall.ID
			if id == "" {
				id = uuid.NewString()
			} else if seen[id] {
				continue
			}
			seen[id] = true

			tc := tool.ToolCall{
				ID:   id,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			}
			for resp, err := range agg.ProcessToolCall(tc) {
				if !yield(resp, err) {
					return
				}
			}
		}
	}
}

// buildRequest converts a model.Request into genai contents and call config.
func buildRequest(req *model.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}

	if req.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemInstruction}},
			Role:  "user",
		}
	}
	if req.Config != nil {
		if req.Config.Temperature != nil {
			config.Temperature = genai.Ptr(float32(*req.Config.Temperature))
		}
		if req.Config.MaxTokens != nil {
			config.MaxOutputTokens = int32(*req.Config.MaxTokens)
		}
	}
	if len(req.Tools) > 0 {
		config.Tools = buildTools(req.Tools)
	}

	var contents []*genai.Content
	for _, msg := range req.Messages {
		if content := messageToContent(msg); content != nil {
			contents = append(contents, content)
		}
	}
	return contents, config
}

// messageToContent converts one history message. Messages with no
// convertible parts collapse to nil.
func messageToContent(msg *a2a.Message) *genai.Content {
	if msg == nil {
		return nil
	}

	var parts []*genai.Part
	for _, p := range msg.Parts {
		switch part := p.(type) {
		case a2a.TextPart:
			if part.Text != "" {
				parts = append(parts, &genai.Part{Text: part.Text})
			}
		case a2a.DataPart:
			if gp := dataPartToGenai(part); gp != nil {
				parts = append(parts, gp)
			}
		case a2a.FilePart:
			switch f := part.File.(type) {
			case a2a.FileBytes:
				parts = append(parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: f.MimeType, Data: []byte(f.Bytes)},
				})
			case a2a.FileURI:
				parts = append(parts, &genai.Part{
					FileData: &genai.FileData{MIMEType: f.MimeType, FileURI: f.URI},
				})
			}
		}
	}
	if len(parts) == 0 {
		return nil
	}

	role := "user"
	if msg.Role == a2a.MessageRoleAgent {
		role = "model"
	}
	return &genai.Content{Parts: parts, Role: role}
}

// dataPartToGenai translates tool_use and tool_result data parts into
// function call and response parts. Other data parts are dropped.
func dataPartToGenai(part a2a.DataPart) *genai.Part {
	kind, _ := part.Data["type"].(string)
	switch kind {
	case "tool_use":
		name, _ := part.Data["name"].(string)
		if name == "" {
			return nil
		}
		id, _ := part.Data["id"].(string)
		args, _ := part.Data["arguments"].(map[string]any)
		return &genai.Part{
			FunctionCall: &genai.FunctionCall{ID: id, Name: name, Args: args},
		}
	case "tool_result":
		id, _ := part.Data["tool_call_id"].(string)
		name, _ := part.Data["tool_name"].(string)
		if id == "" && name == "" {
			return nil
		}
		content, _ := part.Data["content"].(string)
		return &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				ID:       id,
				Name:     name,
				Response: map[string]any{"result": content},
			},
		}
	}
	return nil
}

// buildTools converts tool definitions into genai function declarations.
// Declaration parameters must be object-typed; anything else widens to an
// empty object.
func buildTools(defs []tool.Definition) []*genai.Tool {
	tools := make([]*genai.Tool, 0, len(defs))
	for _, def := range defs {
		params := toSchema(def.Parameters)
		if params != nil && params.Type != genai.TypeObject {
			params = &genai.Schema{Type: genai.TypeObject}
		}
		tools = append(tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			}},
		})
	}
	return tools
}

// toSchema converts an argument spec into a genai schema. Opaque values
// carry no type constraint.
func toSchema(spec *tool.ArgSpec) *genai.Schema {
	if spec == nil {
		return nil
	}

	s := &genai.Schema{Description: spec.Description}
	switch spec.Kind {
	case tool.KindString:
		s.Type = genai.TypeString
	case tool.KindNumber:
		s.Type = genai.TypeNumber
	case tool.KindBool:
		s.Type = genai.TypeBoolean
	case tool.KindNull:
		s.Type = genai.TypeNULL
	case tool.KindEnum:
		s.Type = genai.TypeString
		s.Enum = spec.Enum
	case tool.KindList:
		s.Type = genai.TypeArray
		if spec.Items != nil {
			s.Items = toSchema(spec.Items)
		}
	case tool.KindRecord:
		s.Type = genai.TypeObject
		if len(spec.Fields) > 0 {
			s.Properties = make(map[string]*genai.Schema, len(spec.Fields))
			for name, field := range spec.Fields {
				s.Properties[name] = toSchema(field)
			}
		}
		s.Required = spec.RequiredKeys()
	}
	return s
}

// parseResponse converts a complete generation into a model response.
func parseResponse(genResp *genai.GenerateContentResponse) (*model.Response, error) {
	if len(genResp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: empty response")
	}
	candidate := genResp.Candidates[0]

	resp := &model.Response{
		TurnComplete: true,
		FinishReason: mapFinishReason(candidate.FinishReason),
	}

	if candidate.Content != nil {
		var parts []a2a.Part
		var toolCalls []tool.ToolCall
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				parts = append(parts, a2a.TextPart{Text: part.Text})
			}
			if part.FunctionCall == nil {
				continue
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = uuid.NewString()
			}
			tc := tool.ToolCall{
				ID:   id,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			}
			toolCalls = append(toolCalls, tc)
			parts = append(parts, model.ToolCallPart(tc))
		}

		role := a2a.MessageRoleAgent
		if candidate.Content.Role == "user" {
			role = a2a.MessageRoleUser
		}
		resp.Content = &model.Content{Parts: parts, Role: role}
		resp.ToolCalls = toolCalls
	}

	if genResp.UsageMetadata != nil {
		resp.Usage = &model.Usage{
			PromptTokens:     int(genResp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(genResp.UsageMetadata.TotalTokenCount),
		}
	}
	return resp, nil
}

// mapFinishReason converts a genai finish reason. Unknown reasons read as
// a normal stop.
func mapFinishReason(reason genai.FinishReason) model.FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		return model.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return model.FinishReasonLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return model.FinishReasonError
	default:
		return model.FinishReasonStop
	}
}

var _ model.LLM = (*geminiModel)(nil)
