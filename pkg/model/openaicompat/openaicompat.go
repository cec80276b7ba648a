// Package openaicompat implements model.LLM against any endpoint speaking
// the OpenAI chat-completions wire format (OpenAI, Groq, Ollama, vLLM,
// LiteLLM and the rest).
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/atriumhq/atrium/pkg/httpclient"
	"github.com/atriumhq/atrium/pkg/model"
	"github.com/atriumhq/atrium/pkg/tool"
)

const maxErrorBody = 4096

// Config points the provider at one chat-completions endpoint.
type Config struct {
	// BaseURL is the API root; requests go to <BaseURL>/chat/completions.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Model is the model name passed through on every request.
	Model string

	// Headers are extra static headers, for proxies and gateways that
	// authenticate with their own scheme.
	Headers map[string]string
}

// Client is a chat-completions backed model.
type Client struct {
	baseURL string
	apiKey  string
	name    string
	headers map[string]string
	http    *httpclient.Client
}

// New creates a provider for the configured endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openaicompat: base url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openaicompat: model name is required")
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		name:    cfg.Model,
		headers: cfg.Headers,
		http: httpclient.New(
			httpclient.WithTimeout(5*time.Minute),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}, nil
}

func (c *Client) Name() string { return c.name }

func (c *Client) Provider() model.Provider { return model.ProviderOpenAICompatible }

func (c *Client) Close() error { return nil }

// GenerateContent produces responses for the request. When stream is true
// the sequence yields partial responses followed by the aggregated final
// one; otherwise it yields the final response only.
func (c *Client) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return c.generateStream(ctx, req)
	}
	return func(yield func(*model.Response, error) bool) {
		resp, err := c.generate(ctx, req)
		yield(resp, err)
	}
}

func (c *Client) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	resp, err := c.post(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: reading response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("openaicompat: unmarshaling response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("openaicompat: API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openaicompat: no choices in response")
	}

	choice := parsed.Choices[0]
	calls, err := parseCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, err
	}

	var parts []a2a.Part
	if choice.Message.Content != "" {
		parts = append(parts, a2a.TextPart{Text: choice.Message.Content})
	}
	for _, tc := range calls {
		parts = append(parts, model.ToolCallPart(tc))
	}

	out := &model.Response{
		Content:      &model.Content{Parts: parts, Role: a2a.MessageRoleAgent},
		TurnComplete: true,
		ToolCalls:    calls,
		FinishReason: mapFinishReason(choice.FinishReason),
	}
	if parsed.Usage != nil {
		out.Usage = &model.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		resp, err := c.post(ctx, c.buildRequest(req, true))
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		agg := model.NewStreamingAggregator()
		acc := &callAccumulator{byIndex: make(map[int]*chatToolCall)}
		reader := bufio.NewReader(resp.Body)

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				yield(nil, fmt.Errorf("openaicompat: reading stream: %w", err))
				return
			}

			line = bytes.TrimSpace(line)
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			line = line[len("data: "):]
			if bytes.Equal(line, []byte("[DONE]")) {
				break
			}

			var chunk streamResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				yield(nil, fmt.Errorf("openaicompat: API error: %s", chunk.Error.Message))
				return
			}
			if chunk.Usage != nil {
				agg.SetUsage(&model.Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				})
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				for resp, err := range agg.ProcessTextDelta(choice.Delta.Content) {
					if !yield(resp, err) {
						return
					}
				}
			}
			for _, delta := range choice.Delta.ToolCalls {
				acc.add(delta)
			}

			if choice.FinishReason != "" {
				agg.SetFinishReason(mapFinishReason(choice.FinishReason))
				calls, err := acc.flush()
				if err != nil {
					yield(nil, err)
					return
				}
				for _, tc := range calls {
					for resp, err := range agg.ProcessToolCall(tc) {
						if !yield(resp, err) {
							return
						}
					}
				}
			}
		}

		// Flush calls from servers that end the stream without a
		// finish_reason chunk.
		calls, err := acc.flush()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, tc := range calls {
			for resp, err := range agg.ProcessToolCall(tc) {
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

// post sends one chat-completions request. The response body is open on
// success; error responses are parsed for the API error envelope.
func (c *Client) post(ctx context.Context, request chatRequest) (*http.Response, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: creating request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if resp != nil && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if apiErr := parseErrorResponse(data); apiErr != nil {
			return nil, fmt.Errorf("openaicompat: request failed with status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("openaicompat: request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("openaicompat: request failed: %w", err)
	}
	return resp, nil
}

// buildRequest converts a model.Request into the chat-completions shape.
func (c *Client) buildRequest(req *model.Request, stream bool) chatRequest {
	out := chatRequest{
		Model:    c.name,
		Messages: buildMessages(req),
		Stream:   stream,
	}
	if req.Config != nil {
		out.Temperature = req.Config.Temperature
		out.MaxTokens = req.Config.MaxTokens
	}
	if len(req.Tools) > 0 {
		out.Tools = convertTools(req.Tools)
		out.ToolChoice = "auto"
	}
	return out
}

// buildMessages flattens the history into wire messages. Tool results
// become role "tool" messages keyed by call id; tool calls ride on
// assistant messages with JSON-encoded arguments.
func buildMessages(req *model.Request) []chatMessage {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.SystemInstruction != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemInstruction})
	}

	for _, msg := range req.Messages {
		if msg == nil {
			continue
		}

		if results := model.ExtractToolResults(msg); len(results) > 0 {
			for _, tr := range results {
				messages = append(messages, chatMessage{
					Role:       "tool",
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			continue
		}

		text := model.ExtractText(msg)
		calls := model.ExtractToolCalls(msg)
		if text == "" && len(calls) == 0 {
			continue
		}

		wireMsg := chatMessage{Role: roleToWire(msg.Role), Content: text}
		for _, tc := range calls {
			args, _ := json.Marshal(tc.Args)
			wireMsg.ToolCalls = append(wireMsg.ToolCalls, chatToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: chatFunctionCall{Name: tc.Name, Arguments: string(args)},
			})
		}
		messages = append(messages, wireMsg)
	}
	return messages
}

func roleToWire(role a2a.MessageRole) string {
	if role == a2a.MessageRoleAgent {
		return "assistant"
	}
	return "user"
}

// convertTools renders tool definitions for the wire. Roots without a type
// widen to an empty object, which every compatible server accepts.
func convertTools(defs []tool.Definition) []chatTool {
	out := make([]chatTool, len(defs))
	for i, def := range defs {
		params := def.Parameters.JSONSchema()
		if _, ok := params["type"]; !ok {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

// parseCalls decodes the JSON-string arguments of wire tool calls. An
// empty arguments string reads as no arguments.
func parseCalls(wireCalls []chatToolCall) ([]tool.ToolCall, error) {
	if len(wireCalls) == 0 {
		return nil, nil
	}
	out := make([]tool.ToolCall, len(wireCalls))
	for i, tc := range wireCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("openaicompat: parsing arguments for tool %s: %w", tc.Function.Name, err)
			}
		}
		out[i] = tool.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args}
	}
	return out, nil
}

// callAccumulator stitches streamed tool-call fragments back together.
// Fragments carry an index; those without one extend the call the ID (or
// the previous fragment) selected.
type callAccumulator struct {
	byIndex map[int]*chatToolCall
	last    int
}

func (a *callAccumulator) add(delta chatToolCall) {
	idx := a.last
	switch {
	case delta.Index != nil:
		idx = *delta.Index
	case delta.ID != "":
		idx = len(a.byIndex)
	default:
		if len(a.byIndex) == 0 {
			return
		}
	}
	a.last = idx

	call, ok := a.byIndex[idx]
	if !ok {
		call = &chatToolCall{}
		a.byIndex[idx] = call
	}
	if delta.ID != "" {
		call.ID = delta.ID
	}
	if delta.Type != "" {
		call.Type = delta.Type
	}
	if delta.Function.Name != "" {
		call.Function.Name = delta.Function.Name
	}
	call.Function.Arguments += delta.Function.Arguments
}

// flush returns the accumulated calls in index order and resets.
func (a *callAccumulator) flush() ([]tool.ToolCall, error) {
	if len(a.byIndex) == 0 {
		return nil, nil
	}

	indexes := make([]int, 0, len(a.byIndex))
	for idx := range a.byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	wireCalls := make([]chatToolCall, 0, len(indexes))
	for _, idx := range indexes {
		wireCalls = append(wireCalls, *a.byIndex[idx])
	}
	a.byIndex = make(map[int]*chatToolCall)
	a.last = 0

	return parseCalls(wireCalls)
}

// parseErrorResponse extracts the API error envelope from a failed
// response body, when there is one.
func parseErrorResponse(body []byte) *apiError {
	if len(body) == 0 {
		return nil
	}
	var parsed struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return &parsed.Error
	}
	return nil
}

// mapFinishReason converts a wire finish reason. Unknown reasons read as a
// normal stop.
func mapFinishReason(reason string) model.FinishReason {
	switch reason {
	case "stop":
		return model.FinishReasonStop
	case "length":
		return model.FinishReasonLength
	case "tool_calls":
		return model.FinishReasonToolCalls
	case "content_filter":
		return model.FinishReasonError
	default:
		return model.FinishReasonStop
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type streamResponse struct {
	Choices []streamChoice `json:"choices"`
	Usage   *chatUsage     `json:"usage,omitempty"`
	Error   *apiError      `json:"error,omitempty"`
}

type streamChoice struct {
	Delta        chatDelta `json:"delta"`
	FinishReason string    `json:"finish_reason"`
}

type chatDelta struct {
	Content   string         `json:"content,omitempty"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

var _ model.LLM = (*Client)(nil)
