package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atriumhq/atrium/pkg/agent"
	"github.com/atriumhq/atrium/pkg/config"
	"github.com/atriumhq/atrium/pkg/model/openaicompat"
	"github.com/atriumhq/atrium/pkg/rag"
	"github.com/atriumhq/atrium/pkg/registry"
	"github.com/atriumhq/atrium/pkg/task"
	"github.com/atriumhq/atrium/pkg/vector"
)

// wireRequest is the slice of a chat-completions request the tests
// inspect.
type wireRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools"`
}

type wireMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id"`
}

type wireTool struct {
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

func (r *wireRequest) system() string {
	if len(r.Messages) > 0 && r.Messages[0].Role == "system" {
		return r.Messages[0].Content
	}
	return ""
}

// sawToolResult distinguishes the follow-up call of a tool loop from the
// first call of a turn.
func (r *wireRequest) sawToolResult() bool {
	for _, m := range r.Messages {
		if m.Role == "tool" {
			return true
		}
	}
	return false
}

// scriptedLLM is a chat-completions endpoint driven by a respond
// function. Streaming requests replay the canned completion as SSE
// chunks, so both wire modes run through the real client.
type scriptedLLM struct {
	server  *httptest.Server
	respond func(n int, req *wireRequest) string

	// delay holds each completion until it elapses or the caller
	// disconnects. Set before the first request.
	delay time.Duration

	mu       sync.Mutex
	requests []*wireRequest
}

func newScriptedLLM(t *testing.T, respond func(n int, req *wireRequest) string) *scriptedLLM {
	t.Helper()
	s := &scriptedLLM{respond: respond}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.server.Close)
	return s
}

func (s *scriptedLLM) handle(w http.ResponseWriter, r *http.Request) {
	var req wireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, &req)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-r.Context().Done():
			return
		}
	}

	body := s.respond(n, &req)
	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
		return
	}
	streamCompletion(w, body)
}

func (s *scriptedLLM) request(t *testing.T, n int) *wireRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Greater(t, len(s.requests), n)
	return s.requests[n]
}

func (s *scriptedLLM) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// streamCompletion re-emits a canned completion as SSE chunks: a content
// delta, a tool-call delta, then the finish chunk carrying usage. Bodies
// without choices pass through as a single chunk so API errors keep
// their envelope.
func streamCompletion(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/event-stream")

	var full struct {
		Choices []struct {
			Message struct {
				Content   string          `json:"content"`
				ToolCalls json.RawMessage `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage json.RawMessage `json:"usage"`
	}
	if err := json.Unmarshal([]byte(body), &full); err != nil || len(full.Choices) == 0 {
		fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n\n", body)
		return
	}
	choice := full.Choices[0]

	if choice.Message.Content != "" {
		content, _ := json.Marshal(choice.Message.Content)
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%s}}]}\n\n", content)
	}
	if len(choice.Message.ToolCalls) > 0 {
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":%s}}]}\n\n", choice.Message.ToolCalls)
	}
	usage := full.Usage
	if len(usage) == 0 {
		usage = json.RawMessage("null")
	}
	fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":%q}],\"usage\":%s}\n\n", choice.FinishReason, usage)
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func completion(message map[string]any, finishReason string) string {
	data, err := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": message, "finish_reason": finishReason}},
		"usage":   map[string]any{"prompt_tokens": 12, "completion_tokens": 6, "total_tokens": 18},
	})
	if err != nil {
		panic(err)
	}
	return string(data)
}

func textCompletion(text string) string {
	return completion(map[string]any{"role": "assistant", "content": text}, "stop")
}

func toolCallCompletion(id, name string, args map[string]any) string {
	arguments, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return completion(map[string]any{
		"role":    "assistant",
		"content": "",
		"tool_calls": []map[string]any{{
			"id":       id,
			"type":     "function",
			"function": map[string]any{"name": name, "arguments": string(arguments)},
		}},
	}, "tool_calls")
}

func errorCompletion(message string) string {
	return fmt.Sprintf(`{"error":{"message":%q,"type":"server_error"}}`, message)
}

func respondText(text string) func(int, *wireRequest) string {
	return func(int, *wireRequest) string { return textCompletion(text) }
}

func agentConfig(id, path string, mutate ...func(*config.AgentConfig)) *config.AgentConfig {
	cfg := &config.AgentConfig{
		ID:           id,
		Path:         path,
		Name:         id,
		SystemPrompt: "You are the " + path + " assistant.",
	}
	for _, m := range mutate {
		m(cfg)
	}
	return cfg
}

// testServer wires scripted agents behind the full router.
type testServer struct {
	llm      *scriptedLLM
	registry *registry.AgentRegistry
	executor *task.Executor
	http     *httptest.Server
}

func newTestServer(t *testing.T, respond func(int, *wireRequest) string, extra agent.Options, agents ...*config.AgentConfig) *testServer {
	t.Helper()
	llm := newScriptedLLM(t, respond)
	defaults := config.LLMConfig{DefaultModel: "test-model"}

	factory := func(cfg *config.AgentConfig, resolver agent.Resolver) (*agent.Agent, error) {
		m, err := openaicompat.New(openaicompat.Config{
			BaseURL: cfg.ProviderConfig.BaseURL,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, err
		}
		opts := extra
		opts.LLM = m
		opts.Resolver = resolver
		return agent.New(cfg, opts)
	}

	reg, err := registry.NewAgentRegistry(defaults, factory)
	require.NoError(t, err)
	for _, cfg := range agents {
		cfg.Provider = config.ProviderOpenAICompatible
		cfg.ProviderConfig = &config.ProviderEndpoint{BaseURL: llm.server.URL}
		cfg.ApplyServerDefaults(defaults)
		cfg.SetDefaults()
		require.NoError(t, cfg.Validate())
		require.NoError(t, reg.Register(cfg))
	}

	exec := task.NewExecutor(reg, task.Options{})
	t.Cleanup(exec.Stop)

	serverCfg := &config.Config{}
	serverCfg.SetDefaults()
	srv, err := New(serverCfg, Options{Registry: reg, Executor: exec, Version: "test"})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testServer{llm: llm, registry: reg, executor: exec, http: ts}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil)
}

func (ts *testServer) postRaw(t *testing.T, path, body string) *http.Response {
	t.Helper()
	res, err := ts.http.Client().Post(ts.http.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decodeBody(t *testing.T, res *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(res.Body).Decode(v))
}

func decodeErrorBody(t *testing.T, res *http.Response) errorBody {
	t.Helper()
	var env errorEnvelope
	decodeBody(t, res, &env)
	return env.Error
}

type sseEvent struct {
	name string
	data string
}

// readSSE parses a finite SSE stream. Frames without an event line keep
// an empty name.
func readSSE(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.data != "" || cur.name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestAgentListing(t *testing.T) {
	ts := newTestServer(t, respondText("unused"), agent.Options{},
		agentConfig("support-1", "support"),
		agentConfig("sales-1", "sales", func(c *config.AgentConfig) {
			c.Name = "Sales Agent"
			c.Description = "Answers pricing questions"
		}),
	)

	res := ts.get(t, "/agents")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var list agentListResponse
	decodeBody(t, res, &list)
	require.Len(t, list.Agents, 2)
	assert.Equal(t, "sales", list.Agents[0].Path)
	assert.Equal(t, "sales-1", list.Agents[0].ID)
	assert.Equal(t, "Sales Agent", list.Agents[0].Name)
	assert.Equal(t, "support", list.Agents[1].Path)

	t.Run("single agent", func(t *testing.T) {
		res := ts.get(t, "/agents/sales")
		require.Equal(t, http.StatusOK, res.StatusCode)

		var summary registry.AgentSummary
		decodeBody(t, res, &summary)
		assert.Equal(t, "sales", summary.Path)
		assert.Equal(t, "Answers pricing questions", summary.Description)
	})

	t.Run("unknown agent", func(t *testing.T) {
		res := ts.get(t, "/agents/ghost")
		require.Equal(t, http.StatusNotFound, res.StatusCode)

		body := decodeErrorBody(t, res)
		assert.Equal(t, registry.CodeAgentNotFound, body.Code)
		assert.Contains(t, body.Message, "ghost")
		assert.NotEmpty(t, body.TraceID)
		_, err := time.Parse(time.RFC3339, body.Timestamp)
		assert.NoError(t, err)
	})
}

func TestChat(t *testing.T) {
	ts := newTestServer(t, respondText("Our plans start at $10 per seat."), agent.Options{},
		agentConfig("sales-1", "sales"))

	res := ts.do(t, http.MethodPost, "/agents/sales/chat", map[string]any{"message": "What do you cost?"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body chatResponse
	decodeBody(t, res, &body)
	assert.True(t, body.Success)
	require.NotNil(t, body.Data)
	assert.Equal(t, "Our plans start at $10 per seat.", body.Data.Text)
	assert.Equal(t, "stop", body.Data.FinishReason)
	assert.Empty(t, body.Data.ToolCalls)
	require.NotNil(t, body.Data.Usage)
	assert.Equal(t, 18, body.Data.Usage.TotalTokens)
	assert.NotEmpty(t, body.TraceID)
	assert.Equal(t, res.Header.Get("X-Trace-Id"), body.TraceID)

	// The model saw the configured prompt, and no tools were offered.
	req := ts.llm.request(t, 0)
	assert.Equal(t, "test-model", req.Model)
	assert.False(t, req.Stream)
	assert.Equal(t, "You are the sales assistant.", req.system())
	assert.Empty(t, req.Tools)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "What do you cost?", req.Messages[1].Content)
}

func TestChatValidation(t *testing.T) {
	ts := newTestServer(t, respondText("unused"), agent.Options{}, agentConfig("sales-1", "sales"))

	t.Run("blank message", func(t *testing.T) {
		res := ts.do(t, http.MethodPost, "/agents/sales/chat", map[string]any{"message": "   "})
		require.Equal(t, http.StatusBadRequest, res.StatusCode)

		body := decodeErrorBody(t, res)
		assert.Equal(t, codeValidationError, body.Code)
		assert.Equal(t, "message is required", body.Message)
	})

	t.Run("malformed body", func(t *testing.T) {
		res := ts.postRaw(t, "/agents/sales/chat", "{not json")
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
		assert.Equal(t, codeValidationError, decodeErrorBody(t, res).Code)
	})

	t.Run("unknown agent", func(t *testing.T) {
		res := ts.do(t, http.MethodPost, "/agents/ghost/chat", map[string]any{"message": "hi"})
		require.Equal(t, http.StatusNotFound, res.StatusCode)
		assert.Equal(t, registry.CodeAgentNotFound, decodeErrorBody(t, res).Code)
	})

	assert.Zero(t, ts.llm.count())
}

func TestChatExecutionError(t *testing.T) {
	ts := newTestServer(t, func(int, *wireRequest) string { return errorCompletion("model melted") },
		agent.Options{}, agentConfig("sales-1", "sales"))

	res := ts.do(t, http.MethodPost, "/agents/sales/chat", map[string]any{"message": "hi"})
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)

	body := decodeErrorBody(t, res)
	assert.Equal(t, codeAgentExecution, body.Code)
	assert.Contains(t, body.Message, "model melted")
	assert.NotEmpty(t, body.TraceID)
}

func TestDelegation(t *testing.T) {
	respond := func(n int, req *wireRequest) string {
		if strings.Contains(req.system(), "orchestrator") {
			if req.sawToolResult() {
				return textCompletion("Sales says: $10 per seat.")
			}
			return toolCallCompletion("call-1", "askSales", map[string]any{"message": "What are your prices?"})
		}
		return textCompletion("$10 per seat.")
	}
	ts := newTestServer(t, respond, agent.Options{},
		agentConfig("sales-1", "sales"),
		agentConfig("orchestrator-1", "orchestrator", func(c *config.AgentConfig) {
			c.Delegation = &config.DelegationConfig{
				Enabled: true,
				Targets: []config.DelegationTarget{{
					AgentPath:   "sales",
					ToolName:    "askSales",
					Description: "Ask the sales agent a question",
				}},
			}
		}),
	)

	res := ts.do(t, http.MethodPost, "/agents/orchestrator/chat", map[string]any{"message": "How much does it cost?"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body chatResponse
	decodeBody(t, res, &body)
	require.NotNil(t, body.Data)
	assert.Equal(t, "Sales says: $10 per seat.", body.Data.Text)

	require.Len(t, body.Data.ToolCalls, 1)
	call := body.Data.ToolCalls[0]
	assert.Equal(t, "askSales", call.ToolName)
	message, _ := call.Args["message"].(string)
	assert.Contains(t, strings.ToLower(message), "price")

	// Three model calls: the orchestrator's, the delegated sales turn,
	// and the orchestrator's follow-up with the tool result.
	require.Equal(t, 3, ts.llm.count())

	first := ts.llm.request(t, 0)
	require.Len(t, first.Tools, 1)
	assert.Equal(t, "askSales", first.Tools[0].Function.Name)

	salesReq := ts.llm.request(t, 1)
	assert.Contains(t, salesReq.system(), "sales")
	assert.Equal(t, "What are your prices?", salesReq.Messages[len(salesReq.Messages)-1].Content)

	followUp := ts.llm.request(t, 2)
	assert.True(t, followUp.sawToolResult())
}

func TestChatStream(t *testing.T) {
	ts := newTestServer(t, respondText("streamed answer"), agent.Options{}, agentConfig("sales-1", "sales"))

	res := ts.do(t, http.MethodPost, "/agents/sales/stream", map[string]any{"message": "hi"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	events := readSSE(t, res.Body)
	require.GreaterOrEqual(t, len(events), 4)

	var first streamFrame
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &first))
	assert.Equal(t, "start", first.Type)
	assert.Equal(t, res.Header.Get("X-Trace-Id"), first.TraceID)

	var types []string
	var text strings.Builder
	var finish agent.ChatChunk
	for _, ev := range events[1 : len(events)-1] {
		var chunk agent.ChatChunk
		require.NoError(t, json.Unmarshal([]byte(ev.data), &chunk))
		types = append(types, chunk.Type)
		switch chunk.Type {
		case agent.ChunkTypeText:
			text.WriteString(chunk.Content)
		case agent.ChunkTypeFinish:
			finish = chunk
		}
	}
	assert.Contains(t, types, agent.ChunkTypeText)
	assert.Equal(t, agent.ChunkTypeFinish, types[len(types)-1])
	assert.Equal(t, "streamed answer", text.String())
	assert.Equal(t, "stop", finish.FinishReason)
	require.NotNil(t, finish.Usage)
	assert.Equal(t, 18, finish.Usage.TotalTokens)

	var last streamFrame
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].data), &last))
	assert.Equal(t, "done", last.Type)

	// The wire client was asked to stream.
	assert.True(t, ts.llm.request(t, 0).Stream)
}

func TestChatStreamError(t *testing.T) {
	ts := newTestServer(t, func(int, *wireRequest) string { return errorCompletion("backend down") },
		agent.Options{}, agentConfig("sales-1", "sales"))

	res := ts.do(t, http.MethodPost, "/agents/sales/stream", map[string]any{"message": "hi"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	events := readSSE(t, res.Body)
	require.NotEmpty(t, events)

	var types []string
	for _, ev := range events {
		var frame streamFrame
		require.NoError(t, json.Unmarshal([]byte(ev.data), &frame))
		types = append(types, frame.Type)
	}

	// The error chunk ends the stream; no done frame follows.
	last := events[len(events)-1]
	var errFrame agent.ChatChunk
	require.NoError(t, json.Unmarshal([]byte(last.data), &errFrame))
	assert.Equal(t, agent.ChunkTypeError, errFrame.Type)
	assert.Contains(t, errFrame.Content, "backend down")
	assert.NotContains(t, types, "done")
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, respondText("unused"), agent.Options{},
		agentConfig("sales-1", "sales"),
		agentConfig("support-1", "support"),
	)

	res := ts.get(t, "/health")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var health struct {
		Status  string `json:"status"`
		Agents  int    `json:"agents"`
		Version string `json:"version"`
	}
	decodeBody(t, res, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.Agents)
	assert.Equal(t, "test", health.Version)

	res = ts.get(t, "/health/live")
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = ts.get(t, "/health/ready")
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestTraceIDEcho(t *testing.T) {
	ts := newTestServer(t, respondText("unused"), agent.Options{}, agentConfig("sales-1", "sales"))

	req, err := http.NewRequest(http.MethodGet, ts.http.URL+"/agents/ghost", nil)
	require.NoError(t, err)
	req.Header.Set("X-Trace-Id", "trace-abc-123")
	res, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, "trace-abc-123", res.Header.Get("X-Trace-Id"))
	assert.Equal(t, "trace-abc-123", decodeErrorBody(t, res).TraceID)

	// Minted when the caller sends none.
	res2 := ts.get(t, "/health")
	assert.NotEmpty(t, res2.Header.Get("X-Trace-Id"))
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, respondText("unused"), agent.Options{}, agentConfig("sales-1", "sales"))

	res := ts.do(t, http.MethodOptions, "/agents", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, res.Header.Get("Access-Control-Allow-Headers"), "X-Trace-Id")

	res = ts.get(t, "/health")
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsRouteDisabledWithoutObservability(t *testing.T) {
	ts := newTestServer(t, respondText("unused"), agent.Options{}, agentConfig("sales-1", "sales"))

	res := ts.get(t, "/metrics")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (stubEmbedder) Dimension() int { return 2 }
func (stubEmbedder) Model() string  { return "stub" }
func (stubEmbedder) Close() error   { return nil }

type stubVector struct{ results []vector.Result }

func (s *stubVector) Name() string { return "stub" }

func (s *stubVector) Upsert(context.Context, string, string, []float32, string, map[string]any) error {
	return nil
}

func (s *stubVector) Search(context.Context, string, []float32, int) ([]vector.Result, error) {
	return s.results, nil
}

func (s *stubVector) Delete(context.Context, string, string) error { return nil }
func (s *stubVector) Close() error                                 { return nil }

func retrievalServer(t *testing.T, hits []vector.Result) *testServer {
	t.Helper()
	retrieval := &config.RetrievalConfig{
		Enabled:  true,
		Provider: config.RetrievalChromem,
		Index:    "docs",
		MinScore: 0.9,
	}
	searcher, err := rag.NewSearcher(retrieval, stubEmbedder{}, &stubVector{results: hits})
	require.NoError(t, err)

	return newTestServer(t, respondText("Checked the docs."),
		agent.Options{
			NewSearcher: func(*config.RetrievalConfig) (*rag.Searcher, error) { return searcher, nil },
		},
		agentConfig("kb-1", "kb", func(c *config.AgentConfig) {
			c.Retrieval = retrieval
		}),
	)
}

func TestRetrievalPromptInjection(t *testing.T) {
	t.Run("matches extend the prompt", func(t *testing.T) {
		ts := retrievalServer(t, []vector.Result{{ID: "d1", Score: 0.95, Content: "Quotas reset monthly."}})

		res := ts.do(t, http.MethodPost, "/agents/kb/chat", map[string]any{"message": "when do quotas reset?"})
		require.Equal(t, http.StatusOK, res.StatusCode)

		system := ts.llm.request(t, 0).system()
		assert.Contains(t, system, "You are the kb assistant.")
		assert.Contains(t, system, "Quotas reset monthly.")
	})

	t.Run("all hits below min score leave the prompt untouched", func(t *testing.T) {
		ts := retrievalServer(t, []vector.Result{{ID: "d1", Score: 0.2, Content: "stale doc"}})

		res := ts.do(t, http.MethodPost, "/agents/kb/chat", map[string]any{"message": "when do quotas reset?"})
		require.Equal(t, http.StatusOK, res.StatusCode)

		assert.Equal(t, "You are the kb assistant.", ts.llm.request(t, 0).system())
	})
}
