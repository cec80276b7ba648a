package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atriumhq/atrium/pkg/httpclient"
	"github.com/atriumhq/atrium/pkg/tool"
)

const sessionHeader = "Mcp-Session-Id"

// jsonRPCRequest and friends are the JSON-RPC 2.0 frames shared by the sse
// and http transports.
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonRPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type toolsListResult struct {
	Tools []struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema"`
	} `json:"tools"`
}

type toolCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// httpTransport POSTs JSON-RPC requests straight to the source URL. The
// server assigns a session id in a response header which is echoed on every
// later request. Responses arrive as plain JSON or as a single-event SSE
// body.
type httpTransport struct {
	cfg    Config
	client *httpclient.Client
	nextID atomic.Int64

	sessionMu sync.RWMutex
	sessionID string
}

func newHTTPTransport(cfg Config) *httpTransport {
	return &httpTransport{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithTimeout(5*time.Minute),
			httpclient.WithMaxRetries(3),
		),
	}
}

func (t *httpTransport) start(ctx context.Context) error {
	resp, err := t.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": clientName, "version": clientVersion},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize: %w", resp.Error)
	}
	slog.Info("Connected to tool source", "source", t.cfg.ID, "transport", "http", "url", t.cfg.URL)
	return nil
}

func (t *httpTransport) listTools(ctx context.Context) ([]tool.Declaration, error) {
	resp, err := t.rpc(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("parsing tools/list result: %w", err)
	}

	decls := make([]tool.Declaration, 0, len(result.Tools))
	for _, item := range result.Tools {
		decls = append(decls, tool.Declaration{
			Name:        item.Name,
			Description: item.Description,
			InputSchema: item.InputSchema,
		})
	}
	return decls, nil
}

func (t *httpTransport) callTool(ctx context.Context, name string, args map[string]any) (tool.Result, error) {
	resp, err := t.rpc(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return tool.Result{}, err
	}
	if resp.Error != nil {
		return tool.Result{}, resp.Error
	}
	return parseCallResult(resp.Result)
}

func (t *httpTransport) close() error {
	t.sessionMu.Lock()
	t.sessionID = ""
	t.sessionMu.Unlock()
	return nil
}

// rpc sends one JSON-RPC request and decodes the single response.
func (t *httpTransport) rpc(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      t.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for key, value := range t.cfg.Headers {
		req.Header.Set(key, value)
	}

	t.sessionMu.RLock()
	sessionID := t.sessionID
	t.sessionMu.RUnlock()
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if id := resp.Header.Get(sessionHeader); id != "" {
		t.sessionMu.Lock()
		t.sessionID = id
		t.sessionMu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s returned HTTP %d: %s", method, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readEventResponse(resp.Body)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(payload, &rpcResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &rpcResp, nil
}

// readEventResponse reads SSE data lines until the first complete JSON-RPC
// message. Cancellation closes the body through the request context.
func readEventResponse(body io.Reader) (*jsonRPCResponse, error) {
	reader := bufio.NewReader(body)
	var data strings.Builder

	flush := func() (*jsonRPCResponse, bool) {
		if data.Len() == 0 {
			return nil, false
		}
		var resp jsonRPCResponse
		if err := json.Unmarshal([]byte(data.String()), &resp); err != nil {
			data.Reset()
			return nil, false
		}
		return &resp, true
	}

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			if resp, ok := flush(); ok {
				return resp, nil
			}
		case strings.HasPrefix(trimmed, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		}

		if err != nil {
			if resp, ok := flush(); ok {
				return resp, nil
			}
			if err == io.EOF {
				return nil, fmt.Errorf("event stream ended without a complete message")
			}
			return nil, err
		}
	}
}

func parseCallResult(raw json.RawMessage) (tool.Result, error) {
	var result toolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return tool.Result{}, fmt.Errorf("parsing tools/call result: %w", err)
	}

	var texts []string
	for _, content := range result.Content {
		if content.Type == "text" {
			texts = append(texts, content.Text)
		}
	}
	return tool.Result{Content: strings.Join(texts, "\n"), IsError: result.IsError}, nil
}
