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
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atriumhq/atrium/pkg/httpclient"
	"github.com/atriumhq/atrium/pkg/tool"
)

// sseTransport implements the endpoint-discovery handshake: a long-lived
// GET on the source URL yields an "endpoint" event naming the POST target,
// and every JSON-RPC response arrives as a later "message" event matched to
// its request by id.
type sseTransport struct {
	cfg    Config
	post   *httpclient.Client
	stream *http.Client
	nextID atomic.Int64

	cancel context.CancelFunc
	ready  chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	endpoint string
	pending  map[int64]chan *jsonRPCResponse
	readErr  error
}

func newSSETransport(cfg Config) *sseTransport {
	return &sseTransport{
		cfg: cfg,
		post: httpclient.New(
			httpclient.WithTimeout(30*time.Second),
			httpclient.WithMaxRetries(3),
		),
		stream: &http.Client{},
	}
}

// start dials the event stream and completes the handshake. State is reset
// per attempt so a failed connect can be retried.
func (t *sseTransport) start(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.ready = make(chan struct{})
	t.done = make(chan struct{})
	t.mu.Lock()
	t.endpoint = ""
	t.pending = make(map[int64]chan *jsonRPCResponse)
	t.readErr = nil
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	for key, value := range t.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := t.stream.Do(req)
	if err != nil {
		cancel()
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("event stream returned HTTP %d", resp.StatusCode)
	}

	go t.readLoop(resp.Body, t.ready, t.done)

	select {
	case <-t.ready:
	case <-t.done:
		cancel()
		return fmt.Errorf("event stream closed before endpoint event: %w", t.readError())
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	initResp, err := t.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": clientName, "version": clientVersion},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("initialize: %w", err)
	}
	if initResp.Error != nil {
		cancel()
		return fmt.Errorf("initialize: %w", initResp.Error)
	}

	slog.Info("Connected to tool source", "source", t.cfg.ID, "transport", "sse", "url", t.cfg.URL)
	return nil
}

func (t *sseTransport) listTools(ctx context.Context) ([]tool.Declaration, error) {
	resp, err := t.call(ctx, "tools/list", nil)
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

func (t *sseTransport) callTool(ctx context.Context, name string, args map[string]any) (tool.Result, error) {
	resp, err := t.call(ctx, "tools/call", map[string]any{
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

func (t *sseTransport) close() error {
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

// call POSTs one JSON-RPC request to the discovered endpoint and waits for
// the matching message event.
func (t *sseTransport) call(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	id := t.nextID.Add(1)
	ch := make(chan *jsonRPCResponse, 1)

	t.mu.Lock()
	endpoint := t.endpoint
	t.pending[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range t.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := t.post.Do(req)
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%s returned HTTP %d", method, resp.StatusCode)
	}

	select {
	case rpcResp := <-ch:
		return rpcResp, nil
	case <-t.done:
		return nil, fmt.Errorf("event stream closed: %w", t.readError())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop consumes the event stream until it ends, routing message events
// to their waiting callers. The channels belong to the attempt that spawned
// the loop.
func (t *sseTransport) readLoop(body io.ReadCloser, ready, done chan struct{}) {
	defer close(done)
	defer body.Close()

	reader := bufio.NewReader(body)
	var event string
	var data strings.Builder

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			t.dispatch(event, data.String(), ready)
			event = ""
			data.Reset()
		case strings.HasPrefix(trimmed, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
		case strings.HasPrefix(trimmed, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		}

		if err != nil {
			t.dispatch(event, data.String(), ready)
			if err != io.EOF {
				t.mu.Lock()
				t.readErr = err
				t.mu.Unlock()
			}
			return
		}
	}
}

func (t *sseTransport) dispatch(event, data string, ready chan struct{}) {
	if data == "" {
		return
	}
	switch event {
	case "endpoint":
		endpoint, err := resolveEndpoint(t.cfg.URL, data)
		if err != nil {
			slog.Warn("Ignoring malformed endpoint event", "source", t.cfg.ID, "endpoint", data, "error", err)
			return
		}
		t.mu.Lock()
		first := t.endpoint == ""
		t.endpoint = endpoint
		t.mu.Unlock()
		if first {
			close(ready)
		}
	case "message", "":
		var resp jsonRPCResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			slog.Debug("Ignoring unparseable event", "source", t.cfg.ID, "error", err)
			return
		}
		t.mu.Lock()
		ch := t.pending[resp.ID]
		delete(t.pending, resp.ID)
		t.mu.Unlock()
		if ch != nil {
			ch <- &resp
		}
	}
}

func (t *sseTransport) readError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readErr != nil {
		return t.readErr
	}
	return io.EOF
}

// resolveEndpoint interprets the endpoint event data relative to the stream
// URL, so servers may send either a path or an absolute URL.
func resolveEndpoint(base, endpoint string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}
