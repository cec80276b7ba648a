package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/atriumhq/atrium/pkg/tool"
)

// stdioTransport runs the source as a child process and speaks framed
// messages over its pipes. Requests are serialized, one in flight at a
// time.
type stdioTransport struct {
	cfg Config

	mu     sync.Mutex
	client *client.Client
}

func (t *stdioTransport) start(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(t.cfg.Command, nil, t.cfg.Args...)
	if err != nil {
		return fmt.Errorf("spawning %s: %w", t.cfg.Command, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("starting client: %w", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: clientName, Version: clientVersion}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	t.client = mcpClient
	slog.Info("Connected to tool source", "source", t.cfg.ID, "transport", "stdio", "command", t.cfg.Command)
	return nil
}

func (t *stdioTransport) listTools(ctx context.Context) ([]tool.Declaration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	resp, err := t.client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	decls := make([]tool.Declaration, 0, len(resp.Tools))
	for _, mcpTool := range resp.Tools {
		decls = append(decls, tool.Declaration{
			Name:        mcpTool.Name,
			Description: mcpTool.Description,
			InputSchema: schemaMap(mcpTool.InputSchema),
		})
	}
	return decls, nil
}

func (t *stdioTransport) callTool(ctx context.Context, name string, args map[string]any) (tool.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := t.client.CallTool(ctx, req)
	if err != nil {
		return tool.Result{}, err
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcpgo.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	return tool.Result{Content: strings.Join(texts, "\n"), IsError: resp.IsError}, nil
}

func (t *stdioTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

// schemaMap flattens the typed input schema into the JSON-Schema-like map
// the translator consumes.
func schemaMap(schema mcpgo.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
