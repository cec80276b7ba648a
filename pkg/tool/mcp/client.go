// Package mcp connects agents to Model Context Protocol tool sources.
//
// One Client serves one configured source and lives as long as its agent.
// The stdio transport spawns the configured command and speaks the protocol
// over its pipes via mark3labs/mcp-go; the sse and http transports speak
// JSON-RPC 2.0 against a URL, sse with the endpoint-discovery handshake and
// http with the session id header.
package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/atriumhq/atrium/pkg/tool"
)

const (
	protocolVersion = "2024-11-05"
	clientName      = "atrium"
	clientVersion   = "1.0"
)

// Config describes one tool source connection.
type Config struct {
	// ID identifies the source. Translated tool names are prefixed with it.
	ID string

	// Transport is one of stdio, sse, http.
	Transport string

	// Command and Args spawn the child process for the stdio transport.
	Command string
	Args    []string

	// URL and Headers locate the server for the sse and http transports.
	URL     string
	Headers map[string]string
}

// ConnectionError reports a failure to reach a tool source or list its
// tools. The HTTP layer maps it to MCP_CONNECTION_ERROR.
type ConnectionError struct {
	Source  string
	Message string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool source %s: %s: %v", e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("tool source %s: %s", e.Source, e.Message)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// transport is the wire-level half of a Client.
type transport interface {
	start(ctx context.Context) error
	listTools(ctx context.Context) ([]tool.Declaration, error)
	callTool(ctx context.Context, name string, args map[string]any) (tool.Result, error)
	close() error
}

// Client is a long-lived connection to one tool source. The connection is
// opened lazily on first use.
type Client struct {
	cfg Config
	tr  transport

	mu      sync.Mutex
	started bool
	closed  bool
}

// New builds a client for the configured transport.
func New(cfg Config) (*Client, error) {
	var tr transport
	switch cfg.Transport {
	case "stdio":
		if cfg.Command == "" {
			return nil, fmt.Errorf("tool source %s: stdio transport requires a command", cfg.ID)
		}
		tr = &stdioTransport{cfg: cfg}
	case "sse":
		if cfg.URL == "" {
			return nil, fmt.Errorf("tool source %s: sse transport requires a url", cfg.ID)
		}
		tr = newSSETransport(cfg)
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("tool source %s: http transport requires a url", cfg.ID)
		}
		tr = newHTTPTransport(cfg)
	default:
		return nil, fmt.Errorf("tool source %s: unsupported transport %q", cfg.ID, cfg.Transport)
	}
	return &Client{cfg: cfg, tr: tr}, nil
}

// ID returns the configured source id.
func (c *Client) ID() string { return c.cfg.ID }

// ListTools connects if needed and returns the source's declared tools.
func (c *Client) ListTools(ctx context.Context) ([]tool.Declaration, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	decls, err := c.tr.listTools(ctx)
	if err != nil {
		return nil, &ConnectionError{Source: c.cfg.ID, Message: "listing tools failed", Err: err}
	}
	return decls, nil
}

// CallTool connects if needed and invokes a tool by its declared name.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (tool.Result, error) {
	if err := c.ensure(ctx); err != nil {
		return tool.Result{}, err
	}
	return c.tr.callTool(ctx, name, args)
}

// Close terminates the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if !c.started {
		return nil
	}
	c.started = false
	return c.tr.close()
}

func (c *Client) ensure(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &ConnectionError{Source: c.cfg.ID, Message: "source is closed"}
	}
	if c.started {
		return nil
	}
	if err := c.tr.start(ctx); err != nil {
		return &ConnectionError{Source: c.cfg.ID, Message: "connect failed", Err: err}
	}
	c.started = true
	return nil
}

var _ tool.Source = (*Client)(nil)
