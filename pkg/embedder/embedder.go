// Package embedder turns text into dense vectors for semantic search.
//
// The only implementation speaks the Gemini embedContent REST wire, which
// is also what local proxies such as LiteLLM expose, so the endpoint URL is
// the whole story: point it at Google or at a compatible sidecar.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/atriumhq/atrium/pkg/httpclient"
)

// Embedder converts text into vector embeddings.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension.
	Dimension() int

	// Model returns the model identifier.
	Model() string

	// Close releases resources.
	Close() error
}

const (
	defaultDimension = 768
	maxErrorBody     = 4096
)

// Config configures the REST embedding client.
type Config struct {
	// URL is the full embedContent endpoint, e.g.
	// https://generativelanguage.googleapis.com/v1beta/models/text-embedding-004:embedContent
	URL string

	// APIKey is sent as the x-goog-api-key header when set.
	APIKey string
}

// Client is an Embedder backed by an embedContent-style REST endpoint.
type Client struct {
	url    string
	apiKey string
	http   *httpclient.Client

	mu  sync.Mutex
	dim int
}

// New creates an embedding client for the given endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("embedder: URL is required")
	}

	return &Client{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		http: httpclient.New(
			httpclient.WithTimeout(30*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseGeminiHeaders),
		),
	}, nil
}

type embedRequest struct {
	Content embedContent `json:"content"`
}

type embedContent struct {
	Parts []embedPart `json:"parts"`
}

type embedPart struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed generates an embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{
		Content: embedContent{Parts: []embedPart{{Text: text}}},
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedder: creating request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if resp != nil && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, fmt.Errorf("embedder: request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embedder: decoding response: %w", err)
	}
	if len(parsed.Embedding.Values) == 0 {
		return nil, fmt.Errorf("embedder: empty embedding returned")
	}

	c.mu.Lock()
	c.dim = len(parsed.Embedding.Values)
	c.mu.Unlock()

	return parsed.Embedding.Values, nil
}

// EmbedBatch generates embeddings for multiple texts, one request per text.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedder: text %d of %d: %w", i+1, len(texts), err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

// Dimension returns the embedding dimension, learned from the first
// successful call. Before that it reports the text-embedding-004 default.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dim > 0 {
		return c.dim
	}
	return defaultDimension
}

// Model extracts the model identifier from the endpoint URL. Returns ""
// when the URL does not follow the models/<name>:<verb> convention.
func (c *Client) Model() string {
	_, rest, ok := strings.Cut(c.url, "models/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, ":")
	if strings.ContainsAny(name, "/?") {
		return ""
	}
	return name
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

var _ Embedder = (*Client)(nil)
