package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atriumhq/atrium/pkg/httpclient"
)

// ChromaConfig configures the Chroma provider.
type ChromaConfig struct {
	// URL is the Chroma server base URL, e.g. http://localhost:8000.
	URL string

	// APIKey is sent as X-Api-Key when set.
	APIKey string
}

// Chroma talks to a Chroma server over its HTTP API. The collection
// argument names the Chroma collection.
type Chroma struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
}

// NewChroma creates a Chroma provider.
func NewChroma(cfg ChromaConfig) (*Chroma, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("chroma: url is required")
	}
	return &Chroma{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpclient.New(httpclient.WithTimeout(30 * time.Second)),
	}, nil
}

// Name implements Provider.
func (c *Chroma) Name() string { return "chroma" }

func (c *Chroma) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("chroma: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chroma: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("chroma: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chroma: HTTP %d: %s", resp.StatusCode, string(excerpt))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("chroma: failed to decode response: %w", err)
		}
	}
	return nil
}

// Upsert implements Provider.
func (c *Chroma) Upsert(ctx context.Context, collection, id string, vec []float32, content string, metadata map[string]any) error {
	embedding := make([]float64, len(vec))
	for i, v := range vec {
		embedding[i] = float64(v)
	}

	payload := map[string]any{
		"ids":        []string{id},
		"embeddings": [][]float64{embedding},
		"documents":  []string{content},
		"metadatas":  []map[string]any{metadata},
	}
	return c.post(ctx, fmt.Sprintf("/api/v1/collections/%s/add", collection), payload, nil)
}

// chromaQueryResponse carries parallel arrays, each wrapped in an outer
// per-query array. We always send a single query embedding, so only the
// first element of each is read.
type chromaQueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Distances [][]float64        `json:"distances"`
	Metadatas [][]map[string]any `json:"metadatas"`
}

// Search implements Provider. Chroma reports distances; they are mapped to
// similarity scores as 1/(1+distance) so higher means closer.
func (c *Chroma) Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error) {
	embedding := make([]float64, len(vec))
	for i, v := range vec {
		embedding[i] = float64(v)
	}

	payload := map[string]any{
		"query_embeddings": [][]float64{embedding},
		"n_results":        topK,
		"include":          []string{"documents", "distances", "metadatas"},
	}

	var resp chromaQueryResponse
	if err := c.post(ctx, fmt.Sprintf("/api/v1/collections/%s/query", collection), payload, &resp); err != nil {
		return nil, err
	}

	if len(resp.IDs) == 0 {
		return nil, nil
	}

	ids := resp.IDs[0]
	results := make([]Result, 0, len(ids))
	for i, id := range ids {
		r := Result{ID: id, Metadata: map[string]any{}}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			r.Content = resp.Documents[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			r.Score = float32(1.0 / (1.0 + resp.Distances[0][i]))
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) && resp.Metadatas[0][i] != nil {
			r.Metadata = resp.Metadatas[0][i]
		}
		results = append(results, r)
	}
	return results, nil
}

// Delete implements Provider.
func (c *Chroma) Delete(ctx context.Context, collection, id string) error {
	payload := map[string]any{"ids": []string{id}}
	return c.post(ctx, fmt.Sprintf("/api/v1/collections/%s/delete", collection), payload, nil)
}

// Close implements Provider.
func (c *Chroma) Close() error { return nil }

var _ Provider = (*Chroma)(nil)
