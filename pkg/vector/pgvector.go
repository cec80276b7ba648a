package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/atriumhq/atrium/pkg/httpclient"
)

// PgvectorConfig configures the pgvector provider.
type PgvectorConfig struct {
	// URL is the search sidecar endpoint. When empty, searches log a
	// warning and return no results.
	URL string
}

// Pgvector queries Postgres/pgvector through a small REST sidecar that owns
// the SQL. The collection argument names the table. The sidecar applies its
// own score floor, so the request carries minScore zero and filtering stays
// with the caller.
type Pgvector struct {
	url    string
	client *httpclient.Client
}

// NewPgvector creates a pgvector provider. A missing sidecar URL is not an
// error; the provider degrades to empty search results.
func NewPgvector(cfg PgvectorConfig) (*Pgvector, error) {
	return &Pgvector{
		url:    cfg.URL,
		client: httpclient.New(httpclient.WithTimeout(30 * time.Second)),
	}, nil
}

// Name implements Provider.
func (p *Pgvector) Name() string { return "pgvector" }

type pgvectorSearchRequest struct {
	Table     string    `json:"table"`
	Embedding []float32 `json:"embedding"`
	TopK      int       `json:"topK"`
	MinScore  float64   `json:"minScore"`
}

type pgvectorSearchResponse struct {
	Results []struct {
		ID       string         `json:"id"`
		Content  string         `json:"content"`
		Score    float32        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"results"`
}

// Search implements Provider.
func (p *Pgvector) Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error) {
	if p.url == "" {
		slog.Warn("pgvector sidecar URL not configured, returning no results", "table", collection)
		return nil, nil
	}

	body, err := json.Marshal(pgvectorSearchRequest{
		Table:     collection,
		Embedding: vec,
		TopK:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pgvector: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pgvector: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("pgvector: HTTP %d: %s", resp.StatusCode, string(excerpt))
	}

	var parsed pgvectorSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("pgvector: failed to decode response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		metadata := r.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		results = append(results, Result{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Score,
			Metadata: metadata,
		})
	}
	return results, nil
}

// Upsert implements Provider. The sidecar is a search gateway; writes go
// through the owning ingestion pipeline instead.
func (p *Pgvector) Upsert(ctx context.Context, collection, id string, vec []float32, content string, metadata map[string]any) error {
	return fmt.Errorf("pgvector: the sidecar is search-only, upsert is not supported")
}

// Delete implements Provider.
func (p *Pgvector) Delete(ctx context.Context, collection, id string) error {
	return fmt.Errorf("pgvector: the sidecar is search-only, delete is not supported")
}

// Close implements Provider.
func (p *Pgvector) Close() error { return nil }

var _ Provider = (*Pgvector)(nil)
