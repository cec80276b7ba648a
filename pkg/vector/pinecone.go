package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeConfig configures the Pinecone provider.
type PineconeConfig struct {
	// APIKey authenticates against the Pinecone control and data planes.
	APIKey string

	// Namespace scopes all operations. Empty means the default namespace.
	Namespace string
}

// Pinecone talks to the managed Pinecone service. The collection argument
// names the Pinecone index; its data-plane host is resolved with
// DescribeIndex on first use and cached together with the connection.
type Pinecone struct {
	client    *pinecone.Client
	namespace string

	mu    sync.Mutex
	conns map[string]*pinecone.IndexConnection
}

// NewPinecone creates a Pinecone provider.
func NewPinecone(cfg PineconeConfig) (*Pinecone, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone: api key is required")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone: failed to create client: %w", err)
	}

	return &Pinecone{
		client:    client,
		namespace: cfg.Namespace,
		conns:     make(map[string]*pinecone.IndexConnection),
	}, nil
}

// Name implements Provider.
func (p *Pinecone) Name() string { return "pinecone" }

// conn returns the cached data-plane connection for an index, resolving
// the host once via the control plane.
func (p *Pinecone) conn(ctx context.Context, index string) (*pinecone.IndexConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[index]; ok {
		return conn, nil
	}

	desc, err := p.client.DescribeIndex(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("pinecone: failed to describe index %q: %w", index, err)
	}

	conn, err := p.client.Index(pinecone.NewIndexConnParams{
		Host:      desc.Host,
		Namespace: p.namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone: failed to connect to index %q: %w", index, err)
	}

	p.conns[index] = conn
	return conn, nil
}

// Upsert implements Provider. Content travels in the vector metadata under
// the "content" key so Search can recover it.
func (p *Pinecone) Upsert(ctx context.Context, collection, id string, vec []float32, content string, metadata map[string]any) error {
	conn, err := p.conn(ctx, collection)
	if err != nil {
		return err
	}

	merged := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		merged[k] = v
	}
	if content != "" {
		merged["content"] = content
	}

	var meta *pinecone.Metadata
	if len(merged) > 0 {
		meta, err = structpb.NewStruct(merged)
		if err != nil {
			return fmt.Errorf("pinecone: failed to convert metadata: %w", err)
		}
	}

	_, err = conn.UpsertVectors(ctx, []*pinecone.Vector{{
		Id:       id,
		Values:   vec,
		Metadata: meta,
	}})
	if err != nil {
		return fmt.Errorf("pinecone: failed to upsert %q: %w", id, err)
	}
	return nil
}

// Search implements Provider.
func (p *Pinecone) Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error) {
	conn, err := p.conn(ctx, collection)
	if err != nil {
		return nil, err
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vec,
		TopK:            uint32(topK),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone: query failed: %w", err)
	}

	results := make([]Result, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match.Vector == nil {
			continue
		}

		metadata := map[string]any{}
		if match.Vector.Metadata != nil {
			metadata = match.Vector.Metadata.AsMap()
		}

		content := ""
		if s, ok := metadata["content"].(string); ok {
			content = s
		} else if s, ok := metadata["text"].(string); ok {
			content = s
		}

		results = append(results, Result{
			ID:       match.Vector.Id,
			Content:  content,
			Score:    match.Score,
			Metadata: metadata,
		})
	}
	return results, nil
}

// Delete implements Provider.
func (p *Pinecone) Delete(ctx context.Context, collection, id string) error {
	conn, err := p.conn(ctx, collection)
	if err != nil {
		return err
	}
	if err := conn.DeleteVectorsById(ctx, []string{id}); err != nil {
		return fmt.Errorf("pinecone: failed to delete %q: %w", id, err)
	}
	return nil
}

// Close implements Provider.
func (p *Pinecone) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, conn := range p.conns {
		_ = conn.Close()
		delete(p.conns, name)
	}
	return nil
}

var _ Provider = (*Pinecone)(nil)
