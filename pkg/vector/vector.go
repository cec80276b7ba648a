// Package vector provides a common interface over the vector search
// backends used for retrieval: Pinecone, Chroma, a pgvector sidecar,
// the embedded chromem store, and Qdrant.
package vector

import "context"

// Provider is a vector store holding embedded documents grouped into
// collections (indexes, tables, whatever the backend calls them).
type Provider interface {
	// Name identifies the backend kind, e.g. "pinecone".
	Name() string

	// Upsert stores or replaces a document with its embedding. Content is
	// the raw text the vector was computed from and is returned verbatim
	// by Search.
	Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]any) error

	// Search returns the topK nearest documents by similarity, best first.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// Delete removes a document by id. Deleting an absent id is not an
	// error.
	Delete(ctx context.Context, collection, id string) error

	// Close releases connections and flushes any local state. Idempotent.
	Close() error
}

// Result is one search hit.
type Result struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]any
}
