package vector

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemConfig configures the embedded chromem provider.
type ChromemConfig struct {
	// Path enables file persistence when set; empty keeps everything in
	// memory. The directory is created on demand.
	Path string

	// Compress gzips persisted collections.
	Compress bool
}

// Chromem is an in-process store backed by chromem-go. It needs no external
// service, which makes it the default for development and tests. Vectors
// arrive pre-computed, so the collection embedding func must never run.
type Chromem struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromem creates a chromem provider.
func NewChromem(cfg ChromemConfig) (*Chromem, error) {
	var db *chromem.DB
	var err error

	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("chromem: failed to open store at %q: %w", cfg.Path, err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &Chromem{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// Name implements Provider.
func (p *Chromem) Name() string { return "chromem" }

func (p *Chromem) collection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	col, ok := p.collections[name]
	p.mu.RUnlock()
	if ok {
		return col, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if col, ok := p.collections[name]; ok {
		return col, nil
	}

	col, err := p.db.GetOrCreateCollection(name, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("chromem: failed to open collection %q: %w", name, err)
	}
	p.collections[name] = col
	return col, nil
}

// rejectEmbedding guards against chromem computing embeddings itself; all
// vectors are supplied by the caller.
func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("chromem: vectors must be pre-computed")
}

// Upsert implements Provider.
func (p *Chromem) Upsert(ctx context.Context, collection, id string, vec []float32, content string, metadata map[string]any) error {
	col, err := p.collection(collection)
	if err != nil {
		return err
	}

	// chromem metadata values are strings.
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = fmt.Sprint(v)
	}

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  meta,
		Embedding: vec,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem: failed to upsert %q: %w", id, err)
	}
	return nil
}

// Search implements Provider. chromem rejects queries asking for more
// results than the collection holds, so topK is clamped.
func (p *Chromem) Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error) {
	col, err := p.collection(collection)
	if err != nil {
		return nil, err
	}

	n := topK
	if count := col.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	hits, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query failed: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		metadata := make(map[string]any, len(h.Metadata))
		for k, v := range h.Metadata {
			metadata[k] = v
		}
		results = append(results, Result{
			ID:       h.ID,
			Content:  h.Content,
			Score:    h.Similarity,
			Metadata: metadata,
		})
	}
	return results, nil
}

// Delete implements Provider.
func (p *Chromem) Delete(ctx context.Context, collection, id string) error {
	col, err := p.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("chromem: failed to delete %q: %w", id, err)
	}
	return nil
}

// Close implements Provider. Persistent stores write through on every
// mutation, so there is nothing to flush.
func (p *Chromem) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collections = make(map[string]*chromem.Collection)
	return nil
}

var _ Provider = (*Chromem)(nil)
