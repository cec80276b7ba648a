package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/atriumhq/atrium/pkg/embedder"
	"github.com/atriumhq/atrium/pkg/vector"
)

// Indexer writes documents into a vector collection: load, chunk, embed,
// upsert. Chunk ids are "<file>#<n>" so re-indexing a changed file replaces
// its entries in place.
type Indexer struct {
	embedder   embedder.Embedder
	provider   vector.Provider
	chunker    *Chunker
	collection string
}

// NewIndexer creates an indexer targeting one collection. A nil chunker
// gets the default window.
func NewIndexer(emb embedder.Embedder, provider vector.Provider, collection string, chunker *Chunker) (*Indexer, error) {
	if emb == nil {
		return nil, fmt.Errorf("ingest: embedder is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("ingest: vector provider is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("ingest: collection is required")
	}
	if chunker == nil {
		var err error
		chunker, err = NewChunker(DefaultChunkerConfig())
		if err != nil {
			return nil, err
		}
	}
	return &Indexer{
		embedder:   emb,
		provider:   provider,
		chunker:    chunker,
		collection: collection,
	}, nil
}

// IndexFile extracts, chunks, embeds, and upserts one document. It returns
// the number of chunks written; on an upsert error the count covers the
// chunks already stored.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (int, error) {
	text, err := Load(path)
	if err != nil {
		return 0, err
	}

	chunks := ix.chunker.Chunk(text)
	if len(chunks) == 0 {
		return 0, nil
	}

	contents := make([]string, len(chunks))
	for i, ch := range chunks {
		contents[i] = ch.Content
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return 0, fmt.Errorf("ingest: embedding %s: %w", path, err)
	}

	for i, ch := range chunks {
		id := fmt.Sprintf("%s#%d", path, ch.Index)
		metadata := map[string]any{
			"source":  path,
			"chunk":   ch.Index,
			"content": ch.Content,
		}
		if err := ix.provider.Upsert(ctx, ix.collection, id, vectors[i], ch.Content, metadata); err != nil {
			return i, fmt.Errorf("ingest: upserting %s: %w", id, err)
		}
	}
	return len(chunks), nil
}

// Stats summarizes an IndexDir pass.
type Stats struct {
	// Files is the number of documents indexed.
	Files int

	// Chunks is the total number of chunks written.
	Chunks int

	// Failed counts documents that could not be indexed.
	Failed int
}

// IndexDir walks dir and indexes every supported document under it, skipping
// hidden files and directories. A document that fails to load or embed is
// logged and counted in Stats.Failed; only walk errors and cancellation stop
// the pass.
func (ix *Indexer) IndexDir(ctx context.Context, dir string) (Stats, error) {
	var stats Stats
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !Supported(path) {
			return nil
		}

		n, err := ix.IndexFile(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			slog.Warn("Skipping document", "path", path, "error", err)
			stats.Failed++
			return nil
		}
		stats.Files++
		stats.Chunks += n
		return nil
	})
	return stats, err
}
