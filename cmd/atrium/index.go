package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/atriumhq/atrium/pkg/config"
	"github.com/atriumhq/atrium/pkg/embedder"
	"github.com/atriumhq/atrium/pkg/ingest"
	"github.com/atriumhq/atrium/pkg/vector"
)

// IndexCmd indexes a file or a directory tree of documents into a vector
// collection, using the embedding endpoint and backend credentials from
// the server config.
type IndexCmd struct {
	Path       string `arg:"" help:"File or directory to index." type:"path"`
	Provider   string `help:"Vector backend." required:"" enum:"pinecone,chroma,pgvector,chromem,qdrant"`
	Collection string `help:"Target index or collection name." required:""`
	Namespace  string `help:"Backend namespace, where the backend has one."`

	ChunkSize    int `name:"chunk-size" help:"Chunk size in tokens." default:"512"`
	ChunkOverlap int `name:"chunk-overlap" help:"Chunk overlap in tokens." default:"64"`
}

func (c *IndexCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, loader, err := loadServerConfig(ctx, cli)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	emb, err := embedder.New(embedder.Config{
		URL:    cfg.Retrieval.EmbedURL,
		APIKey: cfg.Retrieval.EmbedAPIKey,
	})
	if err != nil {
		return err
	}

	rc := &config.RetrievalConfig{
		Provider:  c.Provider,
		Index:     c.Collection,
		Namespace: c.Namespace,
	}
	prov, err := vector.NewProvider(rc, cfg.Retrieval)
	if err != nil {
		return err
	}
	defer prov.Close()

	chunker, err := ingest.NewChunker(ingest.ChunkerConfig{
		Size:    c.ChunkSize,
		Overlap: c.ChunkOverlap,
	})
	if err != nil {
		return err
	}
	indexer, err := ingest.NewIndexer(emb, prov, c.Collection, chunker)
	if err != nil {
		return err
	}

	info, err := os.Stat(c.Path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		chunks, err := indexer.IndexFile(ctx, c.Path)
		if err != nil {
			return fmt.Errorf("failed to index %s: %w", c.Path, err)
		}
		fmt.Printf("%s: %d chunks indexed into %s\n", c.Path, chunks, c.Collection)
		return nil
	}

	stats, err := indexer.IndexDir(ctx, c.Path)
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", c.Path, err)
	}
	fmt.Printf("%s: %d files, %d chunks indexed into %s", c.Path, stats.Files, stats.Chunks, c.Collection)
	if stats.Failed > 0 {
		fmt.Printf(" (%d files failed)", stats.Failed)
	}
	fmt.Println()
	return nil
}
