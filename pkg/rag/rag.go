// Package rag retrieves context for agent prompts: it embeds the query,
// searches the agent's vector index, and renders the hits into the prompt
// template.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/atriumhq/atrium/pkg/config"
	"github.com/atriumhq/atrium/pkg/embedder"
	"github.com/atriumhq/atrium/pkg/vector"
)

// separator joins retrieved chunks inside the rendered context block.
const separator = "\n\n---\n\n"

// contextPlaceholder marks where the joined chunks land in the template.
const contextPlaceholder = "{{context}}"

// Searcher runs retrieval for one agent: one embedder, one provider, one
// index, with the agent's topK, minScore, and template settings.
type Searcher struct {
	embedder embedder.Embedder
	provider vector.Provider
	index    string
	topK     int
	minScore float64
	template string
}

// NewSearcher creates a Searcher from an agent's retrieval section.
func NewSearcher(cfg *config.RetrievalConfig, emb embedder.Embedder, provider vector.Provider) (*Searcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("retrieval config is required")
	}
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("vector provider is required")
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	template := cfg.Template
	if template == "" {
		template = config.DefaultRetrievalTemplate
	}

	return &Searcher{
		embedder: emb,
		provider: provider,
		index:    cfg.Index,
		topK:     topK,
		minScore: cfg.MinScore,
		template: template,
	}, nil
}

// Search embeds the query, fetches topK candidates, drops hits scoring
// below minScore, and returns the rest best first.
func (s *Searcher) Search(ctx context.Context, query string) ([]vector.Result, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.provider.Search(ctx, s.index, vec, s.topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]vector.Result, 0, len(hits))
	for _, hit := range hits {
		if float64(hit.Score) >= s.minScore {
			results = append(results, hit)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// PromptContext renders results into the agent's template. Empty input
// renders to the empty string so callers can skip the block entirely.
func (s *Searcher) PromptContext(results []vector.Result) string {
	if len(results) == 0 {
		return ""
	}
	contents := make([]string, 0, len(results))
	for _, r := range results {
		contents = append(contents, r.Content)
	}
	return strings.ReplaceAll(s.template, contextPlaceholder, strings.Join(contents, separator))
}

// Provider exposes the underlying vector provider, mainly so owners can
// close it on shutdown.
func (s *Searcher) Provider() vector.Provider { return s.provider }

// Close releases the underlying provider.
func (s *Searcher) Close() error { return s.provider.Close() }
