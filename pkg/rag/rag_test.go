package rag

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atriumhq/atrium/pkg/config"
	"github.com/atriumhq/atrium/pkg/vector"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, s.err
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, s.err
}

func (s *stubEmbedder) Dimension() int { return len(s.vec) }
func (s *stubEmbedder) Model() string  { return "stub" }
func (s *stubEmbedder) Close() error   { return nil }

type stubProvider struct {
	results   []vector.Result
	err       error
	gotIndex  string
	gotVector []float32
	gotTopK   int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Upsert(ctx context.Context, collection, id string, vec []float32, content string, metadata map[string]any) error {
	return nil
}

func (s *stubProvider) Search(ctx context.Context, collection string, vec []float32, topK int) ([]vector.Result, error) {
	s.gotIndex = collection
	s.gotVector = vec
	s.gotTopK = topK
	return s.results, s.err
}

func (s *stubProvider) Delete(ctx context.Context, collection, id string) error { return nil }
func (s *stubProvider) Close() error                                            { return nil }

func newTestSearcher(t *testing.T, cfg *config.RetrievalConfig, provider *stubProvider) *Searcher {
	t.Helper()
	s, err := NewSearcher(cfg, &stubEmbedder{vec: []float32{0.1, 0.2}}, provider)
	require.NoError(t, err)
	return s
}

func TestSearchFiltersAndSorts(t *testing.T) {
	provider := &stubProvider{results: []vector.Result{
		{ID: "low", Score: 0.2},
		{ID: "best", Score: 0.9},
		{ID: "ok", Score: 0.6},
	}}
	s := newTestSearcher(t, &config.RetrievalConfig{
		Enabled:  true,
		Provider: "chromem",
		Index:    "docs",
		TopK:     3,
		MinScore: 0.5,
	}, provider)

	results, err := s.Search(context.Background(), "query")
	require.NoError(t, err)

	assert.Equal(t, "docs", provider.gotIndex)
	assert.Equal(t, []float32{0.1, 0.2}, provider.gotVector)
	assert.Equal(t, 3, provider.gotTopK)

	require.Len(t, results, 2)
	assert.Equal(t, "best", results[0].ID)
	assert.Equal(t, "ok", results[1].ID)
}

func TestSearchEmbedFailure(t *testing.T) {
	s, err := NewSearcher(
		&config.RetrievalConfig{Provider: "chromem", Index: "docs"},
		&stubEmbedder{err: fmt.Errorf("embed endpoint down")},
		&stubProvider{},
	)
	require.NoError(t, err)

	_, err = s.Search(context.Background(), "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to embed")
}

func TestSearchProviderFailure(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("connection refused")}
	s := newTestSearcher(t, &config.RetrievalConfig{Provider: "chromem", Index: "docs"}, provider)

	_, err := s.Search(context.Background(), "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector search failed")
}

func TestSearchDefaultsTopK(t *testing.T) {
	provider := &stubProvider{}
	s := newTestSearcher(t, &config.RetrievalConfig{Provider: "chromem", Index: "docs"}, provider)

	_, err := s.Search(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, 5, provider.gotTopK)
}

func TestPromptContext(t *testing.T) {
	t.Run("default template", func(t *testing.T) {
		s := newTestSearcher(t, &config.RetrievalConfig{Provider: "chromem", Index: "docs"}, &stubProvider{})

		got := s.PromptContext([]vector.Result{
			{Content: "first chunk"},
			{Content: "second chunk"},
		})
		assert.Equal(t, "## Relevant Context:\n\nfirst chunk\n\n---\n\nsecond chunk", got)
	})

	t.Run("custom template", func(t *testing.T) {
		s := newTestSearcher(t, &config.RetrievalConfig{
			Provider: "chromem",
			Index:    "docs",
			Template: "Background:\n{{context}}\nEnd.",
		}, &stubProvider{})

		got := s.PromptContext([]vector.Result{{Content: "only"}})
		assert.Equal(t, "Background:\nonly\nEnd.", got)
	})

	t.Run("no results", func(t *testing.T) {
		s := newTestSearcher(t, &config.RetrievalConfig{Provider: "chromem", Index: "docs"}, &stubProvider{})
		assert.Empty(t, s.PromptContext(nil))
	})
}

func TestNewSearcherValidation(t *testing.T) {
	emb := &stubEmbedder{}
	provider := &stubProvider{}

	_, err := NewSearcher(nil, emb, provider)
	assert.Error(t, err)

	_, err = NewSearcher(&config.RetrievalConfig{}, nil, provider)
	assert.Error(t, err)

	_, err = NewSearcher(&config.RetrievalConfig{}, emb, nil)
	assert.Error(t, err)
}
