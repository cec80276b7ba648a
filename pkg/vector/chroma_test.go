package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromaSearch(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	var gotKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{
			"ids": [["doc-1", "doc-2"]],
			"documents": [["first chunk", "second chunk"]],
			"distances": [[0.0, 1.0]],
			"metadatas": [[{"source": "a.md"}, null]]
		}`)
	}))
	defer srv.Close()

	p, err := NewChroma(ChromaConfig{URL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	results, err := p.Search(context.Background(), "docs", []float32{0.1, 0.2}, 2)
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/collections/docs/query", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, float64(2), gotBody["n_results"])
	assert.Contains(t, gotBody, "query_embeddings")
	assert.ElementsMatch(t, []any{"documents", "distances", "metadatas"}, gotBody["include"])

	require.Len(t, results, 2)
	assert.Equal(t, "doc-1", results[0].ID)
	assert.Equal(t, "first chunk", results[0].Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "a.md", results[0].Metadata["source"])

	assert.Equal(t, "doc-2", results[1].ID)
	assert.InDelta(t, 0.5, results[1].Score, 1e-6)
	assert.NotNil(t, results[1].Metadata)
}

func TestChromaSearchEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ids": [], "documents": [], "distances": [], "metadatas": []}`)
	}))
	defer srv.Close()

	p, err := NewChroma(ChromaConfig{URL: srv.URL})
	require.NoError(t, err)

	results, err := p.Search(context.Background(), "docs", []float32{0.1}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromaSearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such collection", http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := NewChroma(ChromaConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = p.Search(context.Background(), "missing", []float32{0.1}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestChromaUpsert(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p, err := NewChroma(ChromaConfig{URL: srv.URL})
	require.NoError(t, err)

	err = p.Upsert(context.Background(), "docs", "doc-1", []float32{0.5}, "hello", map[string]any{"source": "a.md"})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/collections/docs/add", gotPath)
	assert.Equal(t, []any{"doc-1"}, gotBody["ids"])
	assert.Equal(t, []any{"hello"}, gotBody["documents"])
	assert.Contains(t, gotBody, "embeddings")
	assert.Contains(t, gotBody, "metadatas")
}

func TestChromaDelete(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
	}))
	defer srv.Close()

	p, err := NewChroma(ChromaConfig{URL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, p.Delete(context.Background(), "docs", "doc-1"))
	assert.Equal(t, "/api/v1/collections/docs/delete", gotPath)
	assert.Equal(t, []any{"doc-1"}, gotBody["ids"])
}

func TestChromaRequiresURL(t *testing.T) {
	_, err := NewChroma(ChromaConfig{})
	require.Error(t, err)
}
