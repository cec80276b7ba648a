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

func TestPgvectorSearch(t *testing.T) {
	var gotBody pgvectorSearchRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"results": [
			{"id": "row-9", "content": "pricing table", "score": 0.92, "metadata": {"page": 3}},
			{"id": "row-4", "content": "overview", "score": 0.55}
		]}`)
	}))
	defer srv.Close()

	p, err := NewPgvector(PgvectorConfig{URL: srv.URL})
	require.NoError(t, err)

	results, err := p.Search(context.Background(), "documents", []float32{0.1, 0.2}, 4)
	require.NoError(t, err)

	assert.Equal(t, "documents", gotBody.Table)
	assert.Equal(t, []float32{0.1, 0.2}, gotBody.Embedding)
	assert.Equal(t, 4, gotBody.TopK)
	assert.Zero(t, gotBody.MinScore)

	require.Len(t, results, 2)
	assert.Equal(t, "row-9", results[0].ID)
	assert.Equal(t, "pricing table", results[0].Content)
	assert.InDelta(t, 0.92, results[0].Score, 1e-6)
	assert.Equal(t, float64(3), results[0].Metadata["page"])
	assert.NotNil(t, results[1].Metadata)
}

func TestPgvectorSearchWithoutSidecar(t *testing.T) {
	p, err := NewPgvector(PgvectorConfig{})
	require.NoError(t, err)

	results, err := p.Search(context.Background(), "documents", []float32{0.1}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPgvectorSearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad table", http.StatusBadRequest)
	}))
	defer srv.Close()

	p, err := NewPgvector(PgvectorConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = p.Search(context.Background(), "nope", []float32{0.1}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestPgvectorWritesUnsupported(t *testing.T) {
	p, err := NewPgvector(PgvectorConfig{URL: "http://localhost:9999"})
	require.NoError(t, err)

	assert.Error(t, p.Upsert(context.Background(), "t", "id", nil, "", nil))
	assert.Error(t, p.Delete(context.Background(), "t", "id"))
	assert.NoError(t, p.Close())
}
