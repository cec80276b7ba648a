package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemRoundTrip(t *testing.T) {
	p, err := NewChromem(ChromemConfig{})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Upsert(ctx, "docs", "a", []float32{1, 0, 0}, "alpha text", map[string]any{"source": "a.md"}))
	require.NoError(t, p.Upsert(ctx, "docs", "b", []float32{0, 1, 0}, "beta text", nil))

	results, err := p.Search(ctx, "docs", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "alpha text", results[0].Content)
	assert.Equal(t, "a.md", results[0].Metadata["source"])
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Greater(t, results[0].Score, float32(0.9))
}

func TestChromemClampsTopK(t *testing.T) {
	p, err := NewChromem(ChromemConfig{})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Upsert(ctx, "docs", "only", []float32{1, 0}, "solo", nil))

	results, err := p.Search(ctx, "docs", []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromemSearchEmptyCollection(t *testing.T) {
	p, err := NewChromem(ChromemConfig{})
	require.NoError(t, err)
	defer p.Close()

	results, err := p.Search(context.Background(), "empty", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemDelete(t *testing.T) {
	p, err := NewChromem(ChromemConfig{})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Upsert(ctx, "docs", "a", []float32{1, 0}, "alpha", nil))
	require.NoError(t, p.Upsert(ctx, "docs", "b", []float32{0, 1}, "beta", nil))
	require.NoError(t, p.Delete(ctx, "docs", "a"))

	results, err := p.Search(ctx, "docs", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestChromemPersistence(t *testing.T) {
	dir := t.TempDir()

	p, err := NewChromem(ChromemConfig{Path: dir})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Upsert(ctx, "docs", "a", []float32{1, 0}, "kept", nil))
	require.NoError(t, p.Close())

	reopened, err := NewChromem(ChromemConfig{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Search(ctx, "docs", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kept", results[0].Content)
}
