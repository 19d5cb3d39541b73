package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryVectorStore_UpsertAndQuery(t *testing.T) {
	t.Parallel()

	store := NewInMemoryVectorStore(nil)
	ctx := context.Background()

	chunks := map[string][]float64{
		"exact":      {1, 0, 0},
		"close":      {0.9, 0.1, 0},
		"orthogonal": {0, 1, 0},
		"opposite":   {-1, 0, 0},
	}
	for id, vec := range chunks {
		err := store.Upsert(ctx, id, vec, Chunk{DocumentID: id, Text: id})
		require.NoError(t, err)
	}
	assert.Equal(t, 4, store.Count())

	matches, err := store.Query(ctx, []float64{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	// 余弦相似度降序
	assert.Equal(t, "exact", matches[0].Chunk.DocumentID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Equal(t, "close", matches[1].Chunk.DocumentID)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i].Score, matches[i-1].Score)
	}
}

func TestInMemoryVectorStore_UpsertReplaces(t *testing.T) {
	t.Parallel()

	store := NewInMemoryVectorStore(nil)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "id", []float64{1, 0}, Chunk{DocumentID: "d", Text: "old"}))
	require.NoError(t, store.Upsert(ctx, "id", []float64{0, 1}, Chunk{DocumentID: "d", Text: "new"}))
	assert.Equal(t, 1, store.Count())

	matches, err := store.Query(ctx, []float64{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "new", matches[0].Chunk.Text)
}

func TestInMemoryVectorStore_Delete(t *testing.T) {
	t.Parallel()

	store := NewInMemoryVectorStore(nil)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "a", []float64{1, 0}, Chunk{Text: "a"}))
	require.NoError(t, store.Upsert(ctx, "b", []float64{0, 1}, Chunk{Text: "b"}))

	require.NoError(t, store.Delete(ctx, []string{"a", "ghost"}))
	assert.Equal(t, 1, store.Count())

	matches, err := store.Query(ctx, []float64{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].Chunk.Text)
}

func TestInMemoryVectorStore_TopKBounds(t *testing.T) {
	t.Parallel()

	store := NewInMemoryVectorStore(nil)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "a", []float64{1, 0}, Chunk{Text: "a"}))

	matches, err := store.Query(ctx, []float64{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 1, "topK larger than store returns all")

	matches, err = store.Query(ctx, []float64{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)

	// 维度不匹配或零向量返回 0
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{1}))
	assert.Equal(t, 0.0, cosineSimilarity([]float64{0, 0}, []float64{1, 0}))
}
