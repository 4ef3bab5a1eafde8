package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T, cfg VectorConfig) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestHNSWIndex_AddAndSearch(t *testing.T) {
	// Given: a=[1,0,0,0], b=[0,1,0,0], c=[0.9,0.1,0,0]
	idx := newTestHNSW(t, DefaultVectorConfig(4))
	err := idx.Add(context.Background(), []string{"a", "b", "c"}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	})
	require.NoError(t, err)

	// When: searching for [1,0,0,0] with k=2
	hits, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)

	// Then: a is the exact match and c comes next
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "c", hits[1].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-5)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, 3, idx.Count())
	assert.Equal(t, 4, idx.Dimensions())
}

func TestHNSWIndex_InputIsNotMutated(t *testing.T) {
	idx := newTestHNSW(t, DefaultVectorConfig(2))
	v := []float32{3, 4}

	require.NoError(t, idx.Add(context.Background(), []string{"a"}, [][]float32{v}))
	_, err := idx.Search(context.Background(), v, 1)
	require.NoError(t, err)

	assert.Equal(t, []float32{3, 4}, v)
}

func TestHNSWIndex_ReAddReplacesVector(t *testing.T) {
	idx := newTestHNSW(t, DefaultVectorConfig(2))
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, idx.Add(ctx, []string{"a"}, [][]float32{{0, 1}}))

	hits, err := idx.Search(ctx, []float32{0, 1}, 3)
	require.NoError(t, err)

	assert.Equal(t, 2, idx.Count())
	seen := map[string]int{}
	for _, h := range hits {
		seen[h.ID]++
		assert.InDelta(t, 1.0, h.Score, 1e-5, "id %s", h.ID)
	}
	assert.Equal(t, 1, seen["a"])
}

func TestHNSWIndex_L2(t *testing.T) {
	idx := newTestHNSW(t, VectorConfig{Dimensions: 2, Metric: MetricL2})
	require.NoError(t, idx.Add(context.Background(), []string{"near", "far"}, [][]float32{{1, 1}, {10, 10}}))

	hits, err := idx.Search(context.Background(), []float32{1, 1}, 2)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
}

func TestHNSWIndex_DimensionMismatch(t *testing.T) {
	idx := newTestHNSW(t, DefaultVectorConfig(3))

	err := idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0}})
	var dimErr DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = idx.Search(context.Background(), []float32{1}, 1)
	assert.ErrorAs(t, err, &dimErr)
}

func TestHNSWIndex_EmptyAndInvalid(t *testing.T) {
	_, err := NewHNSWIndex(DefaultVectorConfig(0))
	assert.Error(t, err)
	_, err = NewHNSWIndex(VectorConfig{Dimensions: 2, Metric: "dot"})
	assert.Error(t, err)

	idx, err := NewHNSWIndex(DefaultVectorConfig(2))
	require.NoError(t, err)

	hits, err := idx.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	err = idx.Add(context.Background(), []string{"a", "b"}, [][]float32{{1, 0}})
	assert.Error(t, err)

	require.NoError(t, idx.Close())
	_, err = idx.Search(context.Background(), []float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, idx.Count())
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, similarity(0, MetricCosine), 1e-9)
	assert.InDelta(t, -1.0, similarity(2, MetricCosine), 1e-9)
	assert.InDelta(t, 0.5, similarity(1, MetricL2), 1e-9)
}
