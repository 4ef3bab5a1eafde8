package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLexical_MinMax(t *testing.T) {
	// Given: lexical scores 10, 5, 2.5
	docs := lexDocs([]string{"a", "b", "c"}, []float64{10, 5, 2.5})

	// When: normalizing
	out := NormalizeLexical(docs)

	// Then: max maps to 1, min to 0, middle proportionally
	require.Len(t, out, 3)
	assert.InDelta(t, 1.0, out[0].NormalizedScore, 1e-9)
	assert.InDelta(t, (5-2.5)/7.5, out[1].NormalizedScore, 1e-9)
	assert.InDelta(t, 0.0, out[2].NormalizedScore, 1e-9)
	for _, d := range out {
		assert.True(t, d.Normalized)
	}
}

func TestNormalizeLexical_DegenerateInputs(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
	}{
		{"single element", []float64{3.7}},
		{"all equal", []float64{2, 2, 2}},
		{"all zero", []float64{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := make([]string, len(tt.scores))
			for i := range ids {
				ids[i] = string(rune('a' + i))
			}
			out := NormalizeLexical(lexDocs(ids, tt.scores))
			for _, d := range out {
				assert.Equal(t, 1.0, d.NormalizedScore)
			}
		})
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	assert.Empty(t, NormalizeLexical(nil))
	assert.Empty(t, NormalizeVector(nil, MetricSimilarity, 2))
	assert.NotNil(t, NormalizeLexical(nil))
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	docs := lexDocs([]string{"a", "b"}, []float64{4, 2})

	_ = NormalizeLexical(docs)
	_ = NormalizeVector(docs, MetricSimilarity, 0)

	assert.False(t, docs[0].Normalized)
	assert.Zero(t, docs[0].NormalizedScore)
	assert.Zero(t, docs[1].NormalizedScore)
}

func TestNormalizeVector_Similarity(t *testing.T) {
	docs := vecDocs([]string{"a", "b", "c", "d"}, []float64{1, 0, -1, 0.9})

	out := NormalizeVector(docs, MetricSimilarity, DefaultMaxDistance)

	assert.InDelta(t, 1.0, out[0].NormalizedScore, 1e-9)
	assert.InDelta(t, 0.5, out[1].NormalizedScore, 1e-9)
	assert.InDelta(t, 0.0, out[2].NormalizedScore, 1e-9)
	assert.InDelta(t, 0.95, out[3].NormalizedScore, 1e-9)
}

func TestNormalizeVector_SimilarityOutOfRangeIsClamped(t *testing.T) {
	docs := vecDocs([]string{"a", "b"}, []float64{1.2, -3})

	out := NormalizeVector(docs, MetricSimilarity, DefaultMaxDistance)

	assert.Equal(t, 1.0, out[0].NormalizedScore)
	assert.Equal(t, 0.0, out[1].NormalizedScore)
}

func TestNormalizeVector_Distance(t *testing.T) {
	tests := []struct {
		name        string
		distances   []float64
		maxDistance float64
		want        []float64
	}{
		{"configured max", []float64{0, 0.5, 2}, 2, []float64{1, 0.75, 0}},
		{"beyond max clamps", []float64{3}, 2, []float64{0}},
		{"observed max", []float64{0, 1, 2}, 0, []float64{1, 0.5, 0}},
		{"all zero observed", []float64{0, 0}, 0, []float64{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := make([]string, len(tt.distances))
			for i := range ids {
				ids[i] = string(rune('a' + i))
			}
			out := NormalizeVector(vecDocs(ids, tt.distances), MetricDistance, tt.maxDistance)
			for i, want := range tt.want {
				assert.InDelta(t, want, out[i].NormalizedScore, 1e-9)
			}
		})
	}
}

func TestNormalize_AlwaysInUnitInterval(t *testing.T) {
	// Property: every normalized score lies in [0, 1]
	inputs := [][]float64{
		{100, -50, 3, 0.001},
		{-1, -2, -3},
		{1e9, 1e-9},
		{0.3},
	}

	for _, scores := range inputs {
		ids := make([]string, len(scores))
		for i := range ids {
			ids[i] = string(rune('a' + i))
		}
		for _, out := range [][]ScoredDocument{
			NormalizeLexical(lexDocs(ids, scores)),
			NormalizeVector(vecDocs(ids, scores), MetricSimilarity, 0),
			NormalizeVector(vecDocs(ids, scores), MetricDistance, 0),
			NormalizeVector(vecDocs(ids, scores), MetricDistance, 2),
		} {
			for _, d := range out {
				assert.GreaterOrEqual(t, d.NormalizedScore, 0.0)
				assert.LessOrEqual(t, d.NormalizedScore, 1.0)
			}
		}
	}
}

func TestNormalize_DispatchesOnSource(t *testing.T) {
	docs := lexDocs([]string{"a", "b"}, []float64{0.2, 0.1})

	lex := Normalize(docs, SourceLexical, MetricSimilarity, 2)
	vec := Normalize(docs, SourceVector, MetricSimilarity, 2)

	assert.Equal(t, 1.0, lex[0].NormalizedScore)
	assert.InDelta(t, 0.6, vec[0].NormalizedScore, 1e-9)
}
