package search

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAlpha_OneSideEmpty(t *testing.T) {
	lex := normalized(SourceLexical, []string{"a"}, []float64{1})
	vec := normalized(SourceVector, []string{"b"}, []float64{1})
	cfg := DefaultConfig()

	alpha, err := ComputeAlpha(lex, nil, 10, cfg)
	require.NoError(t, err)
	assert.Equal(t, 0.0, alpha)

	alpha, err = ComputeAlpha(nil, vec, 10, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1.0, alpha)
}

func TestComputeAlpha_BothEmpty(t *testing.T) {
	_, err := ComputeAlpha(nil, []ScoredDocument{}, 10, DefaultConfig())
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestComputeAlpha_StaysInBand(t *testing.T) {
	// Property: with both sides non-empty, alpha lies inside the configured band
	bands := [][2]float64{{0.2, 0.8}, {0.4, 0.6}, {0, 1}, {0.5, 0.5}}
	shapes := []struct {
		lex []float64
		vec []float64
	}{
		{[]float64{1, 0}, []float64{0.95, 0.9}},
		{[]float64{1}, []float64{1, 0.8, 0.6, 0.4, 0.2, 0}},
		{[]float64{1, 0.9, 0.1, 0}, []float64{0.5}},
		{[]float64{0.3, 0.3}, []float64{0.3, 0.3}},
	}

	for _, band := range bands {
		for i, shape := range shapes {
			t.Run(fmt.Sprintf("band %v shape %d", band, i), func(t *testing.T) {
				cfg := DefaultConfig()
				cfg.AlphaMin, cfg.AlphaMax = band[0], band[1]
				lex := normalized(SourceLexical, idsN(len(shape.lex)), shape.lex)
				vec := normalized(SourceVector, idsN(len(shape.vec)), shape.vec)

				alpha, err := ComputeAlpha(lex, vec, 5, cfg)

				require.NoError(t, err)
				assert.GreaterOrEqual(t, alpha, band[0])
				assert.LessOrEqual(t, alpha, band[1])
			})
		}
	}
}

func TestComputeAlpha_FavoursConfidentSide(t *testing.T) {
	// Given: a full, well-spread vector list and a sparse, flat lexical list
	cfg := DefaultConfig()
	cfg.AlphaMin, cfg.AlphaMax = 0, 1
	vec := normalized(SourceVector, idsN(4), []float64{1, 0.7, 0.3, 0})
	lex := normalized(SourceLexical, idsN(1), []float64{1})

	// When: computing alpha with topK 4
	alpha, err := ComputeAlpha(lex, vec, 4, cfg)

	// Then: vector confidence 1.0, lexical 0.125, so alpha = 1/1.125
	require.NoError(t, err)
	assert.InDelta(t, 1/1.125, alpha, 1e-9)
	assert.Greater(t, alpha, 0.5)
}

func TestComputeAlpha_SymmetricInputsGiveHalf(t *testing.T) {
	lex := normalized(SourceLexical, idsN(3), []float64{1, 0.5, 0})
	vec := normalized(SourceVector, idsN(3), []float64{1, 0.5, 0})

	alpha, err := ComputeAlpha(lex, vec, 3, DefaultConfig())

	require.NoError(t, err)
	assert.InDelta(t, 0.5, alpha, 1e-12)
}

func TestComputeAlpha_ZeroConfidenceGivesHalf(t *testing.T) {
	// Given: spread-only weighting and single-element lists (spread 0)
	cfg := DefaultConfig()
	cfg.SpreadWeight, cfg.CountWeight = 1, 0
	lex := normalized(SourceLexical, idsN(1), []float64{1})
	vec := normalized(SourceVector, idsN(1), []float64{1})

	alpha, err := ComputeAlpha(lex, vec, 10, cfg)

	require.NoError(t, err)
	assert.Equal(t, 0.5, alpha)
}

func TestComputeAlpha_SpreadOnlyLooksAtTopK(t *testing.T) {
	// Given: a vector list whose low scores sit beyond topK
	cfg := DefaultConfig()
	cfg.AlphaMin, cfg.AlphaMax = 0, 1
	cfg.SpreadWeight, cfg.CountWeight = 1, 0
	lex := normalized(SourceLexical, idsN(2), []float64{1, 0})
	vec := normalized(SourceVector, idsN(3), []float64{1, 1, 0})

	// When: topK is 2
	alpha, err := ComputeAlpha(lex, vec, 2, cfg)

	// Then: the vector window is flat, so all weight goes lexical
	require.NoError(t, err)
	assert.Equal(t, 0.0, alpha)
}

func TestComputeAlpha_Deterministic(t *testing.T) {
	lex := normalized(SourceLexical, idsN(3), []float64{1, 0.4, 0})
	vec := normalized(SourceVector, idsN(2), []float64{0.9, 0.85})

	first, err := ComputeAlpha(lex, vec, 5, DefaultConfig())
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := ComputeAlpha(lex, vec, 5, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func idsN(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("doc-%02d", i)
	}
	return ids
}

func TestConfig_ClampAlpha(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		in, want float64
	}{
		{in: 1.7, want: DefaultAlphaMax},
		{in: 1.0, want: DefaultAlphaMax},
		{in: 0.5, want: 0.5},
		{in: 0.0, want: DefaultAlphaMin},
		{in: -0.5, want: DefaultAlphaMin},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.ClampAlpha(tt.in), "alpha %g", tt.in)
	}
}
