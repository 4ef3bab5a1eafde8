package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSort_TieBreakOrder(t *testing.T) {
	both := SourceSet(0).Add(SourceLexical).Add(SourceVector)
	lexOnly := SourceSet(0).Add(SourceLexical)
	vecOnly := SourceSet(0).Add(SourceVector)

	tests := []struct {
		name    string
		results []*FusedResult
		want    []string
	}{
		{
			name: "higher score first",
			results: []*FusedResult{
				{ID: "a", FusedScore: 0.2, Sources: both, LexicalRank: 1, VectorRank: 1},
				{ID: "b", FusedScore: 0.9, Sources: lexOnly, LexicalRank: 9},
			},
			want: []string{"b", "a"},
		},
		{
			name: "dual source beats single source",
			results: []*FusedResult{
				{ID: "a", FusedScore: 0.5, Sources: lexOnly, LexicalRank: 1},
				{ID: "b", FusedScore: 0.5, Sources: both, LexicalRank: 4, VectorRank: 4},
			},
			want: []string{"b", "a"},
		},
		{
			name: "lower lexical rank",
			results: []*FusedResult{
				{ID: "a", FusedScore: 0.5, Sources: lexOnly, LexicalRank: 3},
				{ID: "b", FusedScore: 0.5, Sources: lexOnly, LexicalRank: 2},
			},
			want: []string{"b", "a"},
		},
		{
			name: "absent lexical rank sorts last",
			results: []*FusedResult{
				{ID: "a", FusedScore: 0.5, Sources: vecOnly, VectorRank: 1},
				{ID: "b", FusedScore: 0.5, Sources: lexOnly, LexicalRank: 7},
			},
			want: []string{"b", "a"},
		},
		{
			name: "lower vector rank",
			results: []*FusedResult{
				{ID: "a", FusedScore: 0.5, Sources: vecOnly, VectorRank: 2},
				{ID: "b", FusedScore: 0.5, Sources: vecOnly, VectorRank: 1},
			},
			want: []string{"b", "a"},
		},
		{
			name: "id breaks the final tie",
			results: []*FusedResult{
				{ID: "b", FusedScore: 0.5, Sources: vecOnly},
				{ID: "a", FusedScore: 0.5, Sources: vecOnly},
			},
			want: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Sort(tt.results, DefaultTieEpsilon)
			assert.Equal(t, tt.want, resultIDs(tt.results))
		})
	}
}

func TestSort_EpsilonControlsTies(t *testing.T) {
	build := func() []*FusedResult {
		lexOnly := SourceSet(0).Add(SourceLexical)
		return []*FusedResult{
			{ID: "a", FusedScore: 0.5 + 1e-7, Sources: lexOnly, LexicalRank: 2},
			{ID: "b", FusedScore: 0.5, Sources: lexOnly, LexicalRank: 1},
		}
	}

	// Within the default epsilon the scores tie, so lexical rank decides
	results := build()
	Sort(results, DefaultTieEpsilon)
	assert.Equal(t, []string{"b", "a"}, resultIDs(results))

	// With epsilon 0 the raw score decides
	results = build()
	Sort(results, 0)
	assert.Equal(t, []string{"a", "b"}, resultIDs(results))
}

func TestSort_IndependentOfInputOrder(t *testing.T) {
	// Given: scores that chain within epsilon, a~b and b~c, while a and c are further apart
	lexOnly := SourceSet(0).Add(SourceLexical)
	a := &FusedResult{ID: "a", FusedScore: 0.5000016, Sources: lexOnly, LexicalRank: 3}
	b := &FusedResult{ID: "b", FusedScore: 0.5000008, Sources: lexOnly, LexicalRank: 2}
	c := &FusedResult{ID: "c", FusedScore: 0.5, Sources: lexOnly, LexicalRank: 1}

	// When: the same set is sorted from two different input orders
	first := []*FusedResult{a, b, c}
	second := []*FusedResult{c, b, a}
	Sort(first, DefaultTieEpsilon)
	Sort(second, DefaultTieEpsilon)

	// Then: both produce the same ranking
	assert.Equal(t, resultIDs(first), resultIDs(second))
	assert.Equal(t, []string{"a", "b", "c"}, resultIDs(first))
}

func TestCompare_Transitive(t *testing.T) {
	lexOnly := SourceSet(0).Add(SourceLexical)
	scores := []float64{0.5, 0.5000004, 0.5000006, 0.5000008, 0.5000016, 0.4999994}
	results := make([]*FusedResult, len(scores))
	for i, s := range scores {
		results[i] = &FusedResult{ID: string(rune('a' + i)), FusedScore: s, Sources: lexOnly, LexicalRank: len(scores) - i}
	}

	for _, x := range results {
		for _, y := range results {
			for _, z := range results {
				if Compare(x, y, DefaultTieEpsilon) < 0 && Compare(y, z, DefaultTieEpsilon) < 0 {
					assert.Negative(t, Compare(x, z, DefaultTieEpsilon), "%s < %s < %s", x.ID, y.ID, z.ID)
				}
			}
		}
	}
}

func TestCompare_Antisymmetric(t *testing.T) {
	both := SourceSet(0).Add(SourceLexical).Add(SourceVector)
	a := &FusedResult{ID: "a", FusedScore: 0.4, Sources: both, LexicalRank: 1}
	b := &FusedResult{ID: "b", FusedScore: 0.4, Sources: both, LexicalRank: 2}

	assert.Negative(t, Compare(a, b, DefaultTieEpsilon))
	assert.Positive(t, Compare(b, a, DefaultTieEpsilon))
	assert.Zero(t, Compare(a, a, DefaultTieEpsilon))
}

func TestSourceSet_Rendering(t *testing.T) {
	both := SourceSet(0).Add(SourceVector).Add(SourceLexical)

	assert.Equal(t, "LEXICAL+VECTOR", both.String())
	data, err := both.MarshalJSON()
	assert.NoError(t, err)
	assert.JSONEq(t, `["LEXICAL","VECTOR"]`, string(data))
	assert.True(t, SourceSet(0).Empty())

	var decoded SourceSet
	assert.NoError(t, decoded.UnmarshalJSON(data))
	assert.Equal(t, both, decoded)
	assert.Error(t, decoded.UnmarshalJSON([]byte(`["KEYWORD"]`)))
}
