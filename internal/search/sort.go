package search

import (
	"math"
	"sort"
)

// Sort orders results by fused score, best first, breaking ties deterministically.
// The order does not depend on the order of the input; see Compare.
func Sort(results []*FusedResult, epsilon float64) {
	sort.SliceStable(results, func(i, j int) bool {
		return Compare(results[i], results[j], epsilon) < 0
	})
}

// Compare returns a negative number when a ranks before b, positive when after,
// and 0 only when both carry the same id.
//
// Scores are compared as multiples of epsilon: two scores tie when they round to
// the same multiple. Unlike a pairwise |a-b| <= epsilon test this is transitive,
// so Compare is a total order. An epsilon of 0 compares raw scores.
//
// Priority:
//  1. Higher fused score bucket
//  2. Found by both sources
//  3. Lower lexical rank (absent ranks last)
//  4. Lower vector rank (absent ranks last)
//  5. Lexicographically smaller id
func Compare(a, b *FusedResult, epsilon float64) int {
	if sa, sb := scoreBucket(a.FusedScore, epsilon), scoreBucket(b.FusedScore, epsilon); sa != sb {
		if sa > sb {
			return -1
		}
		return 1
	}

	if a.Sources.Both() != b.Sources.Both() {
		if a.Sources.Both() {
			return -1
		}
		return 1
	}

	if c := compareRank(a.LexicalRank, b.LexicalRank); c != 0 {
		return c
	}
	if c := compareRank(a.VectorRank, b.VectorRank); c != 0 {
		return c
	}

	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

func scoreBucket(score, epsilon float64) float64 {
	if epsilon <= 0 {
		return score
	}
	return math.Round(score / epsilon)
}

// compareRank orders 1-based ranks ascending with 0 (absent) last.
func compareRank(a, b int) int {
	ka, kb := rankKey(a), rankKey(b)
	switch {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	default:
		return 0
	}
}

func rankKey(rank int) int {
	if rank <= 0 {
		return math.MaxInt
	}
	return rank
}
