package search

// NormalizeLexical min-max normalizes lexical scores into [0, 1].
// A single document, or a list whose scores are all equal, normalizes to 1.0.
// The input is not modified.
func NormalizeLexical(docs []ScoredDocument) []ScoredDocument {
	out := make([]ScoredDocument, len(docs))
	if len(docs) == 0 {
		return out
	}

	minScore, maxScore := docs[0].RawScore, docs[0].RawScore
	for _, d := range docs[1:] {
		if d.RawScore < minScore {
			minScore = d.RawScore
		}
		if d.RawScore > maxScore {
			maxScore = d.RawScore
		}
	}

	span := maxScore - minScore
	for i, d := range docs {
		d.Normalized = true
		if span == 0 {
			d.NormalizedScore = 1.0
		} else {
			d.NormalizedScore = clamp01((d.RawScore - minScore) / span)
		}
		out[i] = d
	}
	return out
}

// NormalizeVector maps vector scores into [0, 1].
//
// Similarities in [-1, 1] are rescaled linearly. Distances become
// 1 - d/maxDistance; maxDistance <= 0 means "use the largest distance in the list".
func NormalizeVector(docs []ScoredDocument, metric VectorMetric, maxDistance float64) []ScoredDocument {
	out := make([]ScoredDocument, len(docs))
	if len(docs) == 0 {
		return out
	}

	if metric == MetricDistance && maxDistance <= 0 {
		for _, d := range docs {
			if d.RawScore > maxDistance {
				maxDistance = d.RawScore
			}
		}
	}

	for i, d := range docs {
		d.Normalized = true
		switch metric {
		case MetricDistance:
			if maxDistance <= 0 {
				// every distance is zero: all exact matches
				d.NormalizedScore = 1.0
			} else {
				d.NormalizedScore = clamp01(1 - d.RawScore/maxDistance)
			}
		default:
			d.NormalizedScore = clamp01((d.RawScore + 1) / 2)
		}
		out[i] = d
	}
	return out
}

// Normalize dispatches on source: lexical lists use min-max, vector lists use metric.
func Normalize(docs []ScoredDocument, source Source, metric VectorMetric, maxDistance float64) []ScoredDocument {
	if source == SourceVector {
		return NormalizeVector(docs, metric, maxDistance)
	}
	return NormalizeLexical(docs)
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
