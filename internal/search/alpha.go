package search

import (
	"errors"
)

// ErrNoResults is returned by ComputeAlpha when both lists are empty.
// Callers short-circuit with an empty result list.
var ErrNoResults = errors.New("both result lists are empty")

// ComputeAlpha returns the weight applied to vector scores (1-alpha goes to lexical).
//
// When only one side has results, alpha is exactly 1.0 (vector only) or 0.0
// (lexical only). Otherwise each side gets a confidence from its score spread
// over the first topK entries and how full the list is relative to topK, and
// alpha = cv / (cv + cl) clamped to [cfg.AlphaMin, cfg.AlphaMax].
//
// Both inputs must already be normalized.
func ComputeAlpha(lexical, vector []ScoredDocument, topK int, cfg Config) (float64, error) {
	switch {
	case len(lexical) == 0 && len(vector) == 0:
		return 0, ErrNoResults
	case len(vector) == 0:
		return 0.0, nil
	case len(lexical) == 0:
		return 1.0, nil
	}

	cl := confidence(lexical, topK, cfg)
	cv := confidence(vector, topK, cfg)

	alpha := 0.5
	if total := cl + cv; total > 0 {
		alpha = cv / total
	}
	return cfg.ClampAlpha(alpha), nil
}

// ClampAlpha bounds an alpha chosen elsewhere, such as by a judge, to the band
// that applies when both lists are non-empty.
func (c Config) ClampAlpha(alpha float64) float64 {
	return clamp(alpha, c.AlphaMin, c.AlphaMax)
}

// confidence combines score spread and fill ratio into [0, 1].
func confidence(docs []ScoredDocument, topK int, cfg Config) float64 {
	window := docs
	if topK > 0 && len(window) > topK {
		window = window[:topK]
	}

	lo, hi := window[0].NormalizedScore, window[0].NormalizedScore
	for _, d := range window[1:] {
		if d.NormalizedScore < lo {
			lo = d.NormalizedScore
		}
		if d.NormalizedScore > hi {
			hi = d.NormalizedScore
		}
	}
	spread := hi - lo

	fill := 1.0
	if topK > 0 {
		fill = float64(len(docs)) / float64(topK)
		if fill > 1 {
			fill = 1
		}
	}

	weights := cfg.SpreadWeight + cfg.CountWeight
	if weights <= 0 {
		return 0
	}
	return (cfg.SpreadWeight*spread + cfg.CountWeight*fill) / weights
}
