// Package search fuses lexical (BM25) and vector result lists into one ranked list.
//
// The pipeline is normalize → alpha → combine → sort. Every step is a pure
// function over its inputs, so identical inputs always produce identical output.
package search

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Source identifies the retrieval method that produced a document.
type Source uint8

const (
	// SourceLexical marks keyword (BM25-style) results.
	SourceLexical Source = 1 << iota
	// SourceVector marks embedding-similarity results.
	SourceVector
)

// String returns the wire name of the source.
func (s Source) String() string {
	switch s {
	case SourceLexical:
		return "LEXICAL"
	case SourceVector:
		return "VECTOR"
	default:
		return fmt.Sprintf("Source(%d)", uint8(s))
	}
}

// SourceSet is a set of sources that contributed to a fused result.
type SourceSet uint8

// Add returns the set with s included.
func (ss SourceSet) Add(s Source) SourceSet { return ss | SourceSet(s) }

// Has reports whether s is in the set.
func (ss SourceSet) Has(s Source) bool { return ss&SourceSet(s) != 0 }

// Both reports whether lexical and vector results both contributed.
func (ss SourceSet) Both() bool { return ss.Has(SourceLexical) && ss.Has(SourceVector) }

// Empty reports whether no source contributed.
func (ss SourceSet) Empty() bool { return ss == 0 }

// List returns the members in LEXICAL, VECTOR order.
func (ss SourceSet) List() []Source {
	out := make([]Source, 0, 2)
	for _, s := range []Source{SourceLexical, SourceVector} {
		if ss.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// String renders the set as "LEXICAL+VECTOR".
func (ss SourceSet) String() string {
	parts := make([]string, 0, 2)
	for _, s := range ss.List() {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, "+")
}

// MarshalJSON encodes the set as an array of source names.
func (ss SourceSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, 2)
	for _, s := range ss.List() {
		names = append(names, s.String())
	}
	return json.Marshal(names)
}

// UnmarshalJSON decodes an array of source names.
func (ss *SourceSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var out SourceSet
	for _, name := range names {
		switch name {
		case SourceLexical.String():
			out = out.Add(SourceLexical)
		case SourceVector.String():
			out = out.Add(SourceVector)
		default:
			return fmt.Errorf("unknown source %q", name)
		}
	}
	*ss = out
	return nil
}

// VectorMetric describes what a vector backend's raw scores mean.
type VectorMetric int

const (
	// MetricSimilarity means raw scores are cosine similarities in [-1, 1].
	MetricSimilarity VectorMetric = iota
	// MetricDistance means raw scores are distances, lower is better.
	MetricDistance
)

// String returns the metric name.
func (m VectorMetric) String() string {
	if m == MetricDistance {
		return "distance"
	}
	return "similarity"
}

// ScoredDocument is one entry of a backend's ranked list.
// Normalization and fusion derive new values; a ScoredDocument is never changed in place.
type ScoredDocument struct {
	ID              string
	Content         string
	RawScore        float64
	NormalizedScore float64
	Normalized      bool // NormalizedScore is only meaningful when true
	Source          Source
	Rank            int // 1-based position in its source list
	Metadata        map[string]any
	Origin          string // backend name that produced the document
}

// FusedResult is a single document after fusion.
// Ranks are 1-based; 0 means the document was absent from that list.
type FusedResult struct {
	ID                string         `json:"id"`
	Content           string         `json:"content"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	FusedScore        float64        `json:"fused_score"`
	Sources           SourceSet      `json:"sources"`
	LexicalRank       int            `json:"lexical_rank,omitempty"`
	VectorRank        int            `json:"vector_rank,omitempty"`
	LexicalRaw        float64        `json:"lexical_raw,omitempty"`
	VectorRaw         float64        `json:"vector_raw,omitempty"`
	LexicalNormalized float64        `json:"lexical_normalized,omitempty"`
	VectorNormalized  float64        `json:"vector_normalized,omitempty"`
	Origins           []string       `json:"origins,omitempty"`
}

// Default fusion parameters.
const (
	DefaultAlphaMin     = 0.2
	DefaultAlphaMax     = 0.8
	DefaultSpreadWeight = 0.5
	DefaultCountWeight  = 0.5
	DefaultTieEpsilon   = 1e-6
	DefaultMaxDistance  = 2.0 // cosine distance range
)

// Config holds the tunable fusion parameters.
type Config struct {
	// AlphaMin and AlphaMax bound alpha whenever both lists are non-empty.
	AlphaMin float64
	AlphaMax float64

	// SpreadWeight and CountWeight weigh the two per-side confidence signals.
	SpreadWeight float64
	CountWeight  float64

	// TieEpsilon is the fused-score distance under which two results tie.
	TieEpsilon float64

	// MaxDistance converts vector distances to scores. Values <= 0 use the
	// largest distance observed in the list.
	MaxDistance float64
}

// DefaultConfig returns the default fusion parameters.
func DefaultConfig() Config {
	return Config{
		AlphaMin:     DefaultAlphaMin,
		AlphaMax:     DefaultAlphaMax,
		SpreadWeight: DefaultSpreadWeight,
		CountWeight:  DefaultCountWeight,
		TieEpsilon:   DefaultTieEpsilon,
		MaxDistance:  DefaultMaxDistance,
	}
}

// Validate checks the parameters are usable.
func (c Config) Validate() error {
	if c.AlphaMin < 0 || c.AlphaMax > 1 || c.AlphaMin > c.AlphaMax {
		return fmt.Errorf("alpha band [%.2f, %.2f] must satisfy 0 <= min <= max <= 1", c.AlphaMin, c.AlphaMax)
	}
	if c.SpreadWeight < 0 || c.CountWeight < 0 {
		return fmt.Errorf("signal weights must be non-negative")
	}
	if c.TieEpsilon < 0 {
		return fmt.Errorf("tie epsilon must be non-negative, got %g", c.TieEpsilon)
	}
	return nil
}
