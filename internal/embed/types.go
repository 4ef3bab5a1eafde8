// Package embed turns query and document text into vectors for the vector side
// of retrieval.
package embed

import (
	"context"
	"errors"
	"math"
)

// ErrClosed is returned by an embedder after Close.
var ErrClosed = errors.New("embedder is closed")

// Embedder maps text into a fixed-size vector space. Query and corpus vectors
// are only comparable when they come from the same Model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Model names the vector space. Caches key on it.
	Model() string
	Close() error
}

// unit returns v scaled to length 1. The zero vector is returned as is.
func unit(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
