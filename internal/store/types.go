// Package store holds the in-memory indexes behind the local backend: a bleve
// keyword index scored with BM25 and a coder/hnsw graph for vector search.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by an index after Close.
var ErrClosed = errors.New("index is closed")

// Document is a knowledge-base entry as loaded from a corpus file.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// Hit is one ranked match. Score is the BM25 score for keyword hits and the
// similarity for vector hits; Distance is only set by vector search.
type Hit struct {
	ID       string
	Score    float64
	Distance float64
}

// KeywordIndex searches document text.
type KeywordIndex interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	Count() int
	Close() error
}

// VectorIndex finds nearest neighbours of a query embedding.
type VectorIndex interface {
	// Add inserts vectors; an existing id is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Dimensions() int
	Count() int
	Close() error
}

// Metric is the vector distance function.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
)

// VectorConfig sizes the HNSW graph.
type VectorConfig struct {
	Dimensions int
	Metric     Metric
	// M is the maximum number of neighbours per node.
	M int
	// EfSearch is the candidate list size at query time.
	EfSearch int
}

// DefaultVectorConfig returns a cosine graph of the given size.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions: dimensions,
		Metric:     MetricCosine,
		M:          16,
		EfSearch:   64,
	}
}

// DimensionError reports a vector whose length differs from the index.
type DimensionError struct {
	Expected int
	Got      int
}

func (e DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
