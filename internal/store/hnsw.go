package store

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex is an in-memory VectorIndex on coder/hnsw.
type HNSWIndex struct {
	mu     sync.RWMutex
	cfg    VectorConfig
	graph  *hnsw.Graph[uint64]
	keys   map[string]uint64
	ids    []string // node key -> document id, "" once replaced
	closed bool
}

// NewHNSWIndex creates an empty graph.
func NewHNSWIndex(cfg VectorConfig) (*HNSWIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	def := DefaultVectorConfig(cfg.Dimensions)
	if cfg.Metric == "" {
		cfg.Metric = def.Metric
	}
	if cfg.M <= 0 {
		cfg.M = def.M
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = def.EfSearch
	}

	g := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case MetricCosine:
		g.Distance = hnsw.CosineDistance
	case MetricL2:
		g.Distance = hnsw.EuclideanDistance
	default:
		return nil, fmt.Errorf("unknown vector metric %q", cfg.Metric)
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25

	return &HNSWIndex{cfg: cfg, graph: g, keys: make(map[string]uint64)}, nil
}

// Add implements VectorIndex. A replaced id leaves its old node in the graph
// unreachable by id; coder/hnsw cannot delete its last node safely.
func (x *HNSWIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	for _, v := range vectors {
		if len(v) != x.cfg.Dimensions {
			return DimensionError{Expected: x.cfg.Dimensions, Got: len(v)}
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if old, ok := x.keys[id]; ok {
			x.ids[old] = ""
		}
		key := uint64(len(x.ids))
		x.ids = append(x.ids, id)
		x.keys[id] = key
		x.graph.Add(hnsw.MakeNode(key, x.prepare(vectors[i])))
	}
	return nil
}

// Search implements VectorIndex. Hits come nearest first.
func (x *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != x.cfg.Dimensions {
		return nil, DimensionError{Expected: x.cfg.Dimensions, Got: len(query)}
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || x.graph.Len() == 0 {
		return []Hit{}, nil
	}

	q := x.prepare(query)
	nodes := x.graph.Search(q, k)
	hits := make([]Hit, 0, len(nodes))
	for _, n := range nodes {
		id := x.ids[n.Key]
		if id == "" {
			continue
		}
		d := float64(x.graph.Distance(q, n.Value))
		hits = append(hits, Hit{ID: id, Score: similarity(d, x.cfg.Metric), Distance: d})
	}
	return hits, nil
}

// prepare copies v, scaled to unit length for cosine graphs.
func (x *HNSWIndex) prepare(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	if x.cfg.Metric != MetricCosine {
		return out
	}
	var sum float64
	for _, f := range out {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// Dimensions implements VectorIndex.
func (x *HNSWIndex) Dimensions() int { return x.cfg.Dimensions }

// Count returns the number of live vectors.
func (x *HNSWIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return 0
	}
	return len(x.keys)
}

// Close drops the graph.
func (x *HNSWIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	x.graph, x.keys, x.ids = nil, nil, nil
	return nil
}

// similarity maps a distance back to a similarity: cosine distance in [0,2]
// becomes cosine similarity in [-1,1], L2 distance becomes 1/(1+d).
func similarity(d float64, m Metric) float64 {
	if m == MetricL2 {
		return 1 / (1 + d)
	}
	return 1 - d
}

var _ VectorIndex = (*HNSWIndex)(nil)
