// Package local is the embedded backend: a corpus file indexed in memory with
// bleve for BM25 and an HNSW graph for vectors.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/kbretrieve/internal/embed"
	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
	"github.com/Aman-CERP/kbretrieve/internal/retrieval"
	"github.com/Aman-CERP/kbretrieve/internal/search"
	"github.com/Aman-CERP/kbretrieve/internal/store"
)

const (
	defaultWorkers   = 4
	defaultBatchSize = 32
)

// Backend serves lexical and vector search over a local corpus.
type Backend struct {
	mu       sync.RWMutex
	docs     map[string]*store.Document
	keyword  *store.BleveIndex
	vectors  *store.HNSWIndex
	embedder embed.Embedder
	logger   *slog.Logger

	workers   int
	batchSize int
	closed    bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithEmbedder enables the vector index. Documents are embedded at load time.
func WithEmbedder(e embed.Embedder) Option {
	return func(b *Backend) { b.embedder = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithWorkers sets the embedding pool size.
func WithWorkers(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithBatchSize sets how many documents go into one embedding call.
func WithBatchSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// Open loads the corpus at path and builds the indexes.
func Open(ctx context.Context, path string, opts ...Option) (*Backend, error) {
	docs, err := LoadCorpus(path)
	if err != nil {
		return nil, err
	}
	return New(ctx, docs, opts...)
}

// New indexes docs in memory.
func New(ctx context.Context, docs []*store.Document, opts ...Option) (*Backend, error) {
	b := &Backend{
		docs:      make(map[string]*store.Document, len(docs)),
		logger:    slog.Default(),
		workers:   defaultWorkers,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(b)
	}

	started := time.Now()
	keyword, err := store.NewBleveIndex()
	if err != nil {
		return nil, amerrors.InternalError("create keyword index", err)
	}
	b.keyword = keyword
	if err := keyword.Index(ctx, docs); err != nil {
		_ = keyword.Close()
		return nil, amerrors.InternalError("index corpus", err)
	}
	for _, d := range docs {
		b.docs[d.ID] = d
	}

	if b.embedder != nil && len(docs) > 0 {
		if err := b.buildVectors(ctx, docs); err != nil {
			_ = keyword.Close()
			return nil, err
		}
	}

	b.logger.Info("local_index_ready",
		slog.Int("documents", len(docs)),
		slog.Bool("vectors", b.vectors != nil),
		slog.Duration("elapsed", time.Since(started)))
	return b, nil
}

// buildVectors embeds docs in batches on an ants pool and loads the HNSW graph.
func (b *Backend) buildVectors(ctx context.Context, docs []*store.Document) error {
	pool, err := ants.NewPool(b.workers)
	if err != nil {
		return amerrors.InternalError("create embedding pool", err)
	}
	defer pool.Release()

	vecs := make([][]float32, len(docs))
	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	for start := 0; start < len(docs); start += b.batchSize {
		end := min(start+b.batchSize, len(docs))
		texts := make([]string, 0, end-start)
		for _, d := range docs[start:end] {
			texts = append(texts, d.Content)
		}

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			out, err := b.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				setErr(err)
				return
			}
			if len(out) != len(texts) {
				setErr(fmt.Errorf("embedder returned %d vectors for %d texts", len(out), len(texts)))
				return
			}
			copy(vecs[start:end], out)
		})
		if submitErr != nil {
			wg.Done()
			setErr(submitErr)
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return amerrors.New(amerrors.ErrCodeEmbeddingFailed, "embed corpus", firstErr)
	}

	vs, err := store.NewHNSWIndex(store.DefaultVectorConfig(b.embedder.Dimensions()))
	if err != nil {
		return amerrors.InternalError("create vector store", err)
	}

	ids := make([]string, 0, len(docs))
	keep := make([][]float32, 0, len(docs))
	for i, d := range docs {
		// zero vectors have no direction and would score NaN
		if isZero(vecs[i]) {
			continue
		}
		ids = append(ids, d.ID)
		keep = append(keep, vecs[i])
	}
	if err := vs.Add(ctx, ids, keep); err != nil {
		_ = vs.Close()
		return amerrors.New(amerrors.ErrCodeDimensionMismatch, "load vectors", err)
	}
	b.vectors = vs
	return nil
}

// Name implements retrieval.Backend.
func (b *Backend) Name() string { return retrieval.LocalName }

// Search implements retrieval.Backend. The query embedding is used when
// present; otherwise the backend embeds the query itself if it can.
func (b *Backend) Search(ctx context.Context, q retrieval.Query) (*retrieval.Response, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, amerrors.BackendTransportError(retrieval.LocalName, "local index is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k := q.TopK
	if k <= 0 {
		k = retrieval.DefaultCandidateTopK
	}

	hits, err := b.keyword.Search(ctx, q.Text, k)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, amerrors.BackendTransportError(retrieval.LocalName, "BM25 search failed", err)
	}
	resp := &retrieval.Response{
		Lexical:      make([]search.ScoredDocument, 0, len(hits)),
		VectorMetric: search.MetricSimilarity,
	}
	for _, h := range hits {
		resp.Lexical = append(resp.Lexical, b.scored(h.ID, h.Score))
	}

	if b.vectors == nil {
		return resp, nil
	}
	qvec := q.Embedding
	if qvec == nil && b.embedder != nil {
		qvec, err = b.embedder.Embed(ctx, q.Text)
		if err != nil {
			b.logger.Warn("local_query_embedding_failed", slog.String("error", err.Error()))
			return resp, nil
		}
	}
	if qvec == nil || isZero(qvec) {
		return resp, nil
	}

	near, err := b.vectors.Search(ctx, qvec, k)
	if err != nil {
		var dm store.DimensionError
		if errors.As(err, &dm) {
			return nil, amerrors.BackendConfigError(retrieval.LocalName,
				"query embedding does not match the local index", err).
				WithDetail("expected", fmt.Sprint(dm.Expected)).
				WithDetail("got", fmt.Sprint(dm.Got))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, amerrors.BackendTransportError(retrieval.LocalName, "vector search failed", err)
	}
	resp.Vector = make([]search.ScoredDocument, 0, len(near))
	for _, n := range near {
		if math.IsNaN(n.Score) {
			continue
		}
		resp.Vector = append(resp.Vector, b.scored(n.ID, n.Score))
	}
	return resp, nil
}

func (b *Backend) scored(id string, score float64) search.ScoredDocument {
	sd := search.ScoredDocument{ID: id, RawScore: score, Origin: retrieval.LocalName}
	if d, ok := b.docs[id]; ok {
		sd.Content = d.Content
		sd.Metadata = d.Metadata
	}
	return sd
}

// Count returns the number of indexed documents.
func (b *Backend) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.docs)
}

// HasVectors reports whether vector search is available.
func (b *Backend) HasVectors() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.vectors != nil
}

// Close releases the indexes.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if err := b.keyword.Close(); err != nil {
		errs = append(errs, err)
	}
	if b.vectors != nil {
		if err := b.vectors.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

var _ retrieval.Backend = (*Backend)(nil)
