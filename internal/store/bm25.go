package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

const contentField = "content"

// BleveIndex is a memory-only KeywordIndex. bleve scores matches with BM25.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

type bleveDoc struct {
	Content string `json:"content"`
}

// NewBleveIndex creates an empty in-memory keyword index.
func NewBleveIndex() (*BleveIndex, error) {
	idx, err := bleve.NewMemOnly(keywordMapping())
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &BleveIndex{index: idx}, nil
}

// keywordMapping analyzes content in English (stemming, stop words) and keeps
// nothing but the inverted index.
func keywordMapping() mapping.IndexMapping {
	content := bleve.NewTextFieldMapping()
	content.Analyzer = en.AnalyzerName
	content.Store = false
	content.IncludeInAll = false

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(contentField, content)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = en.AnalyzerName
	return m
}

// Index implements KeywordIndex. All documents go in one batch.
func (b *BleveIndex) Index(ctx context.Context, docs []*Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if len(docs) == 0 {
		return nil
	}

	batch := b.index.NewBatch()
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(d.ID, bleveDoc{Content: d.Content}); err != nil {
			return fmt.Errorf("index document %s: %w", d.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	return nil
}

// Search implements KeywordIndex. Any query term may match; equal scores are
// ordered by id.
func (b *BleveIndex) Search(ctx context.Context, text string, limit int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	if strings.TrimSpace(text) == "" || limit <= 0 {
		return []Hit{}, nil
	}

	q := bleve.NewMatchQuery(text)
	q.SetField(contentField)
	q.SetOperator(query.MatchQueryOperatorOr)

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.SortBy([]string{"-_score", "_id"})

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// Count returns the number of indexed documents.
func (b *BleveIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	n, err := b.index.DocCount()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close closes the index. It is safe to call more than once.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ KeywordIndex = (*BleveIndex)(nil)
