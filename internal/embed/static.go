package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync/atomic"
)

// DefaultStaticDimensions is the vector size of a StaticEmbedder built without
// WithDimensions.
const DefaultStaticDimensions = 256

const (
	wordWeight    float32 = 0.7
	trigramWeight float32 = 0.3
	trigramLen            = 3
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// stopWords carry no topic and are skipped as word features. They still
// contribute trigrams.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {},
	"of": {}, "to": {}, "in": {}, "on": {}, "for": {},
	"is": {}, "are": {}, "was": {}, "be": {}, "it": {},
	"this": {}, "that": {}, "with": {}, "as": {}, "by": {},
	"how": {}, "what": {}, "do": {}, "i": {}, "my": {},
}

// StaticEmbedder hashes content words and letter trigrams into a fixed number
// of buckets. It is deterministic and needs no model: texts sharing vocabulary
// land close together, paraphrases do not.
type StaticEmbedder struct {
	dims   int
	closed atomic.Bool
}

// StaticOption configures a StaticEmbedder.
type StaticOption func(*StaticEmbedder)

// WithDimensions sets the vector size, typically to match a remote index's
// vector field. Non-positive values keep the default.
func WithDimensions(n int) StaticOption {
	return func(e *StaticEmbedder) {
		if n > 0 {
			e.dims = n
		}
	}
}

// NewStaticEmbedder creates a static embedder.
func NewStaticEmbedder(opts ...StaticOption) *StaticEmbedder {
	e := &StaticEmbedder{dims: DefaultStaticDimensions}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed returns the unit vector for text. Blank text yields the zero vector.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := make([]float32, e.dims)
	for _, f := range features(text) {
		v[e.bucket(f.key)] += f.weight
	}
	return unit(v), nil
}

// EmbedBatch embeds texts in order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the vector size.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// Model returns "static-<dims>" so differently sized spaces never share a cache.
func (e *StaticEmbedder) Model() string { return fmt.Sprintf("static-%d", e.dims) }

// Close marks the embedder closed. It is safe to call more than once.
func (e *StaticEmbedder) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *StaticEmbedder) bucket(key string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(e.dims))
}

type feature struct {
	key    string
	weight float32
}

// features lists the hashed features of text: lowercased content words, then
// trigrams over the letters and digits of the whole text.
func features(text string) []feature {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return nil
	}

	out := make([]feature, 0, len(words)*2)
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, feature{key: "w:" + w, weight: wordWeight})
	}

	runes := []rune(strings.Join(words, ""))
	for i := 0; i+trigramLen <= len(runes); i++ {
		out = append(out, feature{key: "g:" + string(runes[i:i+trigramLen]), weight: trigramWeight})
	}
	return out
}

var _ Embedder = (*StaticEmbedder)(nil)
