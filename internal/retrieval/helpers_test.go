package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbretrieve/internal/search"
)

// fakeBackend returns a canned response or error and counts calls.
type fakeBackend struct {
	name  string
	resp  *Response
	err   error
	block bool // wait for ctx to be done

	calls atomic.Int32
	mu    sync.Mutex
	last  Query
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Search(ctx context.Context, q Query) (*Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = q
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func (f *fakeBackend) lastQuery() Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func remoteWith(resp *Response, err error) *fakeBackend {
	return &fakeBackend{name: RemoteName, resp: resp, err: err}
}

func localWith(resp *Response, err error) *fakeBackend {
	return &fakeBackend{name: LocalName, resp: resp, err: err}
}

// docs builds a ranked list from alternating id, score pairs.
func docs(pairs ...any) []search.ScoredDocument {
	out := make([]search.ScoredDocument, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, search.ScoredDocument{
			ID:       pairs[i].(string),
			Content:  "content of " + pairs[i].(string),
			RawScore: pairs[i+1].(float64),
		})
	}
	return out
}

func lexicalOnly(pairs ...any) *Response {
	return &Response{Lexical: docs(pairs...)}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(t *testing.T, remote, local Backend, opts ...Option) *Orchestrator {
	t.Helper()
	// typed nil backends must arrive as untyped nil
	var r, l Backend
	if fb, ok := remote.(*fakeBackend); !ok || fb != nil {
		r = remote
	}
	if fb, ok := local.(*fakeBackend); !ok || fb != nil {
		l = local
	}
	o, err := NewOrchestrator(r, l, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return o
}

func policyFor(mode Mode) Policy {
	p := DefaultPolicy()
	p.Mode = mode
	return p
}

func resultIDs(out *Outcome) []string {
	ids := make([]string, len(out.Results))
	for i, r := range out.Results {
		ids[i] = r.ID
	}
	return ids
}

func errorCodes(out *Outcome) []string {
	c := make([]string, len(out.Errors))
	for i, e := range out.Errors {
		c[i] = e.Code
	}
	return c
}

// recordingMetrics captures observations.
type recordingMetrics struct {
	mu        sync.Mutex
	calls     []string
	recovered []string
	backends  []string
	alphas    []string
}

func (m *recordingMetrics) ObserveRetrieval(mode, used string, _ int, _, failed bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := "ok"
	if failed {
		status = "failed"
	}
	m.calls = append(m.calls, mode+"/"+used+"/"+status)
}

func (m *recordingMetrics) ObserveAlpha(source string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alphas = append(m.alphas, source)
}

func (m *recordingMetrics) ObserveRecovered(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recovered = append(m.recovered, code)
}

func (m *recordingMetrics) ObserveBackend(backend, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends = append(m.backends, backend+"/"+result)
}

// fakeJudge returns a fixed alpha or error.
type fakeJudge struct {
	alpha float64
	err   error
	calls atomic.Int32
}

func (j *fakeJudge) Judge(_ context.Context, _ string, _, _ search.ScoredDocument) (float64, error) {
	j.calls.Add(1)
	return j.alpha, j.err
}

// failingEmbedder always fails.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model not loaded")
}
func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model not loaded")
}
func (failingEmbedder) Dimensions() int { return 4 }
func (failingEmbedder) Model() string   { return "failing" }
func (failingEmbedder) Close() error    { return nil }
