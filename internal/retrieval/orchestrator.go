package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aman-CERP/kbretrieve/internal/embed"
	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
	"github.com/Aman-CERP/kbretrieve/internal/search"
)

const tracerName = "github.com/Aman-CERP/kbretrieve/internal/retrieval"

// Metrics receives per-call and per-backend observations.
// telemetry.RetrievalMetrics implements it.
type Metrics interface {
	ObserveRetrieval(mode, backendUsed string, results int, fallback, failed bool, elapsed time.Duration)
	ObserveAlpha(source string, alpha float64)
	ObserveRecovered(code string)
	ObserveBackend(backend, result string, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRetrieval(string, string, int, bool, bool, time.Duration) {}
func (nopMetrics) ObserveAlpha(string, float64)                                   {}
func (nopMetrics) ObserveRecovered(string)                                        {}
func (nopMetrics) ObserveBackend(string, string, time.Duration)                   {}

// Orchestrator runs retrieval calls. It holds only collaborators set at
// construction and is safe for concurrent use.
type Orchestrator struct {
	remote   Backend
	local    Backend
	embedder embed.Embedder
	judge    search.AlphaJudge
	metrics  Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEmbedder sets the query embedder. Without one, backends receive no
// query vector and return lexical results only.
func WithEmbedder(e embed.Embedder) Option {
	return func(o *Orchestrator) {
		o.embedder = e
	}
}

// WithJudge sets the alpha judge consulted when Policy.UseJudge is true.
func WithJudge(j search.AlphaJudge) Option {
	return func(o *Orchestrator) {
		o.judge = j
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracerProvider sets where spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewOrchestrator creates an orchestrator over the given backends.
// Either backend may be nil when it is not configured, but not both.
func NewOrchestrator(remote, local Backend, opts ...Option) (*Orchestrator, error) {
	if remote == nil && local == nil {
		return nil, fmt.Errorf("%w: at least one backend is required", ErrNilDependency)
	}
	o := &Orchestrator{
		remote:  remote,
		local:   local,
		metrics: nopMetrics{},
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Retrieve answers query under policy.
//
// A failed call returns a non-nil Outcome with Failed set, empty Results and
// the errors met, together with the error itself. A cancelled context returns
// (nil, ctx.Err()).
func (o *Orchestrator) Retrieve(ctx context.Context, query string, policy Policy) (*Outcome, error) {
	started := time.Now()
	out := &Outcome{
		RequestID:   uuid.NewString(),
		Results:     []*search.FusedResult{},
		BackendUsed: UsedNone,
		AlphaSource: AlphaNone,
		Mode:        policy.Mode,
	}

	ctx, span := o.tracer.Start(ctx, "retrieval.retrieve",
		trace.WithAttributes(
			attribute.String("retrieval.request_id", out.RequestID),
			attribute.String("retrieval.mode", string(policy.Mode)),
		))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(query) == "" {
		return o.fail(span, out, started, amerrors.New(amerrors.ErrCodeQueryEmpty, "query is empty", nil))
	}
	if err := policy.Validate(); err != nil {
		return o.fail(span, out, started, amerrors.PolicyViolationError("invalid retrieval policy: "+err.Error(), err))
	}

	q := Query{Text: query, TopK: policy.CandidateLimit()}
	q.Embedding = o.embedQuery(ctx, query, out)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sel, err := o.selectBackends(ctx, q, policy)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	out.Errors = append(out.Errors, sel.errors...)
	if err != nil {
		return o.fail(span, out, started, err)
	}
	out.BackendUsed = sel.used
	out.FallbackTriggered = sel.fallback

	lists, err := o.prepare(sel.responses, policy, out)
	if err != nil {
		return o.fail(span, out, started, err)
	}

	alpha, source, err := o.chooseAlpha(ctx, query, lists, policy, out)
	if err != nil {
		return nil, err
	}
	out.Alpha = alpha
	out.AlphaSource = source

	results := search.Fuse(lists.lexical, lists.vector, alpha, policy.Fusion.TieEpsilon)
	for _, r := range results {
		for _, origin := range lists.origins[r.ID] {
			r.Origins = addOrigin(r.Origins, origin)
		}
	}
	if limit := policy.ResultLimit(); len(results) > limit {
		results = results[:limit]
	}
	out.Results = results
	out.Elapsed = time.Since(started)

	for _, e := range out.Errors {
		o.metrics.ObserveRecovered(e.Code)
	}
	if source != AlphaNone {
		o.metrics.ObserveAlpha(string(source), alpha)
	}
	o.metrics.ObserveRetrieval(string(policy.Mode), string(out.BackendUsed), len(out.Results),
		out.FallbackTriggered, false, out.Elapsed)

	span.SetAttributes(
		attribute.String("retrieval.backend_used", string(out.BackendUsed)),
		attribute.Bool("retrieval.fallback", out.FallbackTriggered),
		attribute.Int("retrieval.results", len(out.Results)),
		attribute.Float64("retrieval.alpha", alpha),
	)
	o.logger.Info("retrieval_complete",
		slog.String("request_id", out.RequestID),
		slog.String("mode", string(policy.Mode)),
		slog.String("backend_used", string(out.BackendUsed)),
		slog.Bool("fallback", out.FallbackTriggered),
		slog.Int("results", len(out.Results)),
		slog.Float64("alpha", alpha),
		slog.String("alpha_source", string(source)),
		slog.Int("recovered_errors", len(out.Errors)),
		slog.Duration("elapsed", out.Elapsed))

	return out, nil
}

// fail finalizes a failed outcome. Descriptors already recorded for err are kept;
// otherwise one is added.
func (o *Orchestrator) fail(span trace.Span, out *Outcome, started time.Time, err error) (*Outcome, error) {
	out.Failed = true
	out.Results = []*search.FusedResult{}
	out.BackendUsed = UsedNone
	out.Elapsed = time.Since(started)

	hasFatal := false
	for _, e := range out.Errors {
		if !e.Recovered {
			hasFatal = true
			break
		}
	}
	if !hasFatal {
		out.Errors = append(out.Errors, describe("", err, false))
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.metrics.ObserveRetrieval(string(out.Mode), string(out.BackendUsed), 0, out.FallbackTriggered, true, out.Elapsed)
	attrs := []any{
		slog.String("request_id", out.RequestID),
		slog.String("mode", string(out.Mode)),
	}
	attrs = append(attrs, amerrors.FormatForLog(err)...)
	o.logger.Error("retrieval_failed", attrs...)

	return out, err
}

// embedQuery computes the query vector. A failure is recorded as recovered and
// the call continues lexical-only.
func (o *Orchestrator) embedQuery(ctx context.Context, query string, out *Outcome) []float32 {
	if o.embedder == nil {
		return nil
	}
	vec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		wrapped := amerrors.New(amerrors.ErrCodeEmbeddingFailed, "query embedding failed: "+err.Error(), err)
		out.Errors = append(out.Errors, describe("embedder", wrapped, true))
		o.logger.Warn("embedding_failed",
			slog.String("model", o.embedder.Model()),
			slog.String("error", err.Error()))
		return nil
	}
	return vec
}

// chooseAlpha returns the vector weight and how it was chosen. The only error
// it returns is a cancelled context.
func (o *Orchestrator) chooseAlpha(ctx context.Context, query string, lists *preparedLists, p Policy, out *Outcome) (float64, AlphaSource, error) {
	alpha, err := search.ComputeAlpha(lists.lexical, lists.vector, p.CandidateLimit(), p.Fusion)
	if errors.Is(err, search.ErrNoResults) {
		return 0, AlphaNone, nil
	}
	if len(lists.lexical) == 0 || len(lists.vector) == 0 {
		return alpha, AlphaSingle, nil
	}

	if p.UseJudge && o.judge != nil {
		judged, jerr := o.judge.Judge(ctx, query, lists.lexical[0], lists.vector[0])
		if jerr == nil && math.IsNaN(judged) {
			jerr = errors.New("judge returned NaN")
		}
		if jerr == nil {
			return p.Fusion.ClampAlpha(judged), AlphaFromJudge, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, AlphaNone, ctxErr
		}
		wrapped := amerrors.New(amerrors.ErrCodeJudgeFailed, "alpha judge failed: "+jerr.Error(), jerr)
		out.Errors = append(out.Errors, describe("judge", wrapped, true))
		o.logger.Warn("judge_failed", slog.String("error", jerr.Error()))
	}
	return alpha, AlphaFromSignal, nil
}

func addOrigin(origins []string, origin string) []string {
	for _, o := range origins {
		if o == origin {
			return origins
		}
	}
	return append(origins, origin)
}
