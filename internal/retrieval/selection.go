package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
)

// backendResult is one backend call: a response or a classified error.
type backendResult struct {
	name string
	resp *Response
	err  error
}

// selection is what the policy produced before fusion.
type selection struct {
	responses []backendResult
	used      BackendUsed
	fallback  bool
	errors    []ErrorDescriptor
}

func (s *selection) use(results ...backendResult) {
	s.responses = append(s.responses, results...)
	switch len(s.responses) {
	case 0:
		s.used = UsedNone
	case 1:
		s.used = usedFor(s.responses[0].name)
	default:
		s.used = UsedBoth
	}
}

func (s *selection) record(backend string, err error, recovered bool) {
	s.errors = append(s.errors, describe(backend, err, recovered))
}

// describe builds a descriptor; an empty backend is taken from the error's
// "backend" or "origin" detail when present.
func describe(backend string, err error, recovered bool) ErrorDescriptor {
	if backend == "" {
		var ke *amerrors.KBError
		if errors.As(err, &ke) {
			backend = ke.Details["backend"]
			if backend == "" {
				backend = ke.Details["origin"]
			}
		}
	}
	return ErrorDescriptor{
		Backend:   backend,
		Code:      amerrors.GetCode(err),
		Message:   err.Error(),
		Recovered: recovered,
	}
}

// backend returns the configured backend for name, or nil.
func (o *Orchestrator) backend(name string) Backend {
	if name == RemoteName {
		return o.remote
	}
	return o.local
}

// selectBackends runs the policy's backend plan.
// On failure it still returns the selection so its error descriptors reach the Outcome.
func (o *Orchestrator) selectBackends(ctx context.Context, q Query, p Policy) (*selection, error) {
	switch p.Mode {
	case ModeStrictRemote:
		return o.strict(ctx, q, p, RemoteName)
	case ModeStrictLocal:
		return o.strict(ctx, q, p, LocalName)
	case ModePreferRemote:
		return o.preferred(ctx, q, p, RemoteName, LocalName)
	case ModePreferLocal:
		return o.preferred(ctx, q, p, LocalName, RemoteName)
	case ModeFederated:
		return o.federated(ctx, q)
	default:
		return &selection{used: UsedNone}, amerrors.PolicyViolationError(fmt.Sprintf("unknown retrieval mode %q", p.Mode), nil)
	}
}

// strict uses exactly one backend. Its failure is the call's failure; empty is success.
func (o *Orchestrator) strict(ctx context.Context, q Query, p Policy, name string) (*selection, error) {
	sel := &selection{used: UsedNone}

	b := o.backend(name)
	if b == nil {
		err := amerrors.PolicyViolationError(fmt.Sprintf("%s requires a configured %s backend", p.Mode, name), nil)
		sel.record(name, err, false)
		return sel, err
	}

	r := o.call(ctx, b, q)
	if r.err != nil {
		sel.record(name, r.err, false)
		return sel, r.err
	}
	sel.use(r)
	return sel, nil
}

// preferred tries the primary and falls back to the secondary on a hard failure,
// or on an empty answer when FallbackOnEmpty is set.
func (o *Orchestrator) preferred(ctx context.Context, q Query, p Policy, primaryName, secondaryName string) (*selection, error) {
	sel := &selection{used: UsedNone}

	var first backendResult
	if primary := o.backend(primaryName); primary != nil {
		first = o.call(ctx, primary, q)
	} else {
		first = backendResult{
			name: primaryName,
			err:  amerrors.BackendConfigError(primaryName, fmt.Sprintf("%s backend is not configured", primaryName), nil),
		}
	}
	if ctx.Err() != nil {
		return sel, ctx.Err()
	}

	if first.err == nil && (!first.resp.Empty() || !p.FallbackOnEmpty) {
		sel.use(first)
		return sel, nil
	}

	reason := "empty"
	if first.err != nil {
		reason = amerrors.GetCode(first.err)
	}

	secondary := o.backend(secondaryName)
	if secondary == nil {
		violation := amerrors.PolicyViolationError(
			fmt.Sprintf("%s cannot fall back: %s backend is not configured", p.Mode, secondaryName), nil)
		if first.err != nil {
			sel.record(primaryName, first.err, false)
			sel.record(secondaryName, violation, false)
			return sel, errors.Join(violation, first.err)
		}
		// An empty primary answer is still an answer.
		o.logger.Warn("fallback_unavailable",
			slog.String("mode", string(p.Mode)),
			slog.String("secondary", secondaryName))
		sel.record(secondaryName, violation, true)
		sel.use(first)
		return sel, nil
	}

	o.logger.Info("fallback_triggered",
		slog.String("mode", string(p.Mode)),
		slog.String("from", primaryName),
		slog.String("to", secondaryName),
		slog.String("reason", reason))

	second := o.call(ctx, secondary, q)
	if ctx.Err() != nil {
		return sel, ctx.Err()
	}

	if second.err != nil {
		if first.err == nil {
			sel.record(secondaryName, second.err, true)
			sel.use(first)
			return sel, nil
		}
		sel.record(primaryName, first.err, false)
		sel.record(secondaryName, second.err, false)
		return sel, amerrors.New(amerrors.ErrCodeRetrievalFailed,
			fmt.Sprintf("%s: %s and %s backends both failed", p.Mode, primaryName, secondaryName),
			errors.Join(first.err, second.err))
	}

	if first.err != nil {
		sel.record(primaryName, first.err, true)
	}
	sel.use(second)
	sel.fallback = true
	return sel, nil
}

// federated queries every configured backend concurrently. A failing backend is
// recovered as long as another one answers.
func (o *Orchestrator) federated(ctx context.Context, q Query) (*selection, error) {
	sel := &selection{used: UsedNone}

	names := []string{RemoteName, LocalName}
	results := make([]backendResult, len(names))

	var g errgroup.Group
	configured := 0
	for i, name := range names {
		b := o.backend(name)
		if b == nil {
			results[i] = backendResult{
				name: name,
				err:  amerrors.BackendConfigError(name, fmt.Sprintf("%s backend is not configured", name), nil),
			}
			continue
		}
		configured++
		g.Go(func() error {
			// never return the error: one failing backend must not cancel the other
			results[i] = o.call(ctx, b, q)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return sel, ctx.Err()
	}
	if configured == 0 {
		err := amerrors.PolicyViolationError(fmt.Sprintf("%s requires at least one configured backend", ModeFederated), nil)
		sel.record("", err, false)
		return sel, err
	}

	var ok []backendResult
	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		ok = append(ok, r)
	}

	if len(ok) == 0 {
		for _, r := range results {
			sel.record(r.name, r.err, false)
		}
		return sel, amerrors.New(amerrors.ErrCodeRetrievalFailed,
			fmt.Sprintf("%s: every backend failed", ModeFederated), errors.Join(errs...))
	}

	for _, r := range results {
		if r.err != nil {
			sel.record(r.name, r.err, true)
		}
	}
	sel.use(ok...)
	return sel, nil
}

// call runs one backend search inside a span and classifies its error.
func (o *Orchestrator) call(ctx context.Context, b Backend, q Query) backendResult {
	name := b.Name()
	ctx, span := o.tracer.Start(ctx, "retrieval.backend",
		trace.WithAttributes(
			attribute.String("retrieval.backend", name),
			attribute.Int("retrieval.top_k", q.TopK),
			attribute.Bool("retrieval.has_embedding", q.Embedding != nil),
		))
	defer span.End()

	started := time.Now()
	resp, err := b.Search(ctx, q)
	elapsed := time.Since(started)

	if err != nil {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "canceled")
			o.metrics.ObserveBackend(name, "canceled", elapsed)
			return backendResult{name: name, err: ctx.Err()}
		}
		classified := classify(name, err)
		span.RecordError(classified)
		span.SetStatus(codes.Error, classified.Error())
		o.metrics.ObserveBackend(name, kindOf(classified), elapsed)
		o.logger.Warn("backend_failed",
			slog.String("backend", name),
			slog.String("code", amerrors.GetCode(classified)),
			slog.String("error", classified.Error()),
			slog.Duration("elapsed", elapsed))
		return backendResult{name: name, err: classified}
	}

	if resp == nil {
		resp = &Response{}
	}
	result := "ok"
	if resp.Empty() {
		result = "empty"
	}
	span.SetAttributes(
		attribute.Int("retrieval.lexical_count", len(resp.Lexical)),
		attribute.Int("retrieval.vector_count", len(resp.Vector)),
	)
	o.metrics.ObserveBackend(name, result, elapsed)
	o.logger.Debug("backend_complete",
		slog.String("backend", name),
		slog.Int("lexical", len(resp.Lexical)),
		slog.Int("vector", len(resp.Vector)),
		slog.Duration("elapsed", elapsed))
	return backendResult{name: name, resp: resp}
}

// classify keeps auth, transport and config errors as they are and treats
// anything else as a transport failure.
func classify(backend string, err error) error {
	switch amerrors.GetCategory(err) {
	case amerrors.CategoryAuth, amerrors.CategoryNetwork, amerrors.CategoryConfig:
		return err
	}
	return amerrors.BackendTransportError(backend, err.Error(), err)
}

// kindOf names an error class for metric labels.
func kindOf(err error) string {
	switch amerrors.GetCategory(err) {
	case amerrors.CategoryAuth:
		return "auth"
	case amerrors.CategoryConfig:
		return "config"
	default:
		return "transport"
	}
}
