package retrieval

import (
	"log/slog"
	"sort"

	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
	"github.com/Aman-CERP/kbretrieve/internal/search"
)

// preparedLists are the normalized, per-source lists ready for fusion.
type preparedLists struct {
	lexical []search.ScoredDocument
	vector  []search.ScoredDocument
	// origins lists every backend that returned an id, for ids returned by more than one.
	origins map[string][]string
}

// prepare validates and normalizes each backend list, then merges lists of the
// same source across backends.
func (o *Orchestrator) prepare(responses []backendResult, p Policy, out *Outcome) (*preparedLists, error) {
	var lexLists, vecLists [][]search.ScoredDocument

	for _, r := range responses {
		if r.resp == nil {
			continue
		}
		lex, err := o.checkList(r.name, r.resp.Lexical, search.SourceLexical, p, out)
		if err != nil {
			return nil, err
		}
		vec, err := o.checkList(r.name, r.resp.Vector, search.SourceVector, p, out)
		if err != nil {
			return nil, err
		}

		if len(lex) > 0 {
			lexLists = append(lexLists, search.NormalizeLexical(lex))
		}
		if len(vec) > 0 {
			vecLists = append(vecLists, search.NormalizeVector(vec, r.resp.VectorMetric, p.Fusion.MaxDistance))
		}
	}

	origins := make(map[string][]string)
	return &preparedLists{
		lexical: mergeSource(lexLists, origins),
		vector:  mergeSource(vecLists, origins),
		origins: origins,
	}, nil
}

// checkList labels a backend list with its source and origin and validates it.
// With SkipMalformed, bad documents are dropped and recorded as recovered errors.
func (o *Orchestrator) checkList(backend string, docs []search.ScoredDocument, source search.Source, p Policy, out *Outcome) ([]search.ScoredDocument, error) {
	labeled := make([]search.ScoredDocument, len(docs))
	for i, d := range docs {
		d.Source = source
		if d.Origin == "" {
			d.Origin = backend
		}
		labeled[i] = d
	}

	if !p.SkipMalformed {
		if err := search.Validate(labeled); err != nil {
			return nil, err
		}
		return labeled, nil
	}

	kept, problems := search.Sanitize(labeled)
	for _, problem := range problems {
		out.Errors = append(out.Errors, describe(backend, problem, true))
		attrs := []any{slog.String("backend", backend)}
		attrs = append(attrs, amerrors.FormatForLog(problem)...)
		o.logger.Warn("malformed_document_skipped", attrs...)
	}
	return kept, nil
}

// mergeSource combines normalized lists of one source. A single list keeps its
// order. Several lists keep the best normalized score per id and are re-sorted
// by it, ties broken by id. Ranks are re-derived from the final order.
func mergeSource(lists [][]search.ScoredDocument, origins map[string][]string) []search.ScoredDocument {
	switch len(lists) {
	case 0:
		return []search.ScoredDocument{}
	case 1:
		return withRanks(lists[0])
	}

	best := make(map[string]int)
	var merged []search.ScoredDocument
	seenBy := make(map[string][]string)
	for _, list := range lists {
		for _, d := range list {
			seenBy[d.ID] = addOrigin(seenBy[d.ID], d.Origin)
			idx, ok := best[d.ID]
			if !ok {
				best[d.ID] = len(merged)
				merged = append(merged, d)
				continue
			}
			if d.NormalizedScore > merged[idx].NormalizedScore {
				merged[idx] = d
			}
		}
	}

	for id, from := range seenBy {
		if len(from) > 1 {
			for _, origin := range from {
				origins[id] = addOrigin(origins[id], origin)
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].NormalizedScore != merged[j].NormalizedScore {
			return merged[i].NormalizedScore > merged[j].NormalizedScore
		}
		return merged[i].ID < merged[j].ID
	})
	return withRanks(merged)
}

// withRanks returns a copy with 1-based ranks in list order.
func withRanks(docs []search.ScoredDocument) []search.ScoredDocument {
	out := make([]search.ScoredDocument, len(docs))
	for i, d := range docs {
		d.Rank = i + 1
		out[i] = d
	}
	return out
}
