package search

import (
	"fmt"
	"math"
	"strings"

	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
)

// Validate checks one backend list before fusion.
// It returns a FusionInputError for the first document with an empty id,
// a NaN or infinite score, or an id already seen earlier in the list.
func Validate(docs []ScoredDocument) error {
	seen := make(map[string]struct{}, len(docs))
	for i, d := range docs {
		if err := checkDocument(i, d, seen); err != nil {
			return err
		}
	}
	return nil
}

// Sanitize drops malformed documents instead of failing.
// It returns the valid documents in their original order and one error per dropped document.
func Sanitize(docs []ScoredDocument) ([]ScoredDocument, []error) {
	seen := make(map[string]struct{}, len(docs))
	kept := make([]ScoredDocument, 0, len(docs))
	var problems []error
	for i, d := range docs {
		if err := checkDocument(i, d, seen); err != nil {
			problems = append(problems, err)
			continue
		}
		kept = append(kept, d)
	}
	return kept, problems
}

func checkDocument(pos int, d ScoredDocument, seen map[string]struct{}) error {
	if strings.TrimSpace(d.ID) == "" {
		return amerrors.FusionInputError(fmt.Sprintf("%s document at position %d has no id", d.Source, pos+1), nil).
			WithDetail("origin", d.Origin)
	}
	if math.IsNaN(d.RawScore) || math.IsInf(d.RawScore, 0) {
		return amerrors.FusionInputError(fmt.Sprintf("%s document %q has invalid score %v", d.Source, d.ID, d.RawScore), nil).
			WithDetail("origin", d.Origin).
			WithDetail("id", d.ID)
	}
	if _, dup := seen[d.ID]; dup {
		return amerrors.FusionInputError(fmt.Sprintf("%s document %q appears more than once", d.Source, d.ID), nil).
			WithDetail("origin", d.Origin).
			WithDetail("id", d.ID)
	}
	seen[d.ID] = struct{}{}
	return nil
}
