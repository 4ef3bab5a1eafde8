package search

// Combine merges normalized lexical and vector lists into fused results.
//
// fused = alpha*vector + (1-alpha)*lexical, with 0 for a side the document is
// absent from. A document found by both sides collects both terms.
//
// The output holds every input id exactly once, in lexical list order followed by
// vector-only ids in vector list order. Call Sort to rank it.
func Combine(lexical, vector []ScoredDocument, alpha float64) []*FusedResult {
	// Return empty slice, not nil, for consistent API behavior
	if len(lexical) == 0 && len(vector) == 0 {
		return []*FusedResult{}
	}

	byID := make(map[string]*FusedResult, len(lexical)+len(vector))
	order := make([]*FusedResult, 0, len(lexical)+len(vector))

	getOrCreate := func(d ScoredDocument) *FusedResult {
		if r, ok := byID[d.ID]; ok {
			return r
		}
		r := &FusedResult{ID: d.ID, Content: d.Content, Metadata: d.Metadata}
		byID[d.ID] = r
		order = append(order, r)
		return r
	}

	for _, d := range lexical {
		r := getOrCreate(d)
		r.Sources = r.Sources.Add(SourceLexical)
		r.LexicalRank = d.Rank
		r.LexicalRaw = d.RawScore
		r.LexicalNormalized = d.NormalizedScore
		r.Origins = appendOrigin(r.Origins, d.Origin)
	}

	for _, d := range vector {
		r := getOrCreate(d)
		r.Sources = r.Sources.Add(SourceVector)
		r.VectorRank = d.Rank
		r.VectorRaw = d.RawScore
		r.VectorNormalized = d.NormalizedScore
		r.Origins = appendOrigin(r.Origins, d.Origin)
		if r.Content == "" {
			r.Content = d.Content
		}
		if r.Metadata == nil {
			r.Metadata = d.Metadata
		}
	}

	for _, r := range order {
		r.FusedScore = alpha*r.VectorNormalized + (1-alpha)*r.LexicalNormalized
	}

	return order
}

// Fuse combines and sorts in one step.
func Fuse(lexical, vector []ScoredDocument, alpha, epsilon float64) []*FusedResult {
	results := Combine(lexical, vector, alpha)
	Sort(results, epsilon)
	return results
}

func appendOrigin(origins []string, origin string) []string {
	if origin == "" {
		return origins
	}
	for _, o := range origins {
		if o == origin {
			return origins
		}
	}
	return append(origins, origin)
}
