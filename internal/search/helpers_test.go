package search

// --- Test Helpers ---

func lexDocs(ids []string, scores []float64) []ScoredDocument {
	return makeDocs(SourceLexical, "local", ids, scores)
}

func vecDocs(ids []string, scores []float64) []ScoredDocument {
	return makeDocs(SourceVector, "local", ids, scores)
}

func makeDocs(source Source, origin string, ids []string, scores []float64) []ScoredDocument {
	docs := make([]ScoredDocument, len(ids))
	for i, id := range ids {
		docs[i] = ScoredDocument{
			ID:       id,
			Content:  "content of " + id,
			RawScore: scores[i],
			Source:   source,
			Rank:     i + 1,
			Origin:   origin,
		}
	}
	return docs
}

// normalized builds already-normalized docs directly from normalized scores.
func normalized(source Source, ids []string, scores []float64) []ScoredDocument {
	docs := makeDocs(source, "local", ids, scores)
	for i := range docs {
		docs[i].NormalizedScore = scores[i]
		docs[i].Normalized = true
	}
	return docs
}

func resultIDs(results []*FusedResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}
