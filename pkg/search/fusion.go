package search

import "sort"

// rrfConstant is the standard reciprocal-rank smoothing parameter.
const rrfConstant = 60

// fusedResult is one candidate after rank fusion, keeping the
// original scores for diagnostics.
type fusedResult struct {
	ChunkID     string
	RRFScore    float64
	BM25Score   float64
	BM25Rank    int
	VecScore    float64
	VecRank     int
	InBothLists bool
}

// fuseRanks merges keyword and vector result lists with reciprocal
// rank fusion, de-duplicating by chunk id. A chunk missing from one
// list contributes at rank max(len(a), len(b)) + 1 for that list.
// Scores are normalized to [0, 1].
func fuseRanks(keywordIDs []string, keywordScores []float64, vectorIDs []string, vectorScores []float64) []fusedResult {
	if len(keywordIDs) == 0 && len(vectorIDs) == 0 {
		return []fusedResult{}
	}

	byID := make(map[string]*fusedResult, len(keywordIDs)+len(vectorIDs))
	get := func(id string) *fusedResult {
		if r, ok := byID[id]; ok {
			return r
		}
		r := &fusedResult{ChunkID: id}
		byID[id] = r
		return r
	}

	for rank, id := range keywordIDs {
		r := get(id)
		r.BM25Rank = rank + 1
		if rank < len(keywordScores) {
			r.BM25Score = keywordScores[rank]
		}
		r.RRFScore += 1.0 / float64(rrfConstant+rank+1)
	}
	for rank, id := range vectorIDs {
		r := get(id)
		r.VecRank = rank + 1
		if rank < len(vectorScores) {
			r.VecScore = vectorScores[rank]
		}
		r.RRFScore += 1.0 / float64(rrfConstant+rank+1)
		if r.BM25Rank > 0 {
			r.InBothLists = true
		}
	}

	missingRank := len(keywordIDs)
	if len(vectorIDs) > missingRank {
		missingRank = len(vectorIDs)
	}
	missingRank++
	for _, r := range byID {
		if r.BM25Rank == 0 {
			r.RRFScore += 1.0 / float64(rrfConstant+missingRank)
		}
		if r.VecRank == 0 {
			r.RRFScore += 1.0 / float64(rrfConstant+missingRank)
		}
	}

	results := make([]fusedResult, 0, len(byID))
	for _, r := range byID {
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		if a.InBothLists != b.InBothLists {
			return a.InBothLists
		}
		if a.BM25Score != b.BM25Score {
			return a.BM25Score > b.BM25Score
		}
		return a.ChunkID < b.ChunkID
	})

	if max := results[0].RRFScore; max > 0 {
		for i := range results {
			results[i].RRFScore /= max
		}
	}
	return results
}
