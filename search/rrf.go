package search

import (
	"sort"

	"github.com/brunobiangulo/lexstore/store"
)

// DefaultRRFK is the standard rank-decay constant from the RRF literature.
const DefaultRRFK = 60

// Result is one fused search result. FTSRank and VecRank are 1-based;
// 0 means the document was absent from that list.
type Result struct {
	store.Hit
	Fused   float64 `json:"fused_score"`
	FTSRank int     `json:"fts_rank,omitempty"`
	VecRank int     `json:"vec_rank,omitempty"`
}

// InBoth reports whether the document appeared in both ranked lists.
func (r Result) InBoth() bool {
	return r.FTSRank > 0 && r.VecRank > 0
}

// fuseRRF combines the FTS and vector rankings with Reciprocal Rank
// Fusion: score(d) = 1/(k+rank_fts) + 1/(k+rank_vec), with a document
// absent from a list contributing 0 for that term. Ties break by
// both-lists presence, then shorter text (the most specific quote),
// then lexicographic key — so repeated calls on the same inputs always
// produce the same ordering.
func fuseRRF(ftsHits, vecHits []store.Hit, kConst, maxResults int) []Result {
	if kConst <= 0 {
		kConst = DefaultRRFK
	}

	fused := make(map[string]*Result)

	for rank, h := range ftsHits {
		key := h.Key()
		entry, ok := fused[key]
		if !ok {
			entry = &Result{Hit: h}
			fused[key] = entry
		}
		entry.Fused += 1.0 / float64(kConst+rank+1)
		entry.FTSRank = rank + 1
	}

	for rank, h := range vecHits {
		key := h.Key()
		entry, ok := fused[key]
		if !ok {
			entry = &Result{Hit: h}
			fused[key] = entry
		}
		entry.Fused += 1.0 / float64(kConst+rank+1)
		entry.VecRank = rank + 1
	}

	results := make([]Result, 0, len(fused))
	for _, e := range fused {
		e.Score = e.Fused
		results = append(results, *e)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Fused != b.Fused {
			return a.Fused > b.Fused
		}
		if a.InBoth() != b.InBoth() {
			return a.InBoth()
		}
		if len(a.Text) != len(b.Text) {
			return len(a.Text) < len(b.Text)
		}
		return a.Key() < b.Key()
	})

	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}
