package search

import (
	"testing"

	"github.com/brunobiangulo/lexstore/store"
)

func relHit(id int64, text string) store.Hit {
	return store.Hit{ID: id, Source: store.HitRelationship, Text: text}
}

func TestFuseRRFBothListsWins(t *testing.T) {
	fts := []store.Hit{relHit(1, "quote one"), relHit(2, "quote two")}
	vec := []store.Hit{relHit(2, "quote two"), relHit(3, "quote three")}

	results := fuseRRF(fts, vec, 60, 10)
	if len(results) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(results))
	}
	if results[0].ID != 2 {
		t.Fatalf("expected doc in both lists to rank first, got id %d", results[0].ID)
	}
	if !results[0].InBoth() {
		t.Fatal("top result should report presence in both lists")
	}
	// 1/(60+1) from fts rank 2 + 1/(60+1) from vec rank 1... fts rank for
	// id 2 is 2 and vec rank is 1, so fused = 1/62 + 1/61.
	want := 1.0/62 + 1.0/61
	if diff := results[0].Fused - want; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("fused score %v, want %v", results[0].Fused, want)
	}
}

func TestFuseRRFDeterministic(t *testing.T) {
	fts := []store.Hit{relHit(1, "alpha"), relHit(2, "beta"), relHit(3, "gamma")}
	vec := []store.Hit{relHit(3, "gamma"), relHit(1, "alpha")}

	first := fuseRRF(fts, vec, 60, 10)
	for i := 0; i < 20; i++ {
		again := fuseRRF(fts, vec, 60, 10)
		for j := range first {
			if first[j].Key() != again[j].Key() {
				t.Fatalf("ordering changed between runs at position %d", j)
			}
		}
	}
}

func TestFuseRRFTieBreakShorterText(t *testing.T) {
	// Same rank in the same single list: identical fused scores, neither
	// in both lists. The shorter quote must come first.
	fts := []store.Hit{relHit(1, "a much longer quoted passage of text")}
	vec := []store.Hit{relHit(2, "short quote")}

	results := fuseRRF(fts, vec, 60, 10)
	if results[0].ID != 2 {
		t.Fatalf("expected shorter text to win the tie, got id %d", results[0].ID)
	}
}

func TestFuseRRFTieBreakKey(t *testing.T) {
	// Identical score, neither in both, identical length: lexicographic
	// key decides, so r:1 sorts before r:2.
	fts := []store.Hit{relHit(2, "same size!")}
	vec := []store.Hit{relHit(1, "same size?")}

	results := fuseRRF(fts, vec, 60, 10)
	if results[0].ID != 1 {
		t.Fatalf("expected lexicographic key tie-break, got id %d", results[0].ID)
	}
}

func TestFuseRRFRespectsMaxResults(t *testing.T) {
	fts := []store.Hit{relHit(1, "a"), relHit(2, "b"), relHit(3, "c"), relHit(4, "d")}
	results := fuseRRF(fts, nil, 60, 2)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestFuseRRFSectionAndRelationshipDistinct(t *testing.T) {
	// A section and a relationship with the same numeric id are
	// different documents and must not merge.
	fts := []store.Hit{{ID: 7, Source: store.HitRelationship, Text: "rel"}}
	vec := []store.Hit{{ID: 7, Source: store.HitSection, Text: "sec"}}

	results := fuseRRF(fts, vec, 60, 10)
	if len(results) != 2 {
		t.Fatalf("expected 2 distinct results, got %d", len(results))
	}
}

func TestHelpersBuildMatches(t *testing.T) {
	q := "when must the trustee file?"

	if got := phraseMatch(q); got != `"when must the trustee file"` {
		t.Fatalf("phraseMatch = %q", got)
	}
	if got := andMatch(q); got != "must AND trustee AND file" {
		t.Fatalf("andMatch = %q", got)
	}
	if got := orMatch(q); got != "must OR trustee OR file" {
		t.Fatalf("orMatch = %q", got)
	}
	if got := hybridMatch(""); got != "" {
		t.Fatalf("hybridMatch on empty input = %q", got)
	}
}
