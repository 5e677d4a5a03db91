//go:build cgo

package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/brunobiangulo/lexstore/embed"
	"github.com/brunobiangulo/lexstore/index"
	"github.com/brunobiangulo/lexstore/store"
)

const testContent = "50.4(1) The trustee shall file a cash-flow statement within 10 days " +
	"of filing a notice of intention. Failure to comply results in deemed assignment."

// newTestCorpus loads one document with a section and a relationship,
// and rebuilds the derived index so both FTS and vector retrieval have
// rows to serve.
func newTestCorpus(t *testing.T) (*store.Store, embed.Provider) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(dbPath, 8)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	actorIdx, secIdx := int64(0), int64(0)
	res, err := s.LoadBatch(ctx, store.BatchInsert{
		Document: store.SourceDocument{Name: "bia.txt", Content: testContent},
		Sections: []store.Section{
			{Number: "50.4(1)", Title: "Cash-flow statement", CharStart: 0, CharEnd: len(testContent), Depth: 1},
		},
		Entities: []store.Entity{
			{Kind: store.KindActor, RawText: "trustee", CharStart: 12, CharEnd: 19, SectionID: &secIdx},
		},
		Relationships: []store.Relationship{
			{
				RelKind:          store.RelDuty,
				Participants:     store.Participants{ActorID: &actorIdx},
				RelationshipText: "The trustee shall file a cash-flow statement within 10 days",
				Modality:         store.ModalityMandatory,
				SourceSection:    "50.4(1)",
			},
		},
	})
	if err != nil {
		t.Fatalf("loading batch: %v", err)
	}

	embedder := embed.NewLocal(8)
	ix := index.New(s, embedder)
	if err := ix.Rebuild(ctx, res.DocumentID); err != nil {
		t.Fatalf("rebuilding index: %v", err)
	}
	return s, embedder
}

func TestSearchEmptyQuery(t *testing.T) {
	s, embedder := newTestCorpus(t)
	e := New(s, embedder, Config{})

	if _, err := e.Search(context.Background(), "   ", 5, ScopeAll); !errors.Is(err, ErrQuery) {
		t.Fatalf("expected ErrQuery, got %v", err)
	}
}

func TestSearchUnknownScope(t *testing.T) {
	s, embedder := newTestCorpus(t)
	e := New(s, embedder, Config{})

	if _, err := e.Search(context.Background(), "trustee", 5, Scope("everything")); !errors.Is(err, ErrQuery) {
		t.Fatalf("expected ErrQuery, got %v", err)
	}
}

func TestSearchHybrid(t *testing.T) {
	s, embedder := newTestCorpus(t)
	e := New(s, embedder, Config{})

	resp, err := e.Search(context.Background(), "trustee cash-flow statement", 5, ScopeRelationships)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("expected results")
	}
	if resp.Rung != RungFused {
		t.Fatalf("expected fused rung, got %d (tried %v)", resp.Rung, resp.RungsTried)
	}
	top := resp.Results[0]
	if top.Source != store.HitRelationship {
		t.Fatalf("expected a relationship hit, got %q", top.Source)
	}
	if top.Text != "The trustee shall file a cash-flow statement within 10 days" {
		t.Fatalf("result text is not the verbatim stored quote: %q", top.Text)
	}
	if resp.FTSCount == 0 {
		t.Fatal("fts contributed nothing")
	}
	if resp.VecCount == 0 {
		t.Fatal("vector contributed nothing")
	}
}

func TestSearchSectionsScope(t *testing.T) {
	s, embedder := newTestCorpus(t)
	e := New(s, embedder, Config{})

	resp, err := e.Search(context.Background(), "notice of intention", 5, ScopeSections)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("expected section results")
	}
	for _, r := range resp.Results {
		if r.Source != store.HitSection {
			t.Fatalf("scope sections returned a %s hit", r.Source)
		}
	}
	if resp.Results[0].Citation != "50.4(1)" {
		t.Fatalf("expected section number citation, got %q", resp.Results[0].Citation)
	}
}

func TestSearchNoMatchesReturnsEmptyNotError(t *testing.T) {
	s, _ := newTestCorpus(t)
	e := New(s, nil, Config{}) // no embedder: keyword only

	resp, err := e.Search(context.Background(), "quantum entanglement paradox", 5, ScopeAll)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(resp.Results))
	}
	// With nothing found, every rung must have been attempted in order.
	want := []int{RungPhrase, RungAnd, RungOr}
	if len(resp.RungsTried) != len(want) {
		t.Fatalf("rungs tried = %v, want %v", resp.RungsTried, want)
	}
	for i, r := range want {
		if resp.RungsTried[i] != r {
			t.Fatalf("rungs tried = %v, want %v", resp.RungsTried, want)
		}
	}
}

func TestSearchLadderStopsAtFirstHit(t *testing.T) {
	s, _ := newTestCorpus(t)
	// Floor above the maximum possible fused score forces the ladder.
	e := New(s, nil, Config{ConfidenceFloor: 1.0})

	resp, err := e.Search(context.Background(), "trustee shall file", 5, ScopeRelationships)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Rung != RungPhrase {
		t.Fatalf("expected phrase rung to answer, got rung %d (tried %v)", resp.Rung, resp.RungsTried)
	}
	if len(resp.RungsTried) != 1 {
		t.Fatalf("ladder kept going after a hit: %v", resp.RungsTried)
	}
	if len(resp.Results) == 0 {
		t.Fatal("expected phrase results")
	}
}

func TestSearchLadderDescendsToOr(t *testing.T) {
	s, _ := newTestCorpus(t)
	e := New(s, nil, Config{ConfidenceFloor: 1.0})

	// Phrase fails (not contiguous), AND fails (zebra is absent), OR hits.
	resp, err := e.Search(context.Background(), "zebra trustee", 5, ScopeRelationships)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Rung != RungOr {
		t.Fatalf("expected or rung, got %d (tried %v)", resp.Rung, resp.RungsTried)
	}
	want := []int{RungPhrase, RungAnd, RungOr}
	for i, r := range want {
		if resp.RungsTried[i] != r {
			t.Fatalf("rungs tried = %v, want %v", resp.RungsTried, want)
		}
	}
}

func TestSearchCaching(t *testing.T) {
	s, embedder := newTestCorpus(t)
	e := New(s, embedder, Config{})
	ctx := context.Background()

	first, err := e.Search(ctx, "trustee", 5, ScopeAll)
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	second, err := e.Search(ctx, "trustee", 5, ScopeAll)
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if first != second {
		t.Fatal("expected the cached response on the second call")
	}
}
