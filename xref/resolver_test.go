//go:build cgo

package xref

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/lexstore/store"
)

// cyclicContent holds two sections that cite each other.
const cyclicContent = "Refer to section 2 for filing rules. Refer to section 1 for notice rules."

func newTestResolver(t *testing.T) (*Resolver, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if _, err := s.UpsertSourceDocument(ctx, store.SourceDocument{
		Name:    "act.txt",
		Content: cyclicContent,
	}); err != nil {
		t.Fatalf("upserting document: %v", err)
	}
	if _, err := s.InsertSections(ctx, []store.Section{
		{DocumentID: 1, Number: "1", CharStart: 0, CharEnd: 36, Depth: 1},
		{DocumentID: 1, Number: "2", CharStart: 37, CharEnd: len(cyclicContent), Depth: 1},
	}); err != nil {
		t.Fatalf("inserting sections: %v", err)
	}
	return New(s, 0, 0), s
}

func TestResolveStatutorySection(t *testing.T) {
	r, _ := newTestResolver(t)

	resolutions, err := r.Resolve(context.Background(), "as required by section 1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolutions) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(resolutions))
	}
	res := resolutions[0]
	if res.Status != StatusResolved {
		t.Fatalf("expected resolved, got %q", res.Status)
	}
	if !strings.Contains(cyclicContent, res.Text) {
		t.Fatal("resolved text is not a verbatim content slice")
	}
}

func TestResolveCyclicCitationsTerminate(t *testing.T) {
	r, _ := newTestResolver(t)

	// Section 1 cites 2, which cites 1 back. The visited set must stop
	// the cycle; the depth bound stops anything the set misses.
	resolutions, err := r.Resolve(context.Background(), "see section 1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var depth func([]Resolution) int
	depth = func(rs []Resolution) int {
		max := 0
		for _, res := range rs {
			if d := 1 + depth(res.Children); d > max {
				max = d
			}
		}
		return max
	}
	if d := depth(resolutions); d > DefaultMaxDepth {
		t.Fatalf("resolution tree depth %d exceeds bound %d", d, DefaultMaxDepth)
	}

	keys := CitationKeys(resolutions)
	if len(keys) != 2 {
		t.Fatalf("expected citations 1 and 2 exactly once, got %v", keys)
	}
}

func TestResolveUnresolvedDirectiveSurfaced(t *testing.T) {
	r, _ := newTestResolver(t)

	resolutions, err := r.Resolve(context.Background(), "comply with Directive 11R")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	unresolved := Unresolved(resolutions)
	if len(unresolved) != 1 {
		t.Fatalf("expected 1 unresolved citation, got %v", unresolved)
	}
	if unresolved[0].Ref.CitationKey != "Directive 11R" {
		t.Fatalf("unexpected unresolved citation: %+v", unresolved[0])
	}
	if unresolved[0].Status != StatusUnresolved {
		t.Fatalf("expected unresolved status, got %q", unresolved[0].Status)
	}
}

func TestResolveDirectiveFromLoadedDocument(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	if _, err := s.UpsertSourceDocument(ctx, store.SourceDocument{
		Name:    "Directive 5",
		Content: "Directive 5 governs estate funds held in trust accounts.",
	}); err != nil {
		t.Fatalf("upserting directive: %v", err)
	}

	resolutions, err := r.Resolve(ctx, "see directive no. 5")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolutions) != 1 || resolutions[0].Status != StatusResolved {
		t.Fatalf("expected resolved directive, got %+v", resolutions)
	}
	if !strings.HasPrefix("Directive 5 governs estate funds held in trust accounts.", resolutions[0].Text) {
		t.Fatal("directive text is not a verbatim prefix of the document")
	}
}

func TestResolveExternalActNeedsPermission(t *testing.T) {
	r, _ := newTestResolver(t)

	resolutions, err := r.Resolve(context.Background(),
		"subject to the Companies' Creditors Arrangement Act")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolutions) != 1 {
		t.Fatalf("expected 1 resolution, got %v", resolutions)
	}
	if resolutions[0].Status != StatusPermissionRequired {
		t.Fatalf("external act must require permission, got %q", resolutions[0].Status)
	}
	if resolutions[0].Text != "" {
		t.Fatal("no text may be returned without an explicit fetch")
	}
}

func TestExcerptIsVerbatimPrefix(t *testing.T) {
	text := strings.Repeat("estate funds in trust ", 50)
	cut := excerpt(text, 100)
	if len(cut) > 100 {
		t.Fatalf("excerpt too long: %d", len(cut))
	}
	if !strings.HasPrefix(text, cut) {
		t.Fatal("excerpt is not a prefix of the source")
	}
	if strings.HasSuffix(cut, " ") {
		t.Fatal("excerpt should cut at a word boundary, not keep trailing space")
	}
}
