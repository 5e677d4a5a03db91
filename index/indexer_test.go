//go:build cgo

package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/brunobiangulo/lexstore/embed"
	"github.com/brunobiangulo/lexstore/store"
)

const testContent = "50.4(1) The trustee shall file a cash-flow statement within 10 days " +
	"of filing a notice of intention."

func newTestIndexer(t *testing.T) (*Indexer, *store.Store, *store.BatchResult) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), 8)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	actorIdx := int64(0)
	res, err := s.LoadBatch(context.Background(), store.BatchInsert{
		Document: store.SourceDocument{Name: "bia.txt", Content: testContent},
		Sections: []store.Section{
			{Number: "50.4(1)", Title: "Cash-flow statement", CharStart: 0, CharEnd: len(testContent), Depth: 1},
		},
		Entities: []store.Entity{
			{Kind: store.KindActor, RawText: "trustee", CharStart: 12, CharEnd: 19},
		},
		Relationships: []store.Relationship{{
			RelKind:          store.RelDuty,
			Participants:     store.Participants{ActorID: &actorIdx},
			RelationshipText: "The trustee shall file a cash-flow statement within 10 days",
			Modality:         store.ModalityMandatory,
			SourceSection:    "50.4(1)",
		}},
	})
	if err != nil {
		t.Fatalf("loading batch: %v", err)
	}
	return New(s, embed.NewLocal(8)), s, res
}

func TestRebuildPopulatesIndexes(t *testing.T) {
	ix, s, res := newTestIndexer(t)
	ctx := context.Background()

	if err := ix.Rebuild(ctx, res.DocumentID); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	hits, err := s.SearchSectionsFTS(ctx, "intention", 5)
	if err != nil {
		t.Fatalf("section fts: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 section hit, got %d", len(hits))
	}

	var secVecs, relVecs int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM vec_sections").Scan(&secVecs); err != nil {
		t.Fatalf("counting section vectors: %v", err)
	}
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM vec_relationships").Scan(&relVecs); err != nil {
		t.Fatalf("counting relationship vectors: %v", err)
	}
	if secVecs != 1 || relVecs != 1 {
		t.Fatalf("expected 1 vector each, got sections=%d relationships=%d", secVecs, relVecs)
	}

	snap := ix.Active()
	if snap.Generation != 1 || snap.SectionRows != 1 || snap.RelationVecs != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	ix, s, res := newTestIndexer(t)
	ctx := context.Background()

	if err := ix.Rebuild(ctx, res.DocumentID); err != nil {
		t.Fatalf("first rebuild: %v", err)
	}
	if err := ix.Rebuild(ctx, res.DocumentID); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}

	var ftsRows int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM sections_fts").Scan(&ftsRows); err != nil {
		t.Fatalf("counting fts rows: %v", err)
	}
	if ftsRows != 1 {
		t.Fatalf("rebuild duplicated fts rows: %d", ftsRows)
	}
	if gen := ix.Active().Generation; gen != 2 {
		t.Fatalf("expected generation 2 after two rebuilds, got %d", gen)
	}
}

func TestIncrementalAdd(t *testing.T) {
	ix, s, res := newTestIndexer(t)
	ctx := context.Background()

	if err := ix.Rebuild(ctx, res.DocumentID); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	actorIdx := int64(0)
	more, err := s.LoadBatch(ctx, store.BatchInsert{
		Document: store.SourceDocument{Name: "bia.txt", Content: testContent},
		Entities: []store.Entity{
			{Kind: store.KindActor, RawText: "trustee", CharStart: 12, CharEnd: 19},
		},
		Relationships: []store.Relationship{{
			RelKind:          store.RelEntitlement,
			Participants:     store.Participants{ActorID: &actorIdx},
			RelationshipText: "The trustee shall file a cash-flow statement",
			Modality:         store.ModalityMandatory,
			SourceSection:    "50.4(1)",
		}},
	})
	if err != nil {
		t.Fatalf("loading second batch: %v", err)
	}

	if err := ix.IncrementalAdd(ctx, more.RelationshipIDs); err != nil {
		t.Fatalf("incremental add: %v", err)
	}

	var relVecs int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM vec_relationships").Scan(&relVecs); err != nil {
		t.Fatalf("counting relationship vectors: %v", err)
	}
	if relVecs != 2 {
		t.Fatalf("expected 2 relationship vectors, got %d", relVecs)
	}
	if ix.Active().RelationVecs != 2 {
		t.Fatalf("snapshot not advanced: %+v", ix.Active())
	}
}

func TestIncrementalAddEmpty(t *testing.T) {
	ix, _, _ := newTestIndexer(t)
	before := ix.Active().Generation

	if err := ix.IncrementalAdd(context.Background(), nil); err != nil {
		t.Fatalf("incremental add: %v", err)
	}
	if ix.Active().Generation != before {
		t.Fatal("empty add must not publish a new snapshot")
	}
}
