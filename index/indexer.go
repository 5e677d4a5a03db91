// Package index maintains the derived retrieval structures: FTS rows
// for section text and vector embeddings for relationship and section
// text. Index entries are disposable caches, rebuildable at any time
// from the store; they never hold facts of their own.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brunobiangulo/lexstore/embed"
	"github.com/brunobiangulo/lexstore/store"
)

// embedBatchSize bounds the number of texts per embedding request.
const embedBatchSize = 64

// Snapshot describes the active index generation. Readers load it
// atomically; a rebuild publishes a new one only after the swap commits.
type Snapshot struct {
	Generation    int64     `json:"generation"`
	BuiltAt       time.Time `json:"built_at"`
	SectionRows   int       `json:"section_rows"`
	RelationVecs  int       `json:"relation_vecs"`
}

// Indexer is the single writer of derived index state. Rebuilds are
// serialized by mu; reads never take the lock and see either the old
// or the new index through SQLite's WAL snapshot plus the atomic
// snapshot pointer.
type Indexer struct {
	store    *store.Store
	embedder embed.Provider

	mu     sync.Mutex
	gen    atomic.Int64
	active atomic.Pointer[Snapshot]
}

// New creates an indexer over the store using the given embedder.
func New(s *store.Store, embedder embed.Provider) *Indexer {
	ix := &Indexer{store: s, embedder: embedder}
	ix.active.Store(&Snapshot{BuiltAt: time.Now()})
	return ix
}

// Active returns the currently published index snapshot.
func (ix *Indexer) Active() *Snapshot {
	return ix.active.Load()
}

// Rebuild recomputes every derived index row for one document and swaps
// it in atomically. Safe to call concurrently with reads: all embedding
// work happens before the short swap transaction.
func (ix *Indexer) Rebuild(ctx context.Context, documentID int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()

	sections, err := ix.store.SectionsByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("loading sections: %w", err)
	}

	entries := make([]store.SectionIndexEntry, 0, len(sections))
	var secTexts []string
	for _, sec := range sections {
		body, err := ix.store.SectionText(ctx, sec.ID)
		if err != nil {
			return fmt.Errorf("loading section %s text: %w", sec.Number, err)
		}
		entries = append(entries, store.SectionIndexEntry{
			SectionID: sec.ID,
			Number:    sec.Number,
			Title:     sec.Title,
			Body:      body,
		})
		secTexts = append(secTexts, sec.Number+" "+sec.Title+"\n"+body)
	}

	secEmbeddings, err := ix.embedBatched(ctx, secTexts)
	if err != nil {
		return fmt.Errorf("embedding sections: %w", err)
	}
	for i := range entries {
		entries[i].Embedding = secEmbeddings[i]
	}

	relIDs, err := ix.store.RelationshipsByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("loading relationships: %w", err)
	}
	relEmbeddings, err := ix.embedRelationships(ctx, relIDs)
	if err != nil {
		return err
	}

	if err := ix.store.SwapDocumentIndex(ctx, documentID, entries, relEmbeddings); err != nil {
		return fmt.Errorf("swapping index: %w", err)
	}

	snap := &Snapshot{
		Generation:   ix.gen.Add(1),
		BuiltAt:      time.Now(),
		SectionRows:  len(entries),
		RelationVecs: len(relEmbeddings),
	}
	ix.active.Store(snap)

	slog.Info("index rebuilt",
		"document_id", documentID,
		"generation", snap.Generation,
		"sections", len(entries),
		"relationships", len(relEmbeddings),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// IncrementalAdd embeds and appends vectors for newly loaded
// relationships without a full rebuild. FTS rows for relationships are
// already maintained by insert triggers.
func (ix *Indexer) IncrementalAdd(ctx context.Context, relationshipIDs []int64) error {
	if len(relationshipIDs) == 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	embeddings, err := ix.embedRelationships(ctx, relationshipIDs)
	if err != nil {
		return err
	}
	if err := ix.store.UpsertRelationshipEmbeddings(ctx, embeddings); err != nil {
		return fmt.Errorf("appending relationship vectors: %w", err)
	}

	old := ix.active.Load()
	ix.active.Store(&Snapshot{
		Generation:   ix.gen.Add(1),
		BuiltAt:      time.Now(),
		SectionRows:  old.SectionRows,
		RelationVecs: old.RelationVecs + len(embeddings),
	})

	slog.Debug("index incremental add", "relationships", len(embeddings))
	return nil
}

func (ix *Indexer) embedRelationships(ctx context.Context, ids []int64) (map[int64][]float32, error) {
	texts, err := ix.store.RelationshipTexts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading relationship texts: %w", err)
	}

	ordered := make([]int64, 0, len(texts))
	payload := make([]string, 0, len(texts))
	for _, id := range ids {
		if t, ok := texts[id]; ok {
			ordered = append(ordered, id)
			payload = append(payload, t)
		}
	}

	vectors, err := ix.embedBatched(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("embedding relationships: %w", err)
	}

	embeddings := make(map[int64][]float32, len(ordered))
	for i, id := range ordered {
		embeddings[id] = vectors[i]
	}
	return embeddings, nil
}

func (ix *Indexer) embedBatched(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := ix.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start)
		}
		result = append(result, vecs...)
	}
	return result, nil
}
