package store

import (
	"context"
	"database/sql"
)

// SectionIndexEntry is one section's derived index payload: the FTS row
// and the vector embedding, both computed from authoritative store data.
type SectionIndexEntry struct {
	SectionID int64
	Number    string
	Title     string
	Body      string
	Embedding []float32
}

// SwapDocumentIndex atomically replaces all derived index rows for one
// document: section FTS rows, section embeddings, and relationship
// embeddings. Everything is computed before this call; the transaction
// only deletes and inserts, so the swap window is short and readers on
// the WAL snapshot see either the old or the new index, never a mix.
func (s *Store) SwapDocumentIndex(ctx context.Context, docID int64,
	sections []SectionIndexEntry, relEmbeddings map[int64][]float32) error {

	return s.inTx(ctx, func(tx *sql.Tx) error {
		// Drop the document's old derived rows.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM sections_fts WHERE rowid IN (
				SELECT id FROM sections WHERE document_id = ?
			)`, docID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_sections WHERE section_id IN (
				SELECT id FROM sections WHERE document_id = ?
			)`, docID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_relationships WHERE relationship_id IN (
				SELECT id FROM relationships WHERE source_document_id = ?
			)`, docID); err != nil {
			return err
		}

		ftsStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO sections_fts (rowid, number, title, body) VALUES (?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer ftsStmt.Close()

		vecSecStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO vec_sections (section_id, embedding) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer vecSecStmt.Close()

		for _, e := range sections {
			if _, err := ftsStmt.ExecContext(ctx, e.SectionID, e.Number, e.Title, e.Body); err != nil {
				return err
			}
			if len(e.Embedding) > 0 {
				if _, err := vecSecStmt.ExecContext(ctx, e.SectionID, serializeFloat32(e.Embedding)); err != nil {
					return err
				}
			}
		}

		vecRelStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO vec_relationships (relationship_id, embedding) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer vecRelStmt.Close()

		for id, emb := range relEmbeddings {
			if _, err := vecRelStmt.ExecContext(ctx, id, serializeFloat32(emb)); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertRelationshipEmbeddings appends or replaces relationship vectors
// without touching the rest of the index. Used by incremental adds; the
// relationship FTS rows are maintained by triggers.
func (s *Store) UpsertRelationshipEmbeddings(ctx context.Context, embeddings map[int64][]float32) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		del, err := tx.PrepareContext(ctx,
			"DELETE FROM vec_relationships WHERE relationship_id = ?")
		if err != nil {
			return err
		}
		defer del.Close()

		ins, err := tx.PrepareContext(ctx,
			"INSERT INTO vec_relationships (relationship_id, embedding) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer ins.Close()

		for id, emb := range embeddings {
			if _, err := del.ExecContext(ctx, id); err != nil {
				return err
			}
			if _, err := ins.ExecContext(ctx, id, serializeFloat32(emb)); err != nil {
				return err
			}
		}
		return nil
	})
}
