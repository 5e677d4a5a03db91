package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// BatchInsert is one extraction batch in load order. Cross-references
// inside the batch use slice indexes, since the extraction pipeline
// cannot know database IDs:
//
//   - Section.ParentSectionID is an index into Sections
//   - Entity.SectionID is an index into Sections
//   - Relationship participant IDs are indexes into Entities, and the
//     referenced entity must have the matching kind
//
// LoadBatch remaps all of them to real row IDs inside one transaction.
type BatchInsert struct {
	Document      SourceDocument
	Sections      []Section
	Entities      []Entity
	Relationships []Relationship
}

// BatchResult reports the real row IDs of a loaded batch, in input order.
type BatchResult struct {
	DocumentID      int64   `json:"document_id"`
	SectionIDs      []int64 `json:"section_ids"`
	EntityIDs       []int64 `json:"entity_ids"`
	RelationshipIDs []int64 `json:"relationship_ids"`
}

// LoadBatch applies one extraction batch atomically: the document, its
// sections, entities, and relationships all commit together or not at
// all. Any integrity violation (missing participant, empty quote, a
// quote that cannot be traced to the document text) rolls back the
// whole batch with ErrIntegrity.
func (s *Store) LoadBatch(ctx context.Context, b BatchInsert) (*BatchResult, error) {
	if err := validateBatchShape(b); err != nil {
		return nil, err
	}

	result := &BatchResult{
		SectionIDs:      make([]int64, len(b.Sections)),
		EntityIDs:       make([]int64, len(b.Entities)),
		RelationshipIDs: make([]int64, len(b.Relationships)),
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		docID, err := upsertSourceDocumentTx(ctx, tx, b.Document)
		if err != nil {
			return err
		}
		result.DocumentID = docID

		for i, sec := range b.Sections {
			sec.DocumentID = docID
			if sec.ParentSectionID != nil {
				parentID := result.SectionIDs[*sec.ParentSectionID]
				sec.ParentSectionID = &parentID
			}
			id, err := insertSectionTx(ctx, tx, sec)
			if err != nil {
				return err
			}
			result.SectionIDs[i] = id
		}

		for i, e := range b.Entities {
			e.DocumentID = docID
			if e.SectionID != nil {
				sectionID := result.SectionIDs[*e.SectionID]
				e.SectionID = &sectionID
			}
			id, err := insertEntityTx(ctx, tx, e)
			if err != nil {
				return err
			}
			result.EntityIDs[i] = id
		}

		for i, r := range b.Relationships {
			r.SourceDocumentID = docID
			r.Participants = remapParticipants(r.Participants, result.EntityIDs)
			id, err := insertRelationshipTx(ctx, tx, r)
			if err != nil {
				return err
			}
			result.RelationshipIDs[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// validateBatchShape checks batch-local references and the verbatim
// quote contract before any row is written.
func validateBatchShape(b BatchInsert) error {
	if strings.TrimSpace(b.Document.Name) == "" {
		return fmt.Errorf("%w: batch document has no name", ErrIntegrity)
	}
	if b.Document.Content == "" {
		return fmt.Errorf("%w: batch document %q has no content", ErrIntegrity, b.Document.Name)
	}

	for i, sec := range b.Sections {
		if sec.ParentSectionID != nil {
			p := *sec.ParentSectionID
			if p < 0 || int(p) >= i {
				return fmt.Errorf("%w: section %q parent index %d out of range", ErrIntegrity, sec.Number, p)
			}
		}
		if sec.CharEnd > len(b.Document.Content) {
			return fmt.Errorf("%w: section %q extends past document end", ErrIntegrity, sec.Number)
		}
	}

	for i, e := range b.Entities {
		if !e.Kind.Valid() {
			return fmt.Errorf("%w: entity %d has unknown kind %q", ErrIntegrity, i, e.Kind)
		}
		if e.SectionID != nil {
			p := *e.SectionID
			if p < 0 || int(p) >= len(b.Sections) {
				return fmt.Errorf("%w: entity %q section index %d out of range", ErrIntegrity, e.RawText, p)
			}
		}
	}

	for i, r := range b.Relationships {
		if strings.TrimSpace(r.RelationshipText) == "" {
			return fmt.Errorf("%w: relationship %d has empty relationship_text", ErrIntegrity, i)
		}
		if r.Participants.Empty() {
			return fmt.Errorf("%w: relationship %d has no participants", ErrIntegrity, i)
		}
		if !quoteTraceable(b.Document.Content, r.RelationshipText) {
			return fmt.Errorf("%w: relationship %d quote not found in document %q",
				ErrIntegrity, i, b.Document.Name)
		}
		for _, pc := range participantColumns {
			idx := pc.get(r.Participants)
			if idx == nil {
				continue
			}
			if *idx < 0 || int(*idx) >= len(b.Entities) {
				return fmt.Errorf("%w: relationship %d %s index %d out of range",
					ErrIntegrity, i, pc.column, *idx)
			}
			if got := b.Entities[*idx].Kind; got != pc.kind {
				return fmt.Errorf("%w: relationship %d %s points at a %s entity",
					ErrIntegrity, i, pc.column, got)
			}
		}
	}
	return nil
}

// remapParticipants converts batch-local entity indexes to row IDs.
func remapParticipants(p Participants, entityIDs []int64) Participants {
	remap := func(idx *int64) *int64 {
		if idx == nil {
			return nil
		}
		id := entityIDs[*idx]
		return &id
	}
	return Participants{
		ActorID:       remap(p.ActorID),
		ProcedureID:   remap(p.ProcedureID),
		DeadlineID:    remap(p.DeadlineID),
		ConsequenceID: remap(p.ConsequenceID),
		DocumentID:    remap(p.DocumentID),
	}
}

// quoteTraceable reports whether quote is a contiguous substring of the
// document, or a near-contiguous one once runs of whitespace collapse.
func quoteTraceable(content, quote string) bool {
	if strings.Contains(content, quote) {
		return true
	}
	return strings.Contains(collapseSpace(content), collapseSpace(quote))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func upsertSourceDocumentTx(ctx context.Context, tx *sql.Tx, doc SourceDocument) (int64, error) {
	if doc.ContentHash == "" {
		doc.ContentHash = hashString(doc.Content)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO source_documents (name, title, content, content_hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			content_hash = excluded.content_hash
	`, doc.Name, doc.Title, doc.Content, doc.ContentHash)
	if err != nil {
		return 0, err
	}

	// An upsert that takes the UPDATE branch leaves last_insert_rowid
	// untouched, so the row ID always comes from the unique key.
	var id int64
	row := tx.QueryRowContext(ctx, "SELECT id FROM source_documents WHERE name = ?", doc.Name)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func insertSectionTx(ctx context.Context, tx *sql.Tx, sec Section) (int64, error) {
	if sec.CharStart >= sec.CharEnd {
		return 0, fmt.Errorf("%w: section %q has char_start >= char_end", ErrIntegrity, sec.Number)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sections (document_id, number, title, parent_section_id, char_start, char_end, depth)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, number) DO UPDATE SET
			title = excluded.title,
			char_start = excluded.char_start,
			char_end = excluded.char_end,
			depth = excluded.depth
	`, sec.DocumentID, sec.Number, sec.Title, sec.ParentSectionID,
		sec.CharStart, sec.CharEnd, sec.Depth)
	if err != nil {
		return 0, err
	}

	var id int64
	row := tx.QueryRowContext(ctx,
		"SELECT id FROM sections WHERE document_id = ? AND number = ?",
		sec.DocumentID, sec.Number)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
