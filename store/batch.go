package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// participantColumns maps relationship participant columns to the entity
// table each one must reference.
var participantColumns = []struct {
	column string
	kind   Kind
	get    func(Participants) *int64
}{
	{"actor_id", KindActor, func(p Participants) *int64 { return p.ActorID }},
	{"procedure_id", KindProcedure, func(p Participants) *int64 { return p.ProcedureID }},
	{"deadline_id", KindDeadline, func(p Participants) *int64 { return p.DeadlineID }},
	{"consequence_id", KindConsequence, func(p Participants) *int64 { return p.ConsequenceID }},
	{"document_id", KindDocument, func(p Participants) *int64 { return p.DocumentID }},
}

// InsertSections inserts a batch of sections for one document inside a
// single transaction. Parent references use batch-local position IDs
// (the extraction pipeline does not know database IDs); they are
// remapped to real IDs as rows are inserted.
func (s *Store) InsertSections(ctx context.Context, sections []Section) ([]int64, error) {
	ids := make([]int64, len(sections))
	idMap := make(map[int64]int64, len(sections))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sections (document_id, number, title, parent_section_id, char_start, char_end, depth)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(document_id, number) DO UPDATE SET
				title = excluded.title,
				char_start = excluded.char_start,
				char_end = excluded.char_end,
				depth = excluded.depth
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, sec := range sections {
			if sec.CharStart >= sec.CharEnd {
				return fmt.Errorf("%w: section %q has char_start >= char_end", ErrIntegrity, sec.Number)
			}
			var parentID *int64
			if sec.ParentSectionID != nil {
				if realID, ok := idMap[*sec.ParentSectionID]; ok {
					parentID = &realID
				}
			}
			if _, err := stmt.ExecContext(ctx, sec.DocumentID, sec.Number, sec.Title,
				parentID, sec.CharStart, sec.CharEnd, sec.Depth); err != nil {
				return err
			}
			// The UPDATE branch of the upsert leaves last_insert_rowid
			// untouched, so look the row up by its unique key.
			var id int64
			row := tx.QueryRowContext(ctx,
				"SELECT id FROM sections WHERE document_id = ? AND number = ?",
				sec.DocumentID, sec.Number)
			if err := row.Scan(&id); err != nil {
				return err
			}
			ids[i] = id
			idMap[sec.ID] = id
		}
		return nil
	})
	return ids, err
}

// InsertEntities inserts a batch of entities atomically. Insert is
// idempotent per source content: re-inserting an identical
// (document_id, char_start, char_end, raw_text) tuple returns the
// existing row's ID instead of creating a duplicate.
func (s *Store) InsertEntities(ctx context.Context, entities []Entity) ([]int64, error) {
	ids := make([]int64, len(entities))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for i, e := range entities {
			id, err := insertEntityTx(ctx, tx, e)
			if err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	return ids, err
}

func insertEntityTx(ctx context.Context, tx *sql.Tx, e Entity) (int64, error) {
	if !e.Kind.Valid() {
		return 0, fmt.Errorf("%w: unknown entity kind %q", ErrIntegrity, e.Kind)
	}
	if e.CharStart >= e.CharEnd {
		return 0, fmt.Errorf("%w: entity %q has char_start >= char_end", ErrIntegrity, e.RawText)
	}
	if strings.TrimSpace(e.RawText) == "" {
		return 0, fmt.Errorf("%w: entity with empty raw_text", ErrIntegrity)
	}

	table := e.Kind.Table()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO `+table+` (raw_text, canonical_value, document_id, char_start, char_end, section_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, char_start, char_end, raw_text) DO NOTHING
	`, e.RawText, nullIfEmpty(e.CanonicalValue), e.DocumentID, e.CharStart, e.CharEnd, e.SectionID)
	if err != nil {
		return 0, err
	}

	if n, _ := res.RowsAffected(); n > 0 {
		return res.LastInsertId()
	}
	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM `+table+`
		WHERE document_id = ? AND char_start = ? AND char_end = ? AND raw_text = ?
	`, e.DocumentID, e.CharStart, e.CharEnd, e.RawText).Scan(&id)
	return id, err
}

// InsertRelationships inserts a batch of relationships atomically.
// Every declared participant must exist in its entity table and the
// quote must be non-empty; any violation rejects the whole batch with
// ErrIntegrity. Re-inserting an identical record is a no-op.
func (s *Store) InsertRelationships(ctx context.Context, rels []Relationship) ([]int64, error) {
	ids := make([]int64, len(rels))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for i, r := range rels {
			id, err := insertRelationshipTx(ctx, tx, r)
			if err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	return ids, err
}

func insertRelationshipTx(ctx context.Context, tx *sql.Tx, r Relationship) (int64, error) {
	if strings.TrimSpace(r.RelationshipText) == "" {
		return 0, fmt.Errorf("%w: relationship with empty relationship_text (section %q)",
			ErrIntegrity, r.SourceSection)
	}
	if r.Participants.Empty() {
		return 0, fmt.Errorf("%w: relationship with no participants (section %q)",
			ErrIntegrity, r.SourceSection)
	}

	// Referential integrity: every declared participant must exist.
	for _, pc := range participantColumns {
		id := pc.get(r.Participants)
		if id == nil {
			continue
		}
		var one int
		err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM "+pc.kind.Table()+" WHERE id = ?", *id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: relationship references missing %s %d",
				ErrIntegrity, pc.kind, *id)
		}
		if err != nil {
			return 0, err
		}
	}

	if r.RelKind == "" {
		r.RelKind = RelDuty
	}
	if r.Modality == "" {
		r.Modality = ModalityInformational
	}

	hash := hashString(fmt.Sprintf("%d|%s|%s", r.SourceDocumentID, r.SourceSection, r.RelationshipText))

	res, err := tx.ExecContext(ctx, `
		INSERT INTO relationships (rel_kind, actor_id, procedure_id, deadline_id, consequence_id,
			document_id, relationship_text, modality, modal_marker, source_section,
			source_document_id, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING
	`, r.RelKind, r.ActorID, r.ProcedureID, r.DeadlineID, r.ConsequenceID,
		r.Participants.DocumentID, r.RelationshipText, r.Modality,
		nullIfEmpty(r.ModalMarker), r.SourceSection, r.SourceDocumentID, hash)
	if err != nil {
		return 0, err
	}

	if n, _ := res.RowsAffected(); n > 0 {
		return res.LastInsertId()
	}
	var id int64
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM relationships WHERE content_hash = ?", hash).Scan(&id)
	return id, err
}

// GetEntity retrieves an entity by kind and ID.
func (s *Store) GetEntity(ctx context.Context, kind Kind, id int64) (*Entity, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown entity kind %q", ErrIntegrity, kind)
	}
	e := &Entity{Kind: kind}
	var canonical sql.NullString
	var sectionID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, raw_text, canonical_value, document_id, char_start, char_end, section_id
		FROM `+kind.Table()+` WHERE id = ?
	`, id).Scan(&e.ID, &e.RawText, &canonical, &e.DocumentID, &e.CharStart, &e.CharEnd, &sectionID)
	if err != nil {
		return nil, err
	}
	e.CanonicalValue = canonical.String
	if sectionID.Valid {
		e.SectionID = &sectionID.Int64
	}
	return e, nil
}

// GetRelationship retrieves a relationship by ID.
func (s *Store) GetRelationship(ctx context.Context, id int64) (*Relationship, error) {
	r := &Relationship{}
	var marker sql.NullString
	var actor, procedure, deadline, consequence, document sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, rel_kind, actor_id, procedure_id, deadline_id, consequence_id, document_id,
			relationship_text, modality, modal_marker, source_section, source_document_id
		FROM relationships WHERE id = ?
	`, id).Scan(&r.ID, &r.RelKind, &actor, &procedure, &deadline, &consequence, &document,
		&r.RelationshipText, &r.Modality, &marker, &r.SourceSection, &r.SourceDocumentID)
	if err != nil {
		return nil, err
	}
	r.ModalMarker = marker.String
	r.Participants = Participants{
		ActorID:       nullableID(actor),
		ProcedureID:   nullableID(procedure),
		DeadlineID:    nullableID(deadline),
		ConsequenceID: nullableID(consequence),
		DocumentID:    nullableID(document),
	}
	return r, nil
}

// QueryByParticipant returns relationships whose participant of the
// given kind matches the canonical value. Used by structured lookup.
func (s *Store) QueryByParticipant(ctx context.Context, kind Kind, canonical string) ([]Relationship, error) {
	column := ""
	for _, pc := range participantColumns {
		if pc.kind == kind {
			column = pc.column
			break
		}
	}
	if column == "" {
		return nil, fmt.Errorf("%w: kind %q cannot participate in relationships", ErrIntegrity, kind)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.rel_kind, r.actor_id, r.procedure_id, r.deadline_id, r.consequence_id,
			r.document_id, r.relationship_text, r.modality, r.modal_marker,
			r.source_section, r.source_document_id
		FROM relationships r
		JOIN `+kind.Table()+` e ON e.id = r.`+column+`
		WHERE e.canonical_value = ?
		ORDER BY r.id
	`, canonical)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelationships(rows)
}

func scanRelationships(rows *sql.Rows) ([]Relationship, error) {
	var rels []Relationship
	for rows.Next() {
		var r Relationship
		var marker sql.NullString
		var actor, procedure, deadline, consequence, document sql.NullInt64
		if err := rows.Scan(&r.ID, &r.RelKind, &actor, &procedure, &deadline, &consequence,
			&document, &r.RelationshipText, &r.Modality, &marker,
			&r.SourceSection, &r.SourceDocumentID); err != nil {
			return nil, err
		}
		r.ModalMarker = marker.String
		r.Participants = Participants{
			ActorID:       nullableID(actor),
			ProcedureID:   nullableID(procedure),
			DeadlineID:    nullableID(deadline),
			ConsequenceID: nullableID(consequence),
			DocumentID:    nullableID(document),
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// RelationshipsByDocument returns the IDs of all relationships loaded
// from a source document. Used by the indexer during rebuild.
func (s *Store) RelationshipsByDocument(ctx context.Context, docID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM relationships WHERE source_document_id = ? ORDER BY id", docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RelationshipTexts returns id -> quote for the given relationship IDs.
func (s *Store) RelationshipTexts(ctx context.Context, ids []int64) (map[int64]string, error) {
	texts := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return texts, nil
	}
	query := "SELECT id, relationship_text FROM relationships WHERE id IN (?" +
		strings.Repeat(", ?", len(ids)-1) + ")"
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, err
		}
		texts[id] = text
	}
	return texts, rows.Err()
}

// --- Alias operations (normalization support) ---

// ReplaceAliases swaps the alias table contents for one kind in a
// single transaction. The alias map is a versioned external artifact;
// reloading it is idempotent.
func (s *Store) ReplaceAliases(ctx context.Context, kind Kind, aliases map[string]string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM aliases WHERE kind = ?", kind); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO aliases (kind, alias, canonical) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for alias, canonical := range aliases {
			if _, err := stmt.ExecContext(ctx, kind, strings.ToLower(alias), canonical); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyAliases sets canonical_value on every row of the kind's table
// whose lowercased raw_text matches a loaded alias. raw_text is never
// modified. Returns the number of rows updated.
func (s *Store) ApplyAliases(ctx context.Context, kind Kind) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: unknown entity kind %q", ErrIntegrity, kind)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+kind.Table()+` SET canonical_value = (
			SELECT a.canonical FROM aliases a
			WHERE a.kind = ? AND a.alias = lower(trim(`+kind.Table()+`.raw_text))
		)
		WHERE EXISTS (
			SELECT 1 FROM aliases a
			WHERE a.kind = ? AND a.alias = lower(trim(`+kind.Table()+`.raw_text))
		)
	`, kind, kind)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SelfNormalize fills canonical_value with the lowercased, trimmed
// raw_text for rows the alias map did not cover. Actor and procedure
// entities must never be left without a canonical value once the
// normalization pass completes.
func (s *Store) SelfNormalize(ctx context.Context, kind Kind) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: unknown entity kind %q", ErrIntegrity, kind)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+kind.Table()+`
		SET canonical_value = lower(trim(raw_text))
		WHERE canonical_value IS NULL OR canonical_value = ''
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LookupCanonical resolves a surface term through the alias table.
// Returns the term lowercased when no alias exists.
func (s *Store) LookupCanonical(ctx context.Context, kind Kind, term string) (string, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	var canonical string
	err := s.db.QueryRowContext(ctx,
		"SELECT canonical FROM aliases WHERE kind = ? AND alias = ?", kind, term).Scan(&canonical)
	if errors.Is(err, sql.ErrNoRows) {
		return term, nil
	}
	if err != nil {
		return "", err
	}
	return canonical, nil
}

// --- Load audit ---

// LogLoad records one extraction batch load.
func (s *Store) LogLoad(ctx context.Context, batchID string, docID int64, entities, relationships, sections int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO load_log (batch_id, document_id, entities, relationships, sections)
		VALUES (?, ?, ?, ?, ?)
	`, batchID, docID, entities, relationships, sections)
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}
