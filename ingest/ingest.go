// Package ingest is the boundary between the extraction pipeline and
// the knowledge store. It accepts one extraction batch per document,
// loads it atomically, records the load, and rebuilds the document's
// search index.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/lexstore/index"
	"github.com/brunobiangulo/lexstore/store"
)

// EntityRef points at an entity by its position in the batch. The kind
// must match the participant slot it fills.
type EntityRef struct {
	Kind  store.Kind `json:"kind"`
	Index int        `json:"index"`
}

// SectionInput is one section of the document outline. Parent is an
// index into the batch's Sections slice, or nil for top-level sections.
type SectionInput struct {
	Number    string `json:"number"`
	Title     string `json:"title"`
	Parent    *int   `json:"parent,omitempty"`
	CharStart int    `json:"char_start"`
	CharEnd   int    `json:"char_end"`
	Depth     int    `json:"depth"`
}

// EntityInput is one extracted entity mention. Section is an index into
// the batch's Sections slice, or nil when the mention is unanchored.
type EntityInput struct {
	Kind           store.Kind `json:"kind"`
	RawText        string     `json:"raw_text"`
	CanonicalValue string     `json:"canonical_value,omitempty"`
	CharStart      int        `json:"char_start"`
	CharEnd        int        `json:"char_end"`
	Section        *int       `json:"section,omitempty"`
}

// RelationshipInput is one extracted relationship. RelationshipText
// must be a verbatim quote from the document; Participants reference
// batch entities by position.
type RelationshipInput struct {
	RelKind          string      `json:"rel_kind"`
	Participants     []EntityRef `json:"participants"`
	RelationshipText string      `json:"relationship_text"`
	Modality         string      `json:"modality,omitempty"`
	ModalMarker      string      `json:"modal_marker,omitempty"`
	SourceSection    string      `json:"source_section,omitempty"`
}

// Batch is the wire format the extraction pipeline produces, one per
// source document.
type Batch struct {
	DocumentName  string              `json:"document_name"`
	DocumentTitle string              `json:"document_title,omitempty"`
	Content       string              `json:"content"`
	Sections      []SectionInput      `json:"sections"`
	Entities      []EntityInput       `json:"entities"`
	Relationships []RelationshipInput `json:"relationships"`
}

// Result describes one completed load.
type Result struct {
	BatchID       string        `json:"batch_id"`
	DocumentID    int64         `json:"document_id"`
	Sections      int           `json:"sections"`
	Entities      int           `json:"entities"`
	Relationships int           `json:"relationships"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Loader loads extraction batches and keeps the index current.
type Loader struct {
	store   *store.Store
	indexer *index.Indexer
}

func New(s *store.Store, ix *index.Indexer) *Loader {
	return &Loader{store: s, indexer: ix}
}

// LoadJSON decodes a batch from r and loads it.
func (l *Loader) LoadJSON(ctx context.Context, r io.Reader) (*Result, error) {
	var b Batch
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: decode batch: %v", store.ErrIntegrity, err)
	}
	return l.Load(ctx, b)
}

// Load applies one extraction batch. The batch either commits in full
// or not at all; a committed batch is followed by an index rebuild for
// the document, so readers see the new content only once it is
// searchable. Reloading the same batch is idempotent.
func (l *Loader) Load(ctx context.Context, b Batch) (*Result, error) {
	start := time.Now()
	batchID := uuid.NewString()

	insert, err := toInsert(b)
	if err != nil {
		return nil, err
	}

	loaded, err := l.store.LoadBatch(ctx, insert)
	if err != nil {
		return nil, err
	}

	if err := l.store.LogLoad(ctx, batchID, loaded.DocumentID,
		len(b.Entities), len(b.Relationships), len(b.Sections)); err != nil {
		return nil, err
	}

	if l.indexer != nil {
		if err := l.indexer.Rebuild(ctx, loaded.DocumentID); err != nil {
			return nil, fmt.Errorf("index rebuild after load: %w", err)
		}
	}

	res := &Result{
		BatchID:       batchID,
		DocumentID:    loaded.DocumentID,
		Sections:      len(b.Sections),
		Entities:      len(b.Entities),
		Relationships: len(b.Relationships),
		Elapsed:       time.Since(start),
	}
	slog.Info("batch loaded",
		"batch_id", batchID,
		"document", b.DocumentName,
		"sections", res.Sections,
		"entities", res.Entities,
		"relationships", res.Relationships,
		"elapsed", res.Elapsed)
	return res, nil
}

// toInsert converts the wire batch to the store's index-referenced
// insert form. Participant slot checks happen here because the wire
// format carries an explicit kind per reference.
func toInsert(b Batch) (store.BatchInsert, error) {
	insert := store.BatchInsert{
		Document: store.SourceDocument{
			Name:    b.DocumentName,
			Title:   b.DocumentTitle,
			Content: b.Content,
		},
	}

	for _, sec := range b.Sections {
		s := store.Section{
			Number:    sec.Number,
			Title:     sec.Title,
			CharStart: sec.CharStart,
			CharEnd:   sec.CharEnd,
			Depth:     sec.Depth,
		}
		if sec.Parent != nil {
			idx := int64(*sec.Parent)
			s.ParentSectionID = &idx
		}
		insert.Sections = append(insert.Sections, s)
	}

	for _, e := range b.Entities {
		ent := store.Entity{
			Kind:           e.Kind,
			RawText:        e.RawText,
			CanonicalValue: e.CanonicalValue,
			CharStart:      e.CharStart,
			CharEnd:        e.CharEnd,
		}
		if e.Section != nil {
			idx := int64(*e.Section)
			ent.SectionID = &idx
		}
		insert.Entities = append(insert.Entities, ent)
	}

	for i, r := range b.Relationships {
		rel := store.Relationship{
			RelKind:          r.RelKind,
			RelationshipText: r.RelationshipText,
			Modality:         r.Modality,
			ModalMarker:      r.ModalMarker,
			SourceSection:    r.SourceSection,
		}
		for _, ref := range r.Participants {
			if ref.Index < 0 || ref.Index >= len(b.Entities) {
				return store.BatchInsert{}, fmt.Errorf(
					"%w: relationship %d references entity %d, batch has %d",
					store.ErrIntegrity, i, ref.Index, len(b.Entities))
			}
			if got := b.Entities[ref.Index].Kind; got != ref.Kind {
				return store.BatchInsert{}, fmt.Errorf(
					"%w: relationship %d expects %s at entity %d, found %s",
					store.ErrIntegrity, i, ref.Kind, ref.Index, got)
			}
			idx := int64(ref.Index)
			switch ref.Kind {
			case store.KindActor:
				rel.ActorID = &idx
			case store.KindProcedure:
				rel.ProcedureID = &idx
			case store.KindDeadline:
				rel.DeadlineID = &idx
			case store.KindConsequence:
				rel.ConsequenceID = &idx
			case store.KindDocument:
				rel.DocumentID = &idx
			default:
				return store.BatchInsert{}, fmt.Errorf(
					"%w: relationship %d has participant of kind %q, which has no participant slot",
					store.ErrIntegrity, i, ref.Kind)
			}
		}
		insert.Relationships = append(insert.Relationships, rel)
	}

	return insert, nil
}
