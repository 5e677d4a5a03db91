package store

import "strconv"

// Kind identifies an entity kind. Each kind has its own table.
type Kind string

const (
	KindActor        Kind = "actor"
	KindProcedure    Kind = "procedure"
	KindDeadline     Kind = "deadline"
	KindConsequence  Kind = "consequence"
	KindDocument     Kind = "document"
	KindConcept      Kind = "concept"
	KindStatutoryRef Kind = "statutory_reference"
)

// Kinds lists every entity kind in table-creation order.
var Kinds = []Kind{
	KindActor, KindProcedure, KindDeadline, KindConsequence,
	KindDocument, KindConcept, KindStatutoryRef,
}

var kindTables = map[Kind]string{
	KindActor:        "actors",
	KindProcedure:    "procedures",
	KindDeadline:     "deadlines",
	KindConsequence:  "consequences",
	KindDocument:     "documents",
	KindConcept:      "concepts",
	KindStatutoryRef: "statutory_refs",
}

// Table returns the SQL table name for the kind, or "" for unknown kinds.
func (k Kind) Table() string {
	return kindTables[k]
}

// Valid reports whether k is a known entity kind.
func (k Kind) Valid() bool {
	_, ok := kindTables[k]
	return ok
}

// Relationship kinds. All share the same envelope; the tag records what
// sort of claim the quote makes.
const (
	RelDuty        = "duty"
	RelEffect      = "effect"
	RelEntitlement = "entitlement"
	RelConstraint  = "constraint"
	RelTrigger     = "trigger"
)

// Modalities, classified from the modal marker in the source text.
const (
	ModalityMandatory     = "mandatory"
	ModalityDiscretionary = "discretionary"
	ModalityProhibited    = "prohibited"
	ModalityInformational = "informational"
)

// SourceDocument is an ingested source text (the statute, a directive,
// a companion guide). content is the verification base for every quote.
type SourceDocument struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content,omitempty"`
	ContentHash string `json:"content_hash"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Section is one node of the heading hierarchy.
type Section struct {
	ID              int64  `json:"id"`
	DocumentID      int64  `json:"document_id"`
	Number          string `json:"number"`
	Title           string `json:"title,omitempty"`
	ParentSectionID *int64 `json:"parent_section_id,omitempty"`
	CharStart       int    `json:"char_start"`
	CharEnd         int    `json:"char_end"`
	Depth           int    `json:"depth"`
}

// Entity is one row in an entity table. CanonicalValue is empty until
// the normalization pass has run; RawText is never modified.
type Entity struct {
	ID             int64  `json:"id"`
	Kind           Kind   `json:"kind"`
	RawText        string `json:"raw_text"`
	CanonicalValue string `json:"canonical_value,omitempty"`
	DocumentID     int64  `json:"document_id"`
	CharStart      int    `json:"char_start"`
	CharEnd        int    `json:"char_end"`
	SectionID      *int64 `json:"section_id,omitempty"`
}

// Participants holds the optional entity references of a relationship.
// All nullable, but at least one must be set.
type Participants struct {
	ActorID       *int64 `json:"actor_id,omitempty"`
	ProcedureID   *int64 `json:"procedure_id,omitempty"`
	DeadlineID    *int64 `json:"deadline_id,omitempty"`
	ConsequenceID *int64 `json:"consequence_id,omitempty"`
	DocumentID    *int64 `json:"document_id,omitempty"`
}

// Empty reports whether no participant reference is set.
func (p Participants) Empty() bool {
	return p.ActorID == nil && p.ProcedureID == nil && p.DeadlineID == nil &&
		p.ConsequenceID == nil && p.DocumentID == nil
}

// Relationship links entities under a verbatim source quote.
type Relationship struct {
	ID               int64  `json:"id"`
	RelKind          string `json:"rel_kind"`
	Participants     `json:"participants"`
	RelationshipText string `json:"relationship_text"`
	Modality         string `json:"modality"`
	ModalMarker      string `json:"modal_marker,omitempty"`
	SourceSection    string `json:"source_section"`
	SourceDocumentID int64  `json:"source_document_id"`
}

// Hit is one retrieval result from FTS or vector search. Source is
// "relationship" or "section"; Text is always verbatim stored text.
type Hit struct {
	ID         int64   `json:"id"`
	Source     string  `json:"source"`
	Text       string  `json:"text"`
	Citation   string  `json:"citation"`
	DocumentID int64   `json:"document_id"`
	Score      float64 `json:"score"`
}

// Hit sources.
const (
	HitRelationship = "relationship"
	HitSection      = "section"
)

// Key returns a stable identity for the hit across result lists.
func (h Hit) Key() string {
	if h.Source == HitSection {
		return "s:" + strconv.FormatInt(h.ID, 10)
	}
	return "r:" + strconv.FormatInt(h.ID, 10)
}

// QueryLog is one row of the query audit log.
type QueryLog struct {
	Question        string `json:"question"`
	Answer          string `json:"answer"`
	Citation        string `json:"citation"`
	Phase           int    `json:"phase"`
	Confidence      string `json:"confidence"`
	PhasesAttempted []int  `json:"phases_attempted"`
	CrossRefs       []string `json:"cross_refs"`
	ElapsedMs       int64  `json:"elapsed_ms"`
}

// Stats holds row counts of key store objects.
type Stats struct {
	Documents     int `json:"documents"`
	Sections      int `json:"sections"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	Embeddings    int `json:"embeddings"`
	Aliases       int `json:"aliases"`
}
