package store

import (
	"fmt"
	"strings"
)

// entityTableDDL is the shared shape of every entity table. One table
// per kind keeps foreign keys honest: a relationship's actor_id can only
// ever point into actors, never into deadlines.
const entityTableDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id INTEGER PRIMARY KEY,
    raw_text TEXT NOT NULL,
    canonical_value TEXT,
    document_id INTEGER NOT NULL REFERENCES source_documents(id) ON DELETE CASCADE,
    char_start INTEGER NOT NULL,
    char_end INTEGER NOT NULL,
    section_id INTEGER REFERENCES sections(id),
    UNIQUE(document_id, char_start, char_end, raw_text),
    CHECK (char_start < char_end)
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_canonical ON %[1]s(canonical_value);
CREATE INDEX IF NOT EXISTS idx_%[1]s_document ON %[1]s(document_id);
`

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimensions.
func schemaSQL(embeddingDim int) string {
	var b strings.Builder

	b.WriteString(`
-- Ingested source documents. content is the full source text and is the
-- ground truth every stored quote must trace back to.
CREATE TABLE IF NOT EXISTS source_documents (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    title TEXT,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Section hierarchy. Created during structure mapping, read-only after.
CREATE TABLE IF NOT EXISTS sections (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES source_documents(id) ON DELETE CASCADE,
    number TEXT NOT NULL,
    title TEXT,
    parent_section_id INTEGER REFERENCES sections(id),
    char_start INTEGER NOT NULL,
    char_end INTEGER NOT NULL,
    depth INTEGER NOT NULL DEFAULT 0,
    UNIQUE(document_id, number),
    CHECK (char_start < char_end)
);
CREATE INDEX IF NOT EXISTS idx_sections_document ON sections(document_id);
CREATE INDEX IF NOT EXISTS idx_sections_number ON sections(number);
CREATE INDEX IF NOT EXISTS idx_sections_parent ON sections(parent_section_id);
`)

	for _, k := range Kinds {
		fmt.Fprintf(&b, entityTableDDL, k.Table())
	}

	b.WriteString(`
-- Relationship records. relationship_text is a verbatim quote from the
-- source document; every participant column points into its own entity
-- table. At least one participant must be set.
CREATE TABLE IF NOT EXISTS relationships (
    id INTEGER PRIMARY KEY,
    rel_kind TEXT NOT NULL DEFAULT 'duty',
    actor_id INTEGER REFERENCES actors(id),
    procedure_id INTEGER REFERENCES procedures(id),
    deadline_id INTEGER REFERENCES deadlines(id),
    consequence_id INTEGER REFERENCES consequences(id),
    document_id INTEGER REFERENCES documents(id),
    relationship_text TEXT NOT NULL,
    modality TEXT NOT NULL DEFAULT 'informational',
    modal_marker TEXT,
    source_section TEXT NOT NULL,
    source_document_id INTEGER NOT NULL REFERENCES source_documents(id) ON DELETE CASCADE,
    content_hash TEXT NOT NULL UNIQUE,
    CHECK (length(relationship_text) > 0),
    CHECK (rel_kind IN ('duty','effect','entitlement','constraint','trigger')),
    CHECK (modality IN ('mandatory','discretionary','prohibited','informational')),
    CHECK (actor_id IS NOT NULL OR procedure_id IS NOT NULL OR deadline_id IS NOT NULL
           OR consequence_id IS NOT NULL OR document_id IS NOT NULL)
);
CREATE INDEX IF NOT EXISTS idx_relationships_actor ON relationships(actor_id);
CREATE INDEX IF NOT EXISTS idx_relationships_section ON relationships(source_section);
CREATE INDEX IF NOT EXISTS idx_relationships_document ON relationships(source_document_id);

-- Full-text search over relationship quotes via FTS5. External content
-- keeps the posting lists derived from the relationships table; the
-- triggers below do incremental maintenance.
CREATE VIRTUAL TABLE IF NOT EXISTS relationships_fts USING fts5(
    relationship_text,
    source_section,
    content='relationships',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS relationships_ai AFTER INSERT ON relationships BEGIN
    INSERT INTO relationships_fts(rowid, relationship_text, source_section)
    VALUES (new.id, new.relationship_text, new.source_section);
END;
CREATE TRIGGER IF NOT EXISTS relationships_ad AFTER DELETE ON relationships BEGIN
    INSERT INTO relationships_fts(relationships_fts, rowid, relationship_text, source_section)
    VALUES ('delete', old.id, old.relationship_text, old.source_section);
END;
CREATE TRIGGER IF NOT EXISTS relationships_au AFTER UPDATE ON relationships BEGIN
    INSERT INTO relationships_fts(relationships_fts, rowid, relationship_text, source_section)
    VALUES ('delete', old.id, old.relationship_text, old.source_section);
    INSERT INTO relationships_fts(rowid, relationship_text, source_section)
    VALUES (new.id, new.relationship_text, new.source_section);
END;

-- Full-text search over section text. Sections do not store their own
-- body (it lives in source_documents.content), so this index is filled
-- by the indexer during rebuild rather than by triggers.
CREATE VIRTUAL TABLE IF NOT EXISTS sections_fts USING fts5(
    number,
    title,
    body,
    tokenize='porter unicode61'
);
`)

	fmt.Fprintf(&b, `
-- Vector embeddings via sqlite-vec. Derived, rebuildable at any time.
CREATE VIRTUAL TABLE IF NOT EXISTS vec_relationships USING vec0(
    relationship_id INTEGER PRIMARY KEY,
    embedding float[%[1]d]
);
CREATE VIRTUAL TABLE IF NOT EXISTS vec_sections USING vec0(
    section_id INTEGER PRIMARY KEY,
    embedding float[%[1]d]
);
`, embeddingDim)

	b.WriteString(`
-- Alias map for canonical value normalization. Maintained as a
-- versioned external artifact and loaded into this table.
CREATE TABLE IF NOT EXISTS aliases (
    kind TEXT NOT NULL,
    alias TEXT NOT NULL,
    canonical TEXT NOT NULL,
    PRIMARY KEY (kind, alias)
);

-- Extraction load audit. One row per batch load.
CREATE TABLE IF NOT EXISTS load_log (
    id INTEGER PRIMARY KEY,
    batch_id TEXT NOT NULL,
    document_id INTEGER NOT NULL,
    entities INTEGER DEFAULT 0,
    relationships INTEGER DEFAULT 0,
    sections INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Query audit log.
CREATE TABLE IF NOT EXISTS query_log (
    id INTEGER PRIMARY KEY,
    question TEXT NOT NULL,
    answer TEXT,
    citation TEXT,
    phase INTEGER,
    confidence TEXT,
    phases_attempted JSON,
    cross_refs JSON,
    elapsed_ms INTEGER,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`)

	return b.String()
}
