package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

var (
	// ErrIntegrity is returned when a batch violates referential
	// integrity or the verbatim-quote contract.
	ErrIntegrity = errors.New("lexstore: integrity violation")

	// ErrDocumentNotFound is returned when a source document does not exist.
	ErrDocumentNotFound = errors.New("lexstore: document not found")

	// ErrSectionNotFound is returned when a section number does not exist.
	ErrSectionNotFound = errors.New("lexstore: section not found")
)

// Store wraps the SQLite database for all lexstore persistence.
// Writes go through exclusive transactions; reads run against a stable
// WAL snapshot and never block on writers.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Source document operations ---

// UpsertSourceDocument inserts or refreshes a source document keyed by
// name. Returns the document ID.
func (s *Store) UpsertSourceDocument(ctx context.Context, doc SourceDocument) (int64, error) {
	if doc.ContentHash == "" {
		doc.ContentHash = hashString(doc.Content)
	}
	_, err := s.db.ExecContext(ctx, `
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
	row := s.db.QueryRowContext(ctx, "SELECT id FROM source_documents WHERE name = ?", doc.Name)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetSourceDocument retrieves a source document by ID, including content.
func (s *Store) GetSourceDocument(ctx context.Context, id int64) (*SourceDocument, error) {
	doc := &SourceDocument{}
	var title sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, title, content, content_hash, created_at
		FROM source_documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.Name, &title, &doc.Content, &doc.ContentHash, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	doc.Title = title.String
	return doc, nil
}

// GetSourceDocumentByName retrieves a source document by its unique name.
func (s *Store) GetSourceDocumentByName(ctx context.Context, name string) (*SourceDocument, error) {
	doc := &SourceDocument{}
	var title sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, title, content, content_hash, created_at
		FROM source_documents WHERE name = ?
	`, name).Scan(&doc.ID, &doc.Name, &title, &doc.Content, &doc.ContentHash, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	doc.Title = title.String
	return doc, nil
}

// ListSourceDocuments returns all source documents without content.
func (s *Store) ListSourceDocuments(ctx context.Context) ([]SourceDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, title, content_hash, created_at
		FROM source_documents ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []SourceDocument
	for rows.Next() {
		var d SourceDocument
		var title sql.NullString
		if err := rows.Scan(&d.ID, &d.Name, &title, &d.ContentHash, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Title = title.String
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// --- Section operations ---

// GetSection retrieves a section by ID.
func (s *Store) GetSection(ctx context.Context, id int64) (*Section, error) {
	return s.scanSection(s.db.QueryRowContext(ctx, `
		SELECT id, document_id, number, title, parent_section_id, char_start, char_end, depth
		FROM sections WHERE id = ?
	`, id))
}

// GetSectionByNumber retrieves a section by its citation number,
// searching across all documents. Statutory citations are filed under
// the section number alone ("50.4(1)"), so the number is the lookup key.
func (s *Store) GetSectionByNumber(ctx context.Context, number string) (*Section, error) {
	return s.scanSection(s.db.QueryRowContext(ctx, `
		SELECT id, document_id, number, title, parent_section_id, char_start, char_end, depth
		FROM sections WHERE number = ? ORDER BY id LIMIT 1
	`, number))
}

func (s *Store) scanSection(row *sql.Row) (*Section, error) {
	sec := &Section{}
	var title sql.NullString
	var parent sql.NullInt64
	err := row.Scan(&sec.ID, &sec.DocumentID, &sec.Number, &title,
		&parent, &sec.CharStart, &sec.CharEnd, &sec.Depth)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSectionNotFound
	}
	if err != nil {
		return nil, err
	}
	sec.Title = title.String
	if parent.Valid {
		sec.ParentSectionID = &parent.Int64
	}
	return sec, nil
}

// SectionsByDocument returns all sections of a document in reading order.
func (s *Store) SectionsByDocument(ctx context.Context, docID int64) ([]Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, number, title, parent_section_id, char_start, char_end, depth
		FROM sections WHERE document_id = ? ORDER BY char_start
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sections []Section
	for rows.Next() {
		var sec Section
		var title sql.NullString
		var parent sql.NullInt64
		if err := rows.Scan(&sec.ID, &sec.DocumentID, &sec.Number, &title,
			&parent, &sec.CharStart, &sec.CharEnd, &sec.Depth); err != nil {
			return nil, err
		}
		sec.Title = title.String
		if parent.Valid {
			sec.ParentSectionID = &parent.Int64
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

// SectionText returns the verbatim body of a section, sliced from the
// source document content by the section's character range.
func (s *Store) SectionText(ctx context.Context, sectionID int64) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `
		SELECT substr(d.content, sec.char_start + 1, sec.char_end - sec.char_start)
		FROM sections sec JOIN source_documents d ON d.id = sec.document_id
		WHERE sec.id = ?
	`, sectionID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSectionNotFound
	}
	return text, err
}

// --- Retrieval: FTS ---

// SearchRelationshipsFTS runs an FTS5 match over relationship quotes.
// match must be valid FTS5 query syntax; callers sanitize user input.
func (s *Store) SearchRelationshipsFTS(ctx context.Context, match string, limit int) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.rowid, f.rank, r.relationship_text, r.source_section, r.source_document_id
		FROM relationships_fts f
		JOIN relationships r ON r.id = f.rowid
		WHERE relationships_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var rank float64
		if err := rows.Scan(&h.ID, &rank, &h.Text, &h.Citation, &h.DocumentID); err != nil {
			return nil, err
		}
		h.Source = HitRelationship
		// FTS5 rank is negative (lower = better), convert to positive score.
		h.Score = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SearchSectionsFTS runs an FTS5 match over indexed section text.
func (s *Store) SearchSectionsFTS(ctx context.Context, match string, limit int) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.rowid, f.rank, f.body, sec.number, sec.document_id
		FROM sections_fts f
		JOIN sections sec ON sec.id = f.rowid
		WHERE sections_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var rank float64
		if err := rows.Scan(&h.ID, &rank, &h.Text, &h.Citation, &h.DocumentID); err != nil {
			return nil, err
		}
		h.Source = HitSection
		h.Score = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// --- Retrieval: vector ---

// VectorSearchRelationships performs KNN search over relationship embeddings.
func (s *Store) VectorSearchRelationships(ctx context.Context, queryEmbedding []float32, k int) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.relationship_id, v.distance, r.relationship_text, r.source_section, r.source_document_id
		FROM vec_relationships v
		JOIN relationships r ON r.id = v.relationship_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVectorHits(rows, HitRelationship)
}

// VectorSearchSections performs KNN search over section embeddings.
func (s *Store) VectorSearchSections(ctx context.Context, queryEmbedding []float32, k int) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.section_id, v.distance,
			substr(d.content, sec.char_start + 1, sec.char_end - sec.char_start),
			sec.number, sec.document_id
		FROM vec_sections v
		JOIN sections sec ON sec.id = v.section_id
		JOIN source_documents d ON d.id = sec.document_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVectorHits(rows, HitSection)
}

func scanVectorHits(rows *sql.Rows, source string) ([]Hit, error) {
	var hits []Hit
	for rows.Next() {
		var h Hit
		var distance float64
		if err := rows.Scan(&h.ID, &distance, &h.Text, &h.Citation, &h.DocumentID); err != nil {
			return nil, err
		}
		h.Source = source
		// Convert distance to similarity score.
		h.Score = 1.0 - distance
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// --- Query log ---

// LogQuery writes an entry to the query audit log.
func (s *Store) LogQuery(ctx context.Context, q QueryLog) error {
	phasesJSON, _ := json.Marshal(q.PhasesAttempted)
	refsJSON, _ := json.Marshal(q.CrossRefs)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log (question, answer, citation, phase, confidence, phases_attempted, cross_refs, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, q.Question, q.Answer, q.Citation, q.Phase, q.Confidence,
		string(phasesJSON), string(refsJSON), q.ElapsedMs)
	return err
}

// --- Diagnostics ---

// GetStats returns row counts of key store objects.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM source_documents", &stats.Documents},
		{"SELECT COUNT(*) FROM sections", &stats.Sections},
		{"SELECT COUNT(*) FROM relationships", &stats.Relationships},
		{"SELECT COUNT(*) FROM vec_relationships", &stats.Embeddings},
		{"SELECT COUNT(*) FROM aliases", &stats.Aliases},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	for _, k := range Kinds {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+k.Table()).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", k.Table(), err)
		}
		stats.Entities += n
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func hashString(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
