package lexstore

import (
	"os"
	"path/filepath"
	"time"

	"github.com/brunobiangulo/lexstore/embed"
)

// Config holds all configuration for the lexstore engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.lexstore/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "lexstore". The file will be <DBName>.db inside the
	// storage directory (~/.lexstore/ or working dir).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.lexstore/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Embedding provider for hybrid retrieval.
	Embedding embed.Config `json:"embedding" yaml:"embedding"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// Retrieval
	RRFK            int     `json:"rrf_k" yaml:"rrf_k"`                       // rank-fusion constant
	MaxResults      int     `json:"max_results" yaml:"max_results"`           // default result cap per search
	ConfidenceFloor float64 `json:"confidence_floor" yaml:"confidence_floor"` // fused score below which the fallback ladder runs

	// Cross-reference resolution
	XRefDepth   int `json:"xref_depth" yaml:"xref_depth"`     // max nested citation depth (default 3)
	XRefWorkers int `json:"xref_workers" yaml:"xref_workers"` // concurrent citation chains

	// Question answering
	PhaseTimeout   time.Duration `json:"phase_timeout" yaml:"phase_timeout"`       // per-phase deadline
	FetchPerMinute int           `json:"fetch_per_minute" yaml:"fetch_per_minute"` // external fetch rate limit

	// Companion material
	CompanionDir      string `json:"companion_dir" yaml:"companion_dir"`           // directory of PDF study texts
	DirectiveWorkbook string `json:"directive_workbook" yaml:"directive_workbook"` // XLSX index of directives

	// AliasFile points at a YAML alias artifact applied during
	// normalization. Optional; without it entities self-normalize.
	AliasFile string `json:"alias_file" yaml:"alias_file"`
}

// DefaultConfig returns a Config with sensible defaults for local use.
// Database is stored in ~/.lexstore/lexstore.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "lexstore",
		StorageDir: "home",
		Embedding: embed.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim:    768,
		RRFK:            60,
		MaxResults:      20,
		ConfidenceFloor: 0.0,
		XRefDepth:       3,
		XRefWorkers:     4,
		PhaseTimeout:    10 * time.Second,
		FetchPerMinute:  6,
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "lexstore"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".lexstore")
		return filepath.Join(dir, name+".db")
	}
}
