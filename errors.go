package lexstore

import (
	"errors"

	"github.com/brunobiangulo/lexstore/search"
	"github.com/brunobiangulo/lexstore/store"
)

var (
	// ErrIntegrity is returned when a load batch violates referential
	// integrity: a relationship references a non-existent participant,
	// its quote is empty, or its quote cannot be traced to source text.
	// The batch is rejected as a whole, never partially applied.
	ErrIntegrity = store.ErrIntegrity

	// ErrQuery is returned for malformed query input (empty question,
	// invalid search scope). Surfaced immediately, never retried.
	ErrQuery = search.ErrQuery

	// ErrNoResult signals that every retrieval phase was exhausted
	// without a match. Callers normally receive a structured not-found
	// answer instead; this sentinel exists for programmatic checks.
	ErrNoResult = errors.New("lexstore: no result")

	// ErrDocumentNotFound is returned when a source document does not
	// exist in the store.
	ErrDocumentNotFound = store.ErrDocumentNotFound

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("lexstore: invalid configuration")
)
