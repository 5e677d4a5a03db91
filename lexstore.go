// Package lexstore is a knowledge store for statutory text. It keeps
// extracted entities and relationships next to the verbatim source
// quotes that back them, serves hybrid keyword+vector retrieval over
// both, and answers questions through a fixed-order phase machine that
// only ever returns stored text.
package lexstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/brunobiangulo/lexstore/companion"
	"github.com/brunobiangulo/lexstore/embed"
	"github.com/brunobiangulo/lexstore/index"
	"github.com/brunobiangulo/lexstore/ingest"
	"github.com/brunobiangulo/lexstore/normalize"
	"github.com/brunobiangulo/lexstore/query"
	"github.com/brunobiangulo/lexstore/search"
	"github.com/brunobiangulo/lexstore/store"
	"github.com/brunobiangulo/lexstore/xref"
)

// Engine is the main entry point for the knowledge store.
type Engine interface {
	// Load applies one extraction batch atomically and rebuilds the
	// document's search index. Reloading the same batch is a no-op.
	Load(ctx context.Context, batch ingest.Batch) (*ingest.Result, error)

	// LoadJSON decodes a batch from r and loads it.
	LoadJSON(ctx context.Context, r io.Reader) (*ingest.Result, error)

	// Normalize fills canonical values for every entity kind using the
	// configured alias artifact, then self-normalizes the rest.
	Normalize(ctx context.Context) (*normalize.Report, error)

	// Ask runs a question through the phase machine.
	Ask(ctx context.Context, question string, opts ...query.AskOption) (*query.Answer, error)

	// Search runs one hybrid retrieval pass without the phase machine.
	Search(ctx context.Context, q string, k int, scope search.Scope) (*search.Response, error)

	// Resolve detects and resolves the citations inside text.
	Resolve(ctx context.Context, text string) ([]xref.Resolution, error)

	// Documents lists the loaded source documents.
	Documents(ctx context.Context) ([]store.SourceDocument, error)

	// Stats returns row counts of the key store objects.
	Stats(ctx context.Context) (*store.Stats, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg          Config
	store        *store.Store
	loader       *ingest.Loader
	normalizer   *normalize.Normalizer
	searcher     *search.Engine
	resolver     *xref.Resolver
	orchestrator *query.Orchestrator
}

// New creates an engine with the given configuration.
func New(cfg Config) (Engine, error) {
	dbPath := cfg.resolveDBPath()

	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}

	s, err := store.New(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	embedder, err := embed.New(embed.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
		Dim:      cfg.EmbeddingDim,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	indexer := index.New(s, embedder)
	loader := ingest.New(s, indexer)

	searcher := search.New(s, embedder, search.Config{
		RRFK:            cfg.RRFK,
		MaxResults:      cfg.MaxResults,
		ConfidenceFloor: cfg.ConfidenceFloor,
	})

	resolver := xref.New(s, cfg.XRefDepth, cfg.XRefWorkers)

	queryCfg := query.Config{
		PhaseTimeout:   cfg.PhaseTimeout,
		FetchPerMinute: cfg.FetchPerMinute,
	}
	if cfg.CompanionDir != "" {
		queryCfg.Companion = companion.NewPDFCorpus(cfg.CompanionDir)
	}
	if cfg.DirectiveWorkbook != "" {
		queryCfg.Directives = companion.NewXLSXCorpus(cfg.DirectiveWorkbook)
	}

	return &engine{
		cfg:          cfg,
		store:        s,
		loader:       loader,
		normalizer:   normalize.New(s),
		searcher:     searcher,
		resolver:     resolver,
		orchestrator: query.New(s, searcher, resolver, queryCfg),
	}, nil
}

func (e *engine) Load(ctx context.Context, batch ingest.Batch) (*ingest.Result, error) {
	return e.loader.Load(ctx, batch)
}

func (e *engine) LoadJSON(ctx context.Context, r io.Reader) (*ingest.Result, error) {
	return e.loader.LoadJSON(ctx, r)
}

// Normalize runs the normalization pass. The alias artifact is reloaded
// from disk on every call so curation edits take effect without a
// restart.
func (e *engine) Normalize(ctx context.Context) (*normalize.Report, error) {
	var aliasMap *normalize.AliasMap
	if e.cfg.AliasFile != "" {
		m, err := normalize.LoadAliasMap(e.cfg.AliasFile)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		} else {
			aliasMap = m
		}
	}
	return e.normalizer.Run(ctx, aliasMap)
}

func (e *engine) Ask(ctx context.Context, question string, opts ...query.AskOption) (*query.Answer, error) {
	return e.orchestrator.Ask(ctx, question, opts...)
}

func (e *engine) Search(ctx context.Context, q string, k int, scope search.Scope) (*search.Response, error) {
	return e.searcher.Search(ctx, q, k, scope)
}

func (e *engine) Resolve(ctx context.Context, text string) ([]xref.Resolution, error) {
	return e.resolver.Resolve(ctx, text)
}

func (e *engine) Documents(ctx context.Context) ([]store.SourceDocument, error) {
	return e.store.ListSourceDocuments(ctx)
}

func (e *engine) Stats(ctx context.Context) (*store.Stats, error) {
	return e.store.GetStats(ctx)
}

func (e *engine) Store() *store.Store {
	return e.store
}

func (e *engine) Close() error {
	return e.store.Close()
}
