// Package search implements hybrid retrieval over the knowledge store:
// full-text and vector searches run concurrently and their rankings are
// fused with Reciprocal Rank Fusion. A keyword fallback ladder handles
// queries the fused ranking cannot answer.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/lexstore/embed"
	"github.com/brunobiangulo/lexstore/store"
)

// ErrQuery is returned for malformed query input. Never retried.
var ErrQuery = errors.New("lexstore: malformed query")

// Scope selects which corpus a search runs over.
type Scope string

const (
	ScopeAll           Scope = "all"
	ScopeRelationships Scope = "relationships"
	ScopeSections      Scope = "sections"
)

// Fallback ladder rungs. RungFused means the hybrid ranking answered
// directly and no fallback was needed.
const (
	RungFused  = 0
	RungPhrase = 1
	RungAnd    = 2
	RungOr     = 3
)

// Config holds search engine tuning.
type Config struct {
	// RRFK controls how quickly rank influence decays in fusion.
	RRFK int `json:"rrf_k" yaml:"rrf_k"`
	// MaxResults is the default result count when the caller passes k <= 0.
	MaxResults int `json:"max_results" yaml:"max_results"`
	// ConfidenceFloor triggers the fallback ladder when the top fused
	// score is below it. Zero means the ladder runs only on empty results.
	ConfidenceFloor float64 `json:"confidence_floor" yaml:"confidence_floor"`
	// CacheTTL bounds how long fused responses are served from cache.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// Response carries the fused results plus the explainability metadata
// callers need to report how an answer was found.
type Response struct {
	Results    []Result `json:"results"`
	Rung       int      `json:"rung"`
	RungsTried []int    `json:"rungs_tried,omitempty"`
	FTSCount   int      `json:"fts_count"`
	VecCount   int      `json:"vec_count"`
	ElapsedMs  int64    `json:"elapsed_ms"`
}

// Engine performs hybrid retrieval against a store snapshot.
type Engine struct {
	store    *store.Store
	embedder embed.Provider
	cache    *gocache.Cache
	cfg      Config
}

// New creates a search engine. embedder may be nil, in which case only
// full-text retrieval contributes to the ranking.
func New(s *store.Store, embedder embed.Provider, cfg Config) *Engine {
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 20
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Engine{
		store:    s,
		embedder: embedder,
		cache:    gocache.New(ttl, 10*time.Minute),
		cfg:      cfg,
	}
}

// Search runs the hybrid query and returns fused, ranked results.
// Returns ErrQuery for empty input or an unknown scope; an exhausted
// corpus yields an empty result set, not an error.
func (e *Engine) Search(ctx context.Context, query string, k int, scope Scope) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query string", ErrQuery)
	}
	switch scope {
	case ScopeAll, ScopeRelationships, ScopeSections:
	case "":
		scope = ScopeAll
	default:
		return nil, fmt.Errorf("%w: unknown scope %q", ErrQuery, scope)
	}
	if k <= 0 {
		k = e.cfg.MaxResults
	}

	cacheKey := string(scope) + "|" + strconv.Itoa(k) + "|" + query
	if cached, ok := e.cache.Get(cacheKey); ok {
		return cached.(*Response), nil
	}

	start := time.Now()

	// FTS and vector retrieval are independent; run them concurrently
	// and join before fusion.
	var ftsHits, vecHits []store.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.ftsSearch(gctx, hybridMatch(query), k, scope)
		if err != nil {
			return fmt.Errorf("fts search: %w", err)
		}
		ftsHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := e.vectorSearch(gctx, query, k, scope)
		if err != nil {
			// Vector search is best-effort: a missing embedder or an
			// unreachable model must not take down keyword retrieval.
			slog.Warn("search: vector search failed", "error", err)
		}
		vecHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resp := &Response{
		FTSCount: len(ftsHits),
		VecCount: len(vecHits),
		Rung:     RungFused,
	}
	resp.Results = fuseRRF(ftsHits, vecHits, e.cfg.RRFK, k)

	// Fallback ladder: only when fusion produced nothing usable.
	if len(resp.Results) == 0 || (e.cfg.ConfidenceFloor > 0 && resp.Results[0].Fused < e.cfg.ConfidenceFloor) {
		e.runLadder(ctx, query, k, scope, resp)
	}

	resp.ElapsedMs = time.Since(start).Milliseconds()
	slog.Debug("search complete",
		"scope", scope,
		"fts", resp.FTSCount, "vec", resp.VecCount,
		"fused", len(resp.Results), "rung", resp.Rung,
		"elapsed", time.Since(start).Round(time.Millisecond))

	e.cache.Set(cacheKey, resp, gocache.DefaultExpiration)
	return resp, nil
}

// runLadder tries the fallback rungs in order and stops at the first
// rung returning at least one result. Later rungs are never invoked
// once an earlier one has answered.
func (e *Engine) runLadder(ctx context.Context, query string, k int, scope Scope, resp *Response) {
	rungs := []struct {
		rung  int
		match string
	}{
		{RungPhrase, phraseMatch(query)},
		{RungAnd, andMatch(query)},
		{RungOr, orMatch(query)},
	}

	for _, r := range rungs {
		if r.match == "" {
			continue
		}
		resp.RungsTried = append(resp.RungsTried, r.rung)

		hits, err := e.ftsSearch(ctx, r.match, k, scope)
		if err != nil {
			slog.Warn("search: fallback rung failed", "rung", r.rung, "error", err)
			continue
		}
		if len(hits) == 0 {
			continue
		}

		results := make([]Result, len(hits))
		for i, h := range hits {
			results[i] = Result{Hit: h, FTSRank: i + 1}
		}
		resp.Results = results
		resp.Rung = r.rung
		return
	}
}

func (e *Engine) ftsSearch(ctx context.Context, match string, k int, scope Scope) ([]store.Hit, error) {
	if match == "" {
		return nil, nil
	}

	var hits []store.Hit
	if scope == ScopeAll || scope == ScopeRelationships {
		relHits, err := e.store.SearchRelationshipsFTS(ctx, match, k)
		if err != nil {
			return nil, err
		}
		hits = append(hits, relHits...)
	}
	if scope == ScopeAll || scope == ScopeSections {
		secHits, err := e.store.SearchSectionsFTS(ctx, match, k)
		if err != nil {
			return nil, err
		}
		hits = append(hits, secHits...)
	}

	// Merge the two BM25 lists into one ranking before fusion.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (e *Engine) vectorSearch(ctx context.Context, query string, k int, scope Scope) ([]store.Hit, error) {
	if e.embedder == nil {
		return nil, nil
	}

	embeddings, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}

	var hits []store.Hit
	if scope == ScopeAll || scope == ScopeRelationships {
		relHits, err := e.store.VectorSearchRelationships(ctx, embeddings[0], k)
		if err != nil {
			return nil, err
		}
		hits = append(hits, relHits...)
	}
	if scope == ScopeAll || scope == ScopeSections {
		secHits, err := e.store.VectorSearchSections(ctx, embeddings[0], k)
		if err != nil {
			return nil, err
		}
		hits = append(hits, secHits...)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
