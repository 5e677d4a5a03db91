package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/brunobiangulo/lexstore"
	"github.com/brunobiangulo/lexstore/query"
	"github.com/brunobiangulo/lexstore/search"
	"github.com/brunobiangulo/lexstore/store"
)

type handler struct {
	engine lexstore.Engine
}

func newHandler(e lexstore.Engine) *handler {
	return &handler{engine: e}
}

// POST /load
// Accepts one extraction batch as JSON.
func (h *handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	result, err := h.engine.LoadJSON(ctx, r.Body)
	if err != nil {
		if errors.Is(err, store.ErrIntegrity) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "load failed")
		slog.Error("load error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /normalize
func (h *handler) handleNormalize(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	report, err := h.engine.Normalize(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "normalization failed")
		slog.Error("normalize error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// POST /query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Question           string `json:"question"`
		MaxResults         int    `json:"max_results,omitempty"`
		AllowExternalFetch bool   `json:"allow_external_fetch,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	// Bound parameters.
	if req.MaxResults < 0 || req.MaxResults > 100 {
		req.MaxResults = 0 // use default
	}

	var opts []query.AskOption
	if req.MaxResults > 0 {
		opts = append(opts, query.WithMaxResults(req.MaxResults))
	}
	if req.AllowExternalFetch {
		opts = append(opts, query.WithExternalFetch())
	}

	answer, err := h.engine.Ask(ctx, req.Question, opts...)
	if err != nil {
		if errors.Is(err, search.ErrQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "query failed")
		slog.Error("query error", "question", req.Question, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// POST /search
// Raw hybrid retrieval without the phase machine, for diagnostics and
// curation tooling.
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	var req struct {
		Query string `json:"query"`
		K     int    `json:"k,omitempty"`
		Scope string `json:"scope,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.K < 0 || req.K > 100 {
		req.K = 0
	}

	scope := search.ScopeAll
	switch req.Scope {
	case "relationships":
		scope = search.ScopeRelationships
	case "sections":
		scope = search.ScopeSections
	case "", "all":
	default:
		writeError(w, http.StatusBadRequest, "scope must be all, relationships, or sections")
		return
	}

	resp, err := h.engine.Search(ctx, req.Query, req.K, scope)
	if err != nil {
		if errors.Is(err, search.ErrQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("search error", "query", req.Query, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.Documents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
	})
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		slog.Error("stats error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
