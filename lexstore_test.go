//go:build cgo

package lexstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/lexstore/search"
)

const batchJSON = `{
	"document_name": "bia.txt",
	"document_title": "Bankruptcy and Insolvency Act (excerpt)",
	"content": "50.4(1) The trustee shall file a cash-flow statement within 10 days of filing a notice of intention.",
	"sections": [
		{"number": "50.4(1)", "title": "Cash-flow statement", "char_start": 0, "char_end": 100, "depth": 1}
	],
	"entities": [
		{"kind": "actor", "raw_text": "trustee", "char_start": 12, "char_end": 19, "section": 0},
		{"kind": "deadline", "raw_text": "within 10 days", "char_start": 53, "char_end": 67, "section": 0}
	],
	"relationships": [
		{
			"rel_kind": "duty",
			"participants": [{"kind": "actor", "index": 0}, {"kind": "deadline", "index": 1}],
			"relationship_text": "The trustee shall file a cash-flow statement within 10 days",
			"modality": "mandatory",
			"modal_marker": "shall",
			"source_section": "50.4(1)"
		}
	]
}`

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.Embedding.Provider = "local"
	cfg.EmbeddingDim = 8

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngineEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.LoadJSON(ctx, strings.NewReader(batchJSON))
	if err != nil {
		t.Fatalf("loading batch: %v", err)
	}
	if res.Sections != 1 || res.Entities != 2 || res.Relationships != 1 {
		t.Fatalf("unexpected load result: %+v", res)
	}

	if _, err := e.Normalize(ctx); err != nil {
		t.Fatalf("normalize: %v", err)
	}

	answer, err := e.Ask(ctx, "When must the trustee file the cash-flow statement?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !answer.Found {
		t.Fatalf("expected an answer, phases attempted %v", answer.PhasesAttempted)
	}
	if answer.AnswerText != "The trustee shall file a cash-flow statement within 10 days" {
		t.Fatalf("answer is not the stored quote: %q", answer.AnswerText)
	}
	if answer.Citation != "50.4(1)" {
		t.Fatalf("citation = %q", answer.Citation)
	}

	resp, err := e.Search(ctx, "notice of intention", 5, search.ScopeSections)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("section search returned nothing")
	}

	docs, err := e.Documents(ctx)
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if len(docs) != 1 || docs[0].Name != "bia.txt" {
		t.Fatalf("unexpected documents: %+v", docs)
	}

	stats, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Documents != 1 || stats.Entities != 2 || stats.Relationships != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestEngineResolve(t *testing.T) {
	e := newTestEngine(t)

	resolutions, err := e.Resolve(context.Background(), "see section 50.4(1) and Directive 11R")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolutions) != 2 {
		t.Fatalf("expected 2 citations, got %+v", resolutions)
	}
}

func TestEngineRejectsUnknownEmbeddingProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.Embedding.Provider = "carrier-pigeon"

	if _, err := New(cfg); err == nil {
		t.Fatal("expected an error for an unknown provider")
	}
}
