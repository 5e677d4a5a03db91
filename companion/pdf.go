package companion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"

	"github.com/brunobiangulo/lexstore/query"
)

// pdfPage is one extracted page, cached after first read.
type pdfPage struct {
	file string
	page int
	text string
}

// PDFCorpus serves phase-3 lookups from a directory of PDF study
// material. Text extraction happens lazily on first search and is
// cached for the life of the corpus.
type PDFCorpus struct {
	dir string

	once  sync.Once
	pages []pdfPage
	err   error
}

// NewPDFCorpus creates a corpus over every .pdf file in dir.
func NewPDFCorpus(dir string) *PDFCorpus {
	return &PDFCorpus{dir: dir}
}

// Search returns the best verbatim sentences matching the question,
// cited by file and page.
func (c *PDFCorpus) Search(ctx context.Context, question string) ([]query.CorpusHit, error) {
	c.once.Do(c.load)
	if c.err != nil {
		return nil, c.err
	}

	terms := matchTerms(question)
	if len(terms) == 0 {
		return nil, nil
	}
	// Require at least half the terms so weak overlaps don't answer.
	required := (len(terms) + 1) / 2

	type scored struct {
		hit   query.CorpusHit
		score int
	}
	var candidates []scored

	for _, p := range c.pages {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if scorePassage(p.text, terms) < required {
			continue
		}
		for _, sent := range sentences(p.text) {
			score := scorePassage(sent, terms)
			if score < required {
				continue
			}
			candidates = append(candidates, scored{
				hit: query.CorpusHit{
					QuotedText:  sent,
					CitationKey: fmt.Sprintf("%s p.%d", p.file, p.page),
				},
				score: score,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return len(candidates[i].hit.QuotedText) < len(candidates[j].hit.QuotedText)
	})

	var hits []query.CorpusHit
	for i, cand := range candidates {
		if i == 3 {
			break
		}
		hits = append(hits, cand.hit)
	}
	return hits, nil
}

// load extracts text from every PDF in the directory. Pages that fail
// to extract are skipped, not fatal.
func (c *PDFCorpus) load() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.err = fmt.Errorf("companion: read pdf dir: %w", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		pages, err := extractPDF(path, entry.Name())
		if err != nil {
			slog.Warn("companion: pdf extraction failed", "file", entry.Name(), "error", err)
			continue
		}
		c.pages = append(c.pages, pages...)
	}
	slog.Info("companion: pdf corpus loaded", "dir", c.dir, "pages", len(c.pages))
}

func extractPDF(path, name string) ([]pdfPage, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var pages []pdfPage
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, pdfPage{file: name, page: i, text: text})
	}
	return pages, nil
}
