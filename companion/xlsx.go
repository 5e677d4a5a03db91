package companion

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/lexstore/query"
)

// xlsxRow is one data row of the workbook, flattened for matching.
type xlsxRow struct {
	sheet string
	num   int // 1-based row number as shown in the workbook
	text  string
}

// XLSXCorpus serves phase-4 directive lookups from a spreadsheet index
// (directive number, subject, summary columns). Each matching row is
// quoted verbatim in its flattened form.
type XLSXCorpus struct {
	path string

	once sync.Once
	name string
	rows []xlsxRow
	err  error
}

// NewXLSXCorpus creates a corpus over one workbook.
func NewXLSXCorpus(path string) *XLSXCorpus {
	return &XLSXCorpus{path: path, name: filepath.Base(path)}
}

func (c *XLSXCorpus) Search(ctx context.Context, question string) ([]query.CorpusHit, error) {
	c.once.Do(c.load)
	if c.err != nil {
		return nil, c.err
	}

	terms := matchTerms(question)
	if len(terms) == 0 {
		return nil, nil
	}
	required := (len(terms) + 1) / 2

	type scored struct {
		hit   query.CorpusHit
		score int
	}
	var candidates []scored

	for _, row := range c.rows {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		score := scorePassage(row.text, terms)
		if score < required {
			continue
		}
		candidates = append(candidates, scored{
			hit: query.CorpusHit{
				QuotedText:  row.text,
				CitationKey: fmt.Sprintf("%s %s!%d", c.name, row.sheet, row.num),
			},
			score: score,
		})
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

func (c *XLSXCorpus) load() {
	f, err := excelize.OpenFile(c.path)
	if err != nil {
		c.err = fmt.Errorf("companion: opening XLSX: %w", err)
		return
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for i, row := range rows {
			if i == 0 {
				// Header row names the columns, it never answers anything.
				continue
			}
			text := strings.TrimSpace(strings.Join(row, " | "))
			if strings.Trim(text, "| ") == "" {
				continue
			}
			c.rows = append(c.rows, xlsxRow{sheet: sheet, num: i + 1, text: text})
		}
	}
}
