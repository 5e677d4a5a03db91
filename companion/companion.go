// Package companion answers questions from supplementary material: PDF
// study texts and XLSX directive workbooks. Both corpora satisfy the
// query.Corpus contract and return verbatim quotes only.
package companion

import (
	"strings"
	"unicode"
)

// matchTerms extracts lowercase content words from a question for
// passage scoring.
func matchTerms(question string) []string {
	words := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]bool)
	var terms []string
	for _, w := range words {
		if len(w) > 3 && !seen[w] {
			seen[w] = true
			terms = append(terms, w)
		}
	}
	return terms
}

// scorePassage counts how many terms appear in text, case-insensitively.
func scorePassage(text string, terms []string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

// sentences splits text on sentence boundaries, keeping each sentence
// verbatim so it can be quoted directly.
func sentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			s := strings.TrimSpace(text[start : i+1])
			if len(s) > 20 {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(text[start:]); len(tail) > 20 {
		out = append(out, tail)
	}
	return out
}
