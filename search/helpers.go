package search

import "strings"

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "of": true, "to": true, "in": true, "on": true,
	"at": true, "for": true, "by": true, "with": true, "from": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "has": true, "have": true, "had": true, "does": true,
	"do": true, "did": true, "will": true, "would": true, "can": true,
	"could": true, "this": true, "that": true, "these": true,
	"those": true, "it": true, "its": true, "as": true, "if": true,
	"what": true, "when": true, "where": true, "which": true,
	"who": true, "how": true, "any": true, "all": true, "not": true,
	"under": true, "into": true, "upon": true, "such": true,
}

func isStopWord(w string) bool {
	return stopWords[w]
}

// ftsEscaper strips FTS5 special syntax characters from user input so
// it cannot break MATCH expressions.
var ftsEscaper = strings.NewReplacer(
	"\"", "", "*", "", "(", "", ")", "",
	"+", "", "-", "", "^", "", ":", "",
	"?", "", "[", "", "]", "", "{", "",
	"}", "", "!", "", ".", " ", ",", "",
	";", "", "'", "",
)

// significantTerms returns the meaningful lowercase words of a query,
// with stop words, short words, and duplicates removed. Order follows
// first appearance so built match strings are deterministic.
func significantTerms(query string) []string {
	words := strings.Fields(ftsEscaper.Replace(strings.ToLower(query)))

	seen := make(map[string]bool)
	var terms []string
	for _, w := range words {
		if len(w) > 2 && !isStopWord(w) && !seen[w] {
			seen[w] = true
			terms = append(terms, w)
		}
	}
	return terms
}

// hybridMatch builds the primary FTS5 match string: the full phrase
// (when multi-word) plus each significant term, joined with OR for
// broad recall. Precision is recovered by RRF fusion with the vector
// ranking.
func hybridMatch(query string) string {
	words := strings.Fields(ftsEscaper.Replace(query))
	if len(words) == 0 {
		return ""
	}

	var parts []string
	if len(words) > 1 {
		parts = append(parts, "\""+strings.Join(words, " ")+"\"")
	}
	parts = append(parts, significantTerms(query)...)
	if len(parts) == 0 {
		parts = words
	}
	return strings.Join(parts, " OR ")
}

// phraseMatch builds an exact-phrase FTS5 query (fallback rung 1).
func phraseMatch(query string) string {
	words := strings.Fields(ftsEscaper.Replace(query))
	if len(words) == 0 {
		return ""
	}
	return "\"" + strings.Join(words, " ") + "\""
}

// andMatch requires every significant term (fallback rung 2).
func andMatch(query string) string {
	return strings.Join(significantTerms(query), " AND ")
}

// orMatch accepts any significant term (fallback rung 3).
func orMatch(query string) string {
	return strings.Join(significantTerms(query), " OR ")
}
