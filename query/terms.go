package query

import "strings"

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "at": true,
	"for": true, "by": true, "with": true, "from": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "has": true,
	"have": true, "had": true, "does": true, "do": true, "did": true,
	"will": true, "would": true, "can": true, "could": true,
	"this": true, "that": true, "it": true, "its": true, "as": true,
	"what": true, "when": true, "where": true, "which": true,
	"who": true, "how": true, "must": true, "about": true,
}

var punctTrimmer = strings.NewReplacer(
	"?", "", "!", "", ".", "", ",", "", ";", "", ":", "",
	"\"", "", "'", "", "(", "", ")", "",
)

// questionTerms returns the meaningful lowercase words of a question in
// order of first appearance. Structured lookup resolves each through
// the alias table before matching participants.
func questionTerms(question string) []string {
	words := strings.Fields(punctTrimmer.Replace(strings.ToLower(question)))

	seen := make(map[string]bool)
	var terms []string
	for _, w := range words {
		if len(w) > 2 && !stopWords[w] && !seen[w] {
			seen[w] = true
			terms = append(terms, w)
		}
	}
	return terms
}

// andMatch builds an FTS5 query requiring every term.
func andMatch(terms []string) string {
	return strings.Join(terms, " AND ")
}

// countContained returns how many terms appear in text,
// case-insensitively.
func countContained(text string, terms []string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}
