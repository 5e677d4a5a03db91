package xref

import (
	"regexp"
	"strings"
)

// RefType classifies a detected citation.
type RefType string

const (
	// RefStatutorySection cites a section of the loaded statute,
	// e.g. "section 50.4(1)", "s. 69(2)", "§ 243".
	RefStatutorySection RefType = "statutory_section"
	// RefDirective cites a regulator directive, e.g. "Directive 11R".
	RefDirective RefType = "directive"
	// RefExternalAct cites another statute entirely, e.g.
	// "Companies' Creditors Arrangement Act". Never resolvable locally.
	RefExternalAct RefType = "external_act"
)

// Reference is one citation found inside stored text.
type Reference struct {
	Type        RefType `json:"type"`
	CitationKey string  `json:"citation_key"`
	Target      string  `json:"target"`
	Offset      int     `json:"offset"`
}

// sectionNumber matches hierarchical statutory numbering such as
// "50.4", "69(1)", "50.4(8)(b)".
const sectionNumber = `\d+(?:\.\d+)*(?:\([0-9a-zA-Z.]+\))*`

var (
	statutoryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:sub)?sections?\s+(` + sectionNumber + `)`),
		regexp.MustCompile(`(?i)\bs\.\s*(` + sectionNumber + `)`),
		regexp.MustCompile(`§\s*(` + sectionNumber + `)`),
		regexp.MustCompile(`(?i)\bparagraphs?\s+(` + sectionNumber + `)`),
	}

	directivePattern = regexp.MustCompile(`(?i)\bdirective\s+(?:no\.?\s*)?(\d+[A-Za-z]?(?:R\d*)?)\b`)

	// Proper-noun phrase ending in "Act". Requires at least two words so
	// a bare "Act" never matches.
	externalActPattern = regexp.MustCompile(`\b([A-Z][A-Za-z']+(?:\s+(?:[A-Z][A-Za-z']+|of|and|the))*\s+Act)\b`)
)

// Detect scans text and returns every citation found, classified by
// type and deduplicated by citation key. Offsets refer to the first
// occurrence within the input.
func Detect(text string) []Reference {
	var refs []Reference
	seen := make(map[string]bool)

	add := func(t RefType, key, target string, offset int) {
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		refs = append(refs, Reference{Type: t, CitationKey: key, Target: target, Offset: offset})
	}

	for _, re := range statutoryPatterns {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			if len(loc) < 4 {
				continue
			}
			target := text[loc[2]:loc[3]]
			add(RefStatutorySection, target, target, loc[0])
		}
	}

	for _, loc := range directivePattern.FindAllStringSubmatchIndex(text, -1) {
		if len(loc) < 4 {
			continue
		}
		target := strings.ToUpper(text[loc[2]:loc[3]])
		add(RefDirective, "Directive "+target, target, loc[0])
	}

	for _, loc := range externalActPattern.FindAllStringSubmatchIndex(text, -1) {
		if len(loc) < 4 {
			continue
		}
		name := text[loc[2]:loc[3]]
		if isSelfReference(name) {
			continue
		}
		add(RefExternalAct, name, name, loc[0])
	}

	return refs
}

// isSelfReference filters determiner-only matches like "The Act", which
// cite the current statute rather than an external one.
func isSelfReference(name string) bool {
	switch strings.TrimSuffix(name, " Act") {
	case "The", "This", "That", "An", "Any", "Such", "Said":
		return true
	}
	return false
}
