package query

import "context"

// CorpusHit is one verbatim quote returned by a companion corpus.
type CorpusHit struct {
	QuotedText  string `json:"quoted_text"`
	CitationKey string `json:"citation_key"`
}

// Corpus is the narrow contract for companion-document and directive
// lookups (phases 3 and 4). The orchestrator does not know or care how
// a corpus is implemented — grep, index, or API.
type Corpus interface {
	Search(ctx context.Context, text string) ([]CorpusHit, error)
}

// FetchStatus reports the outcome of an external fetch request.
type FetchStatus string

const (
	// FetchPermissionPending means the fetch needs caller approval
	// before any network I/O happens.
	FetchPermissionPending FetchStatus = "permission_pending"
	// FetchComplete means the collaborator returned a quote.
	FetchComplete FetchStatus = "complete"
)

// FetchOutcome is the result of one external fetch request.
type FetchOutcome struct {
	Status      FetchStatus `json:"status"`
	QuotedText  string      `json:"quoted_text,omitempty"`
	CitationKey string      `json:"citation_key"`
}

// Fetcher is the phase-5 collaborator. The core never performs network
// I/O itself; it only issues explicit, consented fetch requests.
type Fetcher interface {
	RequestFetch(ctx context.Context, citationKey string) (*FetchOutcome, error)
}
