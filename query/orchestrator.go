// Package query runs the fixed-order retrieval phase machine. Each
// phase is tried in order with its own deadline; the first phase that
// yields a sufficient answer wins, answers from different phases are
// never merged, and every answer is a verbatim quote of stored text.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/brunobiangulo/lexstore/search"
	"github.com/brunobiangulo/lexstore/store"
	"github.com/brunobiangulo/lexstore/xref"
)

// Phases, tried strictly in order.
const (
	PhaseStructured = 1
	PhaseSections   = 2
	PhaseCompanion  = 3
	PhaseDirectives = 4
	PhaseFetch      = 5
)

// Confidence of an answer.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// DefaultPhaseTimeout bounds each phase; a timed-out phase counts as
// "no result" and execution proceeds to the next phase.
const DefaultPhaseTimeout = 10 * time.Second

// Answer is the structured result returned to every caller. AnswerText
// is always a verbatim substring of stored relationship or section
// text; when Found is false the answer reports which phases were tried
// instead of fabricating prose.
type Answer struct {
	Found           bool              `json:"found"`
	AnswerText      string            `json:"answer_text,omitempty"`
	Citation        string            `json:"citation,omitempty"`
	Phase           int               `json:"phase,omitempty"`
	CrossRefs       []string          `json:"cross_refs,omitempty"`
	Unresolved      []xref.Resolution `json:"unresolved,omitempty"`
	Confidence      Confidence        `json:"confidence,omitempty"`
	PhasesAttempted []int             `json:"phases_attempted"`
	SearchRung      int               `json:"search_rung,omitempty"`
	ElapsedMs       int64             `json:"elapsed_ms"`
}

// Config holds orchestrator tuning and collaborator wiring. Companion,
// Directives, and Fetcher may be nil; the corresponding phases then
// report no result.
type Config struct {
	PhaseTimeout   time.Duration
	FetchPerMinute int

	Companion  Corpus
	Directives Corpus
	Fetcher    Fetcher
}

// Orchestrator executes the phase machine. Stateless across calls;
// everything call-scoped lives on the stack of Ask.
type Orchestrator struct {
	store        *store.Store
	engine       *search.Engine
	resolver     *xref.Resolver
	companion    Corpus
	directives   Corpus
	fetcher      Fetcher
	fetchLimiter *rate.Limiter
	phaseTimeout time.Duration
}

// New creates an orchestrator over the store, search engine, and
// cross-reference resolver.
func New(s *store.Store, engine *search.Engine, resolver *xref.Resolver, cfg Config) *Orchestrator {
	timeout := cfg.PhaseTimeout
	if timeout <= 0 {
		timeout = DefaultPhaseTimeout
	}
	perMinute := cfg.FetchPerMinute
	if perMinute <= 0 {
		perMinute = 6
	}
	return &Orchestrator{
		store:        s,
		engine:       engine,
		resolver:     resolver,
		companion:    cfg.Companion,
		directives:   cfg.Directives,
		fetcher:      cfg.Fetcher,
		fetchLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		phaseTimeout: timeout,
	}
}

// AskOption configures one Ask call.
type AskOption func(*askOptions)

type askOptions struct {
	allowExternalFetch bool
	maxResults         int
}

// WithExternalFetch consents to phase-5 external fetch requests for
// this call. Without it, phase 5 is never invoked.
func WithExternalFetch() AskOption {
	return func(o *askOptions) { o.allowExternalFetch = true }
}

// WithMaxResults overrides how many candidates each phase considers.
func WithMaxResults(n int) AskOption {
	return func(o *askOptions) { o.maxResults = n }
}

// phaseHit is the internal result of one successful phase.
type phaseHit struct {
	text       string
	citation   string
	confidence Confidence
	rung       int
}

// Ask runs the question through the phase machine and returns a
// structured answer. Returns search.ErrQuery for an empty question.
func (o *Orchestrator) Ask(ctx context.Context, question string, options ...AskOption) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", search.ErrQuery)
	}

	opts := askOptions{maxResults: 10}
	for _, opt := range options {
		opt(&opts)
	}

	start := time.Now()
	answer := &Answer{}

	phases := []struct {
		number int
		run    func(context.Context) (*phaseHit, error)
	}{
		{PhaseStructured, func(ctx context.Context) (*phaseHit, error) {
			return o.phaseStructured(ctx, question, opts.maxResults)
		}},
		{PhaseSections, func(ctx context.Context) (*phaseHit, error) {
			return o.phaseSections(ctx, question, opts.maxResults)
		}},
		{PhaseCompanion, func(ctx context.Context) (*phaseHit, error) {
			return o.phaseCorpus(ctx, o.companion, question, ConfidenceMedium)
		}},
		{PhaseDirectives, func(ctx context.Context) (*phaseHit, error) {
			return o.phaseCorpus(ctx, o.directives, question, ConfidenceLow)
		}},
	}

	var hit *phaseHit
	for _, phase := range phases {
		answer.PhasesAttempted = append(answer.PhasesAttempted, phase.number)

		h, err := o.runWithDeadline(ctx, phase.number, phase.run)
		if err != nil {
			return nil, err
		}
		if h != nil {
			hit = h
			answer.Phase = phase.number
			break
		}
	}

	// Phase 5 runs only with explicit consent and only when everything
	// local came up empty.
	if hit == nil && opts.allowExternalFetch && o.fetcher != nil {
		answer.PhasesAttempted = append(answer.PhasesAttempted, PhaseFetch)
		h, err := o.runWithDeadline(ctx, PhaseFetch, func(ctx context.Context) (*phaseHit, error) {
			return o.phaseFetch(ctx, question, answer)
		})
		if err != nil {
			return nil, err
		}
		if h != nil {
			hit = h
			answer.Phase = PhaseFetch
		}
	}

	if hit == nil {
		answer.ElapsedMs = time.Since(start).Milliseconds()
		o.logQuery(ctx, question, answer)
		return answer, nil
	}

	answer.Found = true
	answer.AnswerText = hit.text
	answer.Citation = hit.citation
	answer.Confidence = hit.confidence
	answer.SearchRung = hit.rung

	// The winning quote goes through cross-reference resolution before
	// it is returned; unresolved citations are reported, never dropped.
	resolutions, err := o.resolver.Resolve(ctx, hit.text)
	if err != nil {
		slog.Warn("query: cross-reference resolution failed", "error", err)
	} else {
		answer.CrossRefs = xref.CitationKeys(resolutions)
		answer.Unresolved = xref.Unresolved(resolutions)
	}

	answer.ElapsedMs = time.Since(start).Milliseconds()
	o.logQuery(ctx, question, answer)
	return answer, nil
}

// runWithDeadline executes one phase under the phase timeout. A timed
// out phase logs and reports no result so the machine can move on.
func (o *Orchestrator) runWithDeadline(ctx context.Context, phase int,
	run func(context.Context) (*phaseHit, error)) (*phaseHit, error) {

	phaseCtx, cancel := context.WithTimeout(ctx, o.phaseTimeout)
	defer cancel()

	hit, err := run(phaseCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("query: phase timed out", "phase", phase, "timeout", o.phaseTimeout)
			return nil, nil
		}
		// Parent cancellation is fatal for the whole call.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("query: phase failed", "phase", phase, "error", err)
		return nil, nil
	}
	return hit, nil
}

// phaseStructured queries the relationship store directly: participant
// canonical values first, then keyword match on the quotes. A hit is
// high-confidence when it covers most of the question's terms.
func (o *Orchestrator) phaseStructured(ctx context.Context, question string, limit int) (*phaseHit, error) {
	terms := questionTerms(question)
	if len(terms) == 0 {
		return nil, nil
	}

	var candidates []store.Relationship
	seen := make(map[int64]bool)

	// Participant lookup through the alias table.
	for _, term := range terms {
		for _, kind := range []store.Kind{store.KindActor, store.KindProcedure} {
			canonical, err := o.store.LookupCanonical(ctx, kind, term)
			if err != nil {
				return nil, err
			}
			rels, err := o.store.QueryByParticipant(ctx, kind, canonical)
			if err != nil {
				return nil, err
			}
			for _, r := range rels {
				if !seen[r.ID] {
					seen[r.ID] = true
					candidates = append(candidates, r)
				}
			}
		}
	}

	// Keyword AND match on relationship text catches relationships whose
	// participants were not named in the question.
	hits, err := o.store.SearchRelationshipsFTS(ctx, andMatch(terms), limit)
	if err != nil {
		slog.Debug("query: structured keyword match failed", "error", err)
	} else {
		for _, h := range hits {
			if !seen[h.ID] {
				seen[h.ID] = true
				rel, err := o.store.GetRelationship(ctx, h.ID)
				if err != nil {
					return nil, err
				}
				candidates = append(candidates, *rel)
			}
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	// Pick the quote covering the most question terms; ties go to the
	// shorter, more specific quote, then the lower id.
	best := -1
	bestCover := 0
	for i, r := range candidates {
		cover := countContained(r.RelationshipText, terms)
		switch {
		case cover > bestCover:
			best, bestCover = i, cover
		case cover == bestCover && best >= 0:
			cur := candidates[best]
			if len(r.RelationshipText) < len(cur.RelationshipText) ||
				(len(r.RelationshipText) == len(cur.RelationshipText) && r.ID < cur.ID) {
				best = i
			}
		}
	}

	// High confidence needs more than an incidental single-term overlap.
	required := (len(terms) + 1) / 2
	if required < 1 {
		required = 1
	}
	if best < 0 || bestCover < required {
		return nil, nil
	}

	rel := candidates[best]
	return &phaseHit{
		text:       rel.RelationshipText,
		citation:   rel.SourceSection,
		confidence: ConfidenceHigh,
	}, nil
}

// phaseSections runs the hybrid engine over section text.
func (o *Orchestrator) phaseSections(ctx context.Context, question string, limit int) (*phaseHit, error) {
	resp, err := o.engine.Search(ctx, question, limit, search.ScopeSections)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}

	top := resp.Results[0]
	return &phaseHit{
		text:       top.Text,
		citation:   top.Citation,
		confidence: ConfidenceMedium,
		rung:       resp.Rung,
	}, nil
}

// phaseCorpus consults an external companion corpus (phases 3 and 4).
func (o *Orchestrator) phaseCorpus(ctx context.Context, corpus Corpus, question string, conf Confidence) (*phaseHit, error) {
	if corpus == nil {
		return nil, nil
	}
	hits, err := corpus.Search(ctx, question)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return &phaseHit{
		text:       hits[0].QuotedText,
		citation:   hits[0].CitationKey,
		confidence: conf,
	}, nil
}

// phaseFetch requests external fetches for citations named in the
// question. Requests are rate limited, and a permission-pending outcome
// is reported to the caller rather than acted on.
func (o *Orchestrator) phaseFetch(ctx context.Context, question string, answer *Answer) (*phaseHit, error) {
	refs := xref.Detect(question)
	if len(refs) == 0 {
		return nil, nil
	}

	for _, ref := range refs {
		if !o.fetchLimiter.Allow() {
			slog.Warn("query: external fetch rate limit reached", "citation", ref.CitationKey)
			return nil, nil
		}
		outcome, err := o.fetcher.RequestFetch(ctx, ref.CitationKey)
		if err != nil {
			slog.Warn("query: external fetch failed", "citation", ref.CitationKey, "error", err)
			continue
		}
		switch outcome.Status {
		case FetchComplete:
			return &phaseHit{
				text:       outcome.QuotedText,
				citation:   outcome.CitationKey,
				confidence: ConfidenceLow,
			}, nil
		case FetchPermissionPending:
			answer.Unresolved = append(answer.Unresolved, xref.Resolution{
				Ref:    ref,
				Status: xref.StatusPermissionRequired,
			})
		}
	}
	return nil, nil
}

func (o *Orchestrator) logQuery(ctx context.Context, question string, a *Answer) {
	err := o.store.LogQuery(ctx, store.QueryLog{
		Question:        question,
		Answer:          a.AnswerText,
		Citation:        a.Citation,
		Phase:           a.Phase,
		Confidence:      string(a.Confidence),
		PhasesAttempted: a.PhasesAttempted,
		CrossRefs:       a.CrossRefs,
		ElapsedMs:       a.ElapsedMs,
	})
	if err != nil {
		slog.Warn("query: audit log write failed", "error", err)
	}
}
