// Package xref detects statutory and directive citations inside stored
// text and resolves them against the local knowledge store. Resolution
// is recursive but bounded; anything not locally resolvable is surfaced
// to the caller instead of silently dropped, and network fetches are
// never triggered from here.
package xref

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/lexstore/store"
)

// Status of one resolution attempt.
type Status string

const (
	// StatusResolved means the citation was found in the local store.
	StatusResolved Status = "resolved"
	// StatusUnresolved means the citation was detected but is not
	// loaded locally; resolving it requires an external collaborator.
	StatusUnresolved Status = "unresolved"
	// StatusPermissionRequired means resolving needs a network fetch,
	// which only proceeds with explicit caller consent.
	StatusPermissionRequired Status = "permission_required"
)

// DefaultMaxDepth bounds recursive resolution of nested citations.
const DefaultMaxDepth = 3

// defaultWorkers bounds concurrent citation chains per result set.
const defaultWorkers = 4

// Resolution is the outcome for one citation, including any nested
// citations found inside the resolved text.
type Resolution struct {
	Ref      Reference    `json:"ref"`
	Status   Status       `json:"status"`
	Text     string       `json:"text,omitempty"`
	Children []Resolution `json:"children,omitempty"`
}

// Resolver resolves citations against the local store. Stateless beyond
// its lookup cache; recursion state is call-scoped.
type Resolver struct {
	store    *store.Store
	maxDepth int
	workers  int
	cache    *gocache.Cache
}

// lookup is a cached local resolution outcome for one citation key.
type lookup struct {
	status Status
	text   string
}

// New creates a resolver. maxDepth <= 0 selects DefaultMaxDepth;
// workers <= 0 selects a small default pool.
func New(s *store.Store, maxDepth, workers int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Resolver{
		store:    s,
		maxDepth: maxDepth,
		workers:  workers,
		cache:    gocache.New(10*time.Minute, 30*time.Minute),
	}
}

// Resolve scans text for citations and resolves each one. Independent
// citation chains resolve concurrently, bounded by the worker pool;
// each chain carries its own visited set so cyclic citation graphs
// terminate within the depth bound.
func (r *Resolver) Resolve(ctx context.Context, text string) ([]Resolution, error) {
	refs := Detect(text)
	if len(refs) == 0 {
		return nil, nil
	}

	resolutions := make([]Resolution, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i, ref := range refs {
		g.Go(func() error {
			visited := map[string]bool{ref.CitationKey: true}
			resolutions[i] = r.resolveRef(gctx, ref, 1, visited)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolutions, nil
}

// CitationKeys returns the deduplicated, sorted citation keys of a
// resolution tree, the shape callers report as cross_refs.
func CitationKeys(resolutions []Resolution) []string {
	seen := make(map[string]bool)
	var walk func([]Resolution)
	var keys []string
	walk = func(rs []Resolution) {
		for _, res := range rs {
			if !seen[res.Ref.CitationKey] {
				seen[res.Ref.CitationKey] = true
				keys = append(keys, res.Ref.CitationKey)
			}
			walk(res.Children)
		}
	}
	walk(resolutions)
	sort.Strings(keys)
	return keys
}

// Unresolved filters a resolution tree down to the citations that need
// an external collaborator.
func Unresolved(resolutions []Resolution) []Resolution {
	var out []Resolution
	var walk func([]Resolution)
	walk = func(rs []Resolution) {
		for _, res := range rs {
			if res.Status != StatusResolved {
				out = append(out, Resolution{Ref: res.Ref, Status: res.Status})
			}
			walk(res.Children)
		}
	}
	walk(resolutions)
	return out
}

func (r *Resolver) resolveRef(ctx context.Context, ref Reference, depth int, visited map[string]bool) Resolution {
	res := Resolution{Ref: ref}

	found := r.lookupLocal(ctx, ref)
	res.Status = found.status
	res.Text = found.text

	if res.Status != StatusResolved || depth >= r.maxDepth {
		return res
	}

	// Resolved text may itself cite further sections or directives.
	for _, nested := range Detect(res.Text) {
		if visited[nested.CitationKey] {
			continue
		}
		visited[nested.CitationKey] = true
		res.Children = append(res.Children, r.resolveRef(ctx, nested, depth+1, visited))
	}
	return res
}

// lookupLocal resolves one citation against the store, caching outcomes
// by citation key.
func (r *Resolver) lookupLocal(ctx context.Context, ref Reference) lookup {
	if cached, ok := r.cache.Get(string(ref.Type) + "|" + ref.CitationKey); ok {
		return cached.(lookup)
	}

	result := r.lookupLocalUncached(ctx, ref)
	r.cache.Set(string(ref.Type)+"|"+ref.CitationKey, result, gocache.DefaultExpiration)
	return result
}

func (r *Resolver) lookupLocalUncached(ctx context.Context, ref Reference) lookup {
	switch ref.Type {
	case RefStatutorySection:
		sec, err := r.store.GetSectionByNumber(ctx, ref.Target)
		if err == nil {
			text, terr := r.store.SectionText(ctx, sec.ID)
			if terr == nil {
				return lookup{status: StatusResolved, text: text}
			}
			slog.Warn("xref: section text load failed", "section", ref.Target, "error", terr)
			return lookup{status: StatusUnresolved}
		}
		if !errors.Is(err, store.ErrSectionNotFound) {
			slog.Warn("xref: section lookup failed", "section", ref.Target, "error", err)
		}
		return lookup{status: StatusUnresolved}

	case RefDirective:
		doc, err := r.store.GetSourceDocumentByName(ctx, ref.CitationKey)
		if err == nil {
			return lookup{status: StatusResolved, text: excerpt(doc.Content, 600)}
		}
		if !errors.Is(err, store.ErrDocumentNotFound) {
			slog.Warn("xref: directive lookup failed", "directive", ref.CitationKey, "error", err)
		}
		return lookup{status: StatusUnresolved}

	case RefExternalAct:
		// External acts live outside the loaded corpus; fetching them
		// is a network operation that needs explicit caller consent.
		return lookup{status: StatusPermissionRequired}

	default:
		return lookup{status: StatusUnresolved}
	}
}

// excerpt returns a verbatim prefix of text cut at a word boundary.
// Quotes stay quotes: the prefix is a substring of the source.
func excerpt(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}
