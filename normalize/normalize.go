// Package normalize fills the canonical_value column of stored entities
// so that surface variants ("the trustee", "Trustee", "a licensed
// insolvency trustee") converge on one lookup key. Raw text is never
// modified; normalization only writes canonical_value.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/lexstore/store"
)

// AliasMap is the on-disk alias artifact. Keys are entity kinds, then
// canonical values, then the surface forms that map to them:
//
//	version: 1
//	aliases:
//	  actor:
//	    trustee:
//	      - the trustee
//	      - licensed insolvency trustee
//
// Distinct legal roles must stay distinct: "debtor" and "bankrupt" are
// different statuses and must never share a canonical value.
type AliasMap struct {
	Version int                                 `yaml:"version"`
	Aliases map[store.Kind]map[string][]string `yaml:"aliases"`
}

// LoadAliasMap reads and validates a YAML alias artifact.
func LoadAliasMap(path string) (*AliasMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("normalize: read alias file: %w", err)
	}
	return ParseAliasMap(data)
}

// ParseAliasMap parses alias YAML and rejects maps that collapse
// distinct surface forms across canonical values within a kind.
func ParseAliasMap(data []byte) (*AliasMap, error) {
	var m AliasMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("normalize: parse alias file: %w", err)
	}

	for kind, groups := range m.Aliases {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: alias map has unknown kind %q", store.ErrIntegrity, kind)
		}
		owner := make(map[string]string)
		for canonical, forms := range groups {
			for _, form := range forms {
				key := strings.ToLower(strings.TrimSpace(form))
				if key == "" {
					continue
				}
				if prev, dup := owner[key]; dup && prev != canonical {
					return nil, fmt.Errorf("%w: alias %q maps to both %q and %q",
						store.ErrIntegrity, key, prev, canonical)
				}
				owner[key] = canonical
			}
		}
	}
	return &m, nil
}

// flatten converts one kind's alias groups to the alias -> canonical
// shape the store consumes.
func (m *AliasMap) flatten(kind store.Kind) map[string]string {
	flat := make(map[string]string)
	for canonical, forms := range m.Aliases[kind] {
		for _, form := range forms {
			key := strings.ToLower(strings.TrimSpace(form))
			if key != "" {
				flat[key] = canonical
			}
		}
	}
	return flat
}

// Report summarizes one normalization pass.
type Report struct {
	Aliased        map[store.Kind]int64 `json:"aliased"`
	SelfNormalized map[store.Kind]int64 `json:"self_normalized"`
}

// Normalizer runs normalization passes over the store.
type Normalizer struct {
	store *store.Store
}

func New(s *store.Store) *Normalizer {
	return &Normalizer{store: s}
}

// Run normalizes every entity kind: alias-map matches first, then a
// self-normalization fallback so no actor or procedure is left without
// a canonical value. aliasMap may be nil, in which case only the
// fallback runs. Running twice is a no-op.
func (n *Normalizer) Run(ctx context.Context, aliasMap *AliasMap) (*Report, error) {
	report := &Report{
		Aliased:        make(map[store.Kind]int64),
		SelfNormalized: make(map[store.Kind]int64),
	}

	for _, kind := range store.Kinds {
		if aliasMap != nil {
			flat := aliasMap.flatten(kind)
			if len(flat) > 0 {
				if err := n.store.ReplaceAliases(ctx, kind, flat); err != nil {
					return nil, err
				}
				aliased, err := n.store.ApplyAliases(ctx, kind)
				if err != nil {
					return nil, err
				}
				report.Aliased[kind] = aliased
			}
		}

		selfed, err := n.store.SelfNormalize(ctx, kind)
		if err != nil {
			return nil, err
		}
		report.SelfNormalized[kind] = selfed
	}

	slog.Info("normalization pass complete",
		"aliased", report.Aliased, "self_normalized", report.SelfNormalized)
	return report, nil
}
