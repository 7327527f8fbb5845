// Package conversion is the conversion factor lookup: (drug, formulation) to
// MME factor plus the glass-box evidence behind it, and the declarative rule
// table that decides canonical keys and clinical exclusions.
package conversion

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/ehr/mmecalc/internal/platform/refdata"
)

// Entry is one immutable catalog row.
type Entry struct {
	Key      DrugKey  `json:"key"`
	Route    Route    `json:"route"`
	Unit     string   `json:"unit"`
	Factor   float64  `json:"factor"`
	Warnings []string `json:"warnings,omitempty"`
	Evidence string   `json:"evidence"`
}

// EntriesFromBundle converts reference-data rows into catalog entries.
func EntriesFromBundle(b refdata.Bundle) []Entry {
	out := make([]Entry, 0, len(b.Factors))
	for _, f := range b.Factors {
		key := DrugKey{Base: BaseDrug(f.Drug), Form: FormFromString(f.Form)}
		route := Route(f.Route)
		if route == "" {
			route = key.Route()
		}
		out = append(out, Entry{
			Key:      key,
			Route:    route,
			Unit:     f.Unit,
			Factor:   f.Factor,
			Warnings: append([]string(nil), f.Warnings...),
			Evidence: f.Evidence,
		})
	}
	return out
}

// DefaultEntries returns the catalog from the embedded reference data.
func DefaultEntries() []Entry {
	return EntriesFromBundle(refdata.Default())
}

// Service answers factor lookups. It is read-only after construction.
type Service struct {
	entries map[DrugKey]Entry
	version string
	logger  zerolog.Logger
}

// NewService creates a Service over the given entries. Later entries with the
// same key replace earlier ones.
func NewService(entries []Entry, version string, logger zerolog.Logger) *Service {
	m := make(map[DrugKey]Entry, len(entries))
	for _, e := range entries {
		m[e.Key] = e
	}
	return &Service{
		entries: m,
		version: version,
		logger:  logger.With().Str("component", "conversion-service").Logger(),
	}
}

// NewServiceFromBundle builds a Service from a loaded reference bundle.
func NewServiceFromBundle(b refdata.Bundle, logger zerolog.Logger) *Service {
	return NewService(EntriesFromBundle(b), b.Version, logger)
}

// Lookup returns the catalog entry for key. A miss is not an error; callers
// decide whether it is an intentional exclusion or a data gap.
func (s *Service) Lookup(key DrugKey) (Entry, bool) {
	e, ok := s.entries[key]
	return e, ok
}

// Entries returns every catalog row ordered by drug id.
func (s *Service) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Version is the reference data version the catalog was built from.
func (s *Service) Version() string {
	return s.version
}
