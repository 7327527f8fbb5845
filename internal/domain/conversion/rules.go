package conversion

import (
	"github.com/ehr/mmecalc/internal/domain/patient"
)

// Exclusion is a categorical, intentional zeroing of a drug's factor.
type Exclusion struct {
	Reason  string
	Warning string
}

// Rule is the per-drug policy row. Nil funcs fall back to the defaults.
type Rule struct {
	// Canonical maps an input key to the catalog key used for lookup.
	Canonical func(DrugKey) DrugKey
	// Exclude returns a non-nil Exclusion when the drug must count as zero.
	Exclude func(patient.Context, DrugKey) *Exclusion
	// Fallback factors by canonical formulation, used only when the catalog
	// has no entry for a target-dose candidate.
	Fallback map[Formulation]float64
	// Micrograms reports whether doses are entered in micrograms.
	Micrograms func(DrugKey) bool
}

// infusionAsIV treats a continuous infusion as the IV catalog entry. Patch
// and sublingual keep their own identity.
func infusionAsIV(k DrugKey) DrugKey {
	if k.Form == FormDrip {
		k.Form = FormIV
	}
	if k.Form == "" {
		k.Form = FormOral
	}
	return k
}

func always(warning, reason string) func(patient.Context, DrugKey) *Exclusion {
	return func(patient.Context, DrugKey) *Exclusion {
		return &Exclusion{Reason: reason, Warning: warning}
	}
}

func patchOnly(k DrugKey) bool { return k.Form == FormPatch }

var partialAgonistWarning = "is a partial agonist/antagonist and is excluded from the MME total (factor 0); it does not provide additive full-agonist exposure and may precipitate withdrawal."

var rules = map[BaseDrug]Rule{
	Morphine: {
		Fallback: map[Formulation]float64{FormOral: 1, FormIV: 3},
	},
	Hydromorphone: {
		Fallback: map[Formulation]float64{FormOral: 5, FormIV: 20},
	},
	Oxycodone: {
		Fallback: map[Formulation]float64{FormOral: 1.5},
	},
	Methadone: {
		Exclude: func(ctx patient.Context, _ DrugKey) *Exclusion {
			if !ctx.Perinatal() {
				return nil
			}
			return &Exclusion{
				Reason:  "perinatal methadone",
				Warning: "Methadone excluded from MME total during pregnancy/breastfeeding (factor 0): perinatal methadone dosing requires specialist obstetric/addiction management.",
			}
		},
	},
	Fentanyl: {
		Exclude: func(_ patient.Context, k DrugKey) *Exclusion {
			if k.Form != FormSublingual {
				return nil
			}
			return &Exclusion{
				Reason:  "variable bioavailability",
				Warning: "Sublingual/buccal fentanyl excluded from MME total (factor 0): bioavailability varies widely between products.",
			}
		},
		Fallback:   map[Formulation]float64{FormIV: 0.3, FormPatch: 2.4},
		Micrograms: func(DrugKey) bool { return true },
	},
	Buprenorphine: {
		Exclude: always("Buprenorphine "+partialAgonistWarning, "partial agonist"),
	},
	Butorphanol: {
		Exclude: always("Butorphanol "+partialAgonistWarning, "partial agonist"),
	},
	Nalbuphine: {
		Exclude: always("Nalbuphine "+partialAgonistWarning, "partial agonist"),
	},
}

// RuleFor returns the rule for base with defaults filled in.
func RuleFor(base BaseDrug) Rule {
	r := rules[base]
	if r.Canonical == nil {
		r.Canonical = infusionAsIV
	}
	if r.Exclude == nil {
		r.Exclude = func(patient.Context, DrugKey) *Exclusion { return nil }
	}
	if r.Micrograms == nil {
		r.Micrograms = patchOnly
	}
	return r
}

// Resolution is the outcome of running a DrugKey through the rule table and
// the catalog.
type Resolution struct {
	Input     DrugKey
	Canonical DrugKey
	Entry     Entry
	Found     bool
	Factor    float64
	Exclusion *Exclusion
	// Micrograms is true for microgram-dosed keys (fentanyl class, patches).
	Micrograms bool
}

// Excluded reports whether a clinical exclusion applied.
func (r Resolution) Excluded() bool { return r.Exclusion != nil }

// Unit is the dose unit for display, falling back to mg/mcg when the catalog
// has no entry.
func (r Resolution) Unit() string {
	if r.Found && r.Entry.Unit != "" {
		return r.Entry.Unit
	}
	if r.Micrograms {
		if r.Canonical.Form == FormPatch {
			return "mcg/hr"
		}
		return "mcg"
	}
	return "mg"
}

// Resolve applies the canonical key resolver, looks up the catalog, then
// applies the exclusion predicate. Exclusions win over catalog entries and
// over misses.
func (s *Service) Resolve(key DrugKey, ctx patient.Context) Resolution {
	rule := RuleFor(key.Base)
	canon := rule.Canonical(key)
	entry, found := s.Lookup(canon)

	res := Resolution{
		Input:      key,
		Canonical:  canon,
		Entry:      entry,
		Found:      found,
		Micrograms: rule.Micrograms(canon),
	}
	if ex := rule.Exclude(ctx, canon); ex != nil {
		res.Exclusion = ex
		return res
	}
	if found {
		res.Factor = entry.Factor
	}
	return res
}

// FactorSource says where a target factor came from.
type FactorSource string

const (
	SourceCatalog  FactorSource = "catalog"
	SourceFallback FactorSource = "fallback"
	SourceExcluded FactorSource = "excluded"
	SourceMissing  FactorSource = "missing"
)

// TargetFactor returns the factor to divide by when converting an MME total
// into key. It uses the catalog first and the rule table's fallback constant
// when the catalog has no entry.
func (s *Service) TargetFactor(key DrugKey, ctx patient.Context) (float64, FactorSource) {
	res := s.Resolve(key, ctx)
	switch {
	case res.Excluded():
		return 0, SourceExcluded
	case res.Found && res.Factor > 0:
		return res.Factor, SourceCatalog
	}
	if f, ok := RuleFor(key.Base).Fallback[res.Canonical.Form]; ok {
		s.logger.Warn().Str("drug", key.String()).Float64("fallback", f).Msg("catalog factor missing, using fallback")
		return f, SourceFallback
	}
	return 0, SourceMissing
}
