package targetdose

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ehr/mmecalc/internal/domain/conversion"
	"github.com/ehr/mmecalc/internal/domain/patient"
	"github.com/ehr/mmecalc/internal/platform/refdata"
)

// FactorSource is the slice of the conversion service the generator needs.
type FactorSource interface {
	TargetFactor(key conversion.DrugKey, ctx patient.Context) (float64, conversion.FactorSource)
}

// Candidates are the fixed alternate drugs, in generation order.
var Candidates = []conversion.DrugKey{
	conversion.Key(conversion.Oxycodone, conversion.FormOral),
	conversion.Key(conversion.Hydromorphone, conversion.FormOral),
	conversion.Key(conversion.Morphine, conversion.FormIV),
	conversion.Key(conversion.Hydromorphone, conversion.FormIV),
	conversion.Key(conversion.Fentanyl, conversion.FormIV),
}

// patchMcgHrPerMME converts an MME/day total into transdermal mcg/hr.
const patchMcgHrPerMME = 0.5

// Generator produces target dose sets.
type Generator struct {
	factors FactorSource
	patch   refdata.PatchSizes
	logger  zerolog.Logger
}

// NewGenerator creates a generator. patch carries the commercial strengths.
func NewGenerator(factors FactorSource, patch refdata.PatchSizes, logger zerolog.Logger) *Generator {
	return &Generator{
		factors: factors,
		patch:   patch,
		logger:  logger.With().Str("component", "target-dose-generator").Logger(),
	}
}

// Generate derives the candidate set from totalMME after the cross-tolerance
// reductionPercent (0.25 means 25%). A non-positive reduced total yields an
// empty set.
func (g *Generator) Generate(totalMME, reductionPercent float64, ctx patient.Context) Set {
	ctx = ctx.Normalized()
	if reductionPercent < 0 || math.IsNaN(reductionPercent) {
		reductionPercent = 0
	}
	reduced := totalMME * (1 - reductionPercent)
	if reduced <= 0 || math.IsNaN(reduced) || math.IsInf(reduced, 0) {
		return Set{Targets: []TargetDose{}}
	}

	set := Set{ReducedMME: reduced, Targets: make([]TargetDose, 0, len(Candidates))}
	for _, key := range Candidates {
		set.Targets = append(set.Targets, g.candidate(key, reduced, ctx))
	}
	sortTargets(set.Targets, ctx)

	p := g.patchFor(reduced, ctx)
	set.Patch = &p

	survivors := 0
	for _, t := range set.Targets {
		if t.Numeric() {
			survivors++
		}
	}
	if survivors == 1 {
		set.Advisories = append(set.Advisories, SingleTargetAdvisory)
	}

	g.logger.Debug().
		Float64("reduced_mme", reduced).
		Int("survivors", survivors).
		Msg("generated target doses")
	return set
}

func (g *Generator) candidate(key conversion.DrugKey, reduced float64, ctx patient.Context) TargetDose {
	factor, src := g.factors.TargetFactor(key, ctx)
	t := TargetDose{
		Drug:         key,
		Route:        key.Route(),
		Unit:         unitFor(key),
		Status:       StatusOK,
		Factor:       factor,
		FactorSource: src,
	}
	if factor <= 0 {
		t.Status = StatusConsult
		t.Notes = append(t.Notes, "No conversion factor available for "+key.Label()+".")
		return t
	}
	t.Original = reduced / factor
	applySafety(&t, ctx)
	return t
}

// Assess runs the safety rules for a single drug without a dose, so callers
// outside the target table (the taper) can honour the same AVOID/CONSULT
// decisions.
func (g *Generator) Assess(key conversion.DrugKey, ctx patient.Context) TargetDose {
	return g.candidate(key, 1, ctx.Normalized())
}

func unitFor(key conversion.DrugKey) string {
	if key.Base == conversion.Fentanyl {
		return "mcg"
	}
	return "mg"
}

// sortTargets orders rows by route: the preferred route first when the gut
// works, IV first when it does not. The sort is stable so ties keep
// generation order.
func sortTargets(targets []TargetDose, ctx patient.Context) {
	first := conversion.RouteIV
	if ctx.GI == patient.GIIntact {
		first = conversion.Route(ctx.RoutePreference)
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Route == first && targets[j].Route != first
	})
}

// patchFor rounds the raw transdermal strength down to a commercial size.
func (g *Generator) patchFor(reduced float64, ctx patient.Context) Patch {
	p := Patch{RawMcgHr: reduced * patchMcgHrPerMME * ctx.AgeMultiplier()}

	if p.RawMcgHr < g.patch.MinInitiationMcgHr {
		p.TooLow = true
		p.Notes = append(p.Notes, TooLowNote)
	} else {
		for _, s := range g.patch.SizesMcgHr {
			if s <= p.RawMcgHr {
				p.SizeMcgHr = s
			}
		}
		if n := len(g.patch.SizesMcgHr); n > 0 && p.RawMcgHr >= g.patch.SizesMcgHr[n-1]*2 {
			p.Notes = append(p.Notes, "Requirement exceeds twice the largest single patch; combining patches needs specialist oversight.")
		}
	}

	if ctx.Tolerance == patient.ToleranceNaive {
		p.Contraindicated = true
		p.Notes = append(p.Notes, "AVOID: transdermal fentanyl is contraindicated in opioid-naive patients.")
	}
	if ctx.Pain == patient.PainAcute {
		p.Notes = append(p.Notes, "Transdermal fentanyl is not appropriate for acute pain (12-24 h onset).")
	}
	return p
}
