package mme

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/mmecalc/internal/domain/conversion"
	"github.com/ehr/mmecalc/internal/domain/patient"
)

// Thresholds for cumulative warnings, in MME/day.
const (
	NaloxoneThreshold     = 50.0
	HighRiskThreshold     = 90.0
	microgramSanityCutoff = 10.0
)

// Resolver is the slice of the conversion service the aggregator needs.
type Resolver interface {
	Resolve(key conversion.DrugKey, ctx patient.Context) conversion.Resolution
}

// Aggregator computes MME totals. It holds no per-pass state.
type Aggregator struct {
	factors Resolver
	logger  zerolog.Logger
}

// NewAggregator creates an aggregator over the given factor resolver.
func NewAggregator(factors Resolver, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		factors: factors,
		logger:  logger.With().Str("component", "mme-aggregator").Logger(),
	}
}

// ParseDose returns the dose as a positive finite number. ok is false for
// anything that must be skipped silently.
func ParseDose(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

// keyForRoute folds the route classification into the drug key when the
// caller picked a bare drug and a non-oral route.
func keyForRoute(in DoseInput) conversion.DrugKey {
	k := in.Drug
	if k.Form != "" && k.Form != conversion.FormOral {
		return k
	}
	switch in.Route {
	case conversion.RouteIV:
		k.Form = conversion.FormIV
	case conversion.RouteTransdermal:
		k.Form = conversion.FormPatch
	case conversion.RouteSL:
		k.Form = conversion.FormSublingual
	default:
		k.Form = conversion.FormOral
	}
	return k
}

// Aggregate runs one full pass over inputs.
func (a *Aggregator) Aggregate(inputs []DoseInput, ctx patient.Context) Result {
	ctx = ctx.Normalized()
	var (
		res     Result
		warn    = newWarnings()
		present = make(map[conversion.BaseDrug]bool)
	)

	for _, in := range inputs {
		if !in.Visible {
			continue
		}
		dose, ok := ParseDose(in.Dose)
		if !ok {
			continue
		}

		key := keyForRoute(in)
		r := a.factors.Resolve(key, ctx)
		unit := r.Unit()
		present[key.Base] = true

		if r.Micrograms && dose < microgramSanityCutoff {
			warn.add(fmt.Sprintf("%s dose of %s %s is unusually low: verify micrograms not milligrams.",
				key.Label(), fmtNum(dose), unit))
		}

		item := Item{Drug: key, Dose: dose, Unit: unit}
		switch {
		case r.Excluded():
			item.Excluded = true
			res.Exclusions++
			warn.add(r.Exclusion.Warning)
			res.Audit = append(res.Audit, fmt.Sprintf("EXCLUDED: %s %s %s (%s) × 0 = 0 MME",
				fmtNum(dose), unit, key.Label(), r.Exclusion.Reason))
		case !r.Found:
			item.Missing = true
			res.LookupMisses++
			a.logger.Warn().Str("drug", key.String()).Str("canonical", r.Canonical.String()).Msg("conversion factor not found")
			warn.add(fmt.Sprintf("Data Error: factor not found for %s; %s %s was NOT counted in the MME total and must be investigated.",
				key.Label(), fmtNum(dose), unit))
			res.Audit = append(res.Audit, fmt.Sprintf("DATA ERROR: %s %s %s has no conversion factor = 0 MME counted",
				fmtNum(dose), unit, key.Label()))
		default:
			item.Factor = r.Factor
			item.MME = dose * r.Factor
			res.TotalMME += item.MME
			res.Audit = append(res.Audit, fmt.Sprintf("%s %s %s × %s = %.2f MME",
				fmtNum(dose), unit, key.Label(), fmtNum(r.Factor), item.MME))
			for _, w := range r.Entry.Warnings {
				warn.add(w)
			}
		}
		res.Items = append(res.Items, item)
	}

	a.postPass(&res, warn, present, ctx)

	res.Undetermined = res.TotalMME == 0 && res.Exclusions > 0
	res.Guidance = guidance(res)
	res.Warnings = warn.list()

	a.logger.Debug().
		Float64("total_mme", res.TotalMME).
		Bool("undetermined", res.Undetermined).
		Int("items", len(res.Items)).
		Int("exclusions", res.Exclusions).
		Int("lookup_misses", res.LookupMisses).
		Msg("aggregated doses")
	return res
}

var dialysisAvoid = []conversion.BaseDrug{conversion.Morphine, conversion.Codeine, conversion.Meperidine}

func (a *Aggregator) postPass(res *Result, warn *warnings, present map[conversion.BaseDrug]bool, ctx patient.Context) {
	if ctx.Renal == patient.RenalDialysis {
		for _, base := range dialysisAvoid {
			if present[base] {
				warn.add(fmt.Sprintf("Dialysis: avoid %s - renally cleared active metabolites accumulate and are poorly dialyzed.", base))
			}
		}
	}
	if ctx.Hepatic == patient.HepaticFailure && present[conversion.Hydromorphone] {
		warn.add("Hepatic failure: portosystemic shunting sharply raises oral hydromorphone bioavailability; reduce dose and monitor for sedation.")
	}

	switch ctx.Tolerance {
	case patient.ToleranceNaltrexone:
		warn.add("Naltrexone on board: opioid blockade may make full-agonist doses ineffective, then dangerous as blockade wanes.")
	case patient.ToleranceBuprenorphine:
		warn.add("Buprenorphine maintenance: full-agonist analgesia needs high-affinity agents; involve addiction/pain specialist.")
	case patient.ToleranceMethadone:
		warn.add("Methadone maintenance: baseline dose provides little analgesia; continue it and treat pain separately.")
	case patient.ToleranceNaive:
		if res.TotalMME > 0 {
			warn.add("Opioid-naive: converted totals are not a starting dose; begin at the lowest effective dose.")
		}
	}

	risk := ctx.Comorbidities.Any()
	if res.TotalMME > NaloxoneThreshold || risk {
		warn.add("Naloxone recommended: co-prescribe naloxone and provide overdose education.")
	}
	if res.TotalMME > HighRiskThreshold || risk {
		warn.add("High overdose risk: total exceeds 90 MME/day or risk factors present (benzodiazepines, sleep apnea, prior overdose).")
	}
}

func guidance(r Result) string {
	switch {
	case r.Undetermined:
		return "MME undetermined: excluded agents are present, so the total cannot be read as zero risk."
	case r.TotalMME == 0:
		return "No countable opioid exposure entered."
	case r.TotalMME < NaloxoneThreshold:
		return "Below 50 MME/day: reassess benefits and risks at every dose change."
	case r.TotalMME < HighRiskThreshold:
		return "50-90 MME/day: carefully reassess benefit, offer naloxone, and avoid routine escalation."
	default:
		return "90+ MME/day: avoid further escalation or document justification; offer naloxone and consider a taper."
	}
}

// fmtNum formats a number without trailing zeros.
func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// warnings keeps insertion order and drops duplicates.
type warnings struct {
	seen  map[string]bool
	items []string
}

func newWarnings() *warnings {
	return &warnings{seen: make(map[string]bool)}
}

func (w *warnings) add(s string) {
	if s == "" || w.seen[s] {
		return
	}
	w.seen[s] = true
	w.items = append(w.items, s)
}

func (w *warnings) list() []string {
	if w.items == nil {
		return []string{}
	}
	return w.items
}
