// Package methadone converts a daily MME total into a methadone regimen using
// banded conversion ratios.
package methadone

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/ehr/mmecalc/internal/platform/refdata"
)

// InductionMethod selects how the rotation is staged.
type InductionMethod string

const (
	InductionRapid    InductionMethod = "rapid"
	InductionStepwise InductionMethod = "stepwise"
)

// Valid reports whether m is a known induction method.
func (m InductionMethod) Valid() bool {
	return m == InductionRapid || m == InductionStepwise
}

const (
	elderlyAge      = 65
	elderlyMinMME   = 60.0
	elderlyMaxMME   = 200.0
	elderlyRatio    = 20.0
	floorDailyMg    = 7.5
	floorMinMME     = 30.0
	dosesPerDay     = 3
	refusedNote     = "MME outside the supported conversion range: specialist consultation mandatory."
	elderlyOverride = "Age 65+: conservative 20:1 ratio applied."
	flooredNote     = "Minimum methadone dose of 7.5 mg/day applied."
)

// StaticWarnings are attached to every non-refused conversion.
var StaticWarnings = []string{
	"Obtain a baseline ECG and repeat after titration; methadone prolongs the QTc interval.",
	"Do not titrate more often than every 5-7 days; steady state is delayed.",
	"Peak respiratory depression may occur 3-5 days after starting or increasing the dose.",
	"Conversion ratios apply to rotation onto methadone only; do not use them to convert back.",
}

// Step is one stage of a stepwise induction.
type Step struct {
	Step              int     `json:"step"`
	MethadonePercent  int     `json:"methadone_percent"`
	DailyDoseMg       float64 `json:"daily_dose_mg"`
	IndividualDoseMg  float64 `json:"individual_dose_mg"`
	PreviousOpioidPct int     `json:"previous_opioid_percent"`
	PreviousOpioidMME float64 `json:"previous_opioid_mme"`
}

// Result is the outcome of one conversion. When Contraindicated is set the
// dose fields are zero and Ratio is undefined (0).
type Result struct {
	TotalMME         float64         `json:"total_mme"`
	Method           InductionMethod `json:"method"`
	Ratio            float64         `json:"ratio"`
	Contraindicated  bool            `json:"contraindicated"`
	ReductionApplied float64         `json:"reduction_applied,omitempty"`
	Capped           bool            `json:"capped,omitempty"`
	Floored          bool            `json:"floored,omitempty"`
	DailyDoseMg      float64         `json:"daily_dose_mg"`
	IndividualDoseMg float64         `json:"individual_dose_mg"`
	Warnings         []string        `json:"warnings"`
	Steps            []Step          `json:"steps,omitempty"`
}

// Engine applies the ratio bands.
type Engine struct {
	bands  []refdata.MethadoneBand
	logger zerolog.Logger
}

// NewEngine creates an engine over bands, which must be ordered and disjoint
// (refdata.Parse guarantees both).
func NewEngine(bands []refdata.MethadoneBand, logger zerolog.Logger) *Engine {
	return &Engine{
		bands:  bands,
		logger: logger.With().Str("component", "methadone-engine").Logger(),
	}
}

// Band returns the band containing mme.
func (e *Engine) Band(mme float64) (refdata.MethadoneBand, bool) {
	for _, b := range e.bands {
		if b.Contains(mme) {
			return b, true
		}
	}
	return refdata.MethadoneBand{}, false
}

// Convert computes the regimen for totalMME. Totals outside every band are
// refused with a contraindicated result.
func (e *Engine) Convert(totalMME float64, age int, method InductionMethod) Result {
	res := Result{TotalMME: totalMME, Method: method, Warnings: []string{}}

	band, ok := e.Band(totalMME)
	if !ok || !(totalMME > 0) {
		res.Contraindicated = true
		res.Warnings = append(res.Warnings, refusedNote)
		e.logger.Debug().Float64("total_mme", totalMME).Msg("methadone conversion refused")
		return res
	}

	res.Ratio = band.Ratio
	if band.Warning != "" {
		res.Warnings = append(res.Warnings, band.Warning)
	}
	if age >= elderlyAge && totalMME >= elderlyMinMME && totalMME < elderlyMaxMME {
		res.Ratio = elderlyRatio
		res.Warnings = append(res.Warnings, elderlyOverride)
	}

	daily := totalMME / res.Ratio
	if r := band.CrossToleranceReduction; r != nil && *r > 0 {
		daily *= 1 - *r
		res.ReductionApplied = *r
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Incomplete cross-tolerance: %.0f%% reduction applied.", *r*100))
	}
	if daily < floorDailyMg && totalMME >= floorMinMME {
		daily = floorDailyMg
		res.Floored = true
		res.Warnings = append(res.Warnings, flooredNote)
	}
	if c := band.MaxDailyDoseMg; c != nil && daily > *c {
		daily = *c
		res.Capped = true
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Daily dose capped at %g mg for this MME range.", *c))
	}

	res.IndividualDoseMg = tid(daily)
	res.DailyDoseMg = res.IndividualDoseMg * dosesPerDay
	res.Warnings = append(res.Warnings, StaticWarnings...)

	if method == InductionStepwise {
		res.Steps = stepwise(res.DailyDoseMg, totalMME)
	}

	e.logger.Debug().
		Float64("total_mme", totalMME).
		Float64("ratio", res.Ratio).
		Float64("daily_mg", res.DailyDoseMg).
		Str("method", string(method)).
		Msg("methadone conversion")
	return res
}

// tid splits a daily dose into three doses rounded to the nearest 0.5 mg.
func tid(daily float64) float64 {
	return math.Round(daily/dosesPerDay*2) / 2
}

var stepPercents = [3][2]int{{33, 66}, {66, 33}, {100, 0}}

func stepwise(finalDaily, previousMME float64) []Step {
	steps := make([]Step, 0, len(stepPercents))
	for i, p := range stepPercents {
		individual := tid(finalDaily * float64(p[0]) / 100)
		steps = append(steps, Step{
			Step:              i + 1,
			MethadonePercent:  p[0],
			IndividualDoseMg:  individual,
			DailyDoseMg:       individual * dosesPerDay,
			PreviousOpioidPct: p[1],
			PreviousOpioidMME: previousMME * float64(p[1]) / 100,
		})
	}
	return steps
}
