// Package taper generates phased, decaying dose schedules from a starting
// MME. Short tapers reduce by a fixed amount until the dose reaches 30% of
// the start, then by a percentage of the current dose; long tapers are
// percentage-based throughout.
package taper

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// Duration selects the period unit.
type Duration string

const (
	Short Duration = "short" // weekly periods
	Long  Duration = "long"  // monthly periods
)

// StepKind records which rule produced a step.
type StepKind string

const (
	KindLinear      StepKind = "linear"
	KindExponential StepKind = "exponential"
	KindHold        StepKind = "hold"
	KindForced      StepKind = "forced"
	KindDiscontinue StepKind = "discontinue"
)

const (
	// MaxPeriods is the hard cap on schedule length.
	MaxPeriods = 50

	linearPhaseFloor  = 0.30
	discontinueBelow  = 1.0
	minDecrement      = 1.0
	holdAboveDose     = 5.0
	forcedDecrement   = 2.0
	liquidAdvisoryMME = 10.0
)

// Instructions attached to steps.
const (
	InstructionHold        = "Hold Dose — Consolidate Decrement"
	InstructionDiscontinue = "Discontinue"
	InstructionLiquid      = "Consider liquid formulation for small decrements"
)

// Plan is the input to Generate.
type Plan struct {
	StartMME         float64  `json:"start_mme" validate:"gt=0"`
	Rate             float64  `json:"rate" validate:"gt=0,lt=1"`
	Duration         Duration `json:"duration" validate:"oneof=short long"`
	ConversionFactor float64  `json:"conversion_factor" validate:"gte=0"`
	DrugLabel        string   `json:"drug_label,omitempty"`
	DrugUnit         string   `json:"drug_unit,omitempty"`
	// Contraindication, when set, refuses the plan with that reason.
	Contraindication string `json:"contraindication,omitempty"`
}

// Step is one period of the schedule.
type Step struct {
	Period        int      `json:"period"`
	Label         string   `json:"label"`
	DoseMME       float64  `json:"dose_mme"`
	ConvertedDose float64  `json:"converted_dose"`
	Instruction   string   `json:"instruction,omitempty"`
	Kind          StepKind `json:"kind"`
}

// Schedule is the generated taper. Blocked is set when generation was
// refused; Truncated when the period cap was reached first.
type Schedule struct {
	Steps     []Step   `json:"steps"`
	Blocked   string   `json:"blocked,omitempty"`
	Truncated bool     `json:"truncated"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Generator builds taper schedules.
type Generator struct {
	logger zerolog.Logger
}

// NewGenerator creates a taper generator.
func NewGenerator(logger zerolog.Logger) *Generator {
	return &Generator{logger: logger.With().Str("component", "taper-generator").Logger()}
}

// Generate produces the schedule for p. Invalid plans and contraindicated
// target drugs (factor 0) return an empty schedule with Blocked set.
func (g *Generator) Generate(p Plan) Schedule {
	if reason := refuse(p); reason != "" {
		g.logger.Debug().Str("reason", reason).Msg("taper not generated")
		return Schedule{Steps: []Step{}, Blocked: reason}
	}

	unit := "Week"
	if p.Duration == Long {
		unit = "Month"
	}

	var (
		s       = Schedule{Steps: make([]Step, 0, 16)}
		orig    = p.StartMME
		current = p.StartMME
		held    bool
	)

	for period := 1; period <= MaxPeriods; period++ {
		step := Step{Period: period, Label: fmt.Sprintf("%s %d", unit, period)}

		var drop float64
		if p.Duration == Short && current > linearPhaseFloor*orig {
			drop = p.Rate * orig
			step.Kind = KindLinear
		} else {
			drop = p.Rate * current
			step.Kind = KindExponential
		}

		switch {
		case held:
			drop = forcedDecrement
			held = false
			step.Kind = KindForced
		case drop < minDecrement && current > holdAboveDose:
			held = true
			step.Kind = KindHold
			step.DoseMME = current
			step.Instruction = InstructionHold
			s.Steps = append(s.Steps, g.finish(step, p))
			continue
		}

		next := current - drop
		if next < discontinueBelow {
			step.Kind = KindDiscontinue
			step.DoseMME = 0
			step.Instruction = InstructionDiscontinue
			s.Steps = append(s.Steps, g.finish(step, p))
			return s
		}
		current = next
		step.DoseMME = current
		s.Steps = append(s.Steps, g.finish(step, p))
	}

	s.Truncated = true
	s.Warnings = append(s.Warnings, fmt.Sprintf(
		"Taper did not reach discontinuation within %d periods (last dose %.1f MME); review the reduction rate.",
		MaxPeriods, current))
	g.logger.Debug().Float64("start_mme", orig).Float64("rate", p.Rate).Msg("taper truncated at period cap")
	return s
}

// finish fills the converted dose and the liquid advisory.
func (g *Generator) finish(step Step, p Plan) Step {
	step.ConvertedDose = step.DoseMME / p.ConversionFactor
	if step.DoseMME > 0 && step.DoseMME < liquidAdvisoryMME {
		if step.Instruction == "" {
			step.Instruction = InstructionLiquid
		} else {
			step.Instruction += "; " + InstructionLiquid
		}
	}
	return step
}

func refuse(p Plan) string {
	switch {
	case p.Contraindication != "":
		return "target drug is contraindicated: " + p.Contraindication
	case p.ConversionFactor <= 0 || math.IsNaN(p.ConversionFactor):
		return "target drug is contraindicated or has no conversion factor"
	case !(p.StartMME > 0) || math.IsInf(p.StartMME, 0):
		return "starting MME must be greater than 0"
	case !(p.Rate > 0 && p.Rate < 1):
		return "reduction rate must be between 0 and 1"
	case p.Duration != Short && p.Duration != Long:
		return fmt.Sprintf("unknown taper duration %q", p.Duration)
	}
	return ""
}
