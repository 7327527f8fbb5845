// Package calc wires the conversion, aggregation, target-dose, taper and
// methadone components into a single calculation pass, and owns the reactive
// session that republishes a snapshot whenever its inputs change.
package calc

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/mmecalc/internal/domain/conversion"
	"github.com/ehr/mmecalc/internal/domain/methadone"
	"github.com/ehr/mmecalc/internal/domain/mme"
	"github.com/ehr/mmecalc/internal/domain/patient"
	"github.com/ehr/mmecalc/internal/domain/taper"
	"github.com/ehr/mmecalc/internal/domain/targetdose"
	"github.com/ehr/mmecalc/internal/platform/refdata"
)

// Settings are the clinician-adjustable knobs that are not patient facts.
type Settings struct {
	ReductionPercent   float64                   `yaml:"reduction_percent" json:"reduction_percent" validate:"gte=0,lt=1"`
	TaperRate          float64                   `yaml:"taper_rate" json:"taper_rate" validate:"gt=0,lt=1"`
	TaperDuration      taper.Duration            `yaml:"taper_duration" json:"taper_duration" validate:"oneof=short long"`
	TaperDrug          conversion.DrugKey        `yaml:"taper_drug" json:"taper_drug"`
	MethadoneInduction methadone.InductionMethod `yaml:"methadone_induction" json:"methadone_induction" validate:"oneof=rapid stepwise"`
}

// DefaultSettings returns a 25% cross-tolerance reduction, a 10% short taper
// onto oral oxycodone, and rapid methadone induction.
func DefaultSettings() Settings {
	return Settings{
		ReductionPercent:   0.25,
		TaperRate:          0.10,
		TaperDuration:      taper.Short,
		TaperDrug:          conversion.Key(conversion.Oxycodone, conversion.FormOral),
		MethadoneInduction: methadone.InductionRapid,
	}
}

var validate = validator.New()

// Validate checks ranges and enum membership.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.TaperDrug.Base == "" {
		return fmt.Errorf("invalid settings: taper drug is required")
	}
	return nil
}

// State is the full input to one pass.
type State struct {
	Doses    []mme.DoseInput `json:"doses"`
	Patient  patient.Context `json:"patient"`
	Settings Settings        `json:"settings"`
}

// clone copies the dose slice so the snapshot never aliases caller memory.
func (s State) clone() State {
	doses := make([]mme.DoseInput, len(s.Doses))
	copy(doses, s.Doses)
	s.Doses = doses
	return s
}

// Snapshot is one published pass. Every field is derived from State; nothing
// is carried over from earlier passes.
type Snapshot struct {
	PassID     uuid.UUID          `json:"pass_id"`
	Revision   uint64             `json:"revision"`
	ComputedAt time.Time          `json:"computed_at"`
	Elapsed    time.Duration      `json:"elapsed"`
	State      State              `json:"state"`
	MME        mme.Result         `json:"mme"`
	Targets    targetdose.Set     `json:"targets"`
	Taper      taper.Schedule     `json:"taper"`
	Methadone  methadone.Result   `json:"methadone"`
	TaperDrug  conversion.DrugKey `json:"taper_drug"`
}

// Calculator runs passes. It holds no per-pass state and is safe for
// concurrent use.
type Calculator struct {
	factors   *conversion.Service
	aggregate *mme.Aggregator
	targets   *targetdose.Generator
	tapers    *taper.Generator
	methadone *methadone.Engine
	version   string
	logger    zerolog.Logger
	now       func() time.Time
}

// NewCalculator builds every component from one reference-data bundle.
func NewCalculator(bundle refdata.Bundle, logger zerolog.Logger) *Calculator {
	factors := conversion.NewServiceFromBundle(bundle, logger)
	return &Calculator{
		factors:   factors,
		aggregate: mme.NewAggregator(factors, logger),
		targets:   targetdose.NewGenerator(factors, bundle.Patch, logger),
		tapers:    taper.NewGenerator(logger),
		methadone: methadone.NewEngine(bundle.MethadoneBands, logger),
		version:   bundle.Version,
		logger:    logger.With().Str("component", "calculator").Logger(),
		now:       time.Now,
	}
}

// Factors exposes the conversion service the calculator was built with.
func (c *Calculator) Factors() *conversion.Service { return c.factors }

// Version is the reference-data version in use.
func (c *Calculator) Version() string { return c.version }

// NoTotalReason is the Blocked reason on a taper when there is no countable
// MME total to taper from.
const NoTotalReason = "no countable MME total"

// Calculate runs one full pass over s. It never fails: every fault surfaces as
// a warning, an AVOID/CONSULT row, or a refused sub-result.
func (c *Calculator) Calculate(s State) *Snapshot {
	start := c.now()
	s = s.clone()
	ctx := s.Patient.Normalized()

	snap := &Snapshot{
		PassID:     uuid.New(),
		ComputedAt: start,
		State:      s,
		TaperDrug:  s.Settings.TaperDrug,
	}

	snap.MME = c.aggregate.Aggregate(s.Doses, ctx)
	total := snap.MME.TotalMME
	if snap.MME.Undetermined {
		total = 0
	}

	snap.Targets = c.targets.Generate(total, s.Settings.ReductionPercent, ctx)
	if snap.MME.Countable() {
		snap.Taper = c.Taper(total, s.Settings, ctx)
	} else {
		snap.Taper = taper.Schedule{Steps: []taper.Step{}, Blocked: NoTotalReason}
	}
	snap.Methadone = c.Methadone(total, ctx.Age, s.Settings.MethadoneInduction)

	snap.Elapsed = c.now().Sub(start)
	c.logger.Debug().
		Str("pass_id", snap.PassID.String()).
		Str("total_mme", snap.MME.Display()).
		Int("targets", len(snap.Targets.Targets)).
		Int("taper_steps", len(snap.Taper.Steps)).
		Bool("methadone_contraindicated", snap.Methadone.Contraindicated).
		Msg("calculation pass")
	return snap
}

// Taper builds a schedule from startMME onto the settings' taper drug.
func (c *Calculator) Taper(startMME float64, st Settings, ctx patient.Context) taper.Schedule {
	ctx = ctx.Normalized()
	res := c.factors.Resolve(st.TaperDrug, ctx)
	factor, _ := c.factors.TargetFactor(st.TaperDrug, ctx)
	plan := taper.Plan{
		StartMME:         startMME,
		Rate:             st.TaperRate,
		Duration:         st.TaperDuration,
		ConversionFactor: factor,
		DrugLabel:        st.TaperDrug.Label(),
		DrugUnit:         res.Unit(),
	}
	// A drug the target table marks AVOID or CONSULT is never tapered onto.
	if a := c.targets.Assess(st.TaperDrug, ctx); !a.Numeric() {
		plan.ConversionFactor = 0
		plan.Contraindication = string(a.Status)
		if n := len(a.Notes); n > 0 {
			plan.Contraindication += " (" + a.Notes[n-1] + ")"
		}
	}
	return c.tapers.Generate(plan)
}

// Methadone runs the ratio engine on its own.
func (c *Calculator) Methadone(totalMME float64, age int, method methadone.InductionMethod) methadone.Result {
	return c.methadone.Convert(totalMME, age, method)
}
