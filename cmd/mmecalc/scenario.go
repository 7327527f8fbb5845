package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ehr/mmecalc/internal/domain/calc"
	"github.com/ehr/mmecalc/internal/domain/conversion"
	"github.com/ehr/mmecalc/internal/domain/methadone"
	"github.com/ehr/mmecalc/internal/domain/mme"
	"github.com/ehr/mmecalc/internal/domain/patient"
	"github.com/ehr/mmecalc/internal/domain/taper"
)

// scenario is the on-disk shape of a calc run: a patient profile, optional
// setting overrides and the dose list.
type scenario struct {
	Patient  patient.Context  `yaml:"patient"`
	Settings scenarioSettings `yaml:"settings"`
	Doses    []scenarioDose   `yaml:"doses" validate:"dive"`
}

type scenarioSettings struct {
	ReductionPercent   *float64 `yaml:"reduction_percent" validate:"omitempty,gte=0,lt=1"`
	TaperRate          *float64 `yaml:"taper_rate" validate:"omitempty,gt=0,lt=1"`
	TaperDuration      string   `yaml:"taper_duration" validate:"omitempty,oneof=short long"`
	TaperDrug          string   `yaml:"taper_drug"`
	MethadoneInduction string   `yaml:"methadone_induction" validate:"omitempty,oneof=rapid stepwise"`
}

// scenarioDose keeps Dose as text: non-numeric entries are skipped by the
// aggregator, not rejected here.
type scenarioDose struct {
	Drug   string `yaml:"drug" validate:"required"`
	Route  string `yaml:"route" validate:"omitempty,oneof=po iv transdermal sl"`
	Dose   string `yaml:"dose"`
	Hidden bool   `yaml:"hidden"`
}

var validate = validator.New()

func loadScenario(path string) (*scenario, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return parseScenario(content)
}

func parseScenario(content []byte) (*scenario, error) {
	sc := &scenario{}
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := validate.Struct(sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if err := sc.Patient.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// State converts the scenario into engine input, filling settings the file
// leaves out from defaults.
func (sc *scenario) State(defaults calc.Settings) (calc.State, error) {
	st := calc.State{
		Patient:  sc.Patient.Normalized(),
		Settings: defaults,
		Doses:    make([]mme.DoseInput, 0, len(sc.Doses)),
	}

	s := sc.Settings
	if s.ReductionPercent != nil {
		st.Settings.ReductionPercent = *s.ReductionPercent
	}
	if s.TaperRate != nil {
		st.Settings.TaperRate = *s.TaperRate
	}
	if s.TaperDuration != "" {
		st.Settings.TaperDuration = taper.Duration(s.TaperDuration)
	}
	if s.MethadoneInduction != "" {
		st.Settings.MethadoneInduction = methadone.InductionMethod(s.MethadoneInduction)
	}
	if s.TaperDrug != "" {
		key, err := conversion.ParseDrugID(s.TaperDrug)
		if err != nil {
			return calc.State{}, fmt.Errorf("settings.taper_drug: %w", err)
		}
		st.Settings.TaperDrug = key
	}
	if err := st.Settings.Validate(); err != nil {
		return calc.State{}, err
	}

	for i, d := range sc.Doses {
		key, err := conversion.ParseDrugID(d.Drug)
		if err != nil {
			return calc.State{}, fmt.Errorf("doses[%d]: %w", i, err)
		}
		st.Doses = append(st.Doses, mme.DoseInput{
			Drug:    key,
			Route:   conversion.Route(d.Route),
			Dose:    d.Dose,
			Visible: !d.Hidden,
		})
	}
	return st, nil
}
