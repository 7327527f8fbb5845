// Package refdata loads the versioned opioid reference data bundle:
// conversion factors, commercial fentanyl patch sizes, and methadone
// MME-ratio bands. The bundle is read once at startup; guideline updates
// ship as a new YAML file rather than a code change.
package refdata

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Errors returned by Parse and Validate.
var (
	ErrEmptyBundle       = errors.New("reference data bundle is empty")
	ErrMissingVersion    = errors.New("reference data version is required")
	ErrOverlappingBands  = errors.New("methadone bands overlap or are out of order")
	ErrInvalidPatchSizes = errors.New("fentanyl patch sizes must be positive and ascending")
)

// FactorRecord is one row of the conversion catalog.
type FactorRecord struct {
	Drug     string   `yaml:"drug" json:"drug"`
	Form     string   `yaml:"form" json:"form"`
	Route    string   `yaml:"route" json:"route"`
	Unit     string   `yaml:"unit" json:"unit"`
	Factor   float64  `yaml:"factor" json:"factor"`
	Warnings []string `yaml:"warnings,omitempty" json:"warnings,omitempty"`
	Evidence string   `yaml:"evidence" json:"evidence"`
}

// PatchSizes lists the commercially available transdermal fentanyl strengths.
type PatchSizes struct {
	SizesMcgHr         []float64 `yaml:"sizes_mcg_hr" json:"sizes_mcg_hr"`
	MinInitiationMcgHr float64   `yaml:"min_initiation_mcg_hr" json:"min_initiation_mcg_hr"`
}

// MethadoneBand is one [MinMME, MaxMME) row of the methadone ratio table.
type MethadoneBand struct {
	MinMME                  float64  `yaml:"min_mme" json:"min_mme"`
	MaxMME                  float64  `yaml:"max_mme" json:"max_mme"`
	Ratio                   float64  `yaml:"ratio" json:"ratio"`
	MaxDailyDoseMg          *float64 `yaml:"max_daily_dose_mg,omitempty" json:"max_daily_dose_mg,omitempty"`
	CrossToleranceReduction *float64 `yaml:"cross_tolerance_reduction,omitempty" json:"cross_tolerance_reduction,omitempty"`
	Warning                 string   `yaml:"warning,omitempty" json:"warning,omitempty"`
}

// Contains reports whether mme falls inside the band.
func (b MethadoneBand) Contains(mme float64) bool {
	return mme >= b.MinMME && mme < b.MaxMME
}

// Bundle is the full reference data set.
type Bundle struct {
	Version        string          `yaml:"version" json:"version"`
	Source         string          `yaml:"source" json:"source"`
	Factors        []FactorRecord  `yaml:"factors" json:"factors"`
	Patch          PatchSizes      `yaml:"fentanyl_patch" json:"fentanyl_patch"`
	MethadoneBands []MethadoneBand `yaml:"methadone_bands" json:"methadone_bands"`
}

// Default returns the bundle compiled into the binary.
func Default() Bundle {
	b, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("refdata: embedded bundle is invalid: %v", err))
	}
	return b
}

// Load reads a bundle from path. An empty path returns the embedded default.
func Load(path string) (Bundle, error) {
	if path == "" {
		return Default(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Bundle{}, fmt.Errorf("read reference data: %w", err)
	}
	b, err := Parse(content)
	if err != nil {
		return Bundle{}, fmt.Errorf("parse reference data %s: %w", path, err)
	}
	return b, nil
}

// Parse decodes and validates a YAML bundle. Unknown keys are rejected so a
// misspelled field cannot silently drop a limit.
func Parse(data []byte) (Bundle, error) {
	var b Bundle
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return Bundle{}, fmt.Errorf("unmarshal reference data: %w", err)
	}
	sort.SliceStable(b.MethadoneBands, func(i, j int) bool {
		return b.MethadoneBands[i].MinMME < b.MethadoneBands[j].MinMME
	})
	if err := b.Validate(); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

// Validate checks the bundle for structural problems that would make a
// calculation silently wrong.
func (b Bundle) Validate() error {
	if b.Version == "" {
		return ErrMissingVersion
	}
	if len(b.Factors) == 0 {
		return ErrEmptyBundle
	}
	for i, f := range b.Factors {
		if f.Drug == "" {
			return fmt.Errorf("factors[%d]: drug is required", i)
		}
		if f.Unit == "" {
			return fmt.Errorf("factors[%d] (%s): unit is required", i, f.Drug)
		}
		if f.Factor < 0 {
			return fmt.Errorf("factors[%d] (%s): factor must be >= 0, got %v", i, f.Drug, f.Factor)
		}
	}

	if len(b.Patch.SizesMcgHr) == 0 {
		return ErrInvalidPatchSizes
	}
	for i, s := range b.Patch.SizesMcgHr {
		if s <= 0 || (i > 0 && s <= b.Patch.SizesMcgHr[i-1]) {
			return ErrInvalidPatchSizes
		}
	}
	if b.Patch.MinInitiationMcgHr <= 0 {
		return fmt.Errorf("fentanyl_patch.min_initiation_mcg_hr must be > 0")
	}

	if len(b.MethadoneBands) == 0 {
		return fmt.Errorf("methadone_bands: at least one band is required")
	}
	for i, band := range b.MethadoneBands {
		if band.Ratio <= 0 {
			return fmt.Errorf("methadone_bands[%d]: ratio must be > 0", i)
		}
		if band.MinMME < 0 || band.MaxMME <= band.MinMME {
			return fmt.Errorf("methadone_bands[%d]: invalid range [%v, %v)", i, band.MinMME, band.MaxMME)
		}
		if i > 0 && band.MinMME < b.MethadoneBands[i-1].MaxMME {
			return ErrOverlappingBands
		}
		if r := band.CrossToleranceReduction; r != nil && (*r < 0 || *r >= 1) {
			return fmt.Errorf("methadone_bands[%d]: cross_tolerance_reduction must be in [0, 1)", i)
		}
		if c := band.MaxDailyDoseMg; c != nil && *c <= 0 {
			return fmt.Errorf("methadone_bands[%d]: max_daily_dose_mg must be > 0", i)
		}
	}
	return nil
}
