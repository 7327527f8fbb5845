// Package targetdose derives safety-adjusted alternate-drug doses from a
// reduced MME total.
package targetdose

import (
	"strconv"

	"github.com/ehr/mmecalc/internal/domain/conversion"
)

// Status marks whether a row carries a usable number.
type Status string

const (
	StatusOK      Status = "ok"
	StatusAvoid   Status = "AVOID"
	StatusConsult Status = "CONSULT"
)

// TargetDose is one candidate row. Sentinel rows (AVOID/CONSULT) are kept in
// the list with Adjusted and Breakthrough zeroed; Original is always set.
type TargetDose struct {
	Drug         conversion.DrugKey      `json:"drug"`
	Route        conversion.Route        `json:"route"`
	Unit         string                  `json:"unit"`
	Status       Status                  `json:"status"`
	Adjusted     float64                 `json:"adjusted"`
	Breakthrough float64                 `json:"breakthrough"`
	Original     float64                 `json:"original"`
	Factor       float64                 `json:"factor"`
	FactorSource conversion.FactorSource `json:"factor_source"`
	Notes        []string                `json:"notes,omitempty"`
}

// Numeric reports whether the row survived contraindication filtering.
func (t TargetDose) Numeric() bool {
	return t.Status == StatusOK
}

// Display renders the adjusted total, or the sentinel.
func (t TargetDose) Display() string {
	if !t.Numeric() {
		return string(t.Status)
	}
	return strconv.FormatFloat(t.Adjusted, 'f', 1, 64) + " " + t.Unit + "/day"
}

// Patch is the transdermal fentanyl recommendation.
type Patch struct {
	RawMcgHr        float64  `json:"raw_mcg_hr"`
	SizeMcgHr       float64  `json:"size_mcg_hr"`
	TooLow          bool     `json:"too_low"`
	Contraindicated bool     `json:"contraindicated"`
	Notes           []string `json:"notes,omitempty"`
}

// TooLowNote is reported when the raw patch strength is below the smallest
// initiation size.
const TooLowNote = "Too low for patch: use a short-acting agent until requirements are established."

// Display renders the selected strength or the reason none was selected.
func (p Patch) Display() string {
	switch {
	case p.Contraindicated:
		return string(StatusAvoid)
	case p.TooLow:
		return "too low for patch"
	default:
		return strconv.FormatFloat(p.SizeMcgHr, 'f', -1, 64) + " mcg/hr"
	}
}

// Set is the full output of one generation pass.
type Set struct {
	ReducedMME float64      `json:"reduced_mme"`
	Targets    []TargetDose `json:"targets"`
	Patch      *Patch       `json:"patch,omitempty"`
	Advisories []string     `json:"advisories,omitempty"`
}

// SingleTargetAdvisory is appended when only one numeric target survives.
const SingleTargetAdvisory = "Single target generated — specialist consult recommended."
