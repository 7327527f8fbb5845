// Package mme aggregates visible dose entries into a total morphine
// milligram equivalent with an audit trail and safety warnings.
package mme

import (
	"strconv"

	"github.com/ehr/mmecalc/internal/domain/conversion"
)

// DoseInput is one row from the calling layer. Dose is kept as typed so that
// non-numeric entries can be skipped here rather than rejected upstream.
type DoseInput struct {
	Drug    conversion.DrugKey `json:"drug"`
	Route   conversion.Route   `json:"route,omitempty"`
	Dose    string             `json:"dose"`
	Visible bool               `json:"visible"`
}

// Item is the per-input breakdown behind an audit line.
type Item struct {
	Drug     conversion.DrugKey `json:"drug"`
	Dose     float64            `json:"dose"`
	Unit     string             `json:"unit"`
	Factor   float64            `json:"factor"`
	MME      float64            `json:"mme"`
	Excluded bool               `json:"excluded,omitempty"`
	Missing  bool               `json:"missing,omitempty"`
}

// Result is the outcome of one aggregation pass.
type Result struct {
	TotalMME     float64  `json:"total_mme"`
	Undetermined bool     `json:"undetermined"`
	Warnings     []string `json:"warnings"`
	Audit        []string `json:"audit"`
	Guidance     string   `json:"guidance"`
	Items        []Item   `json:"items"`
	Exclusions   int      `json:"exclusions"`
	LookupMisses int      `json:"lookup_misses"`
}

// UndeterminedLabel is shown instead of "0.0" when excluded agents are present.
const UndeterminedLabel = "Undetermined"

// Display renders the total for a clinician. An undetermined total never
// renders as zero.
func (r Result) Display() string {
	if r.Undetermined {
		return UndeterminedLabel
	}
	return strconv.FormatFloat(r.TotalMME, 'f', 1, 64)
}

// Countable reports whether the total can seed target doses, tapers, and the
// methadone engine.
func (r Result) Countable() bool {
	return !r.Undetermined && r.TotalMME > 0
}
