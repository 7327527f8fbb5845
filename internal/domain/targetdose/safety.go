package targetdose

import (
	"github.com/ehr/mmecalc/internal/domain/conversion"
	"github.com/ehr/mmecalc/internal/domain/patient"
)

// applySafety runs the age tier, the renal table, then the hepatic overrides
// on a candidate whose Original is already set.
func applySafety(t *TargetDose, ctx patient.Context) {
	value := t.Original

	switch m := ctx.AgeMultiplier(); {
	case m == 0.50:
		value *= m
		t.Notes = append(t.Notes, "Age 80+: dose reduced 50%.")
	case m == 0.75:
		value *= m
		t.Notes = append(t.Notes, "Age 60+: dose reduced 25%.")
	}

	base := t.Drug.Base
	switch base {
	case conversion.Hydromorphone:
		switch ctx.Renal {
		case patient.RenalDialysis:
			value *= 0.5
			t.Notes = append(t.Notes, "Dialysis: hydromorphone reduced 50%; metabolite H3G accumulates.")
		case patient.RenalImpaired:
			t.Notes = append(t.Notes, "Renal impairment: use hydromorphone with caution and extend the interval.")
		}
	case conversion.Morphine:
		switch ctx.Renal {
		case patient.RenalDialysis:
			t.Status = StatusAvoid
			t.Notes = append(t.Notes, "AVOID in dialysis: morphine-6/3-glucuronide accumulate.")
		case patient.RenalImpaired:
			t.Notes = append(t.Notes, "Renal impairment: morphine metabolites accumulate; monitor closely.")
		}
	case conversion.Oxycodone:
		if ctx.Renal.Abnormal() {
			value *= 0.75
			t.Notes = append(t.Notes, "Renal impairment: oxycodone reduced 25%.")
		}
	case conversion.Fentanyl:
		if ctx.Renal.Abnormal() {
			t.Notes = append(t.Notes, "Fentanyl has no renally cleared active metabolites.")
		}
	}

	switch ctx.Hepatic {
	case patient.HepaticFailure:
		switch {
		case base == conversion.Hydromorphone && t.Drug.Form == conversion.FormOral:
			t.Status = StatusConsult
			t.Notes = []string{"CONSULT: hepatic failure with portosystemic shunting makes oral hydromorphone unpredictable."}
		case base != conversion.Fentanyl && t.Status == StatusOK:
			value *= 0.5
			t.Notes = append(t.Notes, "Hepatic failure: additional 50% reduction.")
		}
	case patient.HepaticImpaired:
		if base != conversion.Fentanyl {
			t.Notes = append(t.Notes, "Hepatic impairment: start low and lengthen the dosing interval.")
		}
	}

	if t.Status != StatusOK {
		t.Adjusted = 0
		t.Breakthrough = 0
		return
	}
	t.Adjusted = value
	t.Breakthrough = value * 0.10
}
