package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ehr/mmecalc/internal/domain/calc"
	"github.com/ehr/mmecalc/internal/domain/conversion"
	"github.com/ehr/mmecalc/internal/domain/methadone"
	"github.com/ehr/mmecalc/internal/domain/taper"
)

func renderSnapshot(w io.Writer, snap *calc.Snapshot) {
	res := snap.MME
	fmt.Fprintf(w, "Pass %s (revision %d)\n", snap.PassID, snap.Revision)
	fmt.Fprintf(w, "Total MME/day: %s\n", res.Display())
	fmt.Fprintf(w, "Guidance: %s\n", res.Guidance)

	section(w, "Audit")
	for _, line := range res.Audit {
		fmt.Fprintf(w, "  %s\n", line)
	}
	section(w, "Warnings")
	for _, line := range res.Warnings {
		fmt.Fprintf(w, "  - %s\n", line)
	}

	section(w, "Target doses")
	if len(snap.Targets.Targets) == 0 {
		fmt.Fprintln(w, "  none (no countable total)")
	} else {
		fmt.Fprintf(w, "  after %.0f%% cross-tolerance reduction: %.1f MME/day\n",
			snap.State.Settings.ReductionPercent*100, snap.Targets.ReducedMME)
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  DRUG\tDAILY\tBREAKTHROUGH\tNOTES")
		for _, t := range snap.Targets.Targets {
			bt := "-"
			if t.Numeric() {
				bt = fmt.Sprintf("%.1f %s", t.Breakthrough, t.Unit)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", t.Drug.Label(), t.Display(), bt, strings.Join(t.Notes, " "))
		}
		tw.Flush()
		if p := snap.Targets.Patch; p != nil {
			fmt.Fprintf(w, "  Fentanyl patch: %s (raw %.1f mcg/hr)\n", p.Display(), p.RawMcgHr)
			for _, n := range p.Notes {
				fmt.Fprintf(w, "    - %s\n", n)
			}
		}
		for _, a := range snap.Targets.Advisories {
			fmt.Fprintf(w, "  ! %s\n", a)
		}
	}

	section(w, "Taper")
	renderTaper(w, snap.Taper, snap.TaperDrug)

	section(w, "Methadone")
	renderMethadone(w, snap.Methadone)
}

func renderTaper(w io.Writer, s taper.Schedule, drug conversion.DrugKey) {
	if s.Blocked != "" {
		fmt.Fprintf(w, "  not generated: %s\n", s.Blocked)
		return
	}
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "  PERIOD\tMME/DAY\t%s\tINSTRUCTION\n", strings.ToUpper(drug.Label()))
	for _, st := range s.Steps {
		fmt.Fprintf(tw, "  %s\t%.1f\t%.2f\t%s\n", st.Label, st.DoseMME, st.ConvertedDose, st.Instruction)
	}
	tw.Flush()
	for _, wn := range s.Warnings {
		fmt.Fprintf(w, "  ! %s\n", wn)
	}
}

func renderMethadone(w io.Writer, r methadone.Result) {
	if r.Contraindicated {
		fmt.Fprintln(w, "  CONTRAINDICATED")
	} else {
		fmt.Fprintf(w, "  Ratio %g:1, %.1f mg/day as %.1f mg TID\n", r.Ratio, r.DailyDoseMg, r.IndividualDoseMg)
		for _, st := range r.Steps {
			fmt.Fprintf(w, "  Step %d: %d%% methadone %.1f mg TID, previous opioid %d%% (%.1f MME)\n",
				st.Step, st.MethadonePercent, st.IndividualDoseMg, st.PreviousOpioidPct, st.PreviousOpioidMME)
		}
	}
	for _, wn := range r.Warnings {
		fmt.Fprintf(w, "  - %s\n", wn)
	}
}

func renderFactors(w io.Writer, version string, entries []conversion.Entry) {
	fmt.Fprintf(w, "Reference data %s\n", version)
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DRUG\tUNIT\tFACTOR\tEVIDENCE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%g\t%s\n", e.Key, e.Unit, e.Factor, e.Evidence)
	}
	tw.Flush()
}

func section(w io.Writer, title string) {
	fmt.Fprintf(w, "\n== %s ==\n", title)
}
