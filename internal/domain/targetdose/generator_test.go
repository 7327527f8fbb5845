package targetdose

import (
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/mmecalc/internal/domain/conversion"
	"github.com/ehr/mmecalc/internal/domain/patient"
	"github.com/ehr/mmecalc/internal/platform/refdata"
)

func newTestGenerator() *Generator {
	svc := conversion.NewService(conversion.DefaultEntries(), "test", zerolog.Nop())
	return NewGenerator(svc, refdata.Default().Patch, zerolog.Nop())
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func find(t *testing.T, set Set, key conversion.DrugKey) TargetDose {
	t.Helper()
	for _, td := range set.Targets {
		if td.Drug == key {
			return td
		}
	}
	t.Fatalf("target %s not found", key)
	return TargetDose{}
}

var (
	oxyPO   = conversion.Key(conversion.Oxycodone, conversion.FormOral)
	hmPO    = conversion.Key(conversion.Hydromorphone, conversion.FormOral)
	morIV   = conversion.Key(conversion.Morphine, conversion.FormIV)
	hmIV    = conversion.Key(conversion.Hydromorphone, conversion.FormIV)
	fentaIV = conversion.Key(conversion.Fentanyl, conversion.FormIV)
)

// --- Basic generation ---

func TestGenerate_FiveCandidates(t *testing.T) {
	g := newTestGenerator()
	set := g.Generate(120, 0.25, patient.Default())
	if !approx(set.ReducedMME, 90) {
		t.Errorf("reduced = %v, want 90", set.ReducedMME)
	}
	if len(set.Targets) != 5 {
		t.Fatalf("got %d targets, want 5", len(set.Targets))
	}
	oxy := find(t, set, oxyPO)
	if !approx(oxy.Adjusted, 60) {
		t.Errorf("oxycodone = %v, want 60", oxy.Adjusted)
	}
	if !approx(oxy.Breakthrough, 6) {
		t.Errorf("oxycodone breakthrough = %v, want 6", oxy.Breakthrough)
	}
	if !approx(find(t, set, hmIV).Adjusted, 4.5) {
		t.Errorf("hydromorphone IV = %v, want 4.5", find(t, set, hmIV).Adjusted)
	}
	if f := find(t, set, fentaIV); !approx(f.Adjusted, 300) || f.Unit != "mcg" {
		t.Errorf("fentanyl IV = %v %s, want 300 mcg", f.Adjusted, f.Unit)
	}
	if len(set.Advisories) != 0 {
		t.Errorf("unexpected advisories: %v", set.Advisories)
	}
}

func TestGenerate_EmptyForZeroTotal(t *testing.T) {
	g := newTestGenerator()
	set := g.Generate(0, 0.25, patient.Default())
	if len(set.Targets) != 0 || set.Patch != nil {
		t.Errorf("expected empty set, got %+v", set)
	}
	set = g.Generate(100, 1.0, patient.Default())
	if len(set.Targets) != 0 {
		t.Errorf("100%% reduction should yield empty set, got %d", len(set.Targets))
	}
}

func TestGenerate_NegativeReductionTreatedAsZero(t *testing.T) {
	g := newTestGenerator()
	set := g.Generate(90, -0.5, patient.Default())
	if !approx(set.ReducedMME, 90) {
		t.Errorf("reduced = %v, want 90", set.ReducedMME)
	}
}

// --- Age tiers ---

func TestGenerate_AgeMultiplierBoundaries(t *testing.T) {
	g := newTestGenerator()
	tests := []struct {
		age  int
		mult float64
	}{
		{59, 1.0}, {60, 0.75}, {79, 0.75}, {80, 0.50},
	}
	for _, tt := range tests {
		ctx := patient.Default()
		ctx.Age = tt.age
		set := g.Generate(90, 0, ctx)
		oxy := find(t, set, oxyPO)
		if !approx(oxy.Original, 60) {
			t.Errorf("age %d: original = %v, want 60", tt.age, oxy.Original)
		}
		if !approx(oxy.Adjusted, 60*tt.mult) {
			t.Errorf("age %d: adjusted = %v, want %v", tt.age, oxy.Adjusted, 60*tt.mult)
		}
	}
}

// --- Renal table ---

func TestGenerate_DialysisMorphineAvoid(t *testing.T) {
	g := newTestGenerator()
	ctx := patient.Default()
	ctx.Renal = patient.RenalDialysis
	set := g.Generate(90, 0, ctx)
	m := find(t, set, morIV)
	if m.Status != StatusAvoid {
		t.Fatalf("status = %q, want AVOID", m.Status)
	}
	if m.Display() != "AVOID" {
		t.Errorf("display = %q, want AVOID", m.Display())
	}
	if !approx(m.Original, 30) {
		t.Errorf("original = %v, want 30 retained for display", m.Original)
	}
	if m.Adjusted != 0 || m.Breakthrough != 0 {
		t.Errorf("sentinel row must not carry numbers: %+v", m)
	}
}

func TestGenerate_DialysisHydromorphoneHalved(t *testing.T) {
	g := newTestGenerator()
	ctx := patient.Default()
	ctx.Renal = patient.RenalDialysis
	set := g.Generate(100, 0, ctx)
	if got := find(t, set, hmPO).Adjusted; !approx(got, 10) {
		t.Errorf("hydromorphone PO = %v, want 10", got)
	}
	if got := find(t, set, hmIV).Adjusted; !approx(got, 2.5) {
		t.Errorf("hydromorphone IV = %v, want 2.5", got)
	}
}

func TestGenerate_RenalImpairedAdvisoryOnly(t *testing.T) {
	g := newTestGenerator()
	ctx := patient.Default()
	ctx.Renal = patient.RenalImpaired
	set := g.Generate(100, 0, ctx)
	hm := find(t, set, hmPO)
	if !approx(hm.Adjusted, 20) {
		t.Errorf("hydromorphone PO = %v, want 20 (no numeric change)", hm.Adjusted)
	}
	if len(hm.Notes) == 0 {
		t.Error("expected renal advisory note on hydromorphone")
	}
	m := find(t, set, morIV)
	if m.Status != StatusOK || !approx(m.Adjusted, 100.0/3) {
		t.Errorf("morphine IV = %+v, want numeric advisory-only row", m)
	}
}

func TestGenerate_OxycodoneRenalReduction(t *testing.T) {
	g := newTestGenerator()
	for _, renal := range []patient.RenalStatus{patient.RenalImpaired, patient.RenalDialysis} {
		ctx := patient.Default()
		ctx.Renal = renal
		set := g.Generate(90, 0, ctx)
		if got := find(t, set, oxyPO).Adjusted; !approx(got, 45) {
			t.Errorf("%s: oxycodone = %v, want 45", renal, got)
		}
	}
}

// --- Hepatic overrides ---

func TestGenerate_HepaticFailureHydromorphonePOConsult(t *testing.T) {
	g := newTestGenerator()
	ctx := patient.Default()
	ctx.Hepatic = patient.HepaticFailure
	ctx.Renal = patient.RenalDialysis
	set := g.Generate(100, 0, ctx)
	hm := find(t, set, hmPO)
	if hm.Status != StatusConsult {
		t.Fatalf("status = %q, want CONSULT", hm.Status)
	}
	if len(hm.Notes) != 1 || !strings.HasPrefix(hm.Notes[0], "CONSULT") {
		t.Errorf("consult must supersede renal notes, got %v", hm.Notes)
	}
}

func TestGenerate_HepaticFailureStacksOnRenal(t *testing.T) {
	g := newTestGenerator()
	ctx := patient.Default()
	ctx.Hepatic = patient.HepaticFailure
	ctx.Renal = patient.RenalDialysis
	set := g.Generate(100, 0, ctx)
	// 100/20 = 5, dialysis x0.5 = 2.5, hepatic x0.5 = 1.25
	if got := find(t, set, hmIV).Adjusted; !approx(got, 1.25) {
		t.Errorf("hydromorphone IV = %v, want 1.25", got)
	}
	// 100/1.5 x0.75 x0.5
	if got := find(t, set, oxyPO).Adjusted; !approx(got, 100/1.5*0.75*0.5) {
		t.Errorf("oxycodone = %v", got)
	}
	if got := find(t, set, fentaIV).Adjusted; !approx(got, 100/0.3) {
		t.Errorf("fentanyl must be untouched by hepatic failure, got %v", got)
	}
	if find(t, set, morIV).Status != StatusAvoid {
		t.Error("morphine should stay AVOID")
	}
}

// --- Sorting ---

func TestAssess_MatchesTableStatus(t *testing.T) {
	g := newTestGenerator()
	ctx := patient.Default()
	ctx.Renal = patient.RenalDialysis

	set := g.Generate(100, 0.25, ctx)
	for _, key := range []conversion.DrugKey{oxyPO, hmPO, morIV, hmIV, fentaIV} {
		if got, want := g.Assess(key, ctx).Status, find(t, set, key).Status; got != want {
			t.Errorf("%s: Assess status = %s, table status = %s", key, got, want)
		}
	}
	if g.Assess(morIV, patient.Default()).Status != StatusOK {
		t.Error("morphine iv should be OK with normal renal function")
	}
}

func TestGenerate_SortPreferredRouteFirst(t *testing.T) {
	g := newTestGenerator()
	ctx := patient.Default()
	ctx.RoutePreference = patient.PreferIV
	set := g.Generate(90, 0, ctx)
	for i := 0; i < 3; i++ {
		if set.Targets[i].Route != conversion.RouteIV {
			t.Errorf("targets[%d] route = %s, want iv", i, set.Targets[i].Route)
		}
	}
	if set.Targets[0].Drug != morIV {
		t.Errorf("stable order broken: first = %s", set.Targets[0].Drug)
	}

	ctx.RoutePreference = patient.PreferOral
	set = g.Generate(90, 0, ctx)
	if set.Targets[0].Drug != oxyPO || set.Targets[1].Drug != hmPO {
		t.Errorf("PO preference: got %s, %s first", set.Targets[0].Drug, set.Targets[1].Drug)
	}
}

func TestGenerate_NPOIsIVFirstRegardlessOfPreference(t *testing.T) {
	g := newTestGenerator()
	for _, gi := range []patient.GIStatus{patient.GINPO, patient.GITube} {
		ctx := patient.Default()
		ctx.GI = gi
		ctx.RoutePreference = patient.PreferOral
		set := g.Generate(90, 0, ctx)
		if set.Targets[0].Route != conversion.RouteIV {
			t.Errorf("%s: first route = %s, want iv", gi, set.Targets[0].Route)
		}
	}
}

// --- Single survivor advisory ---

type onlyFentanyl struct{}

func (onlyFentanyl) TargetFactor(k conversion.DrugKey, _ patient.Context) (float64, conversion.FactorSource) {
	if k.Base == conversion.Fentanyl {
		return 0.3, conversion.SourceCatalog
	}
	return 0, conversion.SourceMissing
}

func TestGenerate_SingleSurvivorAdvisory(t *testing.T) {
	g := NewGenerator(onlyFentanyl{}, refdata.Default().Patch, zerolog.Nop())
	set := g.Generate(90, 0, patient.Default())
	if len(set.Advisories) != 1 || set.Advisories[0] != SingleTargetAdvisory {
		t.Errorf("advisories = %v, want single-target advisory", set.Advisories)
	}
	if len(set.Targets) != 5 {
		t.Errorf("sentinel rows must be retained, got %d", len(set.Targets))
	}
}

// --- Patch ---

func TestPatch_Rounding(t *testing.T) {
	g := newTestGenerator()
	tests := []struct {
		total  float64
		raw    float64
		size   float64
		tooLow bool
	}{
		{48, 24, 0, true},
		{52, 26, 25, false},
		{298, 149, 100, false},
		{20, 10, 0, true},
		{150, 75, 75, false},
	}
	for _, tt := range tests {
		set := g.Generate(tt.total, 0, patient.Default())
		p := set.Patch
		if !approx(p.RawMcgHr, tt.raw) {
			t.Errorf("total %v: raw = %v, want %v", tt.total, p.RawMcgHr, tt.raw)
		}
		if p.TooLow != tt.tooLow || p.SizeMcgHr != tt.size {
			t.Errorf("raw %v: got size %v tooLow %v, want %v/%v", tt.raw, p.SizeMcgHr, p.TooLow, tt.size, tt.tooLow)
		}
	}
}

func TestPatch_TooLowDisplay(t *testing.T) {
	g := newTestGenerator()
	p := g.Generate(48, 0, patient.Default()).Patch
	if p.Display() != "too low for patch" {
		t.Errorf("display = %q", p.Display())
	}
}

func TestPatch_AgeMultiplierApplied(t *testing.T) {
	g := newTestGenerator()
	ctx := patient.Default()
	ctx.Age = 85
	p := g.Generate(200, 0, ctx).Patch
	if !approx(p.RawMcgHr, 50) || p.SizeMcgHr != 50 {
		t.Errorf("got raw %v size %v, want 50/50", p.RawMcgHr, p.SizeMcgHr)
	}
}

func TestPatch_NaiveContraindicated(t *testing.T) {
	g := newTestGenerator()
	ctx := patient.Default()
	ctx.Tolerance = patient.ToleranceNaive
	p := g.Generate(200, 0, ctx).Patch
	if !p.Contraindicated || p.Display() != "AVOID" {
		t.Errorf("expected contraindicated patch, got %+v", p)
	}
}
