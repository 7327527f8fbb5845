package refdata

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Default bundle tests ---

func TestDefault_IsValid(t *testing.T) {
	b := Default()
	if b.Version == "" {
		t.Fatal("expected embedded bundle to carry a version")
	}
	if len(b.Factors) == 0 {
		t.Fatal("expected embedded bundle to carry factors")
	}
}

func TestDefault_PatchSizes(t *testing.T) {
	b := Default()
	want := []float64{12, 25, 50, 75, 100}
	if len(b.Patch.SizesMcgHr) != len(want) {
		t.Fatalf("got %d patch sizes, want %d", len(b.Patch.SizesMcgHr), len(want))
	}
	for i, s := range want {
		if b.Patch.SizesMcgHr[i] != s {
			t.Errorf("patch size[%d] = %v, want %v", i, b.Patch.SizesMcgHr[i], s)
		}
	}
	if b.Patch.MinInitiationMcgHr != 25 {
		t.Errorf("min initiation = %v, want 25", b.Patch.MinInitiationMcgHr)
	}
}

func TestDefault_MethadoneBandsAreDisjoint(t *testing.T) {
	b := Default()
	for mme := 0.5; mme < 1000; mme += 0.5 {
		matches := 0
		for _, band := range b.MethadoneBands {
			if band.Contains(mme) {
				matches++
			}
		}
		if matches != 1 {
			t.Fatalf("MME %v matched %d bands, want exactly 1", mme, matches)
		}
	}
}

func TestDefault_MethadoneBandAt80IsRatio10(t *testing.T) {
	b := Default()
	for _, band := range b.MethadoneBands {
		if band.Contains(80) {
			if band.Ratio != 10 {
				t.Errorf("ratio at 80 MME = %v, want 10", band.Ratio)
			}
			return
		}
	}
	t.Error("no band contains 80 MME")
}

// --- Parse / Validate tests ---

const minimalBundle = `
version: "test"
factors:
  - drug: morphine
    form: oral
    unit: mg
    factor: 1
fentanyl_patch:
  sizes_mcg_hr: [25, 50]
  min_initiation_mcg_hr: 25
methadone_bands:
  - min_mme: 0
    max_mme: 100
    ratio: 10
`

func TestParse_Minimal(t *testing.T) {
	b, err := Parse([]byte(minimalBundle))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Version != "test" {
		t.Errorf("got version %q, want %q", b.Version, "test")
	}
}

func TestParse_MissingVersion(t *testing.T) {
	_, err := Parse([]byte(strings.Replace(minimalBundle, `version: "test"`, "", 1)))
	if !errors.Is(err, ErrMissingVersion) {
		t.Errorf("got %v, want ErrMissingVersion", err)
	}
}

func TestParse_OverlappingBands(t *testing.T) {
	data := minimalBundle + `
  - min_mme: 90
    max_mme: 200
    ratio: 12
`
	_, err := Parse([]byte(data))
	if !errors.Is(err, ErrOverlappingBands) {
		t.Errorf("got %v, want ErrOverlappingBands", err)
	}
}

func TestParse_SortsBands(t *testing.T) {
	data := strings.Replace(minimalBundle, "methadone_bands:\n", `methadone_bands:
  - min_mme: 100
    max_mme: 200
    ratio: 12
`, 1)
	b, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.MethadoneBands[0].MinMME != 0 || b.MethadoneBands[1].MinMME != 100 {
		t.Errorf("bands not sorted: %+v", b.MethadoneBands)
	}
}

func TestParse_DescendingPatchSizes(t *testing.T) {
	data := strings.Replace(minimalBundle, "[25, 50]", "[50, 25]", 1)
	_, err := Parse([]byte(data))
	if !errors.Is(err, ErrInvalidPatchSizes) {
		t.Errorf("got %v, want ErrInvalidPatchSizes", err)
	}
}

func TestParse_NegativeFactor(t *testing.T) {
	data := strings.Replace(minimalBundle, "factor: 1", "factor: -1", 1)
	if _, err := Parse([]byte(data)); err == nil {
		t.Error("expected error for negative factor")
	}
}

func TestParse_InvalidReduction(t *testing.T) {
	data := minimalBundle + "    cross_tolerance_reduction: 1.5\n"
	if _, err := Parse([]byte(data)); err == nil {
		t.Error("expected error for reduction >= 1")
	}
}

func TestParse_UnknownKey(t *testing.T) {
	data := minimalBundle + "    max_daily_dose: 45\n"
	_, err := Parse([]byte(data))
	if err == nil {
		t.Fatal("expected error for misspelled max_daily_dose_mg")
	}
	if !strings.Contains(err.Error(), "max_daily_dose") {
		t.Errorf("error %q should name the unknown key", err)
	}
}

func TestParse_Garbage(t *testing.T) {
	if _, err := Parse([]byte("version: [")); err == nil {
		t.Error("expected unmarshal error")
	}
}

// --- Load tests ---

func TestLoad_EmptyPathReturnsDefault(t *testing.T) {
	b, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Version != Default().Version {
		t.Errorf("got version %q, want default %q", b.Version, Default().Version)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	if err := os.WriteFile(path, []byte(minimalBundle), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Factors) != 1 {
		t.Errorf("got %d factors, want 1", len(b.Factors))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
