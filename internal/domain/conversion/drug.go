package conversion

import (
	"fmt"
	"strings"
)

// BaseDrug is the active opioid independent of formulation.
type BaseDrug string

const (
	Morphine      BaseDrug = "morphine"
	Hydromorphone BaseDrug = "hydromorphone"
	Oxycodone     BaseDrug = "oxycodone"
	Oxymorphone   BaseDrug = "oxymorphone"
	Hydrocodone   BaseDrug = "hydrocodone"
	Codeine       BaseDrug = "codeine"
	Tramadol      BaseDrug = "tramadol"
	Tapentadol    BaseDrug = "tapentadol"
	Meperidine    BaseDrug = "meperidine"
	Levorphanol   BaseDrug = "levorphanol"
	Methadone     BaseDrug = "methadone"
	Fentanyl      BaseDrug = "fentanyl"
	Buprenorphine BaseDrug = "buprenorphine"
	Butorphanol   BaseDrug = "butorphanol"
	Nalbuphine    BaseDrug = "nalbuphine"
)

// Formulation distinguishes catalog entries of the same base drug.
type Formulation string

const (
	FormOral       Formulation = "oral"
	FormIV         Formulation = "iv"
	FormDrip       Formulation = "drip"
	FormPatch      Formulation = "patch"
	FormSublingual Formulation = "sublingual"
)

// Route is the administration route classification.
type Route string

const (
	RoutePO          Route = "po"
	RouteIV          Route = "iv"
	RouteTransdermal Route = "transdermal"
	RouteSL          Route = "sl"
)

// DrugKey identifies a catalog entry as a {base drug, formulation} pair.
// Morphine IV and morphine PO are distinct keys, not aliases.
type DrugKey struct {
	Base BaseDrug    `yaml:"base" json:"base"`
	Form Formulation `yaml:"form" json:"form"`
}

// Key is shorthand for building a DrugKey.
func Key(base BaseDrug, form Formulation) DrugKey {
	return DrugKey{Base: base, Form: form}
}

// Route returns the administration route implied by the formulation.
func (k DrugKey) Route() Route {
	switch k.Form {
	case FormIV, FormDrip:
		return RouteIV
	case FormPatch:
		return RouteTransdermal
	case FormSublingual:
		return RouteSL
	default:
		return RoutePO
	}
}

// String renders the key in the drug-id form used by callers
// ("morphine", "morphine_iv", "fentanyl_patch").
func (k DrugKey) String() string {
	if k.Form == "" || k.Form == FormOral {
		return string(k.Base)
	}
	return string(k.Base) + "_" + formSuffix[k.Form]
}

// Label is a human readable name for audit lines and target rows.
func (k DrugKey) Label() string {
	if k.Base == "" {
		return "Unknown"
	}
	name := strings.ToUpper(string(k.Base[:1])) + string(k.Base[1:])
	switch k.Form {
	case FormIV:
		return name + " IV"
	case FormDrip:
		return name + " drip"
	case FormPatch:
		return name + " patch"
	case FormSublingual:
		return name + " SL"
	default:
		return name + " PO"
	}
}

var formSuffix = map[Formulation]string{
	FormIV:         "iv",
	FormDrip:       "drip",
	FormPatch:      "patch",
	FormSublingual: "sl",
}

var suffixForm = map[string]Formulation{
	"po":         FormOral,
	"oral":       FormOral,
	"iv":         FormIV,
	"drip":       FormDrip,
	"patch":      FormPatch,
	"td":         FormPatch,
	"sl":         FormSublingual,
	"sublingual": FormSublingual,
	"buccal":     FormSublingual,
}

// ParseDrugID converts an input-edge drug id such as "hydromorphone_drip" into
// a DrugKey. Unknown base drugs are accepted; they surface later as lookup
// misses.
func ParseDrugID(id string) (DrugKey, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return DrugKey{}, fmt.Errorf("drug id is required")
	}
	if i := strings.LastIndex(id, "_"); i > 0 {
		if form, ok := suffixForm[id[i+1:]]; ok {
			return DrugKey{Base: BaseDrug(id[:i]), Form: form}, nil
		}
	}
	return DrugKey{Base: BaseDrug(id), Form: FormOral}, nil
}

// FormFromString maps a reference-data form name to a Formulation.
func FormFromString(s string) Formulation {
	if f, ok := suffixForm[strings.ToLower(s)]; ok {
		return f
	}
	return FormOral
}
