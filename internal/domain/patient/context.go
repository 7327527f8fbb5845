// Package patient holds the clinical context snapshot that a calculation pass
// reads: organ function, age, perinatal status, pain and GI status, route
// preference, opioid tolerance, and comorbidity flags.
package patient

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type RenalStatus string

const (
	RenalNormal   RenalStatus = "normal"
	RenalImpaired RenalStatus = "impaired"
	RenalDialysis RenalStatus = "dialysis"
)

// Abnormal reports whether renal function is anything other than normal.
func (r RenalStatus) Abnormal() bool {
	return r == RenalImpaired || r == RenalDialysis
}

type HepaticStatus string

const (
	HepaticNormal   HepaticStatus = "normal"
	HepaticImpaired HepaticStatus = "impaired"
	HepaticFailure  HepaticStatus = "failure"
)

type PainType string

const (
	PainAcute   PainType = "acute"
	PainChronic PainType = "chronic"
)

// GIStatus describes whether the enteral route is usable.
type GIStatus string

const (
	GIIntact GIStatus = "intact"
	GITube   GIStatus = "tube"
	GINPO    GIStatus = "npo"
)

type RoutePreference string

const (
	PreferOral RoutePreference = "po"
	PreferIV   RoutePreference = "iv"
)

type ToleranceProfile string

const (
	ToleranceNaive         ToleranceProfile = "naive"
	ToleranceTolerant      ToleranceProfile = "tolerant"
	ToleranceHighPotency   ToleranceProfile = "high-potency"
	ToleranceBuprenorphine ToleranceProfile = "buprenorphine"
	ToleranceMethadone     ToleranceProfile = "methadone"
	ToleranceNaltrexone    ToleranceProfile = "naltrexone"
)

// Comorbidities are risk flags that trigger overdose-risk warnings
// independent of the MME total.
type Comorbidities struct {
	Benzodiazepines bool `yaml:"benzodiazepines" json:"benzodiazepines"`
	SleepApnea      bool `yaml:"sleep_apnea" json:"sleep_apnea"`
	PriorOverdose   bool `yaml:"prior_overdose" json:"prior_overdose"`
}

// Any reports whether at least one risk flag is set.
func (c Comorbidities) Any() bool {
	return c.Benzodiazepines || c.SleepApnea || c.PriorOverdose
}

// Context is a read-only snapshot for one calculation pass.
type Context struct {
	Renal           RenalStatus      `yaml:"renal" json:"renal" validate:"omitempty,oneof=normal impaired dialysis"`
	Hepatic         HepaticStatus    `yaml:"hepatic" json:"hepatic" validate:"omitempty,oneof=normal impaired failure"`
	Age             int              `yaml:"age" json:"age" validate:"gte=0,lte=130"`
	Pregnant        bool             `yaml:"pregnant" json:"pregnant"`
	Breastfeeding   bool             `yaml:"breastfeeding" json:"breastfeeding"`
	Pain            PainType         `yaml:"pain" json:"pain" validate:"omitempty,oneof=acute chronic"`
	GI              GIStatus         `yaml:"gi" json:"gi" validate:"omitempty,oneof=intact tube npo"`
	RoutePreference RoutePreference  `yaml:"route_preference" json:"route_preference" validate:"omitempty,oneof=po iv"`
	Tolerance       ToleranceProfile `yaml:"tolerance" json:"tolerance" validate:"omitempty,oneof=naive tolerant high-potency buprenorphine methadone naltrexone"`
	Comorbidities   Comorbidities    `yaml:"comorbidities" json:"comorbidities"`
}

// Default returns an adult context with normal organ function.
func Default() Context {
	return Context{
		Renal:           RenalNormal,
		Hepatic:         HepaticNormal,
		Age:             45,
		Pain:            PainChronic,
		GI:              GIIntact,
		RoutePreference: PreferOral,
		Tolerance:       ToleranceTolerant,
	}
}

// Normalized fills empty enum fields with their normal defaults so that the
// engine never has to treat "" specially.
func (c Context) Normalized() Context {
	d := Default()
	if c.Renal == "" {
		c.Renal = d.Renal
	}
	if c.Hepatic == "" {
		c.Hepatic = d.Hepatic
	}
	if c.Pain == "" {
		c.Pain = d.Pain
	}
	if c.GI == "" {
		c.GI = d.GI
	}
	if c.RoutePreference == "" {
		c.RoutePreference = d.RoutePreference
	}
	if c.Tolerance == "" {
		c.Tolerance = d.Tolerance
	}
	return c
}

// Perinatal reports pregnancy or breastfeeding.
func (c Context) Perinatal() bool {
	return c.Pregnant || c.Breastfeeding
}

// AgeMultiplier is the geriatric dose reduction applied to converted doses.
func (c Context) AgeMultiplier() float64 {
	switch {
	case c.Age >= 80:
		return 0.50
	case c.Age >= 60:
		return 0.75
	default:
		return 1.0
	}
}

var validate = validator.New()

// Validate checks enum membership and ranges. It is meant for input edges
// (scenario files, CLI flags); the engine itself never rejects a context.
func (c Context) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid patient context: %w", err)
	}
	return nil
}
