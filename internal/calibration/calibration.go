package calibration

import (
	"fmt"
	"math"
)

// Output field names.
const (
	Respiration       = "respiration"
	Coagulation       = "coagulation"
	Liver             = "liver"
	Cardiovascular    = "cardiovascular"
	CNS               = "cns"
	Renal             = "renal"
	HoursBeforeSepsis = "hours_beforesepsis"
	HoursBeforeDeath  = "hours_beforedeath"
	Sepsis            = "sepsis"
	FODKey            = "fod"
)

// RegressionOrder is the layout of the regression vector.
var RegressionOrder = []string{
	Respiration, Coagulation, Liver, Cardiovascular, CNS, Renal,
	HoursBeforeSepsis, HoursBeforeDeath,
}

// Keys lists every field of a Result.
var Keys = []string{
	Sepsis, Respiration, Coagulation, Liver, Cardiovascular, CNS, Renal,
	HoursBeforeSepsis, FODKey, HoursBeforeDeath,
}

const (
	organMin = 0.0
	organMax = 4.0

	// Logistic mortality calibration over the summed organ scores.
	fodSlope = 0.3
	fodShift = 8.0
)

// Result is a calibrated prediction in native units.
type Result struct {
	Sepsis            float64 `json:"sepsis"`
	Respiration       float64 `json:"respiration"`
	Coagulation       float64 `json:"coagulation"`
	Liver             float64 `json:"liver"`
	Cardiovascular    float64 `json:"cardiovascular"`
	CNS               float64 `json:"cns"`
	Renal             float64 `json:"renal"`
	HoursBeforeSepsis float64 `json:"hours_beforesepsis"`
	FOD               float64 `json:"fod"`
	HoursBeforeDeath  float64 `json:"hours_beforedeath"`
}

// Inverter maps a scaled regression vector back to native units.
type Inverter interface {
	InverseVec(z []float64) ([]float64, error)
}

// Calibrate inverse-scales the regression vector, converts the logit to a
// probability and applies the clipping rules.
func Calibrate(reg []float64, logit float64, out Inverter) (Result, error) {
	if len(reg) != len(RegressionOrder) {
		return Result{}, fmt.Errorf("regression vector has %d values, expected %d", len(reg), len(RegressionOrder))
	}

	native, err := out.InverseVec(reg)
	if err != nil {
		return Result{}, fmt.Errorf("failed to inverse-scale regression output: %w", err)
	}

	r := Result{
		Respiration:       native[0],
		Coagulation:       native[1],
		Liver:             native[2],
		Cardiovascular:    native[3],
		CNS:               native[4],
		Renal:             native[5],
		HoursBeforeSepsis: native[6],
		HoursBeforeDeath:  native[7],
		Sepsis:            sigmoid(logit),
	}
	return Finalize(r), nil
}

// Finalize clips organ scores to [0, 4], hour counts to [0, MaxFloat64], the
// sepsis probability to [0, 1], and recomputes fod from the clipped scores.
// NaN clips to the lower bound.
// Finalize(Finalize(r)) == Finalize(r).
func Finalize(r Result) Result {
	for _, p := range r.organs() {
		*p = clip(*p, organMin, organMax)
	}
	r.HoursBeforeSepsis = clip(r.HoursBeforeSepsis, 0, math.MaxFloat64)
	r.HoursBeforeDeath = clip(r.HoursBeforeDeath, 0, math.MaxFloat64)
	r.Sepsis = clip(r.Sepsis, 0, 1)
	r.FOD = FOD(r.SOFASum())
	return r
}

// FOD is the mortality-risk probability for a summed organ score.
func FOD(sofaSum float64) float64 {
	return 1 / (1 + math.Exp(-fodSlope*(sofaSum-fodShift)))
}

func (r Result) SOFASum() float64 {
	return r.Respiration + r.Coagulation + r.Liver + r.Cardiovascular + r.CNS + r.Renal
}

// SepsisLabel rounds the sepsis probability at threshold.
func (r Result) SepsisLabel(threshold float64) int {
	if r.Sepsis >= threshold {
		return 1
	}
	return 0
}

// Map returns exactly the ten result keys.
func (r Result) Map() map[string]float64 {
	return map[string]float64{
		Sepsis:            r.Sepsis,
		Respiration:       r.Respiration,
		Coagulation:       r.Coagulation,
		Liver:             r.Liver,
		Cardiovascular:    r.Cardiovascular,
		CNS:               r.CNS,
		Renal:             r.Renal,
		HoursBeforeSepsis: r.HoursBeforeSepsis,
		FODKey:            r.FOD,
		HoursBeforeDeath:  r.HoursBeforeDeath,
	}
}

func (r *Result) organs() []*float64 {
	return []*float64{&r.Respiration, &r.Coagulation, &r.Liver, &r.Cardiovascular, &r.CNS, &r.Renal}
}

func clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
