package models

import "errors"

// PatientParams are the inputs to the Cockcroft-Gault estimate.

type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
)

type PatientParams struct {
	Age             int     `json:"age"`
	Sex             Sex     `json:"sex"`
	WeightKg        float64 `json:"weight_kg"`
	SerumCreatinine float64 `json:"serum_creatinine"`
}

// Validate checks the demographic fields. Serum creatinine is deliberately
// not checked here: a non-positive value yields a not-computed result
// instead of an error.
func (p PatientParams) Validate() error {
	if p.Age < 1 {
		return errors.New("age must be at least 1")
	}
	if p.WeightKg <= 0 {
		return errors.New("weight must be positive")
	}
	if p.Sex != SexMale && p.Sex != SexFemale {
		return errors.New("sex must be male or female")
	}
	return nil
}

type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// CrClResult is a pure view of the current inputs; Computed is false when
// serum creatinine was not positive.
type CrClResult struct {
	Computed bool     `json:"computed"`
	Value    float64  `json:"value"`
	Severity Severity `json:"severity,omitempty"`
}
