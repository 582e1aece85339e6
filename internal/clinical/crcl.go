package clinical

import (
	"math"

	"clinicgo/internal/models"
)

// Creatinine clearance bands used for dose-adjustment warnings.
const (
	crclSevereBelow   = 30.0
	crclModerateBelow = 60.0
)

// Calculate applies the Cockcroft-Gault formula and rounds to one decimal.
// A non-positive serum creatinine yields a not-computed result; callers must
// never divide by zero on its behalf.
func Calculate(p models.PatientParams) models.CrClResult {
	if p.SerumCreatinine <= 0 {
		return models.CrClResult{}
	}
	crcl := (float64(140-p.Age) * p.WeightKg) / (72 * p.SerumCreatinine)
	if p.Sex == models.SexFemale {
		crcl *= 0.85
	}
	crcl = math.Round(crcl*10) / 10
	return models.CrClResult{
		Computed: true,
		Value:    crcl,
		Severity: SeverityFor(crcl),
	}
}

// SeverityFor bands a clearance value: <30 severe, <60 moderate, else normal.
func SeverityFor(crcl float64) models.Severity {
	switch {
	case crcl < crclSevereBelow:
		return models.SeveritySevere
	case crcl < crclModerateBelow:
		return models.SeverityModerate
	default:
		return models.SeverityNormal
	}
}
