package models

// ActionKind selects one of the preset prompt templates.
type ActionKind string

const (
	ActionDiagnosisCriteria ActionKind = "diagnosis-criteria"
	ActionLabsWorkup        ActionKind = "labs-workup"
	ActionTreatmentGoals    ActionKind = "treatment-goals"
	ActionRedFlags          ActionKind = "red-flags"
	ActionPhysicalExam      ActionKind = "physical-exam"
	ActionDrugDosing        ActionKind = "drug-dosing"
	ActionDifferential      ActionKind = "differential-diagnosis"
)

// Prompt pairs the sidebar label with the full query text sent to the engine.
type Prompt struct {
	Label string `json:"label"`
	Query string `json:"query"`
}
