package clinical

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"clinicgo/internal/models"
)

// ErrValidation marks recoverable input errors: a required free-text field
// was empty when composing a prompt. Nothing is mutated and no engine call
// is made when it is returned.
var ErrValidation = errors.New("validation failed")

const DefaultAnswerLanguage = "Traditional Chinese"

// Composer builds (label, query) pairs for the preset actions. The query
// templates are the wire format toward the answer engine: the numbered
// sections, the source-URL instruction and the answer-language instruction
// are part of the contract with the model.
type Composer struct {
	AnswerLanguage string
}

func NewComposer(answerLanguage string) *Composer {
	if strings.TrimSpace(answerLanguage) == "" {
		answerLanguage = DefaultAnswerLanguage
	}
	return &Composer{AnswerLanguage: answerLanguage}
}

// QuickAction composes the prompt for the five disease-centric buttons.
func (c *Composer) QuickAction(kind models.ActionKind, disease string) (models.Prompt, error) {
	disease = strings.TrimSpace(disease)
	if disease == "" {
		return models.Prompt{}, fmt.Errorf("%w: disease name is required", ErrValidation)
	}

	switch kind {
	case models.ActionDiagnosisCriteria:
		return models.Prompt{
			Label: fmt.Sprintf("Look up [%s] diagnostic guideline", disease),
			Query: fmt.Sprintf("Search for the latest diagnostic guideline for [%s].\n"+
				"Organize: 1. **Scoring systems**: table plus MDCalc links. 2. **Confirmatory criteria**. "+
				"3. **Sources**: include the URLs.\nAnswer language: %s.", disease, c.AnswerLanguage),
		}, nil
	case models.ActionLabsWorkup:
		return models.Prompt{
			Label: fmt.Sprintf("Look up [%s] workup recommendations", disease),
			Query: fmt.Sprintf("For a patient with suspected [%s], list the recommended workup.\n"+
				"Organize as: 1. **Blood/biochemistry tests**. 2. **Imaging/ECG** (include Radiopaedia/LITFL links).\n"+
				"3. **Sources**: include the URLs.\nAnswer language: %s.", disease, c.AnswerLanguage),
		}, nil
	case models.ActionTreatmentGoals:
		return models.Prompt{
			Label: fmt.Sprintf("Look up [%s] treatment and goals", disease),
			Query: fmt.Sprintf("Search for the latest treatment guideline for [%s].\n"+
				"Organize: 1. **Drug list**: English generic name, exact dose, frequency. "+
				"2. **Acute-phase treatment goals**: target values and time windows.\n"+
				"3. **Sources**: include the URLs.\nAnswer language: %s.", disease, c.AnswerLanguage),
		}, nil
	case models.ActionRedFlags:
		return models.Prompt{
			Label: fmt.Sprintf("Look up [%s] red flags", disease),
			Query: fmt.Sprintf("List the red flags of [%s].\n"+
				"Always append the source links (URLs) at the end.\nAnswer language: %s.",
				disease, c.AnswerLanguage),
		}, nil
	case models.ActionPhysicalExam:
		return models.Prompt{
			Label: fmt.Sprintf("Look up [%s] physical exam focus", disease),
			Query: fmt.Sprintf("For a patient with suspected [%s], list the key physical examination steps.\n"+
				"Organize:\n1. **Inspection**.\n2. **Auscultation/Palpation**.\n"+
				"3. **Special maneuvers** (e.g. Murphy's sign, McBurney's point), with sensitivity/specificity.\n"+
				"4. **Sources**: always include the reference URLs.\nAnswer language: %s.",
				disease, c.AnswerLanguage),
		}, nil
	default:
		return models.Prompt{}, fmt.Errorf("%w: unknown action kind %q", ErrValidation, kind)
	}
}

// DrugDosing composes the medication-review prompt. It needs the drug, the
// indication and a computable creatinine clearance.
func (c *Composer) DrugDosing(drug, indication string, patient models.PatientParams) (models.Prompt, error) {
	drug = strings.TrimSpace(drug)
	indication = strings.TrimSpace(indication)
	if drug == "" {
		return models.Prompt{}, fmt.Errorf("%w: drug name is required", ErrValidation)
	}
	if indication == "" {
		return models.Prompt{}, fmt.Errorf("%w: indication is required", ErrValidation)
	}
	if err := patient.Validate(); err != nil {
		return models.Prompt{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	crcl := Calculate(patient)
	if !crcl.Computed {
		return models.Prompt{}, fmt.Errorf("%w: serum creatinine must be positive", ErrValidation)
	}

	crclText := strconv.FormatFloat(crcl.Value, 'f', -1, 64)
	crText := strconv.FormatFloat(patient.SerumCreatinine, 'f', -1, 64)
	return models.Prompt{
		Label: fmt.Sprintf("Look up [%s] dosing info (CrCl %s)", drug, crclText),
		Query: fmt.Sprintf("Perform a clinical medication review with dosing advice.\n"+
			"Drug: **%s**.\nIndication: **%s**.\n"+
			"Patient parameters: **Cr %s mg/dL, CrCl %s ml/min**.\n\n"+
			"Steps: 1. **Indication check**: if it does not match, list the suggested alternatives.\n"+
			"2. **Dose calculation**: if adjustment is needed, show standard vs adjusted dose (bold red for contraindications).\n"+
			"3. Output a table and append the links (URLs).\nAnswer language: %s.",
			drug, indication, crText, crclText, c.AnswerLanguage),
	}, nil
}

// Differential composes the differential-diagnosis prompt from presenting
// symptoms and optional lab findings.
func (c *Composer) Differential(symptoms, labFindings string) (models.Prompt, error) {
	symptoms = strings.TrimSpace(symptoms)
	if symptoms == "" {
		return models.Prompt{}, fmt.Errorf("%w: symptoms are required", ErrValidation)
	}
	labFindings = strings.TrimSpace(labFindings)
	if labFindings == "" {
		labFindings = "none provided"
	}
	return models.Prompt{
		Label: fmt.Sprintf("Differential diagnosis for [%s]", symptoms),
		Query: fmt.Sprintf("Build a differential diagnosis.\n"+
			"Presenting symptoms: **%s**.\nLab findings: **%s**.\n"+
			"Organize: 1. **Ranked differentials** with distinguishing features. "+
			"2. **Can't-miss diagnoses**. 3. **Next diagnostic steps**.\n"+
			"4. **Sources**: include the URLs.\nAnswer language: %s.",
			symptoms, labFindings, c.AnswerLanguage),
	}, nil
}
