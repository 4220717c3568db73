package r5

import "time"

// Task is the gematik e-prescription workflow resource. The medication request and
// medication it refers to are carried inline so a task can be processed on its own.
type Task struct {
	ResourceType      string             `json:"resourceType"`
	ID                string             `json:"id"`
	Meta              *Meta              `json:"meta,omitempty"`
	Identifier        []Identifier       `json:"identifier,omitempty"`
	Status            string             `json:"status"`
	AuthoredOn        time.Time          `json:"authoredOn,omitempty"`
	MedicationRequest *MedicationRequest `json:"medicationRequest,omitempty"`
	Medication        *Medication        `json:"medication,omitempty"`
}

// MedicationRequest holds the prescriber's order.
type MedicationRequest struct {
	ResourceType      string     `json:"resourceType"`
	ID                string     `json:"id,omitempty"`
	Status            string     `json:"status,omitempty"`
	Intent            string     `json:"intent,omitempty"`
	Subject           *Reference `json:"subject,omitempty"`
	AuthoredOn        time.Time  `json:"authoredOn,omitempty"`
	DosageInstruction []Dosage   `json:"dosageInstruction,omitempty"`
	// DosageFlag is the KBV extension stating whether a dosage was written at all.
	DosageFlag *bool     `json:"dosageFlag,omitempty"`
	Quantity   *Quantity `json:"quantity,omitempty"`
}

// Dosage contains a free-text dosage instruction such as "1-0-1-0".
type Dosage struct {
	Sequence           int    `json:"sequence,omitempty"`
	Text               string `json:"text,omitempty"`
	PatientInstruction string `json:"patientInstruction,omitempty"`
}

// Medication is the prescribed product.
type Medication struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id,omitempty"`
	Code         *CodeableConcept `json:"code,omitempty"`
	Form         *CodeableConcept `json:"form,omitempty"`
	Amount       *Quantity        `json:"amount,omitempty"`
}

// MedicationName returns the display name of the prescribed product.
func (t *Task) MedicationName() string {
	if t.Medication == nil {
		return ""
	}
	return t.Medication.Code.Display()
}

// DoseForm returns the display text of the product's dose form, e.g. "Tabletten".
func (t *Task) DoseForm() string {
	if t.Medication == nil {
		return ""
	}
	return t.Medication.Form.Display()
}

// DosageInstructionText returns the first written dosage instruction. A request
// whose dosage flag is explicitly false carries no instruction.
func (t *Task) DosageInstructionText() string {
	if t.MedicationRequest == nil {
		return ""
	}
	if flag := t.MedicationRequest.DosageFlag; flag != nil && !*flag {
		return ""
	}
	for _, d := range t.MedicationRequest.DosageInstruction {
		if d.Text != "" {
			return d.Text
		}
	}
	return ""
}
