package medschedule

import (
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-erezept/internal/domain/dosage"
	"github.com/drfirst/go-erezept/internal/fhir/r5"
)

// Build derives an inactive, open-ended schedule from a prescription task. Entries
// come from the task's dosage instruction; unparseable text leaves the schedule
// without entries.
func Build(task *r5.Task, now time.Time) Schedule {
	title := task.MedicationName()
	if title == "" {
		title = PlaceholderTitle
	}
	form := task.DoseForm()
	if form == "" {
		form = PlaceholderDosageForm
	}
	text := task.DosageInstructionText()

	s := Schedule{
		ID:                 uuid.New(),
		Start:              now,
		End:                DistantFuture,
		Title:              title,
		DosageInstructions: text,
		TaskID:             task.ID,
		IsActive:           false,
	}
	for _, in := range dosage.Parse(text) {
		s.Entries = append(s.Entries, Entry{
			ID:         uuid.New(),
			Title:      title,
			Hour:       in.Time.Hour(),
			Minute:     in.Time.Minute(),
			DosageForm: form,
			Amount:     in.Amount,
		})
	}
	return s
}
