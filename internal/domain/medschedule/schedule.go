// Package medschedule models a patient's medication reminder plan.
package medschedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DistantFuture marks a schedule that repeats indefinitely.
var DistantFuture = time.Date(4001, time.January, 1, 0, 0, 0, 0, time.UTC)

// Placeholders used when a prescription carries no medication metadata.
const (
	PlaceholderTitle      = "Medikament"
	PlaceholderDosageForm = "Dosis"
	DefaultAmount         = "1"
)

// Schedule is the reminder plan for one prescription task.
type Schedule struct {
	ID                 uuid.UUID `json:"id"`
	Start              time.Time `json:"start"`
	End                time.Time `json:"end"`
	Title              string    `json:"title"`
	DosageInstructions string    `json:"dosage_instructions"`
	TaskID             string    `json:"task_id"`
	IsActive           bool      `json:"is_active"`
	Entries            []Entry   `json:"entries"`
}

// Entry is a single time-of-day reminder within a schedule.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Hour       int       `json:"hour"`
	Minute     int       `json:"minute"`
	DosageForm string    `json:"dosage_form"`
	Amount     string    `json:"amount"`
}

// Store persists schedules. Save upserts by TaskID.
type Store interface {
	Save(ctx context.Context, schedules ...Schedule) error
	FetchAll(ctx context.Context) ([]Schedule, error)
	// FetchByTaskID returns nil without error when no schedule exists for the task.
	FetchByTaskID(ctx context.Context, taskID string) (*Schedule, error)
	Delete(ctx context.Context, schedules ...Schedule) error
}

// RepeatsIndefinitely reports whether the schedule has no finite end.
func (s *Schedule) RepeatsIndefinitely() bool {
	return !s.End.Before(DistantFuture)
}

// IsActiveAt reports whether reminders of an active schedule apply at t.
func (s *Schedule) IsActiveAt(t time.Time) bool {
	return s.IsActive && !t.Before(s.Start) && !t.After(s.End)
}

// SetStart moves the start and drags the end along if it would fall before it.
func (s *Schedule) SetStart(start time.Time) {
	s.Start = start
	if s.End.Before(start) {
		s.End = start
	}
}

// SetEnd sets a finite end. An end before the start is clamped to the start.
func (s *Schedule) SetEnd(end time.Time) {
	if end.Before(s.Start) {
		end = s.Start
	}
	s.End = end
}

// SetRepeatsIndefinitely switches between an open-ended and a finite schedule.
// Leaving indefinite mode sets the end to the start until the user picks one.
func (s *Schedule) SetRepeatsIndefinitely(repeats bool) {
	switch {
	case repeats:
		s.End = DistantFuture
	case s.RepeatsIndefinitely():
		s.End = s.Start
	}
}

// AddEntry appends a new entry. Dosage form, amount and time are copied from the
// last entry; an empty schedule starts from the current wall-clock time.
func (s *Schedule) AddEntry(id uuid.UUID, now time.Time) Entry {
	entry := Entry{
		ID:         id,
		Title:      s.Title,
		Hour:       now.Hour(),
		Minute:     now.Minute(),
		DosageForm: PlaceholderDosageForm,
		Amount:     DefaultAmount,
	}
	if n := len(s.Entries); n > 0 {
		last := s.Entries[n-1]
		entry.Hour = last.Hour
		entry.Minute = last.Minute
		entry.DosageForm = last.DosageForm
		entry.Amount = last.Amount
	}
	s.Entries = append(s.Entries, entry)
	return entry
}

// RemoveEntry deletes the entry with the given id and reports whether it existed.
func (s *Schedule) RemoveEntry(id uuid.UUID) bool {
	for i, e := range s.Entries {
		if e.ID == id {
			s.Entries = append(s.Entries[:i], s.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Normalize restores the schedule invariants after bulk assignment: entries are
// unique by id (first wins), times are within a day and the end is not before the start.
func (s *Schedule) Normalize() {
	seen := make(map[uuid.UUID]struct{}, len(s.Entries))
	entries := make([]Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		e.Hour = clamp(e.Hour, 0, 23)
		e.Minute = clamp(e.Minute, 0, 59)
		entries = append(entries, e)
	}
	s.Entries = entries
	s.SetEnd(s.End)
}

// Clone returns a deep copy of the schedule.
func (s Schedule) Clone() Schedule {
	s.Entries = append([]Entry(nil), s.Entries...)
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
