package medschedule

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-erezept/internal/fhir/r5"
)

var berlin = mustLoad("Europe/Berlin")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func TestSetEndClampsToStart(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, berlin)
	s := Schedule{Start: start, End: DistantFuture}

	s.SetEnd(start.AddDate(0, 0, -3))

	if !s.End.Equal(start) {
		t.Fatalf("End = %v, want clamped to start %v", s.End, start)
	}
	if s.RepeatsIndefinitely() {
		t.Error("schedule should be finite after SetEnd")
	}
}

func TestSetStartDragsEnd(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, berlin)
	s := Schedule{Start: start, End: start.AddDate(0, 0, 2)}

	later := start.AddDate(0, 0, 5)
	s.SetStart(later)

	if !s.End.Equal(later) {
		t.Errorf("End = %v, want %v", s.End, later)
	}

	s.SetStart(start)
	if !s.End.Equal(later) {
		t.Errorf("moving start back must not move the end, got %v", s.End)
	}
}

func TestSetRepeatsIndefinitely(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, berlin)
	s := Schedule{Start: start, End: start.AddDate(0, 0, 7)}

	s.SetRepeatsIndefinitely(true)
	if !s.RepeatsIndefinitely() {
		t.Fatal("expected indefinite schedule")
	}

	s.SetRepeatsIndefinitely(false)
	if !s.End.Equal(start) {
		t.Errorf("End = %v, want start", s.End)
	}

	s.SetEnd(start.AddDate(0, 0, 3))
	s.SetRepeatsIndefinitely(false)
	if !s.End.Equal(start.AddDate(0, 0, 3)) {
		t.Errorf("finite end must be kept, got %v", s.End)
	}
}

func TestAddEntryDefaults(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 35, 0, 0, berlin)
	s := Schedule{Title: "Ibuprofen"}

	first := s.AddEntry(uuid.New(), now)
	if first.Hour != 14 || first.Minute != 35 {
		t.Errorf("first entry time = %02d:%02d, want 14:35", first.Hour, first.Minute)
	}
	if first.Amount != DefaultAmount || first.DosageForm != PlaceholderDosageForm {
		t.Errorf("first entry = %+v", first)
	}
	if first.Title != "Ibuprofen" {
		t.Errorf("Title = %q", first.Title)
	}

	s.Entries[0].Amount = "½"
	s.Entries[0].DosageForm = "Tablette"
	s.Entries[0].Hour = 7

	second := s.AddEntry(uuid.New(), now.Add(time.Hour))
	if second.Hour != 7 || second.Minute != 35 || second.Amount != "½" || second.DosageForm != "Tablette" {
		t.Errorf("second entry should copy the last entry, got %+v", second)
	}
	if len(s.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(s.Entries))
	}
}

func TestRemoveEntry(t *testing.T) {
	s := Schedule{}
	a := s.AddEntry(uuid.New(), time.Now())
	b := s.AddEntry(uuid.New(), time.Now())

	if !s.RemoveEntry(a.ID) {
		t.Fatal("expected entry to be removed")
	}
	if s.RemoveEntry(a.ID) {
		t.Error("second removal should report false")
	}
	if len(s.Entries) != 1 || s.Entries[0].ID != b.ID {
		t.Errorf("remaining entries = %+v", s.Entries)
	}
}

func TestNormalize(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, berlin)
	id := uuid.New()
	s := Schedule{
		Start: start,
		End:   start.Add(-time.Hour),
		Entries: []Entry{
			{ID: id, Hour: 25, Minute: -1},
			{ID: id, Hour: 9},
			{ID: uuid.New(), Hour: 10, Minute: 61},
		},
	}

	s.Normalize()

	if !s.End.Equal(start) {
		t.Errorf("End = %v, want %v", s.End, start)
	}
	if len(s.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(s.Entries))
	}
	if s.Entries[0].Hour != 23 || s.Entries[0].Minute != 0 {
		t.Errorf("entry 0 = %02d:%02d", s.Entries[0].Hour, s.Entries[0].Minute)
	}
	if s.Entries[1].Minute != 59 {
		t.Errorf("entry 1 minute = %d", s.Entries[1].Minute)
	}
}

func TestNormalizeDoesNotShareBackingArray(t *testing.T) {
	id := uuid.New()
	entries := []Entry{{ID: id, Hour: 8}, {ID: id, Hour: 9}, {ID: uuid.New(), Hour: 30}}
	s := Schedule{End: DistantFuture, Entries: entries}

	s.Normalize()

	if entries[1].Hour != 9 || entries[2].Hour != 30 {
		t.Errorf("input slice rewritten: %+v", entries)
	}
	if len(s.Entries) != 2 || s.Entries[1].Hour != 23 {
		t.Errorf("normalized entries = %+v", s.Entries)
	}
}

func TestBuild(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, berlin)
	task := &r5.Task{
		ID: "160.000.100.000.001.05",
		MedicationRequest: &r5.MedicationRequest{
			DosageInstruction: []r5.Dosage{{Text: "1-0-½-1"}},
		},
		Medication: &r5.Medication{
			Code: &r5.CodeableConcept{Text: "Ibuprofen 400 mg"},
			Form: &r5.CodeableConcept{Coding: []r5.Coding{{Code: "FTA", Display: "Filmtabletten"}}},
		},
	}

	s := Build(task, now)

	if s.Title != "Ibuprofen 400 mg" || s.TaskID != task.ID || s.DosageInstructions != "1-0-½-1" {
		t.Errorf("unexpected schedule header %+v", s)
	}
	if s.IsActive {
		t.Error("built schedules must be inactive")
	}
	if !s.Start.Equal(now) || !s.RepeatsIndefinitely() {
		t.Errorf("Start=%v End=%v", s.Start, s.End)
	}

	want := []struct {
		hour   int
		amount string
	}{{8, "1"}, {18, "½"}, {20, "1"}}
	if len(s.Entries) != len(want) {
		t.Fatalf("len(Entries) = %d, want %d", len(s.Entries), len(want))
	}
	for i, w := range want {
		e := s.Entries[i]
		if e.Hour != w.hour || e.Minute != 0 || e.Amount != w.amount {
			t.Errorf("entry %d = %+v, want %02d:00 %s", i, e, w.hour, w.amount)
		}
		if e.DosageForm != "Filmtabletten" || e.Title != s.Title {
			t.Errorf("entry %d form/title = %q/%q", i, e.DosageForm, e.Title)
		}
	}
}

func TestBuildIgnoresTextWithoutDosageFlag(t *testing.T) {
	written := false
	task := &r5.Task{
		ID: "task-1",
		MedicationRequest: &r5.MedicationRequest{
			DosageFlag:        &written,
			DosageInstruction: []r5.Dosage{{Text: "1-0-1"}},
		},
	}

	s := Build(task, time.Now())

	if s.DosageInstructions != "" || len(s.Entries) != 0 {
		t.Errorf("schedule = %+v, want no instructions", s)
	}
}

func TestBuildFallbacks(t *testing.T) {
	s := Build(&r5.Task{ID: "task-1"}, time.Now())

	if s.Title != PlaceholderTitle {
		t.Errorf("Title = %q, want placeholder", s.Title)
	}
	if len(s.Entries) != 0 {
		t.Errorf("expected no entries, got %d", len(s.Entries))
	}
}
