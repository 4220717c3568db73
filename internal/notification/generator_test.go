package notification

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-erezept/internal/domain/medschedule"
)

var berlin = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		return time.UTC
	}
	return loc
}()

func schedule(start, end time.Time, active bool, hours ...int) medschedule.Schedule {
	s := medschedule.Schedule{
		ID:       uuid.New(),
		TaskID:   "task-" + uuid.NewString()[:8],
		Title:    "Ibuprofen",
		Start:    start,
		End:      end,
		IsActive: active,
	}
	for _, h := range hours {
		s.Entries = append(s.Entries, medschedule.Entry{
			ID: uuid.New(), Title: "Ibuprofen", Hour: h, Minute: 30, DosageForm: "Tablette", Amount: "1",
		})
	}
	return s
}

func TestGenerateSkipsInactive(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, berlin)
	g := NewGenerator(berlin)

	got := g.Generate([]medschedule.Schedule{schedule(start, medschedule.DistantFuture, false, 8, 20)})
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

func TestGenerateIndefinite(t *testing.T) {
	start := time.Date(2020, 1, 1, 9, 0, 0, 0, berlin)
	s := schedule(start, medschedule.DistantFuture, true, 8, 20)
	g := NewGenerator(berlin)

	got := g.Generate([]medschedule.Schedule{s})

	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for i, r := range got {
		trigger, ok := r.Trigger.(DailyTrigger)
		if !ok {
			t.Fatalf("request %d trigger = %T, want DailyTrigger", i, r.Trigger)
		}
		if !trigger.Repeats() {
			t.Error("daily trigger must repeat")
		}
		if trigger.Hour != s.Entries[i].Hour || trigger.Minute != 30 {
			t.Errorf("trigger %d = %+v", i, trigger)
		}
		if r.EntryID() != s.Entries[i].ID.String() {
			t.Errorf("request %d entry id = %q", i, r.EntryID())
		}
		if r.Identifier == "" || r.Identifier == s.Entries[i].ID.String() {
			t.Errorf("request %d identifier must be fresh, got %q", i, r.Identifier)
		}
		if r.Content.Title != "Ibuprofen" || r.Content.Body != "1 Tablette" {
			t.Errorf("content = %+v", r.Content)
		}
	}
}

func TestGenerateFiniteRange(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, berlin)
	end := time.Date(2026, 3, 13, 7, 0, 0, 0, berlin)
	g := NewGenerator(berlin)

	got := g.Generate([]medschedule.Schedule{schedule(start, end, true, 8)})

	if len(got) != 4 {
		t.Fatalf("len = %d, want 4 (10th through 13th)", len(got))
	}
	for i, r := range got {
		trigger, ok := r.Trigger.(DateTrigger)
		if !ok {
			t.Fatalf("trigger = %T, want DateTrigger", r.Trigger)
		}
		if trigger.Repeats() {
			t.Error("date trigger must not repeat")
		}
		want := time.Date(2026, 3, 10+i, 8, 30, 0, 0, berlin)
		if at := trigger.In(berlin); !at.Equal(want) {
			t.Errorf("request %d fires at %v, want %v", i, at, want)
		}
	}
}

func TestGenerateFiniteRangeCapped(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, berlin)
	end := start.AddDate(0, 0, 100)
	g := NewGenerator(berlin)

	got := g.Generate([]medschedule.Schedule{schedule(start, end, true, 8)})

	if len(got) != MaxPendingRequests {
		t.Fatalf("len = %d, want %d", len(got), MaxPendingRequests)
	}
}

func TestGenerateCapIsPerEntry(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, berlin)
	end := start.AddDate(0, 0, 100)
	g := NewGenerator(berlin)

	got := g.Generate([]medschedule.Schedule{schedule(start, end, true, 8, 20)})

	if len(got) != 2*MaxPendingRequests {
		t.Fatalf("len = %d, want %d", len(got), 2*MaxPendingRequests)
	}
}

func TestGenerateInvertedRangeSkipped(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, berlin)
	s := schedule(start, start.AddDate(0, 0, -2), true, 8)
	g := NewGenerator(berlin)

	if got := g.Generate([]medschedule.Schedule{s}); len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

func TestGenerateAcrossDSTKeepsWallClock(t *testing.T) {
	start := time.Date(2026, 3, 28, 9, 0, 0, 0, berlin)
	end := time.Date(2026, 3, 30, 9, 0, 0, 0, berlin)
	g := NewGenerator(berlin)

	got := g.Generate([]medschedule.Schedule{schedule(start, end, true, 8)})

	for _, r := range got {
		at := r.Trigger.(DateTrigger).In(berlin)
		if at.Hour() != 8 || at.Minute() != 30 {
			t.Errorf("fire time %v drifted from 08:30", at)
		}
	}
}

func TestDailyTriggerNextFire(t *testing.T) {
	trigger := DailyTrigger{Hour: 8, Minute: 0}

	before := time.Date(2026, 3, 10, 7, 0, 0, 0, berlin)
	next, ok := trigger.NextFire(before, berlin)
	if !ok || !next.Equal(time.Date(2026, 3, 10, 8, 0, 0, 0, berlin)) {
		t.Errorf("NextFire(before) = %v", next)
	}

	exactly := time.Date(2026, 3, 10, 8, 0, 0, 0, berlin)
	next, _ = trigger.NextFire(exactly, berlin)
	if !next.Equal(time.Date(2026, 3, 11, 8, 0, 0, 0, berlin)) {
		t.Errorf("NextFire(exactly) = %v", next)
	}
}

func TestDateTriggerNextFire(t *testing.T) {
	trigger := DateTriggerAt(time.Date(2026, 3, 10, 8, 0, 0, 0, berlin))

	if _, ok := trigger.NextFire(time.Date(2026, 3, 10, 8, 0, 0, 0, berlin), berlin); ok {
		t.Error("a past date trigger must not fire again")
	}
	next, ok := trigger.NextFire(time.Date(2026, 3, 9, 8, 0, 0, 0, berlin), berlin)
	if !ok || next.Day() != 10 {
		t.Errorf("NextFire = %v, %v", next, ok)
	}
}

func TestRequestJSON(t *testing.T) {
	reqs := []Request{
		{Identifier: "a", Content: Content{Title: "t", UserInfo: map[string]string{UserInfoEntryID: "e"}}, Trigger: DailyTrigger{Hour: 8, Minute: 15}},
		{Identifier: "b", Trigger: DateTrigger{Year: 2026, Month: time.March, Day: 10, Hour: 20}},
	}
	for _, in := range reqs {
		data, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var out Request
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if out.Identifier != in.Identifier || out.Trigger != in.Trigger || out.EntryID() != in.EntryID() {
			t.Errorf("decoded %+v, want %+v", out, in)
		}
	}

	var bad Request
	if err := json.Unmarshal([]byte(`{"identifier":"x","trigger":{"kind":"weekly"}}`), &bad); err == nil {
		t.Error("expected error for unknown trigger kind")
	}
}
