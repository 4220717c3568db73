package medschedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestToday(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, berlin)
	yesterday := now.AddDate(0, 0, -1)

	a := Schedule{ID: uuid.New(), Title: "Aspirin", Start: yesterday, End: DistantFuture, IsActive: false,
		Entries: []Entry{{ID: uuid.New(), Hour: 8}}}
	b := Schedule{ID: uuid.New(), Title: "Metoprolol", Start: yesterday, End: DistantFuture, IsActive: true,
		Entries: []Entry{{ID: uuid.New(), Hour: 14}, {ID: uuid.New(), Hour: 8}}}
	c := Schedule{ID: uuid.New(), Title: "Insulin", Start: yesterday, End: now.AddDate(0, 0, 1), IsActive: true,
		Entries: []Entry{{ID: uuid.New(), Hour: 20}}}

	got := Today([]Schedule{a, b, c}, now)

	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != c.ID || got[1].ID != b.ID {
		t.Fatalf("order = [%s %s], want [Insulin Metoprolol]", got[0].Title, got[1].Title)
	}
	if got[1].Entries[0].Hour != 8 || got[1].Entries[1].Hour != 14 {
		t.Errorf("entries not sorted: %+v", got[1].Entries)
	}
	if b.Entries[0].Hour != 14 {
		t.Error("input schedule entries must not be reordered")
	}
}

func TestTodayOutsideWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, berlin)
	future := Schedule{Title: "A", Start: now.Add(time.Hour), End: DistantFuture, IsActive: true}
	ended := Schedule{Title: "B", Start: now.AddDate(0, 0, -5), End: now.Add(-time.Minute), IsActive: true}
	boundary := Schedule{Title: "C", Start: now, End: now, IsActive: true}

	got := Today([]Schedule{future, ended, boundary}, now)

	if len(got) != 1 || got[0].Title != "C" {
		t.Fatalf("got %+v, want only the boundary schedule", got)
	}
}

func TestTodaySortsTitlesLocaleAware(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, berlin)
	mk := func(title string) Schedule {
		return Schedule{Title: title, Start: now, End: DistantFuture, IsActive: true}
	}

	got := Today([]Schedule{mk("Zink"), mk("ämilie"), mk("Baldrian")}, now)

	want := []string{"ämilie", "Baldrian", "Zink"}
	for i, w := range want {
		if got[i].Title != w {
			t.Errorf("got[%d] = %q, want %q", i, got[i].Title, w)
		}
	}
}
