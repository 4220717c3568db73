package medschedule

import (
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Today returns the schedules that remind the patient at now, entries ordered by
// time of day and schedules ordered by title. The input is not modified.
func Today(schedules []Schedule, now time.Time) []Schedule {
	var out []Schedule
	for _, s := range schedules {
		if !s.IsActiveAt(now) {
			continue
		}
		s = s.Clone()
		sort.SliceStable(s.Entries, func(i, j int) bool {
			a, b := s.Entries[i], s.Entries[j]
			if a.Hour != b.Hour {
				return a.Hour < b.Hour
			}
			return a.Minute < b.Minute
		})
		out = append(out, s)
	}

	col := collate.New(language.German)
	sort.SliceStable(out, func(i, j int) bool {
		return col.CompareString(out[i].Title, out[j].Title) < 0
	})
	return out
}
