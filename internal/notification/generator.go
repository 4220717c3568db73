package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-erezept/internal/domain/medschedule"
)

// Generator expands active schedules into notification requests.
type Generator struct {
	loc   *time.Location
	newID func() string
}

// NewGenerator creates a generator evaluating wall-clock times in loc.
func NewGenerator(loc *time.Location) *Generator {
	if loc == nil {
		loc = time.Local
	}
	return &Generator{
		loc:   loc,
		newID: func() string { return uuid.New().String() },
	}
}

// Generate returns one request per (schedule, entry) for open-ended schedules and
// one request per (schedule, entry, day) for finite ones, at most
// MaxPendingRequests per entry. Inactive schedules produce nothing.
func (g *Generator) Generate(schedules []medschedule.Schedule) []Request {
	var out []Request
	for _, s := range schedules {
		if !s.IsActive {
			continue
		}
		for _, e := range s.Entries {
			if s.RepeatsIndefinitely() {
				out = append(out, g.request(s, e, DailyTrigger{Hour: e.Hour, Minute: e.Minute}))
				continue
			}
			for _, at := range g.days(s.Start, s.End, e) {
				out = append(out, g.request(s, e, DateTriggerAt(at)))
			}
		}
	}
	return out
}

// days lists the fire times of an entry between start and end, both days inclusive.
func (g *Generator) days(start, end time.Time, e medschedule.Entry) []time.Time {
	start, end = start.In(g.loc), end.In(g.loc)
	count := daysBetween(start, end)
	if count < 0 {
		return nil
	}

	y, m, d := start.Date()
	var out []time.Time
	for offset := 0; offset <= count && len(out) < MaxPendingRequests; offset++ {
		out = append(out, time.Date(y, m, d+offset, e.Hour, e.Minute, 0, 0, g.loc))
	}
	return out
}

func (g *Generator) request(s medschedule.Schedule, e medschedule.Entry, trigger Trigger) Request {
	title := e.Title
	if title == "" {
		title = s.Title
	}
	return Request{
		Identifier: g.newID(),
		Content: Content{
			Title: title,
			Body:  strings.TrimSpace(fmt.Sprintf("%s %s", e.Amount, e.DosageForm)),
			UserInfo: map[string]string{
				UserInfoEntryID:    e.ID.String(),
				UserInfoScheduleID: s.ID.String(),
				UserInfoTaskID:     s.TaskID,
			},
		},
		Trigger: trigger,
	}
}

// daysBetween counts calendar days from a to b, ignoring the time of day.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
