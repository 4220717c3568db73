// Package notification expands medication schedules into local notification requests
// and defines the backend those requests are submitted to.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MaxPendingRequests is the platform ceiling on pending requests per backend.
const MaxPendingRequests = 64

// UserInfo keys linking a request back to the schedule entry that produced it.
const (
	UserInfoEntryID    = "medication_schedule_entry_id"
	UserInfoScheduleID = "medication_schedule_id"
	UserInfoTaskID     = "task_id"
)

// Request is a single local notification submitted to a Backend.
type Request struct {
	Identifier string
	Content    Content
	Trigger    Trigger
}

// Content is what the user sees when the request fires.
type Content struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	UserInfo map[string]string `json:"user_info,omitempty"`
}

// EntryID returns the schedule entry the request was generated for.
func (r Request) EntryID() string {
	return r.Content.UserInfo[UserInfoEntryID]
}

// Trigger decides when a request fires.
type Trigger interface {
	Repeats() bool
	// NextFire returns the first fire time strictly after t, evaluated in loc.
	NextFire(after time.Time, loc *time.Location) (time.Time, bool)
}

// DailyTrigger fires every day at the given wall-clock time.
type DailyTrigger struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (DailyTrigger) Repeats() bool { return true }

func (d DailyTrigger) NextFire(after time.Time, loc *time.Location) (time.Time, bool) {
	local := after.In(loc)
	y, m, day := local.Date()
	next := time.Date(y, m, day, d.Hour, d.Minute, 0, 0, loc)
	if !next.After(after) {
		next = time.Date(y, m, day+1, d.Hour, d.Minute, 0, 0, loc)
	}
	return next, true
}

// DateTrigger fires once at a calendar date and wall-clock time.
type DateTrigger struct {
	Year   int        `json:"year"`
	Month  time.Month `json:"month"`
	Day    int        `json:"day"`
	Hour   int        `json:"hour"`
	Minute int        `json:"minute"`
	Second int        `json:"second"`
}

// DateTriggerAt captures the calendar components of t.
func DateTriggerAt(t time.Time) DateTrigger {
	y, m, d := t.Date()
	return DateTrigger{Year: y, Month: m, Day: d, Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

func (DateTrigger) Repeats() bool { return false }

func (d DateTrigger) NextFire(after time.Time, loc *time.Location) (time.Time, bool) {
	at := d.In(loc)
	if !at.After(after) {
		return time.Time{}, false
	}
	return at, true
}

// In resolves the trigger's components in loc.
func (d DateTrigger) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second, 0, loc)
}

// AuthorizationOptions are the presentation kinds a backend is asked to allow.
type AuthorizationOptions uint8

const (
	AuthorizeAlert AuthorizationOptions = 1 << iota
	AuthorizeSound
	AuthorizeBadge
)

// Backend receives notification requests. Implementations accept at most
// MaxPendingRequests pending requests.
type Backend interface {
	Add(ctx context.Context, req Request) error
	RemoveAllPending(ctx context.Context) error
	RequestAuthorization(ctx context.Context, opts AuthorizationOptions) (bool, error)
	IsAuthorized(ctx context.Context) bool
}

type wireTrigger struct {
	Kind string `json:"kind"`
	DateTrigger
}

type wireRequest struct {
	Identifier string      `json:"identifier"`
	Content    Content     `json:"content"`
	Trigger    wireTrigger `json:"trigger"`
}

const (
	kindDaily = "daily"
	kindDate  = "date"
)

// MarshalJSON encodes the trigger with an explicit kind discriminator.
func (r Request) MarshalJSON() ([]byte, error) {
	w := wireRequest{Identifier: r.Identifier, Content: r.Content}
	switch t := r.Trigger.(type) {
	case DailyTrigger:
		w.Trigger = wireTrigger{Kind: kindDaily, DateTrigger: DateTrigger{Hour: t.Hour, Minute: t.Minute}}
	case DateTrigger:
		w.Trigger = wireTrigger{Kind: kindDate, DateTrigger: t}
	default:
		return nil, fmt.Errorf("unsupported trigger %T", r.Trigger)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a request written by MarshalJSON.
func (r *Request) UnmarshalJSON(data []byte) error {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Identifier = w.Identifier
	r.Content = w.Content
	switch w.Trigger.Kind {
	case kindDaily:
		r.Trigger = DailyTrigger{Hour: w.Trigger.Hour, Minute: w.Trigger.Minute}
	case kindDate:
		r.Trigger = w.Trigger.DateTrigger
	default:
		return fmt.Errorf("unknown trigger kind %q", w.Trigger.Kind)
	}
	return nil
}
