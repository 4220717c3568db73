package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/drfirst/go-erezept/internal/domain/medschedule"
	"github.com/drfirst/go-erezept/internal/infrastructure/memory"
	"github.com/drfirst/go-erezept/internal/notification"
	"github.com/drfirst/go-erezept/internal/reminders"
)

type grantingBackend struct {
	grant   bool
	pending []notification.Request
}

func (b *grantingBackend) Add(_ context.Context, req notification.Request) error {
	b.pending = append(b.pending, req)
	return nil
}

func (b *grantingBackend) RemoveAllPending(context.Context) error {
	b.pending = nil
	return nil
}

func (b *grantingBackend) RequestAuthorization(context.Context, notification.AuthorizationOptions) (bool, error) {
	return b.grant, nil
}

func (b *grantingBackend) IsAuthorized(context.Context) bool { return b.grant }

func newTestHandler(t *testing.T, grant bool) (http.Handler, *grantingBackend) {
	t.Helper()
	backend := &grantingBackend{grant: grant}
	svc := reminders.NewService(memory.NewScheduleStore(), backend, notification.NewGenerator(time.UTC), nil, nil)
	h := NewScheduleHandler(svc, nil)
	h.now = func() time.Time { return time.Now().UTC() }
	return h.Routes(), backend
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeSchedule(t *testing.T, rec *httptest.ResponseRecorder) ScheduleResponse {
	t.Helper()
	var resp ScheduleResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestUpsert_CreatesAndSchedules(t *testing.T) {
	h, backend := newTestHandler(t, true)
	start := time.Now().UTC().Add(-time.Hour)

	rec := do(t, h, http.MethodPost, "/", ScheduleRequest{
		TaskID:              "160.000.000.000.001.01",
		Title:               "Ibuprofen 400",
		IsActive:            true,
		Start:               &start,
		RepeatsIndefinitely: true,
		Entries: []EntryRequest{
			{Hour: 8, Minute: 0, DosageForm: "Tablette", Amount: "1"},
			{Hour: 20, Minute: 0},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeSchedule(t, rec)
	if !resp.RepeatsIndefinitely {
		t.Error("expected indefinite schedule")
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.Entries))
	}
	// the second entry inherits the form of the first
	if resp.Entries[1].DosageForm != "Tablette" {
		t.Errorf("expected inherited dosage form, got %q", resp.Entries[1].DosageForm)
	}
	if len(backend.pending) != 2 {
		t.Errorf("expected 2 daily requests, got %d", len(backend.pending))
	}

	rec = do(t, h, http.MethodPost, "/", ScheduleRequest{
		TaskID:   "160.000.000.000.001.01",
		Title:    "Ibuprofen 400",
		IsActive: false,
		Start:    &start,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on replace, got %d", rec.Code)
	}
	if replaced := decodeSchedule(t, rec); replaced.ID != resp.ID {
		t.Errorf("expected schedule id %s to be kept, got %s", resp.ID, replaced.ID)
	}
	if len(backend.pending) != 0 {
		t.Errorf("expected no requests for an inactive schedule, got %d", len(backend.pending))
	}
}

func TestUpsert_ClampsEndToStart(t *testing.T) {
	h, _ := newTestHandler(t, true)
	start := time.Date(2030, 5, 10, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -3)

	rec := do(t, h, http.MethodPost, "/", ScheduleRequest{
		TaskID: "task-1",
		Start:  &start,
		End:    &end,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeSchedule(t, rec)
	if !resp.End.Equal(start) {
		t.Errorf("expected end clamped to %v, got %v", start, resp.End)
	}
	if resp.Title != medschedule.PlaceholderTitle {
		t.Errorf("expected placeholder title, got %q", resp.Title)
	}
}

func TestUpsert_Validation(t *testing.T) {
	h, _ := newTestHandler(t, true)

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", "{"},
		{"missing task id", ScheduleRequest{Title: "x"}},
		{"hour out of range", ScheduleRequest{TaskID: "task-1", Entries: []EntryRequest{{Hour: 25}}}},
		{"negative minute", ScheduleRequest{TaskID: "task-1", Entries: []EntryRequest{{Hour: 8, Minute: -1}}}},
		{"minute out of range", ScheduleRequest{TaskID: "task-1", Entries: []EntryRequest{{Hour: 8, Minute: 60}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), "invalid_request") {
				t.Errorf("body = %s, want invalid_request code", rec.Body.String())
			}
		})
	}

	get := do(t, h, http.MethodGet, "/task-1", nil)
	if get.Code != http.StatusNotFound {
		t.Errorf("rejected schedule was stored: GET = %d", get.Code)
	}
}

func TestUpsert_NotificationsDenied(t *testing.T) {
	h, _ := newTestHandler(t, false)

	rec := do(t, h, http.MethodPost, "/", ScheduleRequest{
		TaskID:              "task-1",
		IsActive:            true,
		RepeatsIndefinitely: true,
		Entries:             []EntryRequest{{Hour: 9}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "notifications_denied") {
		t.Errorf("expected denied code, got %s", rec.Body.String())
	}

	// the schedule itself was stored
	if rec := do(t, h, http.MethodGet, "/task-1", nil); rec.Code != http.StatusOK {
		t.Errorf("expected stored schedule, got %d", rec.Code)
	}
}

func TestGetAndDelete(t *testing.T) {
	h, _ := newTestHandler(t, true)

	if rec := do(t, h, http.MethodGet, "/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	do(t, h, http.MethodPost, "/", ScheduleRequest{TaskID: "task-2", Title: "Metformin"})

	rec := do(t, h, http.MethodGet, "/task-2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeSchedule(t, rec); got.Title != "Metformin" {
		t.Errorf("unexpected title %q", got.Title)
	}

	if rec := do(t, h, http.MethodDelete, "/task-2", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/task-2", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestListAndToday(t *testing.T) {
	h, _ := newTestHandler(t, true)
	yesterday := time.Now().UTC().AddDate(0, 0, -1)

	do(t, h, http.MethodPost, "/", ScheduleRequest{
		TaskID: "active", Title: "Aspirin", IsActive: true, Start: &yesterday,
		RepeatsIndefinitely: true, Entries: []EntryRequest{{Hour: 7}},
	})
	do(t, h, http.MethodPost, "/", ScheduleRequest{
		TaskID: "inactive", Title: "Zopiclon", Start: &yesterday, RepeatsIndefinitely: true,
	})

	var all []ScheduleResponse
	rec := do(t, h, http.MethodGet, "/", nil)
	if err := json.NewDecoder(rec.Body).Decode(&all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 schedules, got %d", len(all))
	}

	var today []ScheduleResponse
	rec = do(t, h, http.MethodGet, "/today", nil)
	if err := json.NewDecoder(rec.Body).Decode(&today); err != nil {
		t.Fatal(err)
	}
	if len(today) != 1 || today[0].TaskID != "active" {
		t.Fatalf("expected only the active schedule today, got %+v", today)
	}
}

func TestDraft(t *testing.T) {
	h, _ := newTestHandler(t, true)

	body := `{
		"resourceType": "Task",
		"id": "160.000.000.000.002.01",
		"status": "ready",
		"medicationRequest": {"resourceType": "MedicationRequest", "dosageInstruction": [{"text": "1-0-1-0"}]},
		"medication": {"resourceType": "Medication", "code": {"text": "Ramipril 5mg"}}
	}`
	rec := do(t, h, http.MethodPost, "/draft", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	draft := decodeSchedule(t, rec)
	if draft.IsActive {
		t.Error("expected inactive draft")
	}
	if len(draft.Entries) != 2 {
		t.Fatalf("expected morning and evening entries, got %d", len(draft.Entries))
	}

	// drafts are not stored
	if rec := do(t, h, http.MethodGet, "/160.000.000.000.002.01", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected draft not to be stored, got %d", rec.Code)
	}

	if rec := do(t, h, http.MethodPost, "/draft", `{"resourceType":"Task"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without task id, got %d", rec.Code)
	}
}

type brokenService struct{ err error }

func (s brokenService) Create(context.Context, medschedule.Schedule) error { return s.err }

func (s brokenService) ReadAll(context.Context) ([]medschedule.Schedule, error) { return nil, s.err }

func (s brokenService) Read(context.Context, string) (*medschedule.Schedule, error) { return nil, s.err }

func (s brokenService) Delete(context.Context, ...medschedule.Schedule) error { return s.err }

func (s brokenService) Today(context.Context) ([]medschedule.Schedule, error) { return nil, s.err }

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: boom", reminders.ErrLocalStore), http.StatusInternalServerError},
		{fmt.Errorf("%w: denied", reminders.ErrNotificationsDenied), http.StatusConflict},
		{fmt.Errorf("%w: timeout", reminders.ErrNotificationAuthorization), http.StatusConflict},
		{fmt.Errorf("%w: broker down", reminders.ErrNotificationScheduling), http.StatusBadGateway},
		{fmt.Errorf("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := NewScheduleHandler(brokenService{err: tt.err}, nil).Routes()
			rec := do(t, h, http.MethodGet, "/", nil)
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("unexpected content type %q", ct)
			}
		})
	}
}
