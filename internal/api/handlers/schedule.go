// Package handlers provides HTTP handlers for the reminder API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-erezept/internal/api/middleware"
	"github.com/drfirst/go-erezept/internal/domain/medschedule"
	fhir "github.com/drfirst/go-erezept/internal/fhir/r5"
	"github.com/drfirst/go-erezept/internal/reminders"
)

// ScheduleService is the reminder repository behind the handlers.
type ScheduleService interface {
	Create(ctx context.Context, schedule medschedule.Schedule) error
	ReadAll(ctx context.Context) ([]medschedule.Schedule, error)
	Read(ctx context.Context, taskID string) (*medschedule.Schedule, error)
	Delete(ctx context.Context, schedules ...medschedule.Schedule) error
	Today(ctx context.Context) ([]medschedule.Schedule, error)
}

// ScheduleHandler handles medication schedule endpoints
type ScheduleHandler struct {
	service ScheduleService
	logger  *zap.Logger
	now     func() time.Time
}

// NewScheduleHandler creates a new handler
func NewScheduleHandler(service ScheduleService, logger *zap.Logger) *ScheduleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleHandler{
		service: service,
		logger:  logger,
		now:     time.Now,
	}
}

// Routes returns the handler routes
func (h *ScheduleHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Upsert)
	r.Get("/today", h.Today)
	r.Post("/draft", h.Draft)
	r.Get("/{taskID}", h.Get)
	r.Delete("/{taskID}", h.Delete)
	return r
}

// EntryRequest is one time-of-day reminder in a submission. A missing id
// creates a new entry.
type EntryRequest struct {
	ID         *uuid.UUID `json:"id,omitempty"`
	Title      string     `json:"title"`
	Hour       int        `json:"hour"`
	Minute     int        `json:"minute"`
	DosageForm string     `json:"dosage_form"`
	Amount     string     `json:"amount"`
}

// ScheduleRequest is the request body for creating or replacing a schedule.
// End is ignored when RepeatsIndefinitely is set.
type ScheduleRequest struct {
	TaskID              string         `json:"task_id"`
	Title               string         `json:"title"`
	DosageInstructions  string         `json:"dosage_instructions"`
	IsActive            bool           `json:"is_active"`
	Start               *time.Time     `json:"start,omitempty"`
	End                 *time.Time     `json:"end,omitempty"`
	RepeatsIndefinitely bool           `json:"repeats_indefinitely"`
	Entries             []EntryRequest `json:"entries"`
}

// ScheduleResponse is a schedule as returned by the API.
type ScheduleResponse struct {
	medschedule.Schedule
	RepeatsIndefinitely bool `json:"repeats_indefinitely"`
}

func toResponse(s medschedule.Schedule) ScheduleResponse {
	return ScheduleResponse{Schedule: s, RepeatsIndefinitely: s.RepeatsIndefinitely()}
}

func toResponses(schedules []medschedule.Schedule) []ScheduleResponse {
	out := make([]ScheduleResponse, 0, len(schedules))
	for _, s := range schedules {
		out = append(out, toResponse(s))
	}
	return out
}

// List handles GET /schedules
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.service.ReadAll(r.Context())
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, toResponses(schedules))
}

// Today handles GET /schedules/today
func (h *ScheduleHandler) Today(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.service.Today(r.Context())
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, toResponses(schedules))
}

// Get handles GET /schedules/{taskID}
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	schedule, err := h.service.Read(r.Context(), taskID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if schedule == nil {
		h.jsonError(w, "schedule not found", "not_found", http.StatusNotFound)
		return
	}
	h.json(w, http.StatusOK, toResponse(*schedule))
}

// Upsert handles POST /schedules. The submission is applied to the stored
// schedule of the same task, or to a new one.
func (h *ScheduleHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("schedule-handler").Start(r.Context(), "upsert_schedule")
	defer span.End()

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", "invalid_request", http.StatusBadRequest)
		return
	}
	if req.TaskID == "" {
		h.jsonError(w, "task_id is required", "invalid_request", http.StatusBadRequest)
		return
	}
	for _, e := range req.Entries {
		if e.Hour < 0 || e.Hour > 23 || e.Minute < 0 || e.Minute > 59 {
			h.jsonError(w, "entry time must be within 00:00 and 23:59", "invalid_request", http.StatusBadRequest)
			return
		}
	}
	span.SetAttributes(attribute.String("task_id", req.TaskID))

	existing, err := h.service.Read(ctx, req.TaskID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	schedule := h.apply(existing, req)
	if err := h.service.Create(ctx, schedule); err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.logger.Info("schedule stored",
		zap.String("task_id", schedule.TaskID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.String("client_id", middleware.GetClientID(ctx)))

	stored, err := h.service.Read(ctx, req.TaskID)
	if err != nil || stored == nil {
		stored = &schedule
	}
	status := http.StatusCreated
	if existing != nil {
		status = http.StatusOK
	}
	h.json(w, status, toResponse(*stored))
}

// apply runs a submission through the schedule edit operations so the end is
// never before the start.
func (h *ScheduleHandler) apply(existing *medschedule.Schedule, req ScheduleRequest) medschedule.Schedule {
	now := h.now()

	var s medschedule.Schedule
	if existing != nil {
		s = existing.Clone()
	} else {
		s = medschedule.Schedule{ID: uuid.New(), Start: now, End: medschedule.DistantFuture}
	}

	s.TaskID = req.TaskID
	s.Title = req.Title
	if s.Title == "" {
		s.Title = medschedule.PlaceholderTitle
	}
	s.DosageInstructions = req.DosageInstructions
	s.IsActive = req.IsActive

	if req.Start != nil {
		s.SetStart(*req.Start)
	}
	s.SetRepeatsIndefinitely(req.RepeatsIndefinitely)
	if !req.RepeatsIndefinitely && req.End != nil {
		s.SetEnd(*req.End)
	}

	s.Entries = nil
	for _, e := range req.Entries {
		id := uuid.New()
		if e.ID != nil {
			id = *e.ID
		}
		entry := s.AddEntry(id, now)
		entry.Hour, entry.Minute = e.Hour, e.Minute
		if e.Title != "" {
			entry.Title = e.Title
		}
		if e.DosageForm != "" {
			entry.DosageForm = e.DosageForm
		}
		if e.Amount != "" {
			entry.Amount = e.Amount
		}
		s.Entries[len(s.Entries)-1] = entry
	}
	return s
}

// Draft handles POST /schedules/draft. It derives an unsaved schedule from a
// prescription task.
func (h *ScheduleHandler) Draft(w http.ResponseWriter, r *http.Request) {
	var task fhir.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		h.jsonError(w, "invalid request body", "invalid_request", http.StatusBadRequest)
		return
	}
	if task.ID == "" {
		h.jsonError(w, "task id is required", "invalid_request", http.StatusBadRequest)
		return
	}
	h.json(w, http.StatusOK, toResponse(medschedule.Build(&task, h.now())))
}

// Delete handles DELETE /schedules/{taskID}
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "taskID")

	schedule, err := h.service.Read(ctx, taskID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if schedule == nil {
		h.jsonError(w, "schedule not found", "not_found", http.StatusNotFound)
		return
	}
	if err := h.service.Delete(ctx, *schedule); err != nil {
		h.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// serviceError maps repository errors. Authorization and scheduling failures
// happen after the store write, so the change itself is kept.
func (h *ScheduleHandler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("schedule request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Error(err))

	switch {
	case errors.Is(err, reminders.ErrNotificationsDenied):
		h.jsonError(w, "notifications are not authorized", "notifications_denied", http.StatusConflict)
	case errors.Is(err, reminders.ErrNotificationAuthorization):
		h.jsonError(w, "notification authorization failed", "notification_authorization_failed", http.StatusConflict)
	case errors.Is(err, reminders.ErrNotificationScheduling):
		h.jsonError(w, "scheduling notifications failed", "notification_scheduling_failed", http.StatusBadGateway)
	case errors.Is(err, reminders.ErrLocalStore):
		h.jsonError(w, "schedule storage failed", "local_store", http.StatusInternalServerError)
	default:
		h.jsonError(w, "internal server error", "internal", http.StatusInternalServerError)
	}
}

func (h *ScheduleHandler) json(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *ScheduleHandler) jsonError(w http.ResponseWriter, message, code string, status int) {
	h.json(w, status, map[string]string{"error": message, "code": code})
}
