// Package reminders keeps the pending notification set in step with the stored
// medication schedules. Every mutation persists first and then rebuilds the
// complete request set: cancel all, refetch, regenerate, resubmit.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-erezept/internal/domain/medschedule"
	"github.com/drfirst/go-erezept/internal/notification"
	"github.com/drfirst/go-erezept/internal/observability/metrics"
)

var (
	// ErrLocalStore wraps every schedule store failure.
	ErrLocalStore = errors.New("local store error")
	// ErrNotificationAuthorization is returned when asking for authorization failed.
	ErrNotificationAuthorization = errors.New("notification authorization failed")
	// ErrNotificationsDenied is returned when the user declined notifications.
	ErrNotificationsDenied = errors.New("notifications not authorized")
	// ErrNotificationScheduling wraps backend failures while cancelling or adding requests.
	ErrNotificationScheduling = errors.New("notification scheduling failed")
)

// AuthorizationOptions are requested before the first request is scheduled.
const AuthorizationOptions = notification.AuthorizeAlert | notification.AuthorizeSound | notification.AuthorizeBadge

// Service is the schedule repository with notification reconciliation.
// Callers serialize Create and Delete.
type Service struct {
	store     medschedule.Store
	backend   notification.Backend
	generator *notification.Generator
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewService wires the repository. m may be nil.
func NewService(store medschedule.Store, backend notification.Backend, gen *notification.Generator, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		backend:   backend,
		generator: gen,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("reminders"),
		now:       time.Now,
	}
}

// Create upserts schedule by task id and reconciles notifications.
func (s *Service) Create(ctx context.Context, schedule medschedule.Schedule) error {
	ctx, span := s.tracer.Start(ctx, "reminders.create",
		trace.WithAttributes(attribute.String("task_id", schedule.TaskID)))
	defer span.End()

	schedule.Normalize()
	if err := s.store.Save(ctx, schedule); err != nil {
		return s.fail(span, fmt.Errorf("%w: save schedule: %w", ErrLocalStore, err))
	}
	s.metrics.SchedulesChanged(1, 0)
	s.logger.Info("schedule saved",
		zap.String("task_id", schedule.TaskID),
		zap.Bool("active", schedule.IsActive),
		zap.Int("entries", len(schedule.Entries)))

	return s.fail(span, s.reconcile(ctx))
}

// ReadAll returns every stored schedule.
func (s *Service) ReadAll(ctx context.Context) ([]medschedule.Schedule, error) {
	schedules, err := s.store.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch schedules: %w", ErrLocalStore, err)
	}
	return schedules, nil
}

// Read returns the schedule of a task, or nil when there is none.
func (s *Service) Read(ctx context.Context, taskID string) (*medschedule.Schedule, error) {
	schedule, err := s.store.FetchByTaskID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch schedule %s: %w", ErrLocalStore, taskID, err)
	}
	return schedule, nil
}

// Delete removes schedules and reconciles notifications.
func (s *Service) Delete(ctx context.Context, schedules ...medschedule.Schedule) error {
	ctx, span := s.tracer.Start(ctx, "reminders.delete",
		trace.WithAttributes(attribute.Int("count", len(schedules))))
	defer span.End()

	if err := s.store.Delete(ctx, schedules...); err != nil {
		return s.fail(span, fmt.Errorf("%w: delete schedules: %w", ErrLocalStore, err))
	}
	s.metrics.SchedulesChanged(0, len(schedules))
	s.logger.Info("schedules deleted", zap.Int("count", len(schedules)))

	return s.fail(span, s.reconcile(ctx))
}

// Today projects the stored schedules onto the current day.
func (s *Service) Today(ctx context.Context) ([]medschedule.Schedule, error) {
	schedules, err := s.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return medschedule.Today(schedules, s.now()), nil
}

// Reconcile rebuilds the pending notification set from the store without
// mutating it, e.g. after a restart.
func (s *Service) Reconcile(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "reminders.reconcile")
	defer span.End()
	return s.fail(span, s.reconcile(ctx))
}

// reconcile is not atomic: a failure after cancelling leaves the pending set
// empty or partial until the next successful mutation.
func (s *Service) reconcile(ctx context.Context) error {
	started := s.now()
	scheduled := 0
	outcome := "error"
	defer func() { s.metrics.ObserveReconciliation(outcome, started, scheduled) }()

	if err := s.backend.RemoveAllPending(ctx); err != nil {
		return fmt.Errorf("%w: remove pending requests: %w", ErrNotificationScheduling, err)
	}

	schedules, err := s.store.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: fetch schedules: %w", ErrLocalStore, err)
	}

	requests := s.generator.Generate(schedules)
	if len(requests) > 0 {
		if err := s.authorize(ctx); err != nil {
			return err
		}
	}

	for _, req := range requests {
		if err := s.backend.Add(ctx, req); err != nil {
			return fmt.Errorf("%w: add request %s: %w", ErrNotificationScheduling, req.Identifier, err)
		}
		scheduled++
	}

	outcome = "ok"
	s.logger.Info("notifications reconciled",
		zap.Int("schedules", len(schedules)),
		zap.Int("requests", scheduled))
	return nil
}

func (s *Service) authorize(ctx context.Context) error {
	if s.backend.IsAuthorized(ctx) {
		return nil
	}
	granted, err := s.backend.RequestAuthorization(ctx, AuthorizationOptions)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationAuthorization, err)
	}
	if !granted {
		return ErrNotificationsDenied
	}
	return nil
}

func (s *Service) fail(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("schedule operation failed", zap.Error(err))
	}
	return err
}
