// Package postgres provides PostgreSQL storage for medication schedules and
// the reminder command outbox.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-erezept/internal/domain/medschedule"
)

// ScheduleSchema creates the schedule tables.
const ScheduleSchema = `
CREATE TABLE IF NOT EXISTS medication_schedules (
	id                  UUID PRIMARY KEY,
	task_id             TEXT NOT NULL UNIQUE,
	title               TEXT NOT NULL,
	dosage_instructions TEXT NOT NULL DEFAULT '',
	start_at            TIMESTAMPTZ NOT NULL,
	end_at              TIMESTAMPTZ NOT NULL,
	is_active           BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS medication_schedule_entries (
	id          UUID NOT NULL,
	schedule_id UUID NOT NULL REFERENCES medication_schedules(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	title       TEXT NOT NULL,
	hour        SMALLINT NOT NULL,
	minute      SMALLINT NOT NULL,
	dosage_form TEXT NOT NULL,
	amount      TEXT NOT NULL,
	PRIMARY KEY (schedule_id, id)
);
`

// ScheduleStore is a medschedule.Store backed by PostgreSQL.
type ScheduleStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

var _ medschedule.Store = (*ScheduleStore)(nil)

// NewScheduleStore creates a store on pool.
func NewScheduleStore(pool *pgxpool.Pool, logger *zap.Logger) *ScheduleStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleStore{pool: pool, logger: logger, tracer: otel.Tracer("schedule-store")}
}

// Migrate creates the schedule tables if needed.
func (s *ScheduleStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, ScheduleSchema); err != nil {
		return fmt.Errorf("migrate schedule schema: %w", err)
	}
	return nil
}

// Save upserts schedules by task id in one transaction and replaces their entries.
// An existing row keeps its id.
func (s *ScheduleStore) Save(ctx context.Context, schedules ...medschedule.Schedule) error {
	ctx, span := s.tracer.Start(ctx, "schedule_store.save",
		trace.WithAttributes(attribute.Int("count", len(schedules))))
	defer span.End()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, sc := range schedules {
			if err := saveSchedule(ctx, tx, sc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func saveSchedule(ctx context.Context, tx pgx.Tx, sc medschedule.Schedule) error {
	query := `
		INSERT INTO medication_schedules (id, task_id, title, dosage_instructions, start_at, end_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id) DO UPDATE
		SET title = EXCLUDED.title,
		    dosage_instructions = EXCLUDED.dosage_instructions,
		    start_at = EXCLUDED.start_at,
		    end_at = EXCLUDED.end_at,
		    is_active = EXCLUDED.is_active,
		    updated_at = NOW()
		RETURNING id
	`

	var id uuid.UUID
	err := tx.QueryRow(ctx, query,
		sc.ID, sc.TaskID, sc.Title, sc.DosageInstructions, sc.Start, sc.End, sc.IsActive,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("upsert schedule %s: %w", sc.TaskID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM medication_schedule_entries WHERE schedule_id = $1`, id); err != nil {
		return fmt.Errorf("clear entries of %s: %w", sc.TaskID, err)
	}

	if len(sc.Entries) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(sc.Entries))
	for i, e := range sc.Entries {
		rows = append(rows, []any{e.ID, id, i, e.Title, e.Hour, e.Minute, e.DosageForm, e.Amount})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"medication_schedule_entries"},
		[]string{"id", "schedule_id", "position", "title", "hour", "minute", "dosage_form", "amount"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("insert entries of %s: %w", sc.TaskID, err)
	}
	return nil
}

// FetchAll returns all schedules ordered by start, then task id.
func (s *ScheduleStore) FetchAll(ctx context.Context) ([]medschedule.Schedule, error) {
	ctx, span := s.tracer.Start(ctx, "schedule_store.fetch_all")
	defer span.End()

	schedules, err := s.query(ctx, `ORDER BY s.start_at, s.task_id`)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return schedules, nil
}

// FetchByTaskID returns nil when the task has no schedule.
func (s *ScheduleStore) FetchByTaskID(ctx context.Context, taskID string) (*medschedule.Schedule, error) {
	ctx, span := s.tracer.Start(ctx, "schedule_store.fetch_by_task_id",
		trace.WithAttributes(attribute.String("task_id", taskID)))
	defer span.End()

	schedules, err := s.query(ctx, `WHERE s.task_id = $1`, taskID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(schedules) == 0 {
		return nil, nil
	}
	return &schedules[0], nil
}

// Delete removes schedules by task id. Entries cascade.
func (s *ScheduleStore) Delete(ctx context.Context, schedules ...medschedule.Schedule) error {
	ctx, span := s.tracer.Start(ctx, "schedule_store.delete",
		trace.WithAttributes(attribute.Int("count", len(schedules))))
	defer span.End()

	taskIDs := make([]string, 0, len(schedules))
	for _, sc := range schedules {
		taskIDs = append(taskIDs, sc.TaskID)
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM medication_schedules WHERE task_id = ANY($1)`, taskIDs)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete schedules: %w", err)
	}
	s.logger.Debug("schedules deleted", zap.Int64("rows", tag.RowsAffected()))
	return nil
}

// query loads schedules matching clause together with their entries.
func (s *ScheduleStore) query(ctx context.Context, clause string, args ...any) ([]medschedule.Schedule, error) {
	query := `
		SELECT s.id, s.task_id, s.title, s.dosage_instructions, s.start_at, s.end_at, s.is_active
		FROM medication_schedules s
	` + clause

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var (
		schedules []medschedule.Schedule
		ids       []string
	)
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var sc medschedule.Schedule
		if err := rows.Scan(&sc.ID, &sc.TaskID, &sc.Title, &sc.DosageInstructions, &sc.Start, &sc.End, &sc.IsActive); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		index[sc.ID] = len(schedules)
		ids = append(ids, sc.ID.String())
		schedules = append(schedules, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	if len(schedules) == 0 {
		return nil, nil
	}

	entryRows, err := s.pool.Query(ctx, `
		SELECT schedule_id, id, title, hour, minute, dosage_form, amount
		FROM medication_schedule_entries
		WHERE schedule_id = ANY($1::uuid[])
		ORDER BY schedule_id, position
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer entryRows.Close()

	for entryRows.Next() {
		var (
			scheduleID uuid.UUID
			e          medschedule.Entry
		)
		if err := entryRows.Scan(&scheduleID, &e.ID, &e.Title, &e.Hour, &e.Minute, &e.DosageForm, &e.Amount); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		i, ok := index[scheduleID]
		if !ok {
			return nil, errors.New("entry references unknown schedule")
		}
		schedules[i].Entries = append(schedules[i].Entries, e)
	}
	if err := entryRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return schedules, nil
}
