// Package memory provides process-local storage for medication schedules.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/drfirst/go-erezept/internal/domain/medschedule"
)

// ErrMissingTaskID is returned when saving a schedule without a task id.
var ErrMissingTaskID = errors.New("schedule task id required")

// ScheduleStore is an in-memory medschedule.Store keyed by task id.
type ScheduleStore struct {
	mu     sync.RWMutex
	byTask map[string]medschedule.Schedule
}

var _ medschedule.Store = (*ScheduleStore)(nil)

// NewScheduleStore creates an empty store.
func NewScheduleStore() *ScheduleStore {
	return &ScheduleStore{byTask: make(map[string]medschedule.Schedule)}
}

// Save upserts each schedule by task id. A stored schedule keeps its id.
func (s *ScheduleStore) Save(_ context.Context, schedules ...medschedule.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sc := range schedules {
		if sc.TaskID == "" {
			return ErrMissingTaskID
		}
	}
	for _, sc := range schedules {
		if existing, ok := s.byTask[sc.TaskID]; ok {
			sc.ID = existing.ID
		}
		s.byTask[sc.TaskID] = sc.Clone()
	}
	return nil
}

// FetchAll returns all schedules ordered by start, then task id.
func (s *ScheduleStore) FetchAll(context.Context) ([]medschedule.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]medschedule.Schedule, 0, len(s.byTask))
	for _, sc := range s.byTask {
		out = append(out, sc.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// FetchByTaskID returns nil when the task has no schedule.
func (s *ScheduleStore) FetchByTaskID(_ context.Context, taskID string) (*medschedule.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.byTask[taskID]
	if !ok {
		return nil, nil
	}
	c := sc.Clone()
	return &c, nil
}

// Delete removes the schedules' task ids. Unknown ids are ignored.
func (s *ScheduleStore) Delete(_ context.Context, schedules ...medschedule.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sc := range schedules {
		delete(s.byTask, sc.TaskID)
	}
	return nil
}
