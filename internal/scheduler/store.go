package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atlasagent/atlas/internal/config"
)

// ListFilter narrows and pages a task listing.
type ListFilter struct {
	// Status restricts results to one lifecycle state when non-empty.
	Status TaskStatus
	// Limit caps the page size; callers clamp it to [1, 200] with 50 as
	// the default.
	Limit  int
	Offset int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Normalize clamps the filter's paging fields into their valid range.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Store persists scheduled tasks.
//
// Create assigns the task's ID. Due returns pending tasks whose next run is
// at or before now, ordered soonest first. Cancel only affects a pending
// task owned by the given user and returns ErrTaskNotFound otherwise.
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id int64) (*Task, error)
	List(ctx context.Context, userID string, filter ListFilter) ([]*Task, error)
	Due(ctx context.Context, now time.Time) ([]*Task, error)
	Update(ctx context.Context, task *Task) error
	Cancel(ctx context.Context, id int64, userID string) error
	Close() error
}

// ErrTaskNotFound is returned when a task does not exist or is not visible
// to the caller.
var ErrTaskNotFound = fmt.Errorf("task not found")

// NewStore builds a Store from config.
func NewStore(cfg config.SchedulerConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path, nil)
	default:
		return nil, fmt.Errorf("unknown scheduler backend: %q", cfg.Backend)
	}
}

// MemoryStore keeps tasks in process memory. Suitable for tests and
// single-run sessions.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	tasks  map[int64]*Task
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, tasks: map[int64]*Task{}}
}

func (s *MemoryStore) Create(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task.ID = s.nextID
	s.nextID++
	clone := *task
	s.tasks[task.ID] = &clone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	clone := *task
	return &clone, nil
}

func (s *MemoryStore) List(_ context.Context, userID string, filter ListFilter) ([]*Task, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []*Task{}
	for _, task := range s.tasks {
		if task.UserID != userID {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		clone := *task
		matched = append(matched, &clone)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset >= len(matched) {
		return []*Task{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) Due(_ context.Context, now time.Time) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := []*Task{}
	for _, task := range s.tasks {
		if task.Status != StatusPending || task.NextRun.IsZero() || task.NextRun.After(now) {
			continue
		}
		clone := *task
		due = append(due, &clone)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRun.Before(due[j].NextRun) })
	return due, nil
}

func (s *MemoryStore) Update(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return ErrTaskNotFound
	}
	clone := *task
	s.tasks[task.ID] = &clone
	return nil
}

func (s *MemoryStore) Cancel(_ context.Context, id int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || task.UserID != userID || task.Status != StatusPending {
		return ErrTaskNotFound
	}
	task.Status = StatusCanceled
	task.NextRun = time.Time{}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
