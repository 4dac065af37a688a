package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skravchuk/buildbridge/internal/core"
)

// memoryStore is an in-process TaskStore used by tests and database-less
// local runs. A single mutex gives it the same atomicity guarantees the
// Postgres implementation gets from row locking.
type memoryStore struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]*core.DelayedTask
}

// NewMemoryStore creates an empty in-memory TaskStore.
func NewMemoryStore() TaskStore {
	return &memoryStore{
		nextID: 1,
		tasks:  make(map[int64]*core.DelayedTask),
	}
}

func (s *memoryStore) Create(_ context.Context, task *core.DelayedTask) (*core.DelayedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	stored := *task
	stored.ID = s.nextID
	stored.Status = core.StatusPending
	stored.RunAfter = now
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.nextID++
	s.tasks[stored.ID] = &stored

	copied := stored
	return &copied, nil
}

func (s *memoryStore) Get(_ context.Context, id int64) (*core.DelayedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, &core.NotFoundError{Resource: fmt.Sprintf("delayed task %d", id)}
	}
	copied := *task
	return &copied, nil
}

func (s *memoryStore) List(_ context.Context, filter TaskFilter) ([]*core.DelayedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []*core.DelayedTask
	for _, task := range s.tasks {
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		copied := *task
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) ClaimNext(_ context.Context) (*core.DelayedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var oldest *core.DelayedTask
	for _, task := range s.tasks {
		if task.Status != core.StatusPending || task.RunAfter.After(now) {
			continue
		}
		if oldest == nil ||
			task.CreatedAt.Before(oldest.CreatedAt) ||
			(task.CreatedAt.Equal(oldest.CreatedAt) && task.ID < oldest.ID) {
			oldest = task
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.Status = core.StatusRunning
	oldest.UpdatedAt = now
	copied := *oldest
	return &copied, nil
}

func (s *memoryStore) UpdateStatus(_ context.Context, id int64, expected, next core.TaskStatus, fields StatusFields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return false, &core.NotFoundError{Resource: fmt.Sprintf("delayed task %d", id)}
	}
	if task.Status != expected {
		return false, nil
	}

	task.Status = next
	task.UpdatedAt = time.Now()
	if fields.AttemptCount != nil {
		task.AttemptCount = *fields.AttemptCount
	}
	if fields.CommentID != nil {
		commentID := *fields.CommentID
		task.CommentID = &commentID
	}
	if fields.LastError != nil {
		if *fields.LastError == "" {
			task.LastError = nil
		} else {
			lastError := *fields.LastError
			task.LastError = &lastError
		}
	}
	if fields.RunAfter != nil {
		task.RunAfter = *fields.RunAfter
	}
	return true, nil
}

func (s *memoryStore) HasActiveTask(_ context.Context, projectID, mergeID int, sha string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks {
		if task.ProjectID != projectID || task.MergeID != mergeID || task.SHA != sha {
			continue
		}
		if task.Status == core.StatusPending || task.Status == core.StatusRunning {
			return true, nil
		}
	}
	return false, nil
}
