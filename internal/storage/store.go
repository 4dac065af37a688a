// Package storage persists delayed tasks. The worker's correctness depends
// on this package's claim and status-update operations being atomic.
package storage

import (
	"context"
	"time"

	"github.com/skravchuk/buildbridge/internal/core"
)

// TaskFilter narrows List results.
type TaskFilter struct {
	Status *core.TaskStatus
	Limit  int
}

// StatusFields are the columns written alongside a status transition.
// Nil pointers leave the column untouched; an empty LastError clears it.
type StatusFields struct {
	AttemptCount *int
	CommentID    *int
	LastError    *string
	RunAfter     *time.Time
}

// TaskStore defines the persistence boundary for delayed tasks.
//
// ClaimNext atomically moves the oldest claimable PENDING task to RUNNING;
// two stores racing on the same row must produce exactly one winner.
// UpdateStatus is an optimistic compare-and-swap: it reports false, without
// error, when the task is no longer in the expected status.
type TaskStore interface {
	Create(ctx context.Context, task *core.DelayedTask) (*core.DelayedTask, error)
	Get(ctx context.Context, id int64) (*core.DelayedTask, error)
	List(ctx context.Context, filter TaskFilter) ([]*core.DelayedTask, error)
	ClaimNext(ctx context.Context) (*core.DelayedTask, error)
	UpdateStatus(ctx context.Context, id int64, expected, next core.TaskStatus, fields StatusFields) (bool, error)
	HasActiveTask(ctx context.Context, projectID, mergeID int, sha string) (bool, error)
}
