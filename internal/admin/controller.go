// Package admin exposes task inspection and manual status overrides for
// the administrative surfaces (HTTP API, CLI, terminal UI). All mutation
// goes through the task store's compare-and-swap; the controller never
// touches task state directly.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skravchuk/buildbridge/internal/core"
	"github.com/skravchuk/buildbridge/internal/storage"
)

// ErrConflict reports that a task changed status concurrently while the
// requested override was being applied. The record is left as it now is.
var ErrConflict = fmt.Errorf("task status changed concurrently")

// Controller mediates admin access to the delayed task queue.
type Controller struct {
	store  storage.TaskStore
	logger *slog.Logger
}

// NewController creates a Controller over the given store.
func NewController(store storage.TaskStore, logger *slog.Logger) *Controller {
	return &Controller{store: store, logger: logger}
}

// ListTasks returns tasks newest-first, optionally filtered by status.
func (c *Controller) ListTasks(ctx context.Context, status *core.TaskStatus, limit int) ([]*core.DelayedTask, error) {
	return c.store.List(ctx, storage.TaskFilter{Status: status, Limit: limit})
}

// GetTask fetches a single task by id.
func (c *Controller) GetTask(ctx context.Context, id int64) (*core.DelayedTask, error) {
	return c.store.Get(ctx, id)
}

// ChangeStatus applies a manual status override. Only FAILED -> PENDING
// (retry, resetting the attempt budget) and non-terminal -> CANCELLED are
// allowed; anything else fails with InvalidTransitionError and leaves the
// task unchanged.
func (c *Controller) ChangeStatus(ctx context.Context, id int64, next core.TaskStatus) (*core.DelayedTask, error) {
	task, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := core.ValidateAdminTransition(task.Status, next); err != nil {
		return nil, err
	}

	fields := storage.StatusFields{}
	if next == core.StatusPending {
		zero := 0
		clearError := ""
		now := time.Now()
		fields.AttemptCount = &zero
		fields.LastError = &clearError
		fields.RunAfter = &now
	}

	ok, err := c.store.UpdateStatus(ctx, id, task.Status, next, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to apply status override: %w", err)
	}
	if !ok {
		return nil, ErrConflict
	}

	c.logger.Info("admin status override applied",
		"task", id, "from", task.Status, "to", next)
	return c.store.Get(ctx, id)
}
