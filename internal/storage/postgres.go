package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/skravchuk/buildbridge/internal/core"
)

const taskColumns = `id, group_name, job_name, project_id, merge_id, sha1, payload,
	status, attempt_count, comment_id, last_error, run_after, created_at, updated_at`

type postgresStore struct {
	db *sqlx.DB
}

// NewStore creates a Postgres-backed TaskStore.
func NewStore(db *sqlx.DB) TaskStore {
	return &postgresStore{db: db}
}

// Create inserts a new task row and returns it with store-assigned fields.
func (s *postgresStore) Create(ctx context.Context, task *core.DelayedTask) (*core.DelayedTask, error) {
	query := `
		INSERT INTO delayed_tasks
			(group_name, job_name, project_id, merge_id, sha1, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + taskColumns

	var created core.DelayedTask
	err := s.db.QueryRowxContext(ctx, query,
		task.GroupName, task.JobName, task.ProjectID, task.MergeID, task.SHA,
		task.Payload, core.StatusPending,
	).StructScan(&created)
	if err != nil {
		return nil, fmt.Errorf("failed to insert delayed task: %w", err)
	}
	return &created, nil
}

// Get fetches a task by id.
func (s *postgresStore) Get(ctx context.Context, id int64) (*core.DelayedTask, error) {
	query := `SELECT ` + taskColumns + ` FROM delayed_tasks WHERE id = $1`

	var task core.DelayedTask
	if err := s.db.GetContext(ctx, &task, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &core.NotFoundError{Resource: fmt.Sprintf("delayed task %d", id)}
		}
		return nil, fmt.Errorf("failed to fetch delayed task %d: %w", id, err)
	}
	return &task, nil
}

// List returns tasks newest-first, optionally filtered by status.
func (s *postgresStore) List(ctx context.Context, filter TaskFilter) ([]*core.DelayedTask, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + taskColumns + ` FROM delayed_tasks`
	args := []any{}
	if filter.Status != nil {
		query += ` WHERE status = $1`
		args = append(args, *filter.Status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	var tasks []*core.DelayedTask
	if err := s.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list delayed tasks: %w", err)
	}
	return tasks, nil
}

// ClaimNext claims the oldest claimable PENDING task. FOR UPDATE SKIP LOCKED
// makes concurrent claimers skip rows already being claimed, so exactly one
// process wins each task.
func (s *postgresStore) ClaimNext(ctx context.Context) (*core.DelayedTask, error) {
	query := `
		UPDATE delayed_tasks
		SET status = $1, updated_at = now()
		WHERE id = (
			SELECT id FROM delayed_tasks
			WHERE status = $2 AND run_after <= now()
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	var task core.DelayedTask
	err := s.db.QueryRowxContext(ctx, query, core.StatusRunning, core.StatusPending).StructScan(&task)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim next task: %w", err)
	}
	return &task, nil
}

// UpdateStatus performs an optimistic compare-and-swap on the task status
// and writes the accompanying fields in the same statement.
func (s *postgresStore) UpdateStatus(ctx context.Context, id int64, expected, next core.TaskStatus, fields StatusFields) (bool, error) {
	sets := []string{"status = $3", "updated_at = now()"}
	args := []any{id, expected, next}

	appendSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if fields.AttemptCount != nil {
		appendSet("attempt_count", *fields.AttemptCount)
	}
	if fields.CommentID != nil {
		appendSet("comment_id", *fields.CommentID)
	}
	if fields.LastError != nil {
		if *fields.LastError == "" {
			sets = append(sets, "last_error = NULL")
		} else {
			appendSet("last_error", *fields.LastError)
		}
	}
	if fields.RunAfter != nil {
		appendSet("run_after", *fields.RunAfter)
	}

	query := fmt.Sprintf(
		`UPDATE delayed_tasks SET %s WHERE id = $1 AND status = $2`,
		strings.Join(sets, ", "),
	)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update task %d status: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// HasActiveTask reports whether a PENDING or RUNNING task already exists
// for the deduplication key (project, merge, sha). Completed, failed, and
// cancelled tasks do not block re-triggering.
func (s *postgresStore) HasActiveTask(ctx context.Context, projectID, mergeID int, sha string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM delayed_tasks
			WHERE project_id = $1 AND merge_id = $2 AND sha1 = $3
			  AND status IN ($4, $5)
		)`

	var exists bool
	err := s.db.GetContext(ctx, &exists, query, projectID, mergeID, sha,
		core.StatusPending, core.StatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to check for active task: %w", err)
	}
	return exists, nil
}
