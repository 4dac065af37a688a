// Package ingest turns validated webhook payloads into delayed tasks.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skravchuk/buildbridge/internal/core"
	"github.com/skravchuk/buildbridge/internal/storage"
)

// Ingestor accepts task payloads derived from webhook events and creates at
// most one PENDING task per delivery, deduplicating repeats.
type Ingestor struct {
	store  storage.TaskStore
	logger *slog.Logger
}

// NewIngestor creates an Ingestor over the given store.
func NewIngestor(store storage.TaskStore, logger *slog.Logger) *Ingestor {
	return &Ingestor{store: store, logger: logger}
}

// Ingest creates a PENDING task for the payload unless a task with the same
// (project, merge, sha) key is already PENDING or RUNNING. A deduplicated
// delivery returns (nil, nil): the webhook caller is acknowledged, nothing
// is queued. Repeats after a terminal outcome queue a fresh task, which is
// how a force-push re-triggers verification.
func (i *Ingestor) Ingest(ctx context.Context, payload *core.TaskPayload) (*core.DelayedTask, error) {
	if payload == nil {
		return nil, &core.ValidationError{Field: "payload", Reason: "empty"}
	}

	active, err := i.store.HasActiveTask(ctx, payload.ProjectID, payload.MergeID, payload.SHA)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate delivery: %w", err)
	}
	if active {
		i.logger.Info("dropping duplicate webhook delivery",
			"project", payload.ProjectID,
			"merge", payload.MergeID,
			"sha", payload.SHA,
		)
		return nil, nil
	}

	task, err := core.NewDelayedTask(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build task from payload: %w", err)
	}

	created, err := i.store.Create(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	i.logger.Info("queued delayed task",
		"task", created.ID,
		"group", created.GroupName,
		"job", created.JobName,
		"project", created.ProjectID,
		"merge", created.MergeID,
	)
	return created, nil
}
