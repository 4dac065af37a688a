package ingest

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skravchuk/buildbridge/internal/core"
	"github.com/skravchuk/buildbridge/internal/storage"
)

func testPayload() *core.TaskPayload {
	return &core.TaskPayload{
		GroupName:    "backend",
		JobName:      "unit-tests",
		ProjectID:    2,
		MergeID:      22,
		SHA:          "6c79b7b61e583cdeb9e2bb806c1bb77416df95e4",
		SourceBranch: "feature_22",
		TargetBranch: "master",
	}
}

func newIngestor() (*Ingestor, storage.TaskStore) {
	store := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewIngestor(store, logger), store
}

func TestIngestCreatesPendingTask(t *testing.T) {
	ingestor, store := newIngestor()

	task, err := ingestor.Ingest(context.Background(), testPayload())
	require.NoError(t, err)
	require.NotNil(t, task)

	assert.Equal(t, core.StatusPending, task.Status)
	assert.Equal(t, "backend", task.GroupName)
	assert.Equal(t, "unit-tests", task.JobName)

	tasks, err := store.List(context.Background(), storage.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestIngestDeduplicatesWhileActive(t *testing.T) {
	ingestor, store := newIngestor()
	ctx := context.Background()

	first, err := ingestor.Ingest(ctx, testPayload())
	require.NoError(t, err)
	require.NotNil(t, first)

	// Repeat while PENDING: dropped.
	dup, err := ingestor.Ingest(ctx, testPayload())
	require.NoError(t, err)
	assert.Nil(t, dup)

	// Repeat while RUNNING: still dropped.
	claimed, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	dup, err = ingestor.Ingest(ctx, testPayload())
	require.NoError(t, err)
	assert.Nil(t, dup)

	tasks, err := store.List(ctx, storage.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestIngestRetriggersAfterTerminal(t *testing.T) {
	for _, terminal := range []core.TaskStatus{core.StatusSuccess, core.StatusFailed, core.StatusCancelled} {
		t.Run(string(terminal), func(t *testing.T) {
			ingestor, store := newIngestor()
			ctx := context.Background()

			first, err := ingestor.Ingest(ctx, testPayload())
			require.NoError(t, err)
			require.NotNil(t, first)

			claimed, err := store.ClaimNext(ctx)
			require.NoError(t, err)
			require.NotNil(t, claimed)

			ok, err := store.UpdateStatus(ctx, claimed.ID, core.StatusRunning, terminal, storage.StatusFields{})
			require.NoError(t, err)
			require.True(t, ok)

			again, err := ingestor.Ingest(ctx, testPayload())
			require.NoError(t, err)
			require.NotNil(t, again, "delivery after terminal outcome must queue a new task")
			assert.NotEqual(t, first.ID, again.ID)
		})
	}
}

func TestIngestDifferentShaIsNotADuplicate(t *testing.T) {
	ingestor, _ := newIngestor()
	ctx := context.Background()

	first, err := ingestor.Ingest(ctx, testPayload())
	require.NoError(t, err)
	require.NotNil(t, first)

	pushed := testPayload()
	pushed.SHA = "0000000000000000000000000000000000000000"
	second, err := ingestor.Ingest(ctx, pushed)
	require.NoError(t, err)
	require.NotNil(t, second, "a new sha on the same merge request is new work")
}

func TestIngestNilPayload(t *testing.T) {
	ingestor, _ := newIngestor()

	_, err := ingestor.Ingest(context.Background(), nil)
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)
}
