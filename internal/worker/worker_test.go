package worker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skravchuk/buildbridge/internal/config"
	"github.com/skravchuk/buildbridge/internal/core"
	"github.com/skravchuk/buildbridge/internal/storage"
)

// fakeRemote implements gitlab.Client against canned responses.
type fakeRemote struct {
	mu            sync.Mutex
	mr            *core.MergeRequest
	mrErr         error
	createErr     error
	updateErr     error
	createCalls   int
	updateCalls   int
	nextCommentID int
	lastBody      string
}

func (f *fakeRemote) GetSSHURLToRepo(context.Context, int) (string, error) { return "", nil }

func (f *fakeRemote) GetMergeRequest(context.Context, int, int) (*core.MergeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mrErr != nil {
		return nil, f.mrErr
	}
	mr := *f.mr
	return &mr, nil
}

func (f *fakeRemote) CreateMergeComment(_ context.Context, _, _ int, body string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.createCalls++
	f.nextCommentID++
	f.lastBody = body
	return f.nextCommentID, nil
}

func (f *fakeRemote) UpdateMergeComment(_ context.Context, _, _ int, commentID int, body string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return 0, f.updateErr
	}
	f.updateCalls++
	f.lastBody = body
	return commentID, nil
}

func (f *fakeRemote) GetWebhooks(context.Context, int) ([]*core.WebHook, error) { return nil, nil }

func (f *fakeRemote) CreateWebhook(_ context.Context, _ int, h *core.WebHook) (*core.WebHook, error) {
	return h, nil
}

func (f *fakeRemote) DeleteWebhook(context.Context, int, int) error { return nil }

type fakeRunner struct {
	fn func(ctx context.Context, task *core.DelayedTask, mr *core.MergeRequest) (core.BuildResult, error)
}

func (r *fakeRunner) Run(ctx context.Context, task *core.DelayedTask, mr *core.MergeRequest) (core.BuildResult, error) {
	return r.fn(ctx, task, mr)
}

func reopenedMR() *core.MergeRequest {
	return &core.MergeRequest{
		ProjectID:    2,
		MergeID:      22,
		SHA:          "6c79b7b61e583cdeb9e2bb806c1bb77416df95e4",
		State:        core.MergeStateReopened,
		SourceBranch: "feature_22",
		TargetBranch: "master",
	}
}

func testConfig() config.WorkerConfig {
	return config.WorkerConfig{
		Enabled:        true,
		PollInterval:   5 * time.Millisecond,
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		JobTimeout:     time.Second,
	}
}

func queueTask(t *testing.T, store storage.TaskStore) *core.DelayedTask {
	t.Helper()
	task, err := core.NewDelayedTask(&core.TaskPayload{
		GroupName: "backend",
		JobName:   "unit-tests",
		ProjectID: 2,
		MergeID:   22,
		SHA:       "6c79b7b61e583cdeb9e2bb806c1bb77416df95e4",
	})
	require.NoError(t, err)
	created, err := store.Create(context.Background(), task)
	require.NoError(t, err)
	return created
}

func newTestWorker(store storage.TaskStore, remote *fakeRemote, runner *fakeRunner) *Worker {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return New(store, remote, runner, testConfig(), logger)
}

func claimAndProcess(t *testing.T, w *Worker, store storage.TaskStore) {
	t.Helper()
	claimed, err := store.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	w.process(context.Background(), claimed)
}

func TestSuccessfulBuildPostsCommentOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	remote := &fakeRemote{mr: reopenedMR()}
	runner := &fakeRunner{fn: func(context.Context, *core.DelayedTask, *core.MergeRequest) (core.BuildResult, error) {
		return core.BuildResult{Success: true, Message: "all checks passed"}, nil
	}}
	w := newTestWorker(store, remote, runner)

	task := queueTask(t, store)
	claimAndProcess(t, w, store)

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Nil(t, got.LastError)
	require.NotNil(t, got.CommentID)

	assert.Equal(t, 1, remote.createCalls)
	assert.Zero(t, remote.updateCalls)
	assert.Contains(t, remote.lastBody, "SUCCESS")
	assert.Contains(t, remote.lastBody, "all checks passed")
}

func TestAuthFailureFailsImmediately(t *testing.T) {
	store := storage.NewMemoryStore()
	remote := &fakeRemote{mrErr: &core.AuthError{Op: "merge request 2/22"}}
	runner := &fakeRunner{fn: func(context.Context, *core.DelayedTask, *core.MergeRequest) (core.BuildResult, error) {
		t.Fatal("build must not run when the merge request fetch fails")
		return core.BuildResult{}, nil
	}}
	w := newTestWorker(store, remote, runner)

	task := queueTask(t, store)
	claimAndProcess(t, w, store)

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "authentication rejected")
}

func TestMergedRequestCancelsTask(t *testing.T) {
	store := storage.NewMemoryStore()
	mr := reopenedMR()
	mr.State = core.MergeStateMerged
	remote := &fakeRemote{mr: mr}
	runner := &fakeRunner{fn: func(context.Context, *core.DelayedTask, *core.MergeRequest) (core.BuildResult, error) {
		t.Fatal("build must not run for a merged request")
		return core.BuildResult{}, nil
	}}
	w := newTestWorker(store, remote, runner)

	task := queueTask(t, store)
	claimAndProcess(t, w, store)

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, got.Status)
	assert.Zero(t, remote.createCalls)
}

func TestTransientFailuresExhaustAttemptBudget(t *testing.T) {
	store := storage.NewMemoryStore()
	remote := &fakeRemote{mr: reopenedMR()}
	runner := &fakeRunner{fn: func(context.Context, *core.DelayedTask, *core.MergeRequest) (core.BuildResult, error) {
		return core.BuildResult{}, &core.TransientError{Op: "build"}
	}}
	w := newTestWorker(store, remote, runner)

	task := queueTask(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), task.ID)
		return err == nil && got.Status == core.StatusFailed
	}, 5*time.Second, 5*time.Millisecond, "task must end FAILED, never stuck PENDING/RUNNING")

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AttemptCount)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "transient failure")
}

func TestRetryReusesOutcomeComment(t *testing.T) {
	store := storage.NewMemoryStore()
	remote := &fakeRemote{mr: reopenedMR()}
	runner := &fakeRunner{fn: func(context.Context, *core.DelayedTask, *core.MergeRequest) (core.BuildResult, error) {
		return core.BuildResult{Success: false, Message: "tests failed"}, nil
	}}
	w := newTestWorker(store, remote, runner)

	task := queueTask(t, store)
	claimAndProcess(t, w, store)

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusFailed, got.Status)
	require.NotNil(t, got.CommentID)
	firstComment := *got.CommentID
	assert.Equal(t, 1, remote.createCalls)

	// Manual retry: back to PENDING, comment id retained.
	zero := 0
	ok, err := store.UpdateStatus(context.Background(), task.ID, core.StatusFailed, core.StatusPending,
		storage.StatusFields{AttemptCount: &zero})
	require.NoError(t, err)
	require.True(t, ok)

	claimAndProcess(t, w, store)

	got, err = store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CommentID)
	assert.Equal(t, firstComment, *got.CommentID, "second report must reuse the comment")
	assert.Equal(t, 1, remote.createCalls, "no duplicate comment")
	assert.Equal(t, 1, remote.updateCalls)
}

func TestShutdownReleasesHeldClaim(t *testing.T) {
	store := storage.NewMemoryStore()
	remote := &fakeRemote{mr: reopenedMR()}
	started := make(chan struct{})
	runner := &fakeRunner{fn: func(ctx context.Context, _ *core.DelayedTask, _ *core.MergeRequest) (core.BuildResult, error) {
		close(started)
		<-ctx.Done()
		return core.BuildResult{}, ctx.Err()
	}}
	w := newTestWorker(store, remote, runner)

	task := queueTask(t, store)

	w.Start(context.Background())
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never started the build step")
	}
	w.Stop()

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status, "claim must be released on shutdown")
	assert.Equal(t, 1, got.AttemptCount)
}

func TestBuildTimeoutIsTransient(t *testing.T) {
	store := storage.NewMemoryStore()
	remote := &fakeRemote{mr: reopenedMR()}
	runner := &fakeRunner{fn: func(ctx context.Context, _ *core.DelayedTask, _ *core.MergeRequest) (core.BuildResult, error) {
		<-ctx.Done()
		return core.BuildResult{}, ctx.Err()
	}}

	cfg := testConfig()
	cfg.JobTimeout = 10 * time.Millisecond
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	w := New(store, remote, runner, cfg, logger)

	task := queueTask(t, store)
	claimAndProcess(t, w, store)

	got, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status, "timeout requeues while budget remains")
	assert.Equal(t, 1, got.AttemptCount)
}
