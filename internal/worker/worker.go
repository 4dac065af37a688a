// Package worker runs the background loop that consumes delayed tasks:
// claim, execute the build step, report the outcome to the merge request,
// and settle the task status.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/skravchuk/buildbridge/internal/config"
	"github.com/skravchuk/buildbridge/internal/core"
	"github.com/skravchuk/buildbridge/internal/gitlab"
	"github.com/skravchuk/buildbridge/internal/storage"
)

// Worker is a single long-running claim loop. Multiple workers may run
// against the same store across processes; the store's atomic claim keeps
// them from executing the same task twice.
type Worker struct {
	store  storage.TaskStore
	remote gitlab.Client
	runner core.BuildRunner
	cfg    config.WorkerConfig
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Worker. It does not start the loop.
func New(store storage.TaskStore, remote gitlab.Client, runner core.BuildRunner, cfg config.WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Worker{
		store:  store,
		remote: remote,
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

// Start launches the loop in its own goroutine.
func (w *Worker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		w.Run(runCtx)
	}()
}

// Stop cancels the loop and waits for it to release any held claim.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.logger.Info("stopping worker and waiting for claim release")
	w.cancel()
	<-w.done
	w.logger.Info("worker stopped")
}

// Run drives the claim loop until the context is cancelled. It is exported
// so callers can run the loop on their own goroutine.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("starting worker loop",
		"poll_interval", w.cfg.PollInterval,
		"max_attempts", w.cfg.MaxAttempts,
	)
	defer w.logger.Info("worker loop exited")

	for {
		if ctx.Err() != nil {
			return
		}

		task, err := w.store.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to claim next task", "error", err)
			if !w.idle(ctx) {
				return
			}
			continue
		}
		if task == nil {
			if !w.idle(ctx) {
				return
			}
			continue
		}

		w.process(ctx, task)
	}
}

// idle suspends between polls; returns false when the loop should exit.
func (w *Worker) idle(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.cfg.PollInterval):
		return true
	}
}

// process executes one claimed task end to end. Status writes go through a
// cancellation-independent context so a shutdown signal mid-build still
// lets the claim be released instead of orphaning a RUNNING row.
func (w *Worker) process(ctx context.Context, task *core.DelayedTask) {
	logger := w.logger.With("task", task.ID, "project", task.ProjectID, "merge", task.MergeID)
	logger.Info("processing claimed task", "attempt", task.AttemptCount+1)

	settleCtx := context.WithoutCancel(ctx)

	mr, err := w.remote.GetMergeRequest(ctx, task.ProjectID, task.MergeID)
	if err != nil {
		w.settleError(settleCtx, logger, task, err)
		return
	}

	if !mr.Actionable() {
		logger.Info("merge request no longer actionable, cancelling task", "state", mr.State)
		w.settle(settleCtx, logger, task, core.StatusCancelled, storage.StatusFields{})
		return
	}

	buildCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	result, err := w.runner.Run(buildCtx, task, mr)
	cancel()
	if err != nil {
		w.settleError(settleCtx, logger, task, err)
		return
	}

	// The outcome comment goes out before the status settles so a failure
	// while posting can still requeue the attempt.
	if err := w.reportOutcome(ctx, task, mr, result); err != nil {
		w.settleError(settleCtx, logger, task, err)
		return
	}

	attempts := task.AttemptCount + 1
	if result.Success {
		clearError := ""
		w.settle(settleCtx, logger, task, core.StatusSuccess, storage.StatusFields{
			AttemptCount: &attempts,
			CommentID:    task.CommentID,
			LastError:    &clearError,
		})
		logger.Info("task succeeded", "attempt", attempts)
		return
	}

	// A completed build that reports failure is a final verdict, not a
	// fault: no automatic retry, an admin may requeue it.
	w.settle(settleCtx, logger, task, core.StatusFailed, storage.StatusFields{
		AttemptCount: &attempts,
		CommentID:    task.CommentID,
		LastError:    &result.Message,
	})
	logger.Info("task failed verification", "attempt", attempts)
}

// reportOutcome creates the result comment on the first attempt and updates
// it in place on later ones, so one logical outcome never produces
// duplicate comments. The comment id is remembered on the task.
func (w *Worker) reportOutcome(ctx context.Context, task *core.DelayedTask, mr *core.MergeRequest, result core.BuildResult) error {
	body := formatComment(task, result)

	if task.CommentID == nil {
		commentID, err := w.remote.CreateMergeComment(ctx, task.ProjectID, task.MergeID, body)
		if err != nil {
			return err
		}
		task.CommentID = &commentID
		return nil
	}

	_, err := w.remote.UpdateMergeComment(ctx, task.ProjectID, task.MergeID, *task.CommentID, body)
	return err
}

// settleError classifies a processing failure into the retry-vs-terminal
// decision and settles the task accordingly.
func (w *Worker) settleError(ctx context.Context, logger *slog.Logger, task *core.DelayedTask, cause error) {
	attempts := task.AttemptCount + 1
	message := cause.Error()
	fields := storage.StatusFields{
		AttemptCount: &attempts,
		CommentID:    task.CommentID,
		LastError:    &message,
	}

	if core.IsTransient(cause) && attempts < w.cfg.MaxAttempts {
		delay := w.requeueDelay(attempts)
		runAfter := time.Now().Add(delay)
		fields.RunAfter = &runAfter
		logger.Warn("transient failure, requeueing task",
			"attempt", attempts, "delay", delay, "error", cause)
		w.settle(ctx, logger, task, core.StatusPending, fields)
		return
	}

	if core.IsTransient(cause) {
		logger.Error("attempt budget exhausted, failing task", "attempt", attempts, "error", cause)
	} else {
		logger.Error("terminal failure, failing task", "attempt", attempts, "error", cause)
	}
	w.settle(ctx, logger, task, core.StatusFailed, fields)
}

// settle moves the task out of RUNNING via the store's compare-and-swap.
// A lost swap means an admin changed the status concurrently; the task is
// theirs now.
func (w *Worker) settle(ctx context.Context, logger *slog.Logger, task *core.DelayedTask, next core.TaskStatus, fields storage.StatusFields) {
	ok, err := w.store.UpdateStatus(ctx, task.ID, core.StatusRunning, next, fields)
	if err != nil {
		logger.Error("failed to settle task status", "next", next, "error", err)
		return
	}
	if !ok {
		logger.Info("task status changed externally, leaving it alone", "next", next)
	}
}

// requeueDelay computes the exponential backoff gate for a given attempt.
func (w *Worker) requeueDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.BackoffInitial
	b.MaxInterval = w.cfg.BackoffMax
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func formatComment(task *core.DelayedTask, result core.BuildResult) string {
	verdict := "FAILED"
	if result.Success {
		verdict = "SUCCESS"
	}
	body := fmt.Sprintf("**%s/%s** build %s for commit `%s`",
		task.GroupName, task.JobName, verdict, task.SHA)
	if result.Message != "" {
		body += "\n\n" + result.Message
	}
	return body
}
