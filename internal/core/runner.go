package core

import "context"

// BuildResult is the outcome of one build/verification run: whether it
// passed and a human-readable message posted back to the merge request.
type BuildResult struct {
	Success bool
	Message string
}

// BuildRunner is the pluggable build/verification step executed by the
// worker for a claimed task. Implementations report the outcome through
// BuildResult; the error return is reserved for infrastructure faults
// (timeout, cancellation) that the worker classifies for retry.
type BuildRunner interface {
	Run(ctx context.Context, task *DelayedTask, mr *MergeRequest) (BuildResult, error)
}
