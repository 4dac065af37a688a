// Package build provides the default build/verification step executed by
// the worker. The step is deliberately thin: it shells out to a configured
// command and reports its verdict, with no assumption about which build
// tool sits behind it.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/skravchuk/buildbridge/internal/core"
)

// maxMessageBytes caps the output tail carried into the result comment.
const maxMessageBytes = 4096

// CommandRunner runs a shell command per task, passing the task and merge
// request metadata through the environment. An empty command degrades to a
// verification no-op that reports success.
type CommandRunner struct {
	command string
	logger  *slog.Logger
}

// NewCommandRunner creates a CommandRunner for the configured command.
func NewCommandRunner(command string, logger *slog.Logger) *CommandRunner {
	return &CommandRunner{command: command, logger: logger}
}

// Run executes the configured command. A non-zero exit is a build verdict,
// not an error; the error return is reserved for cancellation and faults
// that prevented the command from running at all.
func (r *CommandRunner) Run(ctx context.Context, task *core.DelayedTask, mr *core.MergeRequest) (core.BuildResult, error) {
	if r.command == "" {
		return core.BuildResult{Success: true, Message: "no build command configured, verification skipped"}, nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", r.command)
	cmd.Env = append(os.Environ(),
		"BRIDGE_GROUP="+task.GroupName,
		"BRIDGE_JOB="+task.JobName,
		"BRIDGE_PROJECT_ID="+strconv.Itoa(task.ProjectID),
		"BRIDGE_MERGE_ID="+strconv.Itoa(task.MergeID),
		"BRIDGE_SHA="+task.SHA,
		"BRIDGE_SOURCE_BRANCH="+mr.SourceBranch,
		"BRIDGE_TARGET_BRANCH="+mr.TargetBranch,
	)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.logger.Info("running build command", "task", task.ID, "merge", task.MergeID)
	err := cmd.Run()

	if ctx.Err() != nil {
		return core.BuildResult{}, ctx.Err()
	}

	if err == nil {
		return core.BuildResult{Success: true, Message: tail(output.String())}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return core.BuildResult{
			Success: false,
			Message: fmt.Sprintf("build exited with code %d\n\n%s", exitErr.ExitCode(), tail(output.String())),
		}, nil
	}
	return core.BuildResult{}, fmt.Errorf("failed to run build command: %w", err)
}

// tail keeps the end of the command output, where the failure usually is.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxMessageBytes {
		return s
	}
	return "…" + s[len(s)-maxMessageBytes:]
}
