package main

import "github.com/skravchuk/buildbridge/internal/core"

// Indicates that the task list has been fetched from the bridge.
type tasksLoadedMsg struct {
	tasks []core.DelayedTask
	err   error
}

// Indicates that a manual status override has been applied.
type statusChangedMsg struct {
	task *core.DelayedTask
	err  error
}

// Fires on the periodic refresh interval.
type refreshTickMsg struct{}

// A generic error message for reporting failures from commands.
type errorMsg struct{ err error }

func (e errorMsg) Error() string {
	return e.err.Error()
}
