// Package core defines the domain types shared by the bridge: the delayed
// task and its status state machine, merge-request and webhook snapshots,
// the error taxonomy, and the build step contract. Components depend on
// these types instead of on each other.
package core

import (
	"encoding/json"
	"time"
)

// TaskStatus is the persisted state of a DelayedTask.
type TaskStatus string

const (
	StatusPending   TaskStatus = "PENDING"
	StatusRunning   TaskStatus = "RUNNING"
	StatusSuccess   TaskStatus = "SUCCESS"
	StatusFailed    TaskStatus = "FAILED"
	StatusCancelled TaskStatus = "CANCELLED"
)

// ParseTaskStatus validates a status string coming from the admin boundary.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed, StatusCancelled:
		return TaskStatus(s), nil
	}
	return "", &ValidationError{Field: "status", Reason: "unknown status " + s}
}

// Terminal reports whether the status is immutable. FAILED is deliberately
// not terminal here: the worker treats it as final, but an admin may still
// retry or cancel a failed task.
func (s TaskStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusCancelled
}

// workerTransitions is the automatic state machine driven by the worker.
// RUNNING -> PENDING is the transient-failure requeue path.
var workerTransitions = map[TaskStatus][]TaskStatus{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusSuccess, StatusFailed, StatusCancelled, StatusPending},
}

// CanWorkerTransition reports whether the worker may move a task from one
// status to another on its own.
func CanWorkerTransition(from, to TaskStatus) bool {
	for _, allowed := range workerTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateAdminTransition checks a manually requested status change.
// Only FAILED -> PENDING (manual retry) and non-terminal -> CANCELLED are
// allowed; everything else leaves the record unchanged.
func ValidateAdminTransition(from, to TaskStatus) error {
	if from == StatusFailed && to == StatusPending {
		return nil
	}
	if to == StatusCancelled && !from.Terminal() {
		return nil
	}
	return &InvalidTransitionError{From: from, To: to}
}

// TaskPayload is the job description carried by a DelayedTask. It is stored
// as an opaque JSON document; the identifying fields are mirrored into
// dedicated columns for deduplication and ordering.
type TaskPayload struct {
	GroupName    string `json:"group"`
	JobName      string `json:"job_name"`
	ProjectID    int    `json:"project_id"`
	MergeID      int    `json:"merge_id"`
	SHA          string `json:"sha1"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	Action       string `json:"action,omitempty"`
}

// DelayedTask is a persisted unit of deferred work derived from a webhook
// event. Tasks are never deleted; terminal rows remain for audit.
type DelayedTask struct {
	ID           int64      `db:"id" json:"id"`
	GroupName    string     `db:"group_name" json:"group"`
	JobName      string     `db:"job_name" json:"job_name"`
	ProjectID    int        `db:"project_id" json:"project_id"`
	MergeID      int        `db:"merge_id" json:"merge_id"`
	SHA          string     `db:"sha1" json:"sha1"`
	Payload      []byte     `db:"payload" json:"-"`
	Status       TaskStatus `db:"status" json:"status"`
	AttemptCount int        `db:"attempt_count" json:"attempt_count"`
	CommentID    *int       `db:"comment_id" json:"comment_id,omitempty"`
	LastError    *string    `db:"last_error" json:"last_error,omitempty"`
	RunAfter     time.Time  `db:"run_after" json:"run_after"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// NewDelayedTask builds an unsaved PENDING task from a payload.
func NewDelayedTask(p *TaskPayload) (*DelayedTask, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &DelayedTask{
		GroupName: p.GroupName,
		JobName:   p.JobName,
		ProjectID: p.ProjectID,
		MergeID:   p.MergeID,
		SHA:       p.SHA,
		Payload:   raw,
		Status:    StatusPending,
	}, nil
}

// DecodePayload unmarshals the stored job description.
func (t *DelayedTask) DecodePayload() (*TaskPayload, error) {
	var p TaskPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
