package core

import (
	gitlab "github.com/xanzy/go-gitlab"
)

// TaskPayloadFromMergeEvent turns a raw merge-request webhook event into a
// task payload. It acts as an anti-corruption layer: the payload is built
// only when the event carries every field the worker needs.
//
// A (nil, nil) return means the event is well-formed but not actionable
// (merged or closed merge requests); the webhook caller is acknowledged
// and no task is created. Malformed events fail with a ValidationError.
func TaskPayloadFromMergeEvent(group, jobName string, event *gitlab.MergeEvent) (*TaskPayload, error) {
	if event == nil {
		return nil, &ValidationError{Field: "payload", Reason: "empty merge request event"}
	}

	attrs := event.ObjectAttributes
	if event.Project.ID <= 0 {
		return nil, &ValidationError{Field: "project.id", Reason: "missing or non-positive"}
	}
	if attrs.IID <= 0 {
		return nil, &ValidationError{Field: "object_attributes.iid", Reason: "missing or non-positive"}
	}
	if attrs.LastCommit.ID == "" {
		return nil, &ValidationError{Field: "object_attributes.last_commit.id", Reason: "missing sha"}
	}

	switch MergeState(attrs.State) {
	case MergeStateOpened, MergeStateReopened:
	case MergeStateMerged, MergeStateClosed:
		return nil, nil
	default:
		return nil, &ValidationError{Field: "object_attributes.state", Reason: "unknown state " + attrs.State}
	}

	return &TaskPayload{
		GroupName:    group,
		JobName:      jobName,
		ProjectID:    event.Project.ID,
		MergeID:      attrs.IID,
		SHA:          attrs.LastCommit.ID,
		SourceBranch: attrs.SourceBranch,
		TargetBranch: attrs.TargetBranch,
		Action:       attrs.Action,
	}, nil
}
