package core

// MergeState is the lifecycle state of a merge request on the remote host.
type MergeState string

const (
	MergeStateOpened   MergeState = "opened"
	MergeStateReopened MergeState = "reopened"
	MergeStateMerged   MergeState = "merged"
	MergeStateClosed   MergeState = "closed"
)

// MergeRequest is an immutable snapshot fetched on demand. It is never
// cached across calls: the worker always re-fetches before acting so it
// does not build against a stale state.
type MergeRequest struct {
	ProjectID    int
	MergeID      int
	SHA          string
	State        MergeState
	SourceBranch string
	TargetBranch string
}

// Actionable reports whether a build should still run against this merge
// request. Merged and closed requests are skipped.
func (m *MergeRequest) Actionable() bool {
	return m.State == MergeStateOpened || m.State == MergeStateReopened
}

// WebHook is a callback registration on the remote host. ID is zero until
// the host assigns one on creation.
type WebHook struct {
	ID                    int    `json:"id,omitempty"`
	URL                   string `json:"url"`
	Token                 string `json:"token,omitempty"`
	PushEvents            bool   `json:"push_events"`
	MergeRequestsEvents   bool   `json:"merge_requests_events"`
	EnableSSLVerification bool   `json:"enable_ssl_verification"`
}
