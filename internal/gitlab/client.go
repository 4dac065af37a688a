// Package gitlab wraps the GitLab REST API behind a focused client
// interface. Every call injects the configured access token, retries
// 429/5xx responses with bounded exponential backoff inside the underlying
// HTTP client, and maps failures onto the core error taxonomy.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gitlab "github.com/xanzy/go-gitlab"

	"github.com/skravchuk/buildbridge/internal/config"
	"github.com/skravchuk/buildbridge/internal/core"
)

// Client defines the outbound protocol boundary to the source-control
// host. Calls are safe to run concurrently; nothing is cached, so merge
// state decisions always see fresh data.
type Client interface {
	GetSSHURLToRepo(ctx context.Context, projectID int) (string, error)
	GetMergeRequest(ctx context.Context, projectID, mergeID int) (*core.MergeRequest, error)
	CreateMergeComment(ctx context.Context, projectID, mergeID int, body string) (int, error)
	UpdateMergeComment(ctx context.Context, projectID, mergeID, commentID int, body string) (int, error)
	GetWebhooks(ctx context.Context, projectID int) ([]*core.WebHook, error)
	CreateWebhook(ctx context.Context, projectID int, hook *core.WebHook) (*core.WebHook, error)
	DeleteWebhook(ctx context.Context, projectID, hookID int) error
}

type remoteClient struct {
	gitlab *gitlab.Client
	logger *slog.Logger
}

// NewClient constructs a Client against the configured host. The marker is
// a correlation field attached to every log line this client emits.
func NewClient(cfg config.GitLabConfig, marker string, logger *slog.Logger) (Client, error) {
	cli, err := gitlab.NewClient(cfg.Token,
		gitlab.WithBaseURL(cfg.BaseURL),
		gitlab.WithCustomRetryMax(cfg.RetryMax),
		gitlab.WithCustomRetryWaitMinMax(500*time.Millisecond, 10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitlab client: %w", err)
	}

	return &remoteClient{
		gitlab: cli,
		logger: logger.With("marker", marker),
	}, nil
}

// GetSSHURLToRepo returns the SSH clone URL of a project.
func (c *remoteClient) GetSSHURLToRepo(ctx context.Context, projectID int) (string, error) {
	project, _, err := c.gitlab.Projects.GetProject(projectID, nil, gitlab.WithContext(ctx))
	if err != nil {
		c.logger.Error("failed to fetch project", "project", projectID, "error", err)
		return "", classify(fmt.Sprintf("project %d", projectID), err)
	}
	return project.SSHURLToRepo, nil
}

// GetMergeRequest fetches a fresh merge request snapshot.
func (c *remoteClient) GetMergeRequest(ctx context.Context, projectID, mergeID int) (*core.MergeRequest, error) {
	mr, _, err := c.gitlab.MergeRequests.GetMergeRequest(projectID, mergeID, nil, gitlab.WithContext(ctx))
	if err != nil {
		c.logger.Error("failed to fetch merge request",
			"project", projectID, "merge", mergeID, "error", err)
		return nil, classify(fmt.Sprintf("merge request %d/%d", projectID, mergeID), err)
	}

	return &core.MergeRequest{
		ProjectID:    mr.ProjectID,
		MergeID:      mr.IID,
		SHA:          mr.SHA,
		State:        core.MergeState(mr.State),
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
	}, nil
}

// CreateMergeComment posts a new note on a merge request and returns the
// host-assigned comment id.
func (c *remoteClient) CreateMergeComment(ctx context.Context, projectID, mergeID int, body string) (int, error) {
	note, _, err := c.gitlab.Notes.CreateMergeRequestNote(projectID, mergeID,
		&gitlab.CreateMergeRequestNoteOptions{Body: gitlab.String(body)},
		gitlab.WithContext(ctx))
	if err != nil {
		c.logger.Error("failed to create merge comment",
			"project", projectID, "merge", mergeID, "error", err)
		return 0, classify(fmt.Sprintf("merge request %d/%d", projectID, mergeID), err)
	}
	return note.ID, nil
}

// UpdateMergeComment rewrites an existing note in place, keeping outcome
// reporting idempotent across retries.
func (c *remoteClient) UpdateMergeComment(ctx context.Context, projectID, mergeID, commentID int, body string) (int, error) {
	note, _, err := c.gitlab.Notes.UpdateMergeRequestNote(projectID, mergeID, commentID,
		&gitlab.UpdateMergeRequestNoteOptions{Body: gitlab.String(body)},
		gitlab.WithContext(ctx))
	if err != nil {
		c.logger.Error("failed to update merge comment",
			"project", projectID, "merge", mergeID, "comment", commentID, "error", err)
		return 0, classify(fmt.Sprintf("comment %d on merge request %d/%d", commentID, projectID, mergeID), err)
	}
	return note.ID, nil
}

// GetWebhooks lists all hooks registered on a project.
func (c *remoteClient) GetWebhooks(ctx context.Context, projectID int) ([]*core.WebHook, error) {
	opts := &gitlab.ListProjectHooksOptions{PerPage: 100, Page: 1}

	var hooks []*core.WebHook
	for opts.Page > 0 {
		page, resp, err := c.gitlab.Projects.ListProjectHooks(projectID, opts, gitlab.WithContext(ctx))
		if err != nil {
			c.logger.Error("failed to list webhooks", "project", projectID, "error", err)
			return nil, classify(fmt.Sprintf("project %d", projectID), err)
		}
		for _, h := range page {
			hooks = append(hooks, &core.WebHook{
				ID:                    h.ID,
				URL:                   h.URL,
				PushEvents:            h.PushEvents,
				MergeRequestsEvents:   h.MergeRequestsEvents,
				EnableSSLVerification: h.EnableSSLVerification,
			})
		}
		opts.Page = resp.NextPage
	}
	return hooks, nil
}

// CreateWebhook registers a hook and returns it with the assigned id.
func (c *remoteClient) CreateWebhook(ctx context.Context, projectID int, hook *core.WebHook) (*core.WebHook, error) {
	created, _, err := c.gitlab.Projects.AddProjectHook(projectID, &gitlab.AddProjectHookOptions{
		URL:                   gitlab.String(hook.URL),
		Token:                 gitlab.String(hook.Token),
		PushEvents:            gitlab.Bool(hook.PushEvents),
		MergeRequestsEvents:   gitlab.Bool(hook.MergeRequestsEvents),
		EnableSSLVerification: gitlab.Bool(hook.EnableSSLVerification),
	}, gitlab.WithContext(ctx))
	if err != nil {
		c.logger.Error("failed to create webhook", "project", projectID, "url", hook.URL, "error", err)
		return nil, classify(fmt.Sprintf("project %d", projectID), err)
	}

	return &core.WebHook{
		ID:                    created.ID,
		URL:                   created.URL,
		Token:                 hook.Token,
		PushEvents:            created.PushEvents,
		MergeRequestsEvents:   created.MergeRequestsEvents,
		EnableSSLVerification: created.EnableSSLVerification,
	}, nil
}

// DeleteWebhook removes a hook by id. Deleting an id that no longer exists
// is not an error.
func (c *remoteClient) DeleteWebhook(ctx context.Context, projectID, hookID int) error {
	_, err := c.gitlab.Projects.DeleteProjectHook(projectID, hookID, gitlab.WithContext(ctx))
	if err != nil {
		classified := classify(fmt.Sprintf("webhook %d on project %d", hookID, projectID), err)
		var notFound *core.NotFoundError
		if errors.As(classified, &notFound) {
			return nil
		}
		c.logger.Error("failed to delete webhook", "project", projectID, "hook", hookID, "error", err)
		return classified
	}
	return nil
}

// classify maps a go-gitlab error onto the core taxonomy. 401/403 are
// fatal auth failures, 404 is not-found, 429/5xx are transient (the HTTP
// layer has already retried them), any other 4xx is a protocol error.
// Context cancellation passes through untouched.
func classify(resource string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var respErr *gitlab.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return &core.AuthError{Op: resource, Err: err}
		case status == http.StatusNotFound:
			return &core.NotFoundError{Resource: resource, Err: err}
		case status == http.StatusTooManyRequests || status >= 500:
			return &core.TransientError{Op: resource, Err: err}
		default:
			return &core.RemoteProtocolError{Op: resource, StatusCode: status, Body: respErr.Message}
		}
	}

	// Anything without an HTTP status is a network-level fault.
	return &core.TransientError{Op: resource, Err: err}
}
