package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skravchuk/buildbridge/internal/config"
	"github.com/skravchuk/buildbridge/internal/core"
)

// fakeHost is an in-memory GitLab API v4 double covering the endpoints the
// client touches: project lookup, merge requests, notes, project hooks.
type fakeHost struct {
	mu         sync.Mutex
	hooks      map[int]*core.WebHook
	nextHookID int
	requests   map[string]int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		hooks:      make(map[int]*core.WebHook),
		nextHookID: 1,
		requests:   make(map[string]int),
	}
}

func (f *fakeHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests[r.Method+" "+r.URL.Path]++
	f.mu.Unlock()

	if r.Header.Get("PRIVATE-TOKEN") != "test_token" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "401 Unauthorized"})
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v4")
	switch {
	case r.Method == http.MethodGet && path == "/projects/2":
		writeJSON(w, http.StatusOK, map[string]any{
			"id":              2,
			"ssh_url_to_repo": "ssh://git@gitlab.example.local:2222/Sergei.Kravchuk/project2.git",
		})
	case r.Method == http.MethodGet && path == "/projects/2/merge_requests/500":
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
	case r.Method == http.MethodGet && path == "/projects/2/merge_requests/22":
		writeJSON(w, http.StatusOK, map[string]any{
			"iid":           22,
			"project_id":    2,
			"sha":           "6c79b7b61e583cdeb9e2bb806c1bb77416df95e4",
			"state":         "reopened",
			"source_branch": "feature_22",
			"target_branch": "master",
		})
	case r.Method == http.MethodPost && path == "/projects/2/merge_requests/22/notes":
		writeJSON(w, http.StatusCreated, map[string]any{"id": 22})
	case r.Method == http.MethodPut && strings.HasPrefix(path, "/projects/2/merge_requests/22/notes/"):
		id, _ := strconv.Atoi(strings.TrimPrefix(path, "/projects/2/merge_requests/22/notes/"))
		if id == 404 {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "404 Note Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id})
	case r.Method == http.MethodGet && path == "/projects/2/hooks":
		f.mu.Lock()
		out := make([]map[string]any, 0, len(f.hooks))
		for id, h := range f.hooks {
			out = append(out, map[string]any{
				"id":                      id,
				"url":                     h.URL,
				"push_events":             h.PushEvents,
				"merge_requests_events":   h.MergeRequestsEvents,
				"enable_ssl_verification": h.EnableSSLVerification,
			})
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
	case r.Method == http.MethodPost && path == "/projects/2/hooks":
		var body struct {
			URL                   string `json:"url"`
			PushEvents            *bool  `json:"push_events"`
			MergeRequestsEvents   *bool  `json:"merge_requests_events"`
			EnableSSLVerification *bool  `json:"enable_ssl_verification"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		id := f.nextHookID
		f.nextHookID++
		f.hooks[id] = &core.WebHook{
			ID:                    id,
			URL:                   body.URL,
			PushEvents:            body.PushEvents == nil || *body.PushEvents,
			MergeRequestsEvents:   body.MergeRequestsEvents == nil || *body.MergeRequestsEvents,
			EnableSSLVerification: body.EnableSSLVerification != nil && *body.EnableSSLVerification,
		}
		hook := f.hooks[id]
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":                      hook.ID,
			"url":                     hook.URL,
			"push_events":             hook.PushEvents,
			"merge_requests_events":   hook.MergeRequestsEvents,
			"enable_ssl_verification": hook.EnableSSLVerification,
		})
	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/projects/2/hooks/"):
		id, _ := strconv.Atoi(strings.TrimPrefix(path, "/projects/2/hooks/"))
		f.mu.Lock()
		_, ok := f.hooks[id]
		delete(f.hooks, id)
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "404 Hook Not Found"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "404 Not Found"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, baseURL, token string) Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	client, err := NewClient(config.GitLabConfig{
		BaseURL:  baseURL,
		Token:    token,
		RetryMax: 1,
	}, "test_marker", logger)
	require.NoError(t, err)
	return client
}

func TestGetSSHURLToRepo(t *testing.T) {
	server := httptest.NewServer(newFakeHost())
	defer server.Close()
	client := newTestClient(t, server.URL, "test_token")

	url, err := client.GetSSHURLToRepo(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "ssh://git@gitlab.example.local:2222/Sergei.Kravchuk/project2.git", url)
}

func TestGetMergeRequest(t *testing.T) {
	server := httptest.NewServer(newFakeHost())
	defer server.Close()
	client := newTestClient(t, server.URL, "test_token")

	mr, err := client.GetMergeRequest(context.Background(), 2, 22)
	require.NoError(t, err)

	assert.Equal(t, 2, mr.ProjectID)
	assert.Equal(t, 22, mr.MergeID)
	assert.Equal(t, "6c79b7b61e583cdeb9e2bb806c1bb77416df95e4", mr.SHA)
	assert.Equal(t, core.MergeStateReopened, mr.State)
	assert.Equal(t, "feature_22", mr.SourceBranch)
	assert.Equal(t, "master", mr.TargetBranch)
}

func TestGetMergeRequestNotFound(t *testing.T) {
	server := httptest.NewServer(newFakeHost())
	defer server.Close()
	client := newTestClient(t, server.URL, "test_token")

	_, err := client.GetMergeRequest(context.Background(), 2, 99)
	var notFound *core.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestCreateMergeComment(t *testing.T) {
	server := httptest.NewServer(newFakeHost())
	defer server.Close()
	client := newTestClient(t, server.URL, "test_token")

	commentID, err := client.CreateMergeComment(context.Background(), 2, 22, "test message")
	require.NoError(t, err)
	assert.Equal(t, 22, commentID)
}

func TestUpdateMergeComment(t *testing.T) {
	server := httptest.NewServer(newFakeHost())
	defer server.Close()
	client := newTestClient(t, server.URL, "test_token")

	commentID, err := client.UpdateMergeComment(context.Background(), 2, 22, 503, "test message")
	require.NoError(t, err)
	assert.Equal(t, 503, commentID)

	_, err = client.UpdateMergeComment(context.Background(), 2, 22, 404, "test message")
	var notFound *core.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestFailAuth(t *testing.T) {
	server := httptest.NewServer(newFakeHost())
	defer server.Close()
	client := newTestClient(t, server.URL, "fail_token")

	_, err := client.UpdateMergeComment(context.Background(), 2, 22, 503, "test message")
	var authErr *core.AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestWebhookLifecycle(t *testing.T) {
	server := httptest.NewServer(newFakeHost())
	defer server.Close()
	client := newTestClient(t, server.URL, "test_token")
	ctx := context.Background()

	hooks, err := client.GetWebhooks(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, hooks)

	created, err := client.CreateWebhook(ctx, 2, &core.WebHook{
		URL:                 "/bla/bla/bla/hook",
		Token:               "server_token_for_gitlab",
		PushEvents:          true,
		MergeRequestsEvents: true,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "/bla/bla/bla/hook", created.URL)
	assert.True(t, created.PushEvents)
	assert.True(t, created.MergeRequestsEvents)
	assert.False(t, created.EnableSSLVerification)
}

func TestWebhookCreateTenDeleteAll(t *testing.T) {
	server := httptest.NewServer(newFakeHost())
	defer server.Close()
	client := newTestClient(t, server.URL, "test_token")
	ctx := context.Background()

	for i := range 10 {
		_, err := client.CreateWebhook(ctx, 2, &core.WebHook{
			URL:                 fmt.Sprintf("/bla/bla/bla/hook%d", i),
			Token:               fmt.Sprintf("server_token_for_gitlab%d", i),
			PushEvents:          true,
			MergeRequestsEvents: true,
		})
		require.NoError(t, err)
	}

	hooks, err := client.GetWebhooks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, hooks, 10)

	for _, hook := range hooks {
		require.NoError(t, client.DeleteWebhook(ctx, 2, hook.ID))
	}

	hooks, err = client.GetWebhooks(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, hooks)
}

func TestDeleteWebhookIdempotent(t *testing.T) {
	server := httptest.NewServer(newFakeHost())
	defer server.Close()
	client := newTestClient(t, server.URL, "test_token")

	// Never registered: still not an error.
	assert.NoError(t, client.DeleteWebhook(context.Background(), 2, 12345))
}

func TestServerErrorIsRetriedThenTransient(t *testing.T) {
	host := newFakeHost()
	server := httptest.NewServer(host)
	defer server.Close()
	client := newTestClient(t, server.URL, "test_token")

	_, err := client.GetMergeRequest(context.Background(), 2, 500)
	var transient *core.TransientError
	assert.ErrorAs(t, err, &transient)

	host.mu.Lock()
	attempts := host.requests["GET /api/v4/projects/2/merge_requests/500"]
	host.mu.Unlock()
	assert.Equal(t, 2, attempts, "one retry before surfacing the failure")
}
