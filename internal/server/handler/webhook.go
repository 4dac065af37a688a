// Package handler provides the HTTP handlers for the bridge.
package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	gitlab "github.com/xanzy/go-gitlab"

	"github.com/skravchuk/buildbridge/internal/core"
	"github.com/skravchuk/buildbridge/internal/ingest"
)

// maxPayloadBytes bounds the webhook body size.
const maxPayloadBytes = 1 << 20

// WebhookHandler processes incoming webhooks from the source-control host.
type WebhookHandler struct {
	secret   string
	ingestor *ingest.Ingestor
	logger   *slog.Logger
}

// NewWebhookHandler creates a webhook handler. An empty secret disables
// the shared-token check.
func NewWebhookHandler(secret string, ingestor *ingest.Ingestor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:   secret,
		ingestor: ingestor,
		logger:   logger,
	}
}

// Handle validates and routes a webhook delivery. Processing failures are
// never surfaced here; the caller only learns whether the delivery was
// accepted, ignored, or malformed.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	jobName := chi.URLParam(r, "job_name")

	if h.secret != "" && r.Header.Get("X-Gitlab-Token") != h.secret {
		h.logger.Error("webhook token mismatch", "group", group, "job", jobName)
		http.Error(w, "Invalid webhook token", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "Could not read payload", http.StatusBadRequest)
		return
	}

	event, err := gitlab.ParseWebhook(gitlab.HookEventType(r), body)
	if err != nil {
		h.logger.Error("could not parse webhook", "error", err)
		http.Error(w, "Could not parse webhook", http.StatusBadRequest)
		return
	}

	switch e := event.(type) {
	case *gitlab.MergeEvent:
		h.handleMergeEvent(w, r, group, jobName, e)
	case *gitlab.PushEvent:
		// Pushes to a merge-request branch re-fire the merge-request hook
		// with the new sha, which is where the task gets queued.
		h.logger.Info("acknowledging push event", "group", group, "job", jobName, "project", e.ProjectID)
		_, _ = fmt.Fprint(w, "Push event acknowledged")
	default:
		h.logger.Debug("ignoring unhandled webhook event type", "type", gitlab.HookEventType(r))
		_, _ = fmt.Fprint(w, "Event type not handled")
	}
}

func (h *WebhookHandler) handleMergeEvent(w http.ResponseWriter, r *http.Request, group, jobName string, event *gitlab.MergeEvent) {
	payload, err := core.TaskPayloadFromMergeEvent(group, jobName, event)
	if err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			h.logger.Error("malformed merge request event", "error", err)
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Could not process event", http.StatusBadRequest)
		return
	}
	if payload == nil {
		h.logger.Info("ignoring merge request event in uninteresting state",
			"group", group, "job", jobName)
		_, _ = fmt.Fprint(w, "Event ignored")
		return
	}

	task, err := h.ingestor.Ingest(r.Context(), payload)
	if err != nil {
		h.logger.Error("failed to queue task", "error", err)
		http.Error(w, "Failed to queue task", http.StatusInternalServerError)
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusAccepted)
		_, _ = fmt.Fprint(w, "Duplicate delivery, task already queued")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": task.ID})
}
