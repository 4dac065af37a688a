package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/skravchuk/buildbridge/internal/admin"
	"github.com/skravchuk/buildbridge/internal/core"
)

// AdminHandler serves the delayed-task admin API consumed by the admin UI,
// the CLI, and the terminal browser.
type AdminHandler struct {
	controller *admin.Controller
	logger     *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(controller *admin.Controller, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{controller: controller, logger: logger}
}

// ListTasks returns tasks newest-first, optionally filtered by ?status=.
func (h *AdminHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	var statusFilter *core.TaskStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := core.ParseTaskStatus(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		statusFilter = &status
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	tasks, err := h.controller.ListTasks(r.Context(), statusFilter, limit)
	if err != nil {
		h.logger.Error("failed to list tasks", "error", err)
		http.Error(w, "Failed to list tasks", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// GetTask returns a single task by id.
func (h *AdminHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	task, err := h.controller.GetTask(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ChangeStatus applies a manual status override from a {"status": "..."}
// request body.
func (h *AdminHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	next, err := core.ParseTaskStatus(body.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	task, err := h.controller.ChangeStatus(r.Context(), id, next)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *AdminHandler) respondError(w http.ResponseWriter, err error) {
	var notFound *core.NotFoundError
	var invalid *core.InvalidTransitionError
	switch {
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &invalid):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, admin.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("admin request failed", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
