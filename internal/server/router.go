package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/skravchuk/buildbridge/internal/admin"
	"github.com/skravchuk/buildbridge/internal/config"
	"github.com/skravchuk/buildbridge/internal/ingest"
	"github.com/skravchuk/buildbridge/internal/server/handler"
)

// NewRouter creates and configures the HTTP router with middleware, the
// webhook intake route, and the admin API.
func NewRouter(cfg *config.Config, ingestor *ingest.Ingestor, controller *admin.Controller, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	webhookHandler := handler.NewWebhookHandler(cfg.GitLab.WebhookSecret, ingestor, logger)
	r.Post("/gitlab/group/{group}/job/{job_name}", webhookHandler.Handle)

	adminHandler := handler.NewAdminHandler(controller, logger)
	r.Route("/admin/api/v1", func(r chi.Router) {
		r.Get("/delayed-task", adminHandler.ListTasks)
		r.Get("/delayed-task/{id}", adminHandler.GetTask)
		r.Post("/delayed-task/{id}/status", adminHandler.ChangeStatus)
	})

	return r
}
