package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nkhunters/tool-calls-sanitizer/internal/ratelimit"
)

// NewRouter wires the handler's routes. A nil limiter disables rate limiting.
func NewRouter(h *Handler, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Post("/sanitize", h.HandleSanitize)
		r.Post("/check", h.HandleCheck)
		r.Get("/reports", h.HandleListReports)
		r.Get("/reports/{id}", h.HandleGetReport)
	})

	return r
}
