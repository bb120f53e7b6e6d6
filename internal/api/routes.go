package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds the middleware the router applies to route groups.
type RouterConfig struct {
	// AdminAuth guards /admin routes. Admin routes are not mounted when nil.
	AdminAuth func(http.Handler) http.Handler
}

// NewRouter mounts the review API.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/v1/approvals", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/summary", h.Summary)
		r.Get("/filter-options", h.FilterOptions)
		r.Get("/schema", h.Schema)
		r.Post("/approve", h.Approve)
		r.Post("/reject", h.Reject)
	})

	if cfg.AdminAuth != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(cfg.AdminAuth)
			r.Post("/schema/invalidate", h.InvalidateSchema)
		})
	}

	return r
}
