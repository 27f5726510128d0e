package generation

import (
	"github.com/go-chi/chi/v5"
)

// Routes mounts generation endpoints. The caller applies auth middleware.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)

	return r
}

// AdminRoutes mounts admin-only lifecycle operations.
func AdminRoutes(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/{id}/cancel", h.Cancel)

	return r
}
