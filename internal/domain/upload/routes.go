package upload

import (
	"github.com/go-chi/chi/v5"
)

// Routes mounts upload endpoints. The caller applies auth middleware.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Issue)
	r.Post("/{id}/confirm", h.Confirm)

	return r
}
