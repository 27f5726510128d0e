package model

import (
	"github.com/go-chi/chi/v5"
)

// Routes mounts catalog endpoints. The caller applies auth middleware.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)

	return r
}
