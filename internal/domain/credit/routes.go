package credit

import (
	"github.com/go-chi/chi/v5"
)

// Routes mounts credit endpoints. The caller applies auth middleware.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/balance", h.Balance)
	r.Get("/transactions", h.Transactions)
	r.Post("/purchase", h.Purchase)

	return r
}
