package generation

import (
	"context"
	"net/http"

	"github.com/pixora/pixora-api/internal/pkg/response"
)

// CreditChecker probes the provider-side account.
type CreditChecker interface {
	CheckAccess(ctx context.Context) (float64, error)
}

// ProviderHealthHandler exposes the provider credit probe to operators, so
// a drained provider account is visible before tasks start failing.
type ProviderHealthHandler struct {
	checker CreditChecker
}

func NewProviderHealthHandler(checker CreditChecker) *ProviderHealthHandler {
	return &ProviderHealthHandler{checker: checker}
}

// Credits handles GET /api/admin/provider/credits
func (h *ProviderHealthHandler) Credits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.checker.CheckAccess(r.Context())
	if err != nil {
		response.BadGateway(w, "PROVIDER_UNAVAILABLE", "provider credit check failed")
		return
	}

	response.OK(w, map[string]float64{"credits": credits})
}
