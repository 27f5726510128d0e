package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/asset"
	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/domain/model"
	"github.com/pixora/pixora-api/internal/middleware"
	"github.com/pixora/pixora-api/internal/pkg/response"
	"github.com/pixora/pixora-api/internal/pkg/validator"
)

// AssetLookup resolves the output asset for finished generations.
type AssetLookup interface {
	GetByGenerationID(ctx context.Context, generationID uuid.UUID) (*asset.Asset, error)
}

type Handler struct {
	svc    *Service
	assets AssetLookup
}

func NewHandler(svc *Service, assets AssetLookup) *Handler {
	return &Handler{svc: svc, assets: assets}
}

// Create handles POST /api/v1/generations
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}

	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	g, err := h.svc.Create(r.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrPresetNotFound), errors.Is(err, model.ErrModelNotFound):
			response.NotFound(w, "unknown preset")
		case errors.Is(err, credit.ErrInsufficientCredits):
			response.PaymentRequired(w, "insufficient credits")
		case errors.Is(err, ErrProviderRejected):
			response.BadRequest(w, "the selected model rejected this request")
		case errors.Is(err, ErrProviderUnavailable):
			response.BadGateway(w, "PROVIDER_UNAVAILABLE", "generation provider is unavailable, credits were not charged")
		default:
			response.InternalError(w)
		}
		return
	}

	response.Created(w, h.toResponse(r.Context(), g))
}

// Get handles GET /api/v1/generations/{id}. Each poll reconciles the
// generation so clients always read fresh state.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid generation id")
		return
	}

	g, err := h.svc.GetForOwner(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, ErrGenerationNotFound) {
			response.NotFound(w, "generation not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, h.toResponse(r.Context(), g))
}

// List handles GET /api/v1/generations
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit := parseIntParam(r, "limit", 20)
	offset := parseIntParam(r, "offset", 0)

	generations, err := h.svc.ListForOwner(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	items := make([]Response, 0, len(generations))
	for i := range generations {
		items = append(items, h.toResponse(r.Context(), &generations[i]))
	}

	response.OK(w, items)
}

// Cancel handles POST /api/admin/generations/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid generation id")
		return
	}

	g, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrGenerationNotFound):
			response.NotFound(w, "generation not found")
		case errors.Is(err, ErrAlreadyTerminal):
			response.Conflict(w, "generation is already terminal")
		default:
			response.InternalError(w)
		}
		return
	}

	response.OK(w, h.toResponse(r.Context(), g))
}

func (h *Handler) toResponse(ctx context.Context, g *Generation) Response {
	resp := ToResponse(g)
	if g.Status == StatusSucceeded && h.assets != nil {
		if a, err := h.assets.GetByGenerationID(ctx, g.ID); err == nil {
			resp.OutputURL = a.PublicURL
		}
	}
	return resp
}

func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
