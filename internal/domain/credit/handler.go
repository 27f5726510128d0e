package credit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/middleware"
	"github.com/pixora/pixora-api/internal/pkg/response"
	"github.com/pixora/pixora-api/internal/pkg/validator"
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

type purchaseRequest struct {
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Description string  `json:"description" validate:"max=255"`
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
}

type entryResponse struct {
	ID               uuid.UUID `json:"id"`
	Kind             EntryKind `json:"kind"`
	Amount           float64   `json:"amount"`
	ResultingBalance float64   `json:"resulting_balance"`
	GenerationID     *uuid.UUID `json:"generation_id,omitempty"`
	Description      string    `json:"description"`
	CreatedAt        string    `json:"created_at"`
}

// Balance handles GET /api/v1/credits/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	balance, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, balanceResponse{Balance: balance.Float64()})
}

// Transactions handles GET /api/v1/credits/transactions
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	pagination := Pagination{
		Limit:  parseIntParam(r, "limit", 50),
		Offset: parseIntParam(r, "offset", 0),
	}

	entries, err := h.svc.ListEntries(r.Context(), userID, pagination)
	if err != nil {
		response.InternalError(w)
		return
	}

	items := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, entryResponse{
			ID:               e.ID,
			Kind:             e.Kind,
			Amount:           e.AmountDelta.Float64(),
			ResultingBalance: e.ResultingBalance.Float64(),
			GenerationID:     e.GenerationID,
			Description:      e.Description,
			CreatedAt:        e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	response.OK(w, items)
}

// Purchase handles POST /api/v1/credits/purchase
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}

	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	amount := Amount(req.Amount * 100)
	description := req.Description
	if description == "" {
		description = "credit purchase"
	}

	err := h.svc.Purchase(r.Context(), userID, amount, description)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			response.BadRequest(w, "amount must be greater than 0")
			return
		}
		response.InternalError(w)
		return
	}

	balance, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.Created(w, balanceResponse{Balance: balance.Float64()})
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
