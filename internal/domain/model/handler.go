package model

import (
	"net/http"

	"github.com/pixora/pixora-api/internal/pkg/kie"
	"github.com/pixora/pixora-api/internal/pkg/response"
	"github.com/pixora/pixora-api/internal/pkg/validator"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

type modelResponse struct {
	Key             string           `json:"key"`
	Modality        Modality         `json:"modality"`
	PriceMultiplier float64          `json:"price_multiplier"`
	Capabilities    kie.Capabilities `json:"capabilities"`
}

type presetResponse struct {
	Key      string  `json:"key"`
	Name     string  `json:"name"`
	ModelKey string  `json:"model_key"`
	BaseCost float64 `json:"base_cost"`
	Defaults Params  `json:"defaults"`
}

// List handles GET /api/v1/models
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	modality := Modality(r.URL.Query().Get("modality"))
	if modality != "" {
		if err := validator.ValidateVar(string(modality), "modality"); err != nil {
			response.BadRequest(w, "invalid modality")
			return
		}
	}

	models, err := h.repo.List(r.Context(), modality)
	if err != nil {
		response.InternalError(w)
		return
	}

	items := make([]modelResponse, 0, len(models))
	for _, m := range models {
		items = append(items, modelResponse{
			Key:             m.Key,
			Modality:        m.Modality,
			PriceMultiplier: m.PriceMultiplier,
			Capabilities:    kie.Capabilities(m.Capabilities),
		})
	}

	response.OK(w, items)
}

// ListPresets handles GET /api/v1/presets
func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := h.repo.ListPresets(r.Context())
	if err != nil {
		response.InternalError(w)
		return
	}

	items := make([]presetResponse, 0, len(presets))
	for _, p := range presets {
		items = append(items, presetResponse{
			Key:      p.Key,
			Name:     p.Name,
			ModelKey: p.ModelKey,
			BaseCost: p.BaseCost.Float64(),
			Defaults: p.Defaults,
		})
	}

	response.OK(w, items)
}
