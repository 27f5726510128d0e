package generation

import (
	"time"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/model"
)

// CreateRequest is the API payload for starting a generation.
type CreateRequest struct {
	PresetKey         string                 `json:"preset_key" validate:"required,min=1,max=128"`
	Prompt            string                 `json:"prompt" validate:"required,min=1,max=8000"`
	ReferenceImageURL string                 `json:"reference_image_url" validate:"omitempty,url"`
	ReferenceVideoURL string                 `json:"reference_video_url" validate:"omitempty,url"`
	StartFrameURL     string                 `json:"start_frame_url" validate:"omitempty,url"`
	EndFrameURL       string                 `json:"end_frame_url" validate:"omitempty,url"`
	AudioURL          string                 `json:"audio_url" validate:"omitempty,url"`
	Params            map[string]interface{} `json:"params"`
}

// Response is the API view of a generation.
type Response struct {
	ID           uuid.UUID    `json:"id"`
	PresetKey    string       `json:"preset_key"`
	ModelKey     string       `json:"model_key"`
	Prompt       string       `json:"prompt"`
	Status       Status       `json:"status"`
	ReservedCost float64      `json:"reserved_cost"`
	ActualCost   *float64     `json:"actual_cost,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	Retryable    bool         `json:"retryable"`
	Progress     float64      `json:"progress"`
	Params       model.Params `json:"params,omitempty"`
	OutputURL    string       `json:"output_url,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ToResponse converts a generation to its API view. The output URL is
// attached by the handler when an asset exists.
func ToResponse(g *Generation) Response {
	resp := Response{
		ID:           g.ID,
		PresetKey:    g.PresetKey,
		ModelKey:     g.ModelKey,
		Prompt:       g.Prompt,
		Status:       g.Status,
		ReservedCost: g.ReservedCost.Float64(),
		ErrorMessage: g.ErrorMessage,
		Retryable:    g.Retryable,
		Progress:     g.Progress,
		Params:       g.Params,
		CreatedAt:    g.CreatedAt,
		UpdatedAt:    g.UpdatedAt,
	}
	if g.ActualCost != nil {
		actual := g.ActualCost.Float64()
		resp.ActualCost = &actual
	}
	return resp
}
