package generation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/domain/model"
)

// Status is the lifecycle state of a generation. Transitions are monotonic:
// queued -> processing -> one of the terminal sinks. Terminal states never
// change again.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is a terminal sink.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Generation is one content-generation request moving through its lifecycle.
type Generation struct {
	ID       uuid.UUID `db:"id"`
	OwnerID  uuid.UUID `db:"owner_id"`
	PresetKey string   `db:"preset_key"`
	ModelKey  string   `db:"model_key"`
	Prompt    string   `db:"prompt"`

	ReferenceImageURL string       `db:"reference_image_url"`
	ReferenceVideoURL string       `db:"reference_video_url"`
	StartFrameURL     string       `db:"start_frame_url"`
	EndFrameURL       string       `db:"end_frame_url"`
	AudioURL          string       `db:"audio_url"`
	Params            model.Params `db:"params"`

	Status       Status         `db:"status"`
	ReservedCost credit.Amount  `db:"reserved_cost"`
	ActualCost   *credit.Amount `db:"actual_cost"`
	ErrorMessage *string        `db:"error_message"`
	Retryable    bool           `db:"retryable"`
	Progress     float64        `db:"progress"`

	ProviderTaskID *string         `db:"provider_task_id"`
	ProviderStatus string          `db:"provider_status"`
	ProviderRaw    json.RawMessage `db:"provider_raw"`
	WebhookRaw     json.RawMessage `db:"webhook_raw"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
