package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/pkg/kie"
)

// Modality classifies what a model produces or transforms.
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
	ModalityEdit  Modality = "edit"
	ModalityAudio Modality = "audio"
)

// Model is a catalog row describing one provider model.
type Model struct {
	ID              uuid.UUID    `db:"id"`
	Key             string       `db:"key"`            // stable public identifier
	ProviderModel   string       `db:"provider_model"` // identifier sent to the provider
	Family          string       `db:"family"`         // provider API family
	Modality        Modality     `db:"modality"`
	PriceMultiplier float64      `db:"price_multiplier"`
	Capabilities    Capabilities `db:"capabilities"`
	Active          bool         `db:"active"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

// Preset bundles a model with default parameters and a base price.
type Preset struct {
	ID          uuid.UUID     `db:"id"`
	Key         string        `db:"key"`
	Name        string        `db:"name"`
	ModelKey    string        `db:"model_key"`
	BaseCost    credit.Amount `db:"base_cost"`
	Defaults    Params        `db:"defaults"`
	Active      bool          `db:"active"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

// Capabilities wraps the provider capability flags for JSONB storage.
type Capabilities kie.Capabilities

func (c Capabilities) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *Capabilities) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = Capabilities{}
		return nil
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("unsupported capabilities type %T", src)
	}
}

// Params is a JSONB parameter bag.
type Params map[string]interface{}

func (p Params) Value() (driver.Value, error) {
	if p == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(p)
}

func (p *Params) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = Params{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported params type %T", src)
	}
}
