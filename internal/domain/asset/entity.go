package asset

import (
	"time"

	"github.com/google/uuid"
)

// Asset is a stored artifact produced by a generation. At most one output
// asset exists per generation.
type Asset struct {
	ID           uuid.UUID `db:"id"`
	GenerationID uuid.UUID `db:"generation_id"`
	OwnerID      uuid.UUID `db:"owner_id"`
	StorageKey   string    `db:"storage_key"`
	PublicURL    string    `db:"public_url"`
	ContentType  string    `db:"content_type"`
	SizeBytes    int64     `db:"size_bytes"`
	SourceURL    string    `db:"source_url"`
	StoreError   *string   `db:"store_error"`
	CreatedAt    time.Time `db:"created_at"`
}
