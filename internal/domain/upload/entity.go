package upload

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies what slot an upload feeds into.
type Kind string

const (
	KindReferenceImage Kind = "reference_image"
	KindReferenceVideo Kind = "reference_video"
	KindStartFrame     Kind = "start_frame"
	KindEndFrame       Kind = "end_frame"
	KindAudio          Kind = "audio"
)

// Status tracks the two-phase upload: the client PUTs against a presigned
// URL, then confirms so the object is verified server-side.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// Upload is a user-provided input file.
type Upload struct {
	ID          uuid.UUID  `db:"id"`
	OwnerID     uuid.UUID  `db:"owner_id"`
	Kind        Kind       `db:"kind"`
	StorageKey  string     `db:"storage_key"`
	ContentType string     `db:"content_type"`
	SizeBytes   int64      `db:"size_bytes"`
	Status      Status     `db:"status"`
	CreatedAt   time.Time  `db:"created_at"`
	ConfirmedAt *time.Time `db:"confirmed_at"`
}
