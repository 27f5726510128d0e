package upload

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pixora/pixora-api/internal/pkg/storage"
)

const presignTTL = 15 * time.Minute

var allowedContentTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
}

// Issued is the response to a new upload request.
type Issued struct {
	Upload    *Upload
	UploadURL string
}

// Service implements the two-phase upload: issue a presigned PUT, then
// confirm by checking the object actually landed.
type Service struct {
	repo  Repository
	store storage.ObjectStorage
}

func NewService(repo Repository, store storage.ObjectStorage) *Service {
	return &Service{repo: repo, store: store}
}

// Issue creates a pending upload and a presigned PUT URL for it.
func (s *Service) Issue(ctx context.Context, ownerID uuid.UUID, kind Kind, contentType string) (*Issued, error) {
	ext, ok := allowedContentTypes[strings.ToLower(contentType)]
	if !ok {
		return nil, ErrUnsupportedContentType
	}

	u := &Upload{
		OwnerID:     ownerID,
		Kind:        kind,
		ContentType: contentType,
	}
	u.ID = uuid.New()
	u.StorageKey = fmt.Sprintf("uploads/%s/%s%s", ownerID, u.ID, ext)

	uploadURL, err := s.store.PresignPut(ctx, u.StorageKey, contentType, presignTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: presign upload", ErrInternal)
	}

	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	log.Debug().
		Str("upload_id", u.ID.String()).
		Str("kind", string(kind)).
		Msg("upload issued")

	return &Issued{Upload: u, UploadURL: uploadURL}, nil
}

// Confirm verifies the object exists and marks the upload usable. Repeat
// confirms are no-ops.
func (s *Service) Confirm(ctx context.Context, id, ownerID uuid.UUID) (*Upload, error) {
	u, err := s.repo.GetByIDForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if u.Status == StatusConfirmed {
		return u, nil
	}

	info, err := s.store.GetInfo(ctx, u.StorageKey)
	if err != nil {
		return nil, ErrObjectMissing
	}

	if err := s.repo.Confirm(ctx, u.ID, info.Size); err != nil {
		return nil, err
	}

	return s.repo.GetByIDForOwner(ctx, id, ownerID)
}

// PublicURL returns the serving URL for a confirmed upload.
func (s *Service) PublicURL(u *Upload) string {
	return s.store.GetURL(u.StorageKey)
}
