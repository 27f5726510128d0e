package asset

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pixora/pixora-api/internal/pkg/storage"
)

const (
	fetchTimeout = 60 * time.Second
	// Provider outputs are bounded; 512 MiB covers the largest video
	// models with room to spare.
	maxOutputSize = 512 << 20
)

// Service materializes provider outputs into owned storage.
type Service struct {
	repo    Repository
	store   storage.ObjectStorage
	httpCli *http.Client
}

func NewService(repo Repository, store storage.ObjectStorage) *Service {
	return &Service{
		repo:  repo,
		store: store,
		httpCli: &http.Client{
			Timeout: fetchTimeout,
		},
	}
}

// Materialize downloads the provider's output and stores it under a
// deterministic key. Idempotent per generation: repeat calls return the
// existing asset without touching storage. A store failure after a
// successful fetch is recorded on the asset rather than reported as an
// error, because the generation itself succeeded and must not be
// downgraded. Annotated rows are retried on later calls until the write
// lands.
func (s *Service) Materialize(ctx context.Context, ownerID, generationID uuid.UUID, sourceURL string) (*Asset, error) {
	var annotated *Asset
	if existing, err := s.repo.GetByGenerationID(ctx, generationID); err == nil {
		if existing.StoreError == nil {
			return existing, nil
		}
		annotated = existing
	}

	data, contentType, err := s.fetch(ctx, sourceURL)
	if err != nil {
		if annotated != nil {
			return annotated, nil
		}
		return nil, err
	}

	key := outputKey(ownerID, generationID, contentType, sourceURL)

	if err := s.store.Put(ctx, key, data, contentType); err != nil {
		log.Error().
			Err(err).
			Str("generation_id", generationID.String()).
			Str("key", key).
			Msg("failed to store output, keeping provider URL")

		if annotated != nil {
			return annotated, nil
		}
		msg := err.Error()
		return s.repo.Insert(ctx, &Asset{
			GenerationID: generationID,
			OwnerID:      ownerID,
			StorageKey:   key,
			ContentType:  contentType,
			SizeBytes:    int64(len(data)),
			SourceURL:    sourceURL,
			PublicURL:    sourceURL,
			StoreError:   &msg,
		})
	}

	publicURL := s.store.GetURL(key)

	if annotated != nil {
		if err := s.repo.MarkStored(ctx, annotated.ID, key, publicURL, int64(len(data))); err != nil {
			return annotated, nil
		}
		return s.repo.GetByGenerationID(ctx, generationID)
	}

	return s.repo.Insert(ctx, &Asset{
		GenerationID: generationID,
		OwnerID:      ownerID,
		StorageKey:   key,
		ContentType:  contentType,
		SizeBytes:    int64(len(data)),
		SourceURL:    sourceURL,
		PublicURL:    publicURL,
	})
}

// GetByGenerationID returns the output asset for a generation.
func (s *Service) GetByGenerationID(ctx context.Context, generationID uuid.UUID) (*Asset, error) {
	return s.repo.GetByGenerationID(ctx, generationID)
}

func (s *Service) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	ctx2, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx2, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	resp, err := s.httpCli.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputSize))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(path.Ext(sourceURL)); byExt != "" {
			contentType = byExt
		} else if contentType == "" {
			contentType = "application/octet-stream"
		}
	}

	return data, contentType, nil
}

// outputKey builds the deterministic storage key for a generation output.
func outputKey(ownerID, generationID uuid.UUID, contentType, sourceURL string) string {
	ext := extensionFor(contentType)
	if ext == "" {
		ext = path.Ext(sourceURL)
	}
	return fmt.Sprintf("outputs/%s/%s%s", ownerID, generationID, ext)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		exts, err := mime.ExtensionsByType(contentType)
		if err == nil && len(exts) > 0 {
			return exts[0]
		}
		return ""
	}
}
