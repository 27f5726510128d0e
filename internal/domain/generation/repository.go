package generation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pixora/pixora-api/internal/domain/credit"
)

const queryTimeout = 3 * time.Second

// Repository persists generations. All status transitions are conditional
// updates so that concurrent reconcile paths converge without app-level
// locks: the first writer wins, everyone else sees zero rows.
type Repository interface {
	Create(ctx context.Context, g *Generation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Generation, error)
	GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*Generation, error)
	GetByProviderTaskID(ctx context.Context, taskID string) (*Generation, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]Generation, error)

	// SetProviderTask attaches the provider task id once. Later calls for
	// the same generation are no-ops.
	SetProviderTask(ctx context.Context, id uuid.UUID, taskID string) error

	// UpdateProgress persists non-terminal provider state. Ignored when
	// the generation is already terminal.
	UpdateProgress(ctx context.Context, id uuid.UUID, providerStatus string, progress float64, raw json.RawMessage) error

	// RecordWebhook stores the last webhook payload for audit.
	RecordWebhook(ctx context.Context, id uuid.UUID, raw json.RawMessage) error

	// MarkProcessing moves queued -> processing. Safe to repeat.
	MarkProcessing(ctx context.Context, id uuid.UUID) error

	// MarkSucceeded, MarkFailed and MarkCancelled move a non-terminal
	// generation into its sink. They report whether this call won the
	// transition; false means another path got there first.
	MarkSucceeded(ctx context.Context, id uuid.UUID, actual credit.Amount) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, message string, retryable bool) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error)

	// ListStale returns non-terminal generations whose last update is
	// older than the cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Generation, error)
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const generationColumns = `
	id, owner_id, preset_key, model_key, prompt,
	reference_image_url, reference_video_url, start_frame_url, end_frame_url, audio_url, params,
	status, reserved_cost, actual_cost, error_message, retryable, progress,
	provider_task_id, provider_status, provider_raw, webhook_raw,
	created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, g *Generation) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.Status == "" {
		g.Status = StatusQueued
	}
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO generations (
			id, owner_id, preset_key, model_key, prompt,
			reference_image_url, reference_video_url, start_frame_url, end_frame_url, audio_url, params,
			status, reserved_cost, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, g.ID, g.OwnerID, g.PresetKey, g.ModelKey, g.Prompt,
		g.ReferenceImageURL, g.ReferenceVideoURL, g.StartFrameURL, g.EndFrameURL, g.AudioURL, g.Params,
		g.Status, g.ReservedCost, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert generation", ErrInternal)
	}

	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Generation, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var g Generation
	err := r.db.GetContext(ctx2, &g, `SELECT `+generationColumns+` FROM generations WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGenerationNotFound
		}
		return nil, fmt.Errorf("%w: get generation", ErrInternal)
	}

	return &g, nil
}

func (r *PostgresRepository) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*Generation, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var g Generation
	err := r.db.GetContext(ctx2, &g, `
		SELECT `+generationColumns+` FROM generations WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGenerationNotFound
		}
		return nil, fmt.Errorf("%w: get generation", ErrInternal)
	}

	return &g, nil
}

func (r *PostgresRepository) GetByProviderTaskID(ctx context.Context, taskID string) (*Generation, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var g Generation
	err := r.db.GetContext(ctx2, &g, `
		SELECT `+generationColumns+` FROM generations WHERE provider_task_id = $1
	`, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGenerationNotFound
		}
		return nil, fmt.Errorf("%w: get generation by task", ErrInternal)
	}

	return &g, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]Generation, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	generations := []Generation{}
	err := r.db.SelectContext(ctx2, &generations, `
		SELECT `+generationColumns+` FROM generations
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list generations", ErrInternal)
	}

	return generations, nil
}

func (r *PostgresRepository) SetProviderTask(ctx context.Context, id uuid.UUID, taskID string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE generations
		SET provider_task_id = $2, updated_at = NOW()
		WHERE id = $1 AND provider_task_id IS NULL
	`, id, taskID)
	if err != nil {
		return fmt.Errorf("%w: set provider task", ErrInternal)
	}

	return nil
}

func (r *PostgresRepository) UpdateProgress(ctx context.Context, id uuid.UUID, providerStatus string, progress float64, raw json.RawMessage) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE generations
		SET provider_status = $2,
		    progress = GREATEST(progress, $3),
		    provider_raw = COALESCE($4, provider_raw),
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'processing')
	`, id, providerStatus, progress, []byte(raw))
	if err != nil {
		return fmt.Errorf("%w: update progress", ErrInternal)
	}

	return nil
}

func (r *PostgresRepository) RecordWebhook(ctx context.Context, id uuid.UUID, raw json.RawMessage) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE generations
		SET webhook_raw = $2, updated_at = NOW()
		WHERE id = $1
	`, id, []byte(raw))
	if err != nil {
		return fmt.Errorf("%w: record webhook", ErrInternal)
	}

	return nil
}

func (r *PostgresRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE generations
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'queued'
	`, id)
	if err != nil {
		return fmt.Errorf("%w: mark processing", ErrInternal)
	}

	return nil
}

func (r *PostgresRepository) MarkSucceeded(ctx context.Context, id uuid.UUID, actual credit.Amount) (bool, error) {
	return r.transition(ctx, `
		UPDATE generations
		SET status = 'succeeded', actual_cost = $2, progress = 100, error_message = NULL, retryable = FALSE, updated_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'processing')
	`, id, actual)
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string, retryable bool) (bool, error) {
	return r.transition(ctx, `
		UPDATE generations
		SET status = 'failed', error_message = $2, retryable = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'processing')
	`, id, message, retryable)
}

func (r *PostgresRepository) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(ctx, `
		UPDATE generations
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'processing')
	`, id)
}

func (r *PostgresRepository) transition(ctx context.Context, query string, args ...interface{}) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, query, args...)
	if err != nil {
		return false, fmt.Errorf("%w: status transition", ErrInternal)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected", ErrInternal)
	}

	return rows > 0, nil
}

func (r *PostgresRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Generation, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	generations := []Generation{}
	err := r.db.SelectContext(ctx2, &generations, `
		SELECT `+generationColumns+` FROM generations
		WHERE status IN ('queued', 'processing') AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list stale generations", ErrInternal)
	}

	return generations, nil
}
