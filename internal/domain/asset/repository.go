package asset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

type Repository interface {
	// Insert stores the asset. If an asset already exists for the
	// generation the existing row is returned unchanged.
	Insert(ctx context.Context, a *Asset) (*Asset, error)
	GetByGenerationID(ctx context.Context, generationID uuid.UUID) (*Asset, error)
	// MarkStored clears the store-error annotation after a retried write.
	MarkStored(ctx context.Context, id uuid.UUID, storageKey, publicURL string, sizeBytes int64) error
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, a *Asset) (*Asset, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	result, err := r.db.ExecContext(ctx2, `
		INSERT INTO assets (id, generation_id, owner_id, storage_key, public_url, content_type, size_bytes, source_url, store_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (generation_id) DO NOTHING
	`, a.ID, a.GenerationID, a.OwnerID, a.StorageKey, a.PublicURL, a.ContentType, a.SizeBytes, a.SourceURL, a.StoreError)
	if err != nil {
		return nil, fmt.Errorf("%w: insert asset", ErrInternal)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		// Lost the race; the winner's row is authoritative.
		return r.GetByGenerationID(ctx, a.GenerationID)
	}

	return r.GetByGenerationID(ctx, a.GenerationID)
}

func (r *PostgresRepository) GetByGenerationID(ctx context.Context, generationID uuid.UUID) (*Asset, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Asset
	err := r.db.GetContext(ctx2, &a, `
		SELECT id, generation_id, owner_id, storage_key, public_url, content_type, size_bytes, source_url, store_error, created_at
		FROM assets
		WHERE generation_id = $1
	`, generationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("%w: get asset", ErrInternal)
	}

	return &a, nil
}

func (r *PostgresRepository) MarkStored(ctx context.Context, id uuid.UUID, storageKey, publicURL string, sizeBytes int64) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE assets
		SET storage_key = $2, public_url = $3, size_bytes = $4, store_error = NULL
		WHERE id = $1
	`, id, storageKey, publicURL, sizeBytes)
	if err != nil {
		return fmt.Errorf("%w: mark asset stored", ErrInternal)
	}

	return nil
}

