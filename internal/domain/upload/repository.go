package upload

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
	Create(ctx context.Context, u *Upload) error
	GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*Upload, error)
	Confirm(ctx context.Context, id uuid.UUID, sizeBytes int64) error
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, u *Upload) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Status = StatusPending
	u.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO uploads (id, owner_id, kind, storage_key, content_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.OwnerID, u.Kind, u.StorageKey, u.ContentType, u.Status, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert upload", ErrInternal)
	}

	return nil
}

func (r *PostgresRepository) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*Upload, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var u Upload
	err := r.db.GetContext(ctx2, &u, `
		SELECT id, owner_id, kind, storage_key, content_type, size_bytes, status, created_at, confirmed_at
		FROM uploads
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUploadNotFound
		}
		return nil, fmt.Errorf("%w: get upload", ErrInternal)
	}

	return &u, nil
}

func (r *PostgresRepository) Confirm(ctx context.Context, id uuid.UUID, sizeBytes int64) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE uploads
		SET status = 'confirmed', size_bytes = $2, confirmed_at = NOW()
		WHERE id = $1
	`, id, sizeBytes)
	if err != nil {
		return fmt.Errorf("%w: confirm upload", ErrInternal)
	}

	return nil
}
