package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

type Repository interface {
	GetByKey(ctx context.Context, key string) (*Model, error)
	List(ctx context.Context, modality Modality) ([]Model, error)
	GetPresetByKey(ctx context.Context, key string) (*Preset, error)
	ListPresets(ctx context.Context) ([]Preset, error)
}

// PostgresRepository serves the model and preset catalog.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByKey(ctx context.Context, key string) (*Model, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var m Model
	err := r.db.GetContext(ctx2, &m, `
		SELECT id, key, provider_model, family, modality, price_multiplier, capabilities, active, created_at, updated_at
		FROM models
		WHERE key = $1 AND active = TRUE
	`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("%w: get model", ErrInternal)
	}

	return &m, nil
}

func (r *PostgresRepository) List(ctx context.Context, modality Modality) ([]Model, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	models := []Model{}
	var err error
	if modality == "" {
		err = r.db.SelectContext(ctx2, &models, `
			SELECT id, key, provider_model, family, modality, price_multiplier, capabilities, active, created_at, updated_at
			FROM models
			WHERE active = TRUE
			ORDER BY key
		`)
	} else {
		err = r.db.SelectContext(ctx2, &models, `
			SELECT id, key, provider_model, family, modality, price_multiplier, capabilities, active, created_at, updated_at
			FROM models
			WHERE active = TRUE AND modality = $1
			ORDER BY key
		`, modality)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list models", ErrInternal)
	}

	return models, nil
}

func (r *PostgresRepository) GetPresetByKey(ctx context.Context, key string) (*Preset, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var p Preset
	err := r.db.GetContext(ctx2, &p, `
		SELECT id, key, name, model_key, base_cost, defaults, active, created_at, updated_at
		FROM presets
		WHERE key = $1 AND active = TRUE
	`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPresetNotFound
		}
		return nil, fmt.Errorf("%w: get preset", ErrInternal)
	}

	return &p, nil
}

func (r *PostgresRepository) ListPresets(ctx context.Context) ([]Preset, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	presets := []Preset{}
	err := r.db.SelectContext(ctx2, &presets, `
		SELECT id, key, name, model_key, base_cost, defaults, active, created_at, updated_at
		FROM presets
		WHERE active = TRUE
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: list presets", ErrInternal)
	}

	return presets, nil
}
