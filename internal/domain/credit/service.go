package credit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// Service exposes the credit ledger to the rest of the application.
type Service interface {
	Reserve(ctx context.Context, ownerID, generationID uuid.UUID, amount Amount) error
	Finalize(ctx context.Context, generationID uuid.UUID, actual Amount) error
	Refund(ctx context.Context, generationID uuid.UUID) error
	Purchase(ctx context.Context, ownerID uuid.UUID, amount Amount, description string) error
	GetBalance(ctx context.Context, ownerID uuid.UUID) (Amount, error)
	ListEntries(ctx context.Context, ownerID uuid.UUID, pagination Pagination) ([]LedgerEntry, error)
}

// service implements the Service interface
type service struct {
	repo Repository
}

// NewService creates a new credit service
func NewService(db *sqlx.DB) Service {
	return &service{repo: NewRepository(db)}
}

// NewServiceWithRepository wires a custom repository. Used by tests.
func NewServiceWithRepository(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) Reserve(ctx context.Context, ownerID, generationID uuid.UUID, amount Amount) error {
	err := s.repo.Reserve(ctx, ownerID, generationID, amount)
	if err != nil {
		return err
	}

	log.Debug().
		Str("owner_id", ownerID.String()).
		Str("generation_id", generationID.String()).
		Int64("amount", int64(amount)).
		Msg("credits reserved")
	return nil
}

func (s *service) Finalize(ctx context.Context, generationID uuid.UUID, actual Amount) error {
	err := s.repo.Finalize(ctx, generationID, actual)
	if err != nil {
		return err
	}

	log.Debug().
		Str("generation_id", generationID.String()).
		Int64("actual", int64(actual)).
		Msg("reservation finalized")
	return nil
}

func (s *service) Refund(ctx context.Context, generationID uuid.UUID) error {
	err := s.repo.Refund(ctx, generationID)
	if err != nil {
		return err
	}

	log.Debug().
		Str("generation_id", generationID.String()).
		Msg("reservation refunded")
	return nil
}

func (s *service) Purchase(ctx context.Context, ownerID uuid.UUID, amount Amount, description string) error {
	err := s.repo.Purchase(ctx, ownerID, amount, description)
	if err != nil {
		return err
	}

	log.Info().
		Str("owner_id", ownerID.String()).
		Int64("amount", int64(amount)).
		Msg("credits purchased")
	return nil
}

func (s *service) GetBalance(ctx context.Context, ownerID uuid.UUID) (Amount, error) {
	return s.repo.GetBalance(ctx, ownerID)
}

func (s *service) ListEntries(ctx context.Context, ownerID uuid.UUID, pagination Pagination) ([]LedgerEntry, error) {
	return s.repo.ListEntries(ctx, ownerID, pagination)
}
