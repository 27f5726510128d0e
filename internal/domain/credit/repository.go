package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

const uniqueViolation = "23505"

// Repository provides atomic credit ledger operations. Reserve, Finalize and
// Refund are the primitives the generation lifecycle converges on: each is
// idempotent per generation, and finalize/refund are mutually exclusive via a
// partial unique index on (generation_id).
type Repository interface {
	Reserve(ctx context.Context, ownerID, generationID uuid.UUID, amount Amount) error
	Finalize(ctx context.Context, generationID uuid.UUID, actual Amount) error
	Refund(ctx context.Context, generationID uuid.UUID) error
	Purchase(ctx context.Context, ownerID uuid.UUID, amount Amount, description string) error
	GetBalance(ctx context.Context, ownerID uuid.UUID) (Amount, error)
	ListEntries(ctx context.Context, ownerID uuid.UUID, pagination Pagination) ([]LedgerEntry, error)
}

// PostgresRepository implements Repository on top of credit_accounts and
// credit_ledger.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Reserve debits the owner's balance and records a reserve entry. The debit
// is a single conditional update; zero rows means the balance cannot cover
// the amount. Calling Reserve twice for the same generation is a no-op.
func (r *PostgresRepository) Reserve(ctx context.Context, ownerID, generationID uuid.UUID, amount Amount) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx2, `
		SELECT 1 FROM credit_ledger
		WHERE generation_id = $1 AND kind = 'reserve'
	`, generationID).Scan(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: check existing reservation", ErrInternal)
	}

	var newBalance Amount
	err = tx.QueryRowContext(ctx2, `
		UPDATE credit_accounts
		SET balance = balance - $2, updated_at = NOW()
		WHERE owner_id = $1 AND balance >= $2
		RETURNING balance
	`, ownerID, amount).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.classifyDebitFailure(ctx2, ownerID)
		}
		return fmt.Errorf("%w: debit balance", ErrInternal)
	}

	_, err = tx.ExecContext(ctx2, `
		INSERT INTO credit_ledger (id, owner_id, kind, amount_delta, resulting_balance, generation_id, description)
		VALUES ($1, $2, 'reserve', $3, $4, $5, $6)
	`, uuid.New(), ownerID, -amount, newBalance, generationID, "reservation for generation")
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race to a concurrent reserve for the same
			// generation. The rollback undoes our debit.
			return nil
		}
		return fmt.Errorf("%w: insert reserve entry", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return nil
}

// Finalize settles a reservation at actual cost and returns the remainder to
// the balance. At most one settlement entry exists per generation; a repeat
// finalize is a no-op and a finalize after refund reports ErrAlreadySettled.
func (r *PostgresRepository) Finalize(ctx context.Context, generationID uuid.UUID, actual Amount) error {
	if actual < 0 {
		return ErrInvalidAmount
	}
	return r.settle(ctx, generationID, KindFinalize, actual)
}

// Refund returns the full reservation to the balance after a failure.
func (r *PostgresRepository) Refund(ctx context.Context, generationID uuid.UUID) error {
	return r.settle(ctx, generationID, KindRefund, -1)
}

func (r *PostgresRepository) settle(ctx context.Context, generationID uuid.UUID, kind EntryKind, actual Amount) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	// Lock the reserve entry so concurrent settlements serialize here.
	var ownerID uuid.UUID
	var reserveDelta Amount
	err = tx.QueryRowContext(ctx2, `
		SELECT owner_id, amount_delta FROM credit_ledger
		WHERE generation_id = $1 AND kind = 'reserve'
		FOR UPDATE
	`, generationID).Scan(&ownerID, &reserveDelta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoReservation
		}
		return fmt.Errorf("%w: load reservation", ErrInternal)
	}
	reserved := -reserveDelta

	var existingKind EntryKind
	err = tx.QueryRowContext(ctx2, `
		SELECT kind FROM credit_ledger
		WHERE generation_id = $1 AND kind IN ('finalize', 'refund')
	`, generationID).Scan(&existingKind)
	if err == nil {
		if existingKind == kind {
			return nil
		}
		return ErrAlreadySettled
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: check existing settlement", ErrInternal)
	}

	var returned Amount
	var description string
	if kind == KindRefund {
		returned = reserved
		description = "refund after failed generation"
	} else {
		// Actual cost is clamped to the reservation: a generation can
		// never cost more than what was held for it.
		if actual > reserved {
			actual = reserved
		}
		returned = reserved - actual
		description = "finalize at actual cost"
	}

	var newBalance Amount
	err = tx.QueryRowContext(ctx2, `
		UPDATE credit_accounts
		SET balance = balance + $2, updated_at = NOW()
		WHERE owner_id = $1
		RETURNING balance
	`, ownerID, returned).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("%w: credit balance", ErrInternal)
	}

	_, err = tx.ExecContext(ctx2, `
		INSERT INTO credit_ledger (id, owner_id, kind, amount_delta, resulting_balance, generation_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), ownerID, kind, returned, newBalance, generationID, description)
	if err != nil {
		if isUniqueViolation(err) {
			return r.recheckSettlement(ctx2, generationID, kind)
		}
		return fmt.Errorf("%w: insert settlement entry", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return nil
}

// recheckSettlement resolves a unique violation on the settlement index: a
// concurrent settlement of the same kind means idempotent success, the
// opposite kind means the race was lost.
func (r *PostgresRepository) recheckSettlement(ctx context.Context, generationID uuid.UUID, kind EntryKind) error {
	var existingKind EntryKind
	err := r.db.QueryRowContext(ctx, `
		SELECT kind FROM credit_ledger
		WHERE generation_id = $1 AND kind IN ('finalize', 'refund')
	`, generationID).Scan(&existingKind)
	if err != nil {
		return fmt.Errorf("%w: recheck settlement", ErrInternal)
	}
	if existingKind == kind {
		return nil
	}
	return ErrAlreadySettled
}

// Purchase credits the owner's account, creating it when missing.
func (r *PostgresRepository) Purchase(ctx context.Context, ownerID uuid.UUID, amount Amount, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var newBalance Amount
	err = tx.QueryRowContext(ctx2, `
		INSERT INTO credit_accounts (owner_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (owner_id) DO UPDATE
		SET balance = credit_accounts.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance
	`, ownerID, amount).Scan(&newBalance)
	if err != nil {
		return fmt.Errorf("%w: credit balance", ErrInternal)
	}

	_, err = tx.ExecContext(ctx2, `
		INSERT INTO credit_ledger (id, owner_id, kind, amount_delta, resulting_balance, description)
		VALUES ($1, $2, 'purchase', $3, $4, $5)
	`, uuid.New(), ownerID, amount, newBalance, description)
	if err != nil {
		return fmt.Errorf("%w: insert purchase entry", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return nil
}

// GetBalance returns the owner's balance. Owners without an account have a
// zero balance.
func (r *PostgresRepository) GetBalance(ctx context.Context, ownerID uuid.UUID) (Amount, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance Amount
	err := r.db.QueryRowContext(ctx2, `
		SELECT balance FROM credit_accounts WHERE owner_id = $1
	`, ownerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: get balance", ErrInternal)
	}

	return balance, nil
}

// ListEntries returns the owner's ledger entries, newest first.
func (r *PostgresRepository) ListEntries(ctx context.Context, ownerID uuid.UUID, pagination Pagination) ([]LedgerEntry, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := pagination.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	offset := pagination.Offset
	if offset < 0 {
		offset = 0
	}

	entries := []LedgerEntry{}
	err := r.db.SelectContext(ctx2, &entries, `
		SELECT id, owner_id, kind, amount_delta, resulting_balance, generation_id, description, created_at
		FROM credit_ledger
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list entries", ErrInternal)
	}

	return entries, nil
}

func (r *PostgresRepository) classifyDebitFailure(ctx context.Context, ownerID uuid.UUID) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM credit_accounts WHERE owner_id = $1
	`, ownerID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: check account", ErrInternal)
	}
	return ErrInsufficientCredits
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
