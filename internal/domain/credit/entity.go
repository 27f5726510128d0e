package credit

import (
	"time"

	"github.com/google/uuid"
)

// Amount is a credit quantity in hundredths of a credit. Model pricing uses
// two decimal places, so integer hundredths keep the ledger exact.
type Amount int64

// Credits converts whole credits to an Amount.
func Credits(n int64) Amount { return Amount(n * 100) }

// Float64 returns the amount in whole credits for display.
func (a Amount) Float64() float64 { return float64(a) / 100 }

// EntryKind defines supported ledger entry kinds.
type EntryKind string

const (
	// KindReserve holds funds when a generation is accepted.
	KindReserve EntryKind = "reserve"
	// KindFinalize settles a reservation at actual cost, returning the
	// remainder. Mutually exclusive with refund per generation.
	KindFinalize EntryKind = "finalize"
	// KindRefund returns the full reservation after a failure.
	KindRefund     EntryKind = "refund"
	KindPurchase   EntryKind = "purchase"
	KindAdjustment EntryKind = "adjustment"
)

// LedgerEntry is one row of the credit ledger.
type LedgerEntry struct {
	ID               uuid.UUID  `db:"id"`
	OwnerID          uuid.UUID  `db:"owner_id"`
	Kind             EntryKind  `db:"kind"`
	AmountDelta      Amount     `db:"amount_delta"`
	ResultingBalance Amount     `db:"resulting_balance"`
	GenerationID     *uuid.UUID `db:"generation_id"`
	Description      string     `db:"description"`
	CreatedAt        time.Time  `db:"created_at"`
}

// Account holds a user's spendable balance.
type Account struct {
	OwnerID   uuid.UUID `db:"owner_id"`
	Balance   Amount    `db:"balance"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}
