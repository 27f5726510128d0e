package credit

import "errors"

var (
	// ErrInsufficientCredits is returned when the balance cannot cover a
	// reservation. This is a business outcome, never retried.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidAmount is returned when amount is <= 0
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrAccountNotFound is returned when the owner has no credit account
	ErrAccountNotFound = errors.New("credit account not found")

	// ErrNoReservation is returned when finalize or refund finds no
	// reservation for the generation.
	ErrNoReservation = errors.New("no reservation for generation")

	// ErrAlreadySettled is returned when a finalize races a refund (or the
	// reverse) for the same generation. Exactly one settlement wins.
	ErrAlreadySettled = errors.New("reservation already settled")

	ErrInternal = errors.New("internal error")
)
