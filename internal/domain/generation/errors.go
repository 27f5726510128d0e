package generation

import "errors"

var (
	ErrGenerationNotFound = errors.New("generation not found")

	// ErrAlreadyTerminal is returned when an operation targets a
	// generation that has already reached a terminal state.
	ErrAlreadyTerminal = errors.New("generation already terminal")

	// ErrProviderRejected means the provider refused the task. The
	// reservation is refunded and the request is not retried.
	ErrProviderRejected = errors.New("provider rejected the task")

	// ErrProviderUnavailable means task submission failed for transient
	// reasons. The reservation is refunded; the caller may retry.
	ErrProviderUnavailable = errors.New("provider unavailable")

	ErrInternal = errors.New("internal error")
)
