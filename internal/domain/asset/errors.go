package asset

import "errors"

var (
	ErrAssetNotFound = errors.New("asset not found")

	// ErrFetchFailed is returned when the provider's result URL cannot be
	// downloaded. Retryable.
	ErrFetchFailed = errors.New("failed to fetch generation output")

	ErrInternal = errors.New("internal error")
)
