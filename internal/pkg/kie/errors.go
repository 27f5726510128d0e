package kie

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures by how callers should react.
type ErrorKind int

const (
	// KindTransient covers timeouts, network failures and 5xx responses.
	// Callers may retry or defer to the sweeper.
	KindTransient ErrorKind = iota
	// KindModelRejected means the provider accepted the request transport
	// but refused the task (soft error in a 200 body). Never retried.
	KindModelRejected
	// KindPermanent covers other non-retryable failures (4xx, bad payloads).
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindModelRejected:
		return "model_rejected"
	default:
		return "permanent"
	}
}

// ProviderError is the single error type returned by the client.
type ProviderError struct {
	Kind    ErrorKind
	Code    int    // provider body code or HTTP status, when known
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("kie: %s (%d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("kie: %s: %s", e.Kind, e.Message)
}

func newTransient(format string, args ...interface{}) *ProviderError {
	return &ProviderError{Kind: KindTransient, Message: fmt.Sprintf(format, args...)}
}

func newPermanent(code int, format string, args ...interface{}) *ProviderError {
	return &ProviderError{Kind: KindPermanent, Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindTransient
}

// IsModelRejected reports whether the provider refused the task outright.
func IsModelRejected(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindModelRejected
}
