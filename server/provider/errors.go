package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable matches every completion failure.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrEmptyCompletion is returned when the provider answered with no text.
	ErrEmptyCompletion = errors.New("empty completion")
)

// Failure reasons reported in logs and metrics.
const (
	ReasonTimeout     = "timeout"
	ReasonCanceled    = "canceled"
	ReasonCircuitOpen = "circuit_open"
	ReasonEmpty       = "empty"
	ReasonRateLimited = "rate_limited"
	ReasonProvider    = "provider_error"
)

// UpstreamError describes a failed completion call. errors.Is reports true
// for ErrUpstreamUnavailable, and Unwrap exposes the cause.
type UpstreamError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s (%s): %v", ErrUpstreamUnavailable, e.Provider, e.Reason, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}
