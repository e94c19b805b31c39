package providers

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/stagehand-app/stagehand-backend/internal/platform/openai"
)

type ErrorKind string

const (
	// KindTimeout: the provider did not answer inside the phase deadline.
	KindTimeout ErrorKind = "timeout"
	// KindRateLimited: the provider pushed back; retry after backoff.
	KindRateLimited ErrorKind = "rate_limited"
	// KindInvalidResponse: the provider answered with something unusable.
	KindInvalidResponse ErrorKind = "invalid_response"
	// KindUnavailable: transport failure or 5xx.
	KindUnavailable ErrorKind = "provider_unavailable"
	// KindModelMismatch: the provider echoed a different model than
	// requested. Retrying cannot fix a substituted model, and silently
	// accepting one would poison provenance.
	KindModelMismatch ErrorKind = "provider_mismatch"
)

// Error tags a provider failure with its kind and phase. The pipeline
// decides retry eligibility from the kind alone.
type Error struct {
	Kind  ErrorKind
	Phase string
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Phase, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Phase, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimited, KindInvalidResponse, KindUnavailable:
		return true
	default:
		return false
	}
}

// KindOf extracts the kind from err, or empty when err is not a provider
// error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Classify maps raw client failures onto the taxonomy.
func Classify(phase string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Phase: phase, Err: err}
	}

	switch status := openai.StatusOf(err); {
	case status == 429:
		return &Error{Kind: KindRateLimited, Phase: phase, Err: err}
	case status == 408:
		return &Error{Kind: KindTimeout, Phase: phase, Err: err}
	case status >= 500:
		return &Error{Kind: KindUnavailable, Phase: phase, Err: err}
	case status >= 400:
		return &Error{Kind: KindInvalidResponse, Phase: phase, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Phase: phase, Err: err}
	}

	return &Error{Kind: KindUnavailable, Phase: phase, Err: err}
}

func invalidResponse(phase string, err error) *Error {
	return &Error{Kind: KindInvalidResponse, Phase: phase, Err: err}
}
