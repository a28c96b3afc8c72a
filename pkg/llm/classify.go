package llm

import (
	"context"
	"errors"
	"net"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/parlance-data/parlance/pkg/retry"
)

// Classify maps a reasoning-service error to a retry class. Structured API
// status codes are checked first; substring matching on the error text is
// only a fallback for errors that carry no code.
func Classify(err error) retry.Class {
	if err == nil {
		return retry.ClassUnknown
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 408 || apierr.StatusCode == 429:
			return retry.ClassRecoverable
		case apierr.StatusCode >= 500:
			return retry.ClassRecoverable
		default:
			// Auth, validation, and other 4xx responses cannot succeed on
			// retry.
			return retry.ClassFatal
		}
	}

	if errors.Is(err, ErrMalformedResponse) {
		return retry.ClassRecoverable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return retry.ClassRecoverable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retry.ClassRecoverable
	}

	return retry.TextClassifier(err)
}
