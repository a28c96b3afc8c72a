// Package retry wraps calls to unreliable external services with bounded
// exponential backoff. Failures are classified as recoverable or fatal by the
// caller; anything the classifier does not recognize is treated as fatal so
// unknown failures are never silently retried.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Class buckets an error for retry purposes.
type Class int

const (
	// ClassUnknown is an error the classifier could not place. Treated as
	// fatal.
	ClassUnknown Class = iota
	// ClassRecoverable is a transient fault worth retrying.
	ClassRecoverable
	// ClassFatal is a permanent fault; retrying cannot help.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassRecoverable:
		return "recoverable"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classifier maps an error to a retry class. Supplied per external service.
type Classifier func(error) Class

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultConfig returns the schedule used for the reasoning service: up to 5
// attempts, 2s base delay doubling to a 60s cap, with ±25% jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

func (c Config) validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %f", c.Multiplier)
	}
	return nil
}

// Context describes the progress of one call sequence. The attempt counter is
// monotonic within a sequence and never reused across sequences.
type Context struct {
	Attempt int
	LastErr error
}

// Checkpoint is invoked immediately before each attempt and once after the
// final outcome, so externally persisted state reflects in-flight retries.
type Checkpoint func(ctx context.Context, rc Context)

// ExhaustedError reports that every attempt failed with a recoverable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Coordinator runs operations under a shared retry configuration.
type Coordinator struct {
	cfg Config
	log *slog.Logger
}

// New creates a Coordinator. The logger may be nil.
func New(cfg Config, log *slog.Logger) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	return &Coordinator{cfg: cfg, log: log}, nil
}

// Do invokes op until it succeeds, fails fatally, or attempts are exhausted.
// A fatal error returns immediately with no delay. Exhaustion returns an
// *ExhaustedError wrapping the last recoverable error. classify must not be
// nil; checkpoint may be.
func (c *Coordinator) Do(ctx context.Context, name string, op func(context.Context) error, classify Classifier, checkpoint Checkpoint) error {
	rf := 0.25
	if !c.cfg.Jitter {
		rf = 0
	}
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.cfg.BaseDelay),
		backoff.WithMultiplier(c.cfg.Multiplier),
		backoff.WithMaxInterval(c.cfg.MaxDelay),
		backoff.WithRandomizationFactor(rf),
		backoff.WithMaxElapsedTime(0),
	)
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)

	rc := Context{}
	fatal := false

	attempt := func() error {
		rc.Attempt++
		if checkpoint != nil {
			checkpoint(ctx, rc)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		rc.LastErr = err

		if classify(err) == ClassRecoverable {
			if c.log != nil {
				c.log.Warn("recoverable error, will retry",
					"operation", name,
					"attempt", rc.Attempt,
					"maxAttempts", c.cfg.MaxAttempts,
					"error", err)
			}
			return err
		}

		// Fatal or unknown: fail closed, no further attempts.
		fatal = true
		if c.log != nil {
			c.log.Error("fatal error, not retrying", "operation", name, "attempt", rc.Attempt, "error", err)
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(attempt, bo)

	if err != nil && !fatal && rc.Attempt >= c.cfg.MaxAttempts {
		err = &ExhaustedError{Attempts: rc.Attempt, Last: err}
		if c.log != nil {
			c.log.Error("retries exhausted", "operation", name, "attempts", rc.Attempt)
		}
	}

	rc.LastErr = err
	if checkpoint != nil {
		checkpoint(ctx, rc)
	}
	return err
}

// TextClassifier classifies by substring matching on the error text. This is
// the documented fallback for services that do not expose structured error
// codes; prefer a service-specific classifier where one exists.
func TextClassifier(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	msg := strings.ToLower(err.Error())
	recoverable := []string{
		"timeout", "timed out", "deadline exceeded",
		"429", "rate limit", "too many requests", "overloaded",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable",
		"connection reset", "connection refused", "temporarily unavailable",
	}
	for _, s := range recoverable {
		if strings.Contains(msg, s) {
			return ClassRecoverable
		}
	}
	return ClassFatal
}
