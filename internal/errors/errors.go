package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for different categories
var (
	// ErrInvalidEvent - record fails telemetry schema validation (adapters synthesize a local error event instead of delivering it)
	ErrInvalidEvent = errors.New("invalid event")

	// ErrDuplicateEvent - upstream sequence at or below the last ingested one (counted, suppressed silently)
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrNotFound - resource not found (unknown run, missing chapter)
	ErrNotFound = errors.New("not found")

	// ErrStoreClosed - storage backend has been closed
	ErrStoreClosed = errors.New("store closed")

	// ErrTransient - transient error (retry with backoff)
	ErrTransient = errors.New("transient error")

	// ErrInternal - internal error (generic message, never expected during normal ingest)
	ErrInternal = errors.New("internal error")
)

// InvalidEvent wraps ErrInvalidEvent with a reason.
func InvalidEvent(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidEvent)...)
}

// Internal wraps ErrInternal with a reason.
func Internal(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInternal)...)
}
