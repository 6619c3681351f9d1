/*
errors.go - Centralized error types for the attendance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch on sentinel errors with errors.Is() and inspect the
  structured types with errors.As().

ERROR CATEGORIES:
  1. Domain errors - Expected, recoverable, surfaced to callers
     (duplicate check-in, not enabled, no active session)
  2. Integrity errors - Programmer/data errors that must abort the
     mutation before a partially-updated aggregate is persisted
  3. Store errors - Concurrency conflicts from the persistence layer

HTTP MAPPING:
  Every sentinel carries an HTTP-style status via HTTPStatus() so the
  API layer never has to maintain its own mapping table.

SEE ALSO:
  - session.go: Raises the session-related errors
  - detector.go: Raises InvalidSessionError / UnconfiguredScheduleError
*/
package attendance

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input or a missing required field.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateCheckIn is returned when a check-in is attempted while a
	// prior check-in is still open or inside the duplicate-prevention window.
	ErrDuplicateCheckIn = errors.New("duplicate check-in")

	// ErrAttendanceNotEnabled is returned when the target entity has
	// attendance tracking switched off.
	ErrAttendanceNotEnabled = errors.New("attendance not enabled")

	// ErrMemberNotFound is returned when the target entity does not exist.
	ErrMemberNotFound = errors.New("member not found")

	// ErrNoActiveSession is returned by check-out when no entry is open.
	ErrNoActiveSession = errors.New("no active session")

	// ErrAlreadyCheckedOut is returned when the referenced entry is closed.
	ErrAlreadyCheckedOut = errors.New("already checked out")

	// ErrInvalidSession is returned for a non-positive session duration.
	ErrInvalidSession = errors.New("invalid session")

	// ErrUnconfiguredSchedule is returned when the schedule-aware policy has
	// neither a schedule nor fallback standard hours.
	ErrUnconfiguredSchedule = errors.New("unconfigured schedule")

	// ErrTargetModelNotAllowed is returned when an allowlist is configured
	// and the target model is not on it.
	ErrTargetModelNotAllowed = errors.New("target model not allowed")

	// ErrNotInitialized is returned when the engine is used before setup.
	ErrNotInitialized = errors.New("attendance engine not initialized")

	// ErrRecordNotFound is returned when a monthly record or entry is missing.
	ErrRecordNotFound = errors.New("record not found")

	// ErrConcurrentModification is returned when the store detects a
	// conflicting concurrent write. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateCheckInError carries the prior check-in and when the next
// check-in becomes allowed, so callers can show a useful message.
type DuplicateCheckInError struct {
	LastCheckIn     time.Time
	NextAllowedTime time.Time
	OpenCheckInID   string
}

func (e *DuplicateCheckInError) Error() string {
	return fmt.Sprintf("duplicate check-in: last at %s, next allowed at %s",
		e.LastCheckIn.Format(time.RFC3339), e.NextAllowedTime.Format(time.RFC3339))
}

func (e *DuplicateCheckInError) Unwrap() error { return ErrDuplicateCheckIn }

// InvalidSessionError reports a non-positive check-in/check-out duration.
// Negative durations are an error condition, never silently clamped.
type InvalidSessionError struct {
	CheckIn  time.Time
	CheckOut time.Time
}

func (e *InvalidSessionError) Error() string {
	return fmt.Sprintf("invalid session: check-out %s not after check-in %s",
		e.CheckOut.Format(time.RFC3339), e.CheckIn.Format(time.RFC3339))
}

func (e *InvalidSessionError) Unwrap() error { return ErrInvalidSession }

// ValidationError reports a specific malformed or rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input
// or a rejected-but-expected domain condition.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateCheckIn) ||
		errors.Is(err, ErrAttendanceNotEnabled) ||
		errors.Is(err, ErrNoActiveSession) ||
		errors.Is(err, ErrAlreadyCheckedOut) ||
		errors.Is(err, ErrInvalidSession) ||
		errors.Is(err, ErrTargetModelNotAllowed)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMemberNotFound) || errors.Is(err, ErrRecordNotFound)
}

// Code returns the machine-readable code for an engine error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateCheckIn):
		return "duplicate_check_in"
	case errors.Is(err, ErrAttendanceNotEnabled):
		return "attendance_not_enabled"
	case errors.Is(err, ErrMemberNotFound):
		return "member_not_found"
	case errors.Is(err, ErrNoActiveSession):
		return "no_active_session"
	case errors.Is(err, ErrAlreadyCheckedOut):
		return "already_checked_out"
	case errors.Is(err, ErrInvalidSession):
		return "invalid_session"
	case errors.Is(err, ErrUnconfiguredSchedule):
		return "unconfigured_schedule"
	case errors.Is(err, ErrTargetModelNotAllowed):
		return "target_model_not_allowed"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrRecordNotFound):
		return "record_not_found"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	default:
		return "internal"
	}
}

// HTTPStatus maps an engine error to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidSession),
		errors.Is(err, ErrUnconfiguredSchedule):
		return http.StatusBadRequest
	case errors.Is(err, ErrAttendanceNotEnabled), errors.Is(err, ErrTargetModelNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, ErrMemberNotFound), errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateCheckIn), errors.Is(err, ErrAlreadyCheckedOut),
		errors.Is(err, ErrNoActiveSession), errors.Is(err, ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
