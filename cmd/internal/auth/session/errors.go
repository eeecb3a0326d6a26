package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCachedCredential is returned when no credential could be obtained without
	// (or after declining) an interactive prompt.
	ErrNoCachedCredential = errors.New("no cached credential")

	// ErrInvalidCredential is returned when the provider rejected the credential.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrValidationFailed is returned when the provider could not be reached during
	// validation or identity fetch. Session state is left unchanged.
	ErrValidationFailed = errors.New("validation failed")

	// ErrAlreadyInProgress is returned to callers of an attempt that a sign-out superseded.
	ErrAlreadyInProgress = errors.New("sign-in already in progress")

	// ErrSnapshotNotFound is returned by stores when no snapshot exists for the key.
	ErrSnapshotNotFound = errors.New("session snapshot not found")

	// ErrStaleSnapshot is returned by stores when a save carries a version not newer
	// than the stored one.
	ErrStaleSnapshot = errors.New("stale session snapshot")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// AttemptError describes a failed acquisition attempt.
//
// Reason is one of the sentinel errors above; Cause is the underlying
// provider error, if any.
type AttemptError struct {
	Reason  error
	Cause   error
	Retried bool
}

func (e *AttemptError) Error() string {
	msg := e.Reason.Error()
	if e.Retried {
		msg += " (after retry)"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *AttemptError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Cause}
}

func fail(reason, cause error, retried bool) error {
	return &AttemptError{Reason: reason, Cause: cause, Retried: retried}
}
