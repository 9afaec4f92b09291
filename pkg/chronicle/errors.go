package chronicle

import (
	"errors"
	"fmt"
)

type (
	// RepositoryError is the base error type for every operation this
	// package exposes.
	RepositoryError struct {
		Op  string
		Err error
	}

	// IllegalStateError is configuration or lifecycle misuse (spec.md §7).
	IllegalStateError struct {
		RepositoryError
		State string
	}

	// LockTimeoutError means a command failed to acquire a declared lock
	// within its timeout. Not recorded in the journal.
	LockTimeoutError struct {
		RepositoryError
		Names []string
	}

	// JournalErrorKind means a durable append failed; no entities from
	// the command are visible.
	JournalErrorKind struct {
		RepositoryError
	}

	// SerializationErrorKind means the codec could not encode or decode
	// a value against its layout.
	SerializationErrorKind struct {
		RepositoryError
		TypeName string
	}

	// HostErrorKind means the user's execute function raised; captured
	// as CommandTerminatedExceptionally + HostErrorOccurred and
	// persisted.
	HostErrorKind struct {
		RepositoryError
		Detail string
	}

	// SubscriberErrorKind is isolated: logged, does not affect other
	// subscribers or the command's result.
	SubscriberErrorKind struct {
		RepositoryError
		Subscriber string
	}
)

func (e RepositoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e RepositoryError) Unwrap() error {
	return e.Err
}

func IsIllegalStateError(err error) bool {
	var e *IllegalStateError
	return errors.As(err, &e)
}

func IsLockTimeoutError(err error) bool {
	var e *LockTimeoutError
	return errors.As(err, &e)
}

func IsJournalError(err error) bool {
	var e *JournalErrorKind
	return errors.As(err, &e)
}

func IsSerializationError(err error) bool {
	var e *SerializationErrorKind
	return errors.As(err, &e)
}

func IsHostError(err error) bool {
	var e *HostErrorKind
	return errors.As(err, &e)
}

func IsSubscriberError(err error) bool {
	var e *SubscriberErrorKind
	return errors.As(err, &e)
}

func GetLockTimeoutError(err error) (*LockTimeoutError, bool) {
	var e *LockTimeoutError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func GetHostError(err error) (*HostErrorKind, bool) {
	var e *HostErrorKind
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func GetSerializationError(err error) (*SerializationErrorKind, bool) {
	var e *SerializationErrorKind
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// AsLockTimeoutError is an alias for GetLockTimeoutError.
func AsLockTimeoutError(err error) (*LockTimeoutError, bool) {
	return GetLockTimeoutError(err)
}

// AsHostError is an alias for GetHostError.
func AsHostError(err error) (*HostErrorKind, bool) {
	return GetHostError(err)
}
