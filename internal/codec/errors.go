package codec

import "fmt"

// TruncatedError is returned when the input buffer ends before a complete
// value has been read.
type TruncatedError struct {
	Want int
	Have int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("codec: truncated input, wanted %d bytes, have %d", e.Want, e.Have)
}

// UnknownFingerprintError is returned when the fingerprint embedded in a
// payload (the top-level entity or a nested layout<ref> value) does not
// match the fingerprint of the Go type the caller asked to decode into.
type UnknownFingerprintError struct {
	Want string
	Got  string
}

func (e *UnknownFingerprintError) Error() string {
	return fmt.Sprintf("codec: unknown fingerprint %s, expected %s", e.Got, e.Want)
}

// InvariantViolatedError is returned when decoded bytes violate a basic
// structural invariant of the wire format (e.g. a presence byte that is
// neither 0 nor 1).
type InvariantViolatedError struct {
	Detail string
}

func (e *InvariantViolatedError) Error() string {
	return fmt.Sprintf("codec: invariant violated: %s", e.Detail)
}
