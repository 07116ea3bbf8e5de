package streams

import "errors"

func newError(k errorKind, message string) *streamError {
	return &streamError{
		Name:    k.String(),
		Message: message,
		kind:    k,
	}
}

func newTypeError(message string) *streamError {
	return newError(TypeError, message)
}

func newRangeError(message string) *streamError {
	return newError(RangeError, message)
}

type errorKind uint8

const (
	// TypeError is returned when an operation is not allowed in the current state of the
	// stream, or when an argument is not of the expected shape.
	TypeError errorKind = iota + 1

	// RangeError is returned when a numeric argument is not within the expected range.
	RangeError

	// RuntimeError is returned when an error occurs that was caused by the implementation
	// rather than by the caller.
	RuntimeError

	// AssertionError is returned when an internal invariant does not hold.
	AssertionError

	// NotSupportedError is returned when a feature is not supported.
	NotSupportedError
)

func (k errorKind) String() string {
	switch k {
	case TypeError:
		return "TypeError"
	case RangeError:
		return "RangeError"
	case RuntimeError:
		return "RuntimeError"
	case AssertionError:
		return "AssertionError"
	case NotSupportedError:
		return "NotSupportedError"
	default:
		return "UnknownError"
	}
}

type streamError struct {
	// Name contains the name of the error
	Name string `json:"name"`

	// Message contains the error message
	Message string `json:"message"`

	// kind contains the kind of error
	kind errorKind
}

// Ensure that the streamError type implements the Go `error` interface
var _ error = (*streamError)(nil)

func (e *streamError) Error() string {
	return e.Name + ": " + e.Message
}

// Is reports whether target is a stream error of the same kind, so that
// errors.Is(err, streams.ErrTypeError) works for any TypeError.
func (e *streamError) Is(target error) bool {
	var t *streamError
	if !errors.As(target, &t) {
		return false
	}
	return t.kind == e.kind && t.Message == ""
}

// Sentinels usable with errors.Is to check the kind of an error returned by this package.
var (
	ErrTypeError      error = &streamError{Name: TypeError.String(), kind: TypeError}
	ErrRangeError     error = &streamError{Name: RangeError.String(), kind: RangeError}
	ErrAssertionError error = &streamError{Name: AssertionError.String(), kind: AssertionError}
)

// Kind returns the name of the kind of err if it was produced by this package, or an empty
// string otherwise.
func Kind(err error) string {
	var serr *streamError
	if errors.As(err, &serr) {
		return serr.kind.String()
	}
	return ""
}
