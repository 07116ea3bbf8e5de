package errext

import (
	"errors"

	"go.k6.io/bytestreams/errext/exitcodes"
)

// InterruptError is returned when a transfer was stopped before its source was exhausted.
type InterruptError struct {
	Reason string
}

var _ HasExitCode = &InterruptError{}

// Error returns the reason of the interruption.
func (i *InterruptError) Error() string {
	return i.Reason
}

// ExitCode returns the status code used when the process exits.
func (i *InterruptError) ExitCode() exitcodes.ExitCode {
	return exitcodes.ExternalAbort
}

// AbortSignal is the reason used when a signal stopped the transfer.
const AbortSignal = "transfer aborted by signal"

// IsInterruptError returns true if err is *InterruptError.
func IsInterruptError(err error) bool {
	if err == nil {
		return false
	}
	var intErr *InterruptError
	return errors.As(err, &intErr)
}
