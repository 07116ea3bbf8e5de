// Package exitcodes contains the constants representing possible bytestreams exit error codes.
package exitcodes

// ExitCode is just a type representing a process exit code for bytestreams
type ExitCode uint8

// list of exit codes used by bytestreams
const (
	InvalidConfig    ExitCode = 104
	ExternalAbort    ExitCode = 105
	CannotOpenSource ExitCode = 106
	StreamErrored    ExitCode = 107
	GoPanic          ExitCode = 108
)
