// Package cli holds the shared entrypoint logic for the tuick binary:
// the usage error type and the exit-code mapping described in spec §7.
package cli

import (
	"errors"
	"fmt"
	"os/exec"

	"tuick/internal/errorformat"
)

// UsageError signals a malformed command line — missing checker
// command, conflicting flags, or similar — distinct from a runtime
// failure that happens after the arguments were accepted.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

// NewUsageError builds a UsageError with a formatted message.
func NewUsageError(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// Exit codes per spec §6/§7: usage error, then tool detection, pattern,
// checker-not-found or helper-missing errors, then any other
// unexpected internal error.
const (
	ExitOK            = 0
	ExitUsageError    = 1
	ExitToolDetection = 2
	ExitRuntimeError  = 3
)

// ExitCode maps an error returned from the top-level run function to
// the process exit code spec §7 assigns it. A nil error is success.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsageError
	}

	if errors.Is(err, errorformat.ErrToolNotDetected) || errors.Is(err, errorformat.ErrPatternError) ||
		errors.Is(err, errorformat.ErrHelperNotFound) || errors.Is(err, exec.ErrNotFound) {
		return ExitToolDetection
	}

	return ExitRuntimeError
}
