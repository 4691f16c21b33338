package exec

import "errors"

var (
	// ErrUnsupportedLanguage means the language tag is not in the
	// supported set. Checked before any network dispatch.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrEmptyCode means the source was empty or whitespace only.
	// Checked before any network dispatch.
	ErrEmptyCode = errors.New("no code to execute")

	// ErrServiceUnavailable wraps transport-level failures talking
	// to the execution service, timeouts included. Distinct from a
	// program that ran and failed, which comes back as Result.Error.
	ErrServiceUnavailable = errors.New("execution service unreachable")
)
