package search

import "fmt"

// Error is the retryable search failure: transport problems or zero usable
// results after relaxation and retry.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a search Error from a format string.
func Errorf(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// ErrNotConfigured marks a backend whose credentials are absent; the chain
// treats it as "skip to the next tier", not as a hard failure.
type NotConfiguredError struct {
	Backend string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("search backend %s is not configured", e.Backend)
}
