package main

import "fmt"

// UserError reports a problem with how the command was invoked (a missing
// or malformed flag), as distinct from a failure while doing the work the
// invocation asked for.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string { return e.Msg }

func newUserError(format string, args ...any) *UserError {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}
