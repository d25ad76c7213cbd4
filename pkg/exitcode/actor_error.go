package exitcode

import "fmt"

// ActorError is a fault raised by actor-level validation. It already knows
// the exit code it resolves to.
type ActorError struct {
	code ExitCode
	msg  string
}

// NewActorError creates an actor fault with the given code and message.
func NewActorError(code ExitCode, msg string) *ActorError {
	return &ActorError{code: code, msg: msg}
}

// ActorErrorf creates an actor fault with a formatted message.
func ActorErrorf(code ExitCode, format string, args ...interface{}) *ActorError {
	return NewActorError(code, fmt.Sprintf(format, args...))
}

// ExitCode returns the code stored in the fault.
func (e *ActorError) ExitCode() ExitCode {
	return e.code
}

// Msg returns the human-readable message.
func (e *ActorError) Msg() string {
	return e.msg
}

// Error implements the error interface.
func (e *ActorError) Error() string {
	return fmt.Sprintf("ActorError(exit_code: %s, msg: %s)", Name(e.code), e.msg)
}
