// Package kernel implements the host side of actor execution: the error
// taxonomy every kernel failure resolves to, the adapters that classify
// failures from the storage and parsing layers, the bridge that carries a
// structured failure across the bytecode engine, and the host calls exposed
// to running actors.
package kernel

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/openfroyo/froyovm/pkg/exitcode"
)

// ErrorKind classifies an ExecutionError.
type ErrorKind uint8

const (
	// KindSystem is an unexpected fault (I/O, storage corruption, broken
	// invariant). It is unclassified and fatal. The zero ErrorKind is
	// KindSystem, so the zero ExecutionError still resolves to a code.
	KindSystem ErrorKind = iota

	// KindActor is a fault that carries its own exit code.
	KindActor

	// KindSyscall is a fault raised by a host call, optionally advising an exit code.
	KindSyscall
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindActor:
		return "actor"
	case KindSyscall:
		return "syscall"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ExecutionError is the single failure type of the kernel. Exactly one of
// the actor, syscall or system payloads is meaningful, selected by Kind.
// Once built, its classification never changes.
type ExecutionError struct {
	kind    ErrorKind
	actor   *exitcode.ActorError
	syscall *SyscallError
	system  error
}

// FromActorError wraps an actor fault. A nil fault becomes a system fault.
func FromActorError(err *exitcode.ActorError) *ExecutionError {
	if err == nil {
		return Systemf("nil actor error")
	}
	return &ExecutionError{kind: KindActor, actor: err}
}

// FromSyscallError wraps a host call fault. A nil fault becomes a system fault.
func FromSyscallError(err *SyscallError) *ExecutionError {
	if err == nil {
		return Systemf("nil syscall error")
	}
	return &ExecutionError{kind: KindSyscall, syscall: err}
}

// FromSystemError wraps an unexpected fault, recording a stack trace if the
// error does not carry one yet.
func FromSystemError(err error) *ExecutionError {
	if err == nil {
		return Systemf("nil system error")
	}
	return &ExecutionError{kind: KindSystem, system: withStack(err)}
}

// Actorf creates an actor fault with the given exit code.
func Actorf(code exitcode.ExitCode, format string, args ...interface{}) *ExecutionError {
	return FromActorError(exitcode.ActorErrorf(code, format, args...))
}

// Syscallf creates a host call fault without an advised exit code.
func Syscallf(format string, args ...interface{}) *ExecutionError {
	return FromSyscallError(NewSyscallError(fmt.Sprintf(format, args...)))
}

// SyscallWithCode creates a host call fault advising code.
func SyscallWithCode(code exitcode.ExitCode, format string, args ...interface{}) *ExecutionError {
	return FromSyscallError(NewSyscallErrorWithCode(fmt.Sprintf(format, args...), code))
}

// Systemf creates a system fault.
func Systemf(format string, args ...interface{}) *ExecutionError {
	return &ExecutionError{kind: KindSystem, system: pkgerrors.Errorf(format, args...)}
}

// Kind returns the classification.
func (e *ExecutionError) Kind() ErrorKind {
	return e.kind
}

// ExitCode resolves the fault to its normative outcome code. An explicit
// actor or advised code wins; anything else resolves to ErrPlaceholder.
func (e *ExecutionError) ExitCode() exitcode.ExitCode {
	switch e.kind {
	case KindActor:
		if e.actor != nil {
			return e.actor.ExitCode()
		}
	case KindSyscall:
		if e.syscall != nil {
			if code, ok := e.syscall.AdvisedCode(); ok {
				return code
			}
		}
	}
	return exitcode.ErrPlaceholder
}

// Message returns the human-readable description without kind decoration.
func (e *ExecutionError) Message() string {
	switch e.kind {
	case KindActor:
		if e.actor != nil {
			return e.actor.Msg()
		}
	case KindSyscall:
		if e.syscall != nil {
			return e.syscall.Message()
		}
	case KindSystem:
		if e.system != nil {
			return e.system.Error()
		}
	}
	return "unknown " + e.kind.String() + " error"
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	switch e.kind {
	case KindActor:
		if e.actor != nil {
			return e.actor.Error()
		}
	case KindSyscall:
		if e.syscall != nil {
			return e.syscall.Error()
		}
	}
	return "system error: " + e.Message()
}

// Unwrap exposes the payload for errors.Is and errors.As.
func (e *ExecutionError) Unwrap() error {
	switch e.kind {
	case KindActor:
		if e.actor != nil {
			return e.actor
		}
	case KindSyscall:
		if e.syscall != nil {
			return e.syscall
		}
	case KindSystem:
		return e.system
	}
	return nil
}

// ActorError returns the actor payload of an actor fault.
func (e *ExecutionError) ActorError() (*exitcode.ActorError, bool) {
	return e.actor, e.kind == KindActor && e.actor != nil
}

// SyscallError returns the payload of a host call fault.
func (e *ExecutionError) SyscallError() (*SyscallError, bool) {
	return e.syscall, e.kind == KindSyscall && e.syscall != nil
}

// SystemError returns the cause of a system fault.
func (e *ExecutionError) SystemError() (error, bool) {
	return e.system, e.kind == KindSystem && e.system != nil
}

// Format supports %+v, which prints the stack trace recorded for system faults.
func (e *ExecutionError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') && e.kind == KindSystem && e.system != nil {
		fmt.Fprintf(s, "system error: %+v", e.system)
		return
	}
	fmt.Fprint(s, e.Error())
}

// SyscallError is a failure raised by a host call. It carries a message and
// may advise the exit code the failure should resolve to.
type SyscallError struct {
	message string
	code    exitcode.ExitCode
	advised bool
}

// NewSyscallError creates a host call fault with no advised exit code.
func NewSyscallError(message string) *SyscallError {
	return &SyscallError{message: message}
}

// NewSyscallErrorWithCode creates a host call fault advising code.
func NewSyscallErrorWithCode(message string, code exitcode.ExitCode) *SyscallError {
	return &SyscallError{message: message, code: code, advised: true}
}

// Message returns the fault message.
func (e *SyscallError) Message() string {
	return e.message
}

// AdvisedCode returns the advised exit code, if any.
func (e *SyscallError) AdvisedCode() (exitcode.ExitCode, bool) {
	return e.code, e.advised
}

// Error implements the error interface.
func (e *SyscallError) Error() string {
	if !e.advised {
		return fmt.Sprintf("syscall error: %s", e.message)
	}
	return fmt.Sprintf("syscall error: %s (exit_code=%s)", e.message, exitcode.Name(e.code))
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

func withStack(err error) error {
	if _, ok := err.(stackTracer); ok {
		return err
	}
	return pkgerrors.WithStack(err)
}
