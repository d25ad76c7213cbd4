package kernel

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/openfroyo/froyovm/pkg/exitcode"
)

func TestExitCodeTotality(t *testing.T) {
	tests := []struct {
		name string
		err  *ExecutionError
		want exitcode.ExitCode
	}{
		{"zero value", &ExecutionError{}, exitcode.ErrPlaceholder},
		{"system", Systemf("disk on fire"), exitcode.ErrPlaceholder},
		{"system from error", FromSystemError(errors.New("boom")), exitcode.ErrPlaceholder},
		{"syscall without code", Syscallf("bad argument"), exitcode.ErrPlaceholder},
		{"syscall with code", SyscallWithCode(exitcode.ErrNotFound, "no such key"), exitcode.ErrNotFound},
		{"syscall advising ok", SyscallWithCode(exitcode.Ok, "odd but allowed"), exitcode.Ok},
		{"actor", Actorf(exitcode.ErrForbidden, "nope"), exitcode.ErrForbidden},
		{"nil actor payload", FromActorError(nil), exitcode.ErrPlaceholder},
		{"nil syscall payload", FromSyscallError(nil), exitcode.ErrPlaceholder},
		{"nil system payload", FromSystemError(nil), exitcode.ErrPlaceholder},
		{"kind without payload", &ExecutionError{kind: KindActor}, exitcode.ErrPlaceholder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.ExitCode(); got != tt.want {
				t.Errorf("ExitCode() = %s, want %s", got, tt.want)
			}
			if tt.err.Error() == "" {
				t.Error("Error() should not be empty")
			}
			if tt.err.Message() == "" {
				t.Error("Message() should not be empty")
			}
		})
	}
}

func TestNilPayloadsBecomeSystem(t *testing.T) {
	for _, err := range []*ExecutionError{FromActorError(nil), FromSyscallError(nil), FromSystemError(nil)} {
		if err.Kind() != KindSystem {
			t.Errorf("Kind() = %s, want system", err.Kind())
		}
	}
}

func TestSyscallPrecedence(t *testing.T) {
	for _, code := range exitcode.All() {
		t.Run(exitcode.Name(code), func(t *testing.T) {
			err := FromSyscallError(NewSyscallErrorWithCode("advised", code))
			if got := err.ExitCode(); got != code {
				t.Errorf("ExitCode() = %s, want %s", got, code)
			}
		})
	}

	err := FromSyscallError(NewSyscallError("plain"))
	if got := err.ExitCode(); got != exitcode.ErrPlaceholder {
		t.Errorf("ExitCode() = %s, want placeholder", got)
	}
}

func TestActorDelegation(t *testing.T) {
	codes := append(exitcode.All(), exitcode.FirstActorSpecificExitCode+7, exitcode.ExitCode(1<<31))
	for _, code := range codes {
		actorErr := exitcode.NewActorError(code, "actor says no")
		err := FromActorError(actorErr)

		if err.Kind() != KindActor {
			t.Fatalf("Kind() = %s, want actor", err.Kind())
		}
		if got := err.ExitCode(); got != actorErr.ExitCode() {
			t.Errorf("ExitCode() = %s, want %s", got, actorErr.ExitCode())
		}
		if got, ok := err.ActorError(); !ok || got != actorErr {
			t.Errorf("ActorError() = %v, %v; want original payload", got, ok)
		}
	}
}

func TestExecutionErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *ExecutionError
		wantMessage string
		wantError   string
	}{
		{
			name:        "actor",
			err:         Actorf(exitcode.ErrIllegalState, "bad %s", "state"),
			wantMessage: "bad state",
			wantError:   "ActorError(exit_code: ErrIllegalState, msg: bad state)",
		},
		{
			name:        "syscall",
			err:         Syscallf("bad argument"),
			wantMessage: "bad argument",
			wantError:   "syscall error: bad argument",
		},
		{
			name:        "syscall with code",
			err:         SyscallWithCode(exitcode.ErrNotFound, "missing %d", 3),
			wantMessage: "missing 3",
			wantError:   "syscall error: missing 3 (exit_code=ErrNotFound)",
		},
		{
			name:        "system",
			err:         Systemf("store corrupted"),
			wantMessage: "store corrupted",
			wantError:   "system error: store corrupted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Message(); got != tt.wantMessage {
				t.Errorf("Message() = %q, want %q", got, tt.wantMessage)
			}
			if got := tt.err.Error(); got != tt.wantError {
				t.Errorf("Error() = %q, want %q", got, tt.wantError)
			}
		})
	}
}

func TestExecutionErrorUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := FromSystemError(fmt.Errorf("reading root: %w", sentinel))
	if !errors.Is(err, sentinel) {
		t.Error("system fault should unwrap to its cause")
	}

	syscallErr := NewSyscallError("bad argument")
	var got *SyscallError
	if !errors.As(FromSyscallError(syscallErr), &got) || got != syscallErr {
		t.Error("syscall fault should unwrap to its payload")
	}

	var actorErr *exitcode.ActorError
	if !errors.As(Actorf(exitcode.ErrForbidden, "x"), &actorErr) {
		t.Error("actor fault should unwrap to its payload")
	}
}

func TestSystemErrorStackTrace(t *testing.T) {
	err := FromSystemError(errors.New("boom"))
	verbose := fmt.Sprintf("%+v", err)
	if !strings.Contains(verbose, "boom") || !strings.Contains(verbose, "errors_test.go") {
		t.Errorf("%%+v should include the recorded stack, got %q", verbose)
	}
	if plain := fmt.Sprintf("%v", err); plain != "system error: boom" {
		t.Errorf("%%v = %q", plain)
	}
}
