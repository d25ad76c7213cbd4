package kernel

import (
	"errors"
	"sync"
)

// trapEnvelope carries an *ExecutionError through the bytecode engine.
//
// The engine only transports an opaque error value, so the invoker never
// receives the envelope directly. It receives whatever the engine built
// around it and has to find the envelope again by walking the cause chain.
//
// The envelope is its own cause: As resolves a **trapEnvelope target to the
// receiver. This self-reference is intentional. It is expressed through As
// and not Unwrap, since an Unwrap returning the receiver would make
// errors.Is loop forever.
type trapEnvelope struct {
	// desc is fixed at creation so Error never touches the slot.
	desc string

	mu   sync.Mutex
	slot *ExecutionError
}

// ToTrap packs err into an opaque error suitable for the engine's failure
// channel. Host functions hand it to the engine with panic(ToTrap(err)).
// The envelope must not be reused once it has been raised.
func ToTrap(err *ExecutionError) error {
	if err == nil {
		err = Systemf("nil execution error")
	}
	return &trapEnvelope{desc: err.Error(), slot: err}
}

// Error implements the error interface.
func (t *trapEnvelope) Error() string {
	return t.desc
}

// As makes the envelope the cause of itself.
func (t *trapEnvelope) As(target any) bool {
	p, ok := target.(**trapEnvelope)
	if !ok {
		return false
	}
	*p = t
	return true
}

// take empties the slot. It fails if the slot is empty or if another caller
// holds the lock; both mean the payload is not ours to return.
func (t *trapEnvelope) take() (*ExecutionError, bool) {
	if !t.mu.TryLock() {
		return nil, false
	}
	defer t.mu.Unlock()

	err := t.slot
	t.slot = nil
	return err, err != nil
}

// FromTrap recovers the *ExecutionError packed by ToTrap from an error
// returned by the engine. The payload is handed out at most once. Errors
// that carry no envelope, an envelope already emptied, or one under
// contention yield a system fault built from err's description.
//
// FromTrap never returns nil.
func FromTrap(err error) *ExecutionError {
	execErr, _ := RecoverTrap(err)
	return execErr
}

// RecoverTrap is FromTrap that also reports whether the result is the
// payload of an envelope (true) or a system fault synthesized from err.
func RecoverTrap(err error) (*ExecutionError, bool) {
	if err == nil {
		return Systemf("engine reported failure without an error"), false
	}

	var envelope *trapEnvelope
	if errors.As(err, &envelope) {
		if execErr, ok := envelope.take(); ok {
			return execErr, true
		}
	}
	return Systemf("%s", err.Error()), false
}

// IsTrap reports whether err carries an envelope created by ToTrap,
// regardless of whether its payload has been taken.
func IsTrap(err error) bool {
	var envelope *trapEnvelope
	return errors.As(err, &envelope)
}
