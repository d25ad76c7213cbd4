package kernel

import (
	"errors"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/openfroyo/froyovm/pkg/address"
	"github.com/openfroyo/froyovm/pkg/encoding"
	"github.com/openfroyo/froyovm/pkg/exitcode"
	"github.com/openfroyo/froyovm/pkg/hamt"
	"github.com/openfroyo/froyovm/pkg/kernel/blocks"
)

// blockClass is the classification of one block failure reason.
type blockClass struct {
	kind ErrorKind
	code exitcode.ExitCode
}

// blockDecisions maps every block failure reason to its classification.
// Reasons attributable to the calling actor become actor faults; a reachable
// block missing from the store means the host's storage is inconsistent.
var blockDecisions = map[blocks.Reason]blockClass{
	blocks.ReasonUnreachable:     {KindActor, exitcode.SysErrIllegalArgument},
	blocks.ReasonInvalidHandle:   {KindActor, exitcode.SysErrIllegalArgument},
	blocks.ReasonInvalidHashSpec: {KindActor, exitcode.SysErrIllegalArgument},
	blocks.ReasonInvalidCodec:    {KindActor, exitcode.SysErrIllegalArgument},
	// Running out of block slots is a resource limit, not misbehavior as
	// such. SysErrIllegalActor is the closest code until a limit-specific
	// one exists.
	blocks.ReasonTooManyBlocks: {KindActor, exitcode.SysErrIllegalActor},
	blocks.ReasonMissingState:  {KindSystem, exitcode.ErrPlaceholder},
}

// FromBlockError classifies a block registry failure.
func FromBlockError(err *blocks.Error) *ExecutionError {
	if err == nil {
		return Systemf("nil block error")
	}
	class, ok := blockDecisions[err.Reason]
	if !ok {
		return FromSystemError(err)
	}
	switch class.kind {
	case KindActor:
		return FromActorError(exitcode.NewActorError(class.code, err.Error()))
	case KindSyscall:
		return FromSyscallError(NewSyscallErrorWithCode(err.Error(), class.code))
	default:
		return FromSystemError(err)
	}
}

// FromHamtError wraps a persistent map failure as a system fault.
func FromHamtError(err *hamt.Error) *ExecutionError {
	if err == nil {
		return Systemf("nil hamt error")
	}
	return FromSystemError(err)
}

// FromCIDError wraps a content identifier parse failure as a system fault.
func FromCIDError(err cid.ErrInvalidCid) *ExecutionError {
	if err.Err == nil {
		return Systemf("invalid cid")
	}
	return FromSystemError(cidError{err: err})
}

// cidError reports a CID parse failure with a single "invalid cid" prefix.
// go-cid adds its own prefix to causes that already carry one.
type cidError struct {
	err cid.ErrInvalidCid
}

func (e cidError) Error() string {
	return cidMessage(e.err)
}

// cidMessage describes a CID parse failure with exactly one "invalid cid"
// prefix.
func cidMessage(err error) string {
	const prefix = "invalid cid: "
	msg := err.Error()
	for strings.HasPrefix(msg, prefix+prefix) {
		msg = strings.TrimPrefix(msg, prefix)
	}
	if !strings.HasPrefix(msg, prefix) {
		msg = prefix + msg
	}
	return msg
}

func (e cidError) Unwrap() error {
	return e.err
}

// FromAddressError wraps an address parse failure as a system fault.
func FromAddressError(err *address.Error) *ExecutionError {
	if err == nil {
		return Systemf("nil address error")
	}
	return FromSystemError(err)
}

// FromEncodingError wraps a serialization failure as a system fault.
func FromEncodingError(err *encoding.Error) *ExecutionError {
	if err == nil {
		return Systemf("nil encoding error")
	}
	return FromSystemError(err)
}

// FromError wraps any other error as a system fault.
func FromError(err error) *ExecutionError {
	return FromSystemError(err)
}

// Convert classifies any error returned by a kernel subsystem. An existing
// *ExecutionError is returned unchanged. Convert returns nil for nil.
func Convert(err error) *ExecutionError {
	if err == nil {
		return nil
	}

	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}

	var actorErr *exitcode.ActorError
	if errors.As(err, &actorErr) {
		return FromActorError(actorErr)
	}

	var sysErr *SyscallError
	if errors.As(err, &sysErr) {
		return FromSyscallError(sysErr)
	}

	var blockErr *blocks.Error
	if errors.As(err, &blockErr) {
		return FromBlockError(blockErr)
	}

	var hamtErr *hamt.Error
	if errors.As(err, &hamtErr) {
		return FromHamtError(hamtErr)
	}

	var addrErr *address.Error
	if errors.As(err, &addrErr) {
		return FromAddressError(addrErr)
	}

	var encErr *encoding.Error
	if errors.As(err, &encErr) {
		return FromEncodingError(encErr)
	}

	var cidErr cid.ErrInvalidCid
	if errors.As(err, &cidErr) {
		return FromCIDError(cidErr)
	}

	return FromError(err)
}
