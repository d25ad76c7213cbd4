package blocks

import (
	"fmt"

	"github.com/ipfs/go-cid"
)

// Reason identifies why a block operation failed.
type Reason uint8

const (
	// ReasonUnreachable means the CID is not reachable from the actor's state.
	ReasonUnreachable Reason = iota + 1
	// ReasonInvalidHandle means the handle does not name an open block.
	ReasonInvalidHandle
	// ReasonInvalidHashSpec means the requested multihash code/length is not allowed.
	ReasonInvalidHashSpec
	// ReasonInvalidCodec means the IPLD codec is not allowed.
	ReasonInvalidCodec
	// ReasonTooManyBlocks means the per-invocation block limit was hit.
	ReasonTooManyBlocks
	// ReasonMissingState means a reachable block is absent from the blockstore.
	ReasonMissingState
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonUnreachable:
		return "unreachable"
	case ReasonInvalidHandle:
		return "invalid_handle"
	case ReasonInvalidHashSpec:
		return "invalid_hash_spec"
	case ReasonInvalidCodec:
		return "invalid_codec"
	case ReasonTooManyBlocks:
		return "too_many_blocks"
	case ReasonMissingState:
		return "missing_state"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// Error is a block registry failure. Only the fields relevant to Reason are set.
type Error struct {
	Reason Reason

	// CID is set for ReasonUnreachable and ReasonMissingState.
	CID cid.Cid

	// Handle is set for ReasonInvalidHandle.
	Handle Handle

	// HashCode and HashLength are set for ReasonInvalidHashSpec.
	HashCode   uint64
	HashLength uint32

	// Codec is set for ReasonInvalidCodec.
	Codec uint64
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Reason {
	case ReasonUnreachable:
		return fmt.Sprintf("block %s is not reachable", e.CID)
	case ReasonInvalidHandle:
		return fmt.Sprintf("invalid block handle %d", e.Handle)
	case ReasonInvalidHashSpec:
		return fmt.Sprintf("invalid multihash length %d for code 0x%x", e.HashLength, e.HashCode)
	case ReasonInvalidCodec:
		return fmt.Sprintf("invalid IPLD codec 0x%x", e.Codec)
	case ReasonTooManyBlocks:
		return "too many blocks have been written"
	case ReasonMissingState:
		return fmt.Sprintf("missing block: %s", e.CID)
	default:
		return fmt.Sprintf("block error: %s", e.Reason)
	}
}

// Is matches another *Error with the same reason, so callers can test with
// errors.Is(err, &blocks.Error{Reason: blocks.ReasonTooManyBlocks}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}
