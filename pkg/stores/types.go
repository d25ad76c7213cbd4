package stores

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

// ErrNotFound is returned when a block is not present in the store.
var ErrNotFound = errors.New("block not found")

// Blockstore stores immutable blocks keyed by CID.
type Blockstore interface {
	// Get returns the block data. It fails with an error wrapping
	// ErrNotFound when the block is absent.
	Get(ctx context.Context, c cid.Cid) ([]byte, error)

	// Put stores the block. Storing an existing block is a no-op.
	Put(ctx context.Context, c cid.Cid, data []byte) error

	// Has reports whether the block is present.
	Has(ctx context.Context, c cid.Cid) (bool, error)
}
