// Package blocks implements the kernel's per-invocation block table: the
// set of IPLD blocks an actor has opened or created, addressed by handle.
package blocks

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-multihash"

	"github.com/openfroyo/froyovm/pkg/stores"
)

// Handle names an open block. Handles start at FirstHandle.
type Handle uint32

// FirstHandle is the first handle the registry hands out; zero is never valid.
const FirstHandle Handle = 1

// DefaultMaxBlocks bounds the number of blocks a single invocation may hold.
const DefaultMaxBlocks = 1024

// Block is an immutable block held by the registry.
type Block struct {
	codec uint64
	data  []byte
}

// Codec returns the block's IPLD codec.
func (b *Block) Codec() uint64 {
	return b.codec
}

// Data returns the block bytes. Callers must not modify them.
func (b *Block) Data() []byte {
	return b.data
}

// Size returns the block length in bytes.
func (b *Block) Size() uint32 {
	return uint32(len(b.data))
}

// Stat describes a block without copying it.
type Stat struct {
	Codec uint64
	Size  uint32
}

type hashSpec struct {
	code   uint64
	length uint32
}

var (
	allowedCodecs = map[uint64]bool{
		uint64(multicodec.DagCbor): true,
		uint64(multicodec.Raw):     true,
	}

	allowedHashes = map[hashSpec]bool{
		{code: uint64(multicodec.Blake2b256), length: 32}: true,
		{code: uint64(multicodec.Sha2_256), length: 32}:   true,
	}
)

// Registry tracks open blocks and the set of CIDs an actor may open.
// It is owned by a single invocation and is not safe for concurrent use.
type Registry struct {
	store     stores.Blockstore
	blocks    []*Block
	reachable map[cid.Cid]struct{}
	maxBlocks int
}

// NewRegistry creates an empty registry. maxBlocks <= 0 selects DefaultMaxBlocks.
func NewRegistry(store stores.Blockstore, maxBlocks int) *Registry {
	if maxBlocks <= 0 {
		maxBlocks = DefaultMaxBlocks
	}
	return &Registry{
		store:     store,
		reachable: make(map[cid.Cid]struct{}),
		maxBlocks: maxBlocks,
	}
}

// MarkReachable allows the actor to open c.
func (r *Registry) MarkReachable(c cid.Cid) {
	r.reachable[c] = struct{}{}
}

// IsReachable reports whether the actor may open c.
func (r *Registry) IsReachable(c cid.Cid) bool {
	_, ok := r.reachable[c]
	return ok
}

// Len returns the number of blocks in the registry.
func (r *Registry) Len() int {
	return len(r.blocks)
}

// Open loads a reachable block from the blockstore.
func (r *Registry) Open(ctx context.Context, c cid.Cid) (Handle, Stat, error) {
	if !r.IsReachable(c) {
		return 0, Stat{}, &Error{Reason: ReasonUnreachable, CID: c}
	}

	codec := c.Prefix().Codec
	if !allowedCodecs[codec] {
		return 0, Stat{}, &Error{Reason: ReasonInvalidCodec, Codec: codec}
	}

	data, err := r.store.Get(ctx, c)
	if errors.Is(err, stores.ErrNotFound) {
		return 0, Stat{}, &Error{Reason: ReasonMissingState, CID: c}
	}
	if err != nil {
		return 0, Stat{}, fmt.Errorf("failed to load block %s: %w", c, err)
	}

	h, err := r.put(&Block{codec: codec, data: data})
	if err != nil {
		return 0, Stat{}, err
	}
	return h, Stat{Codec: codec, Size: uint32(len(data))}, nil
}

// Create adds a new, unlinked block.
func (r *Registry) Create(codec uint64, data []byte) (Handle, error) {
	if !allowedCodecs[codec] {
		return 0, &Error{Reason: ReasonInvalidCodec, Codec: codec}
	}
	return r.put(&Block{codec: codec, data: append([]byte(nil), data...)})
}

// Get returns the block for a handle.
func (r *Registry) Get(h Handle) (*Block, error) {
	if h < FirstHandle || int(h-FirstHandle) >= len(r.blocks) {
		return nil, &Error{Reason: ReasonInvalidHandle, Handle: h}
	}
	return r.blocks[h-FirstHandle], nil
}

// Stat returns the codec and size of a block.
func (r *Registry) Stat(h Handle) (Stat, error) {
	b, err := r.Get(h)
	if err != nil {
		return Stat{}, err
	}
	return Stat{Codec: b.codec, Size: b.Size()}, nil
}

// Link hashes a block, writes it to the blockstore and makes its CID reachable.
func (r *Registry) Link(ctx context.Context, h Handle, hashCode uint64, hashLen uint32) (cid.Cid, error) {
	b, err := r.Get(h)
	if err != nil {
		return cid.Undef, err
	}

	if !allowedHashes[hashSpec{code: hashCode, length: hashLen}] {
		return cid.Undef, &Error{Reason: ReasonInvalidHashSpec, HashCode: hashCode, HashLength: hashLen}
	}

	mh, err := multihash.Sum(b.data, hashCode, int(hashLen))
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to hash block: %w", err)
	}

	c := cid.NewCidV1(b.codec, mh)
	if err := r.store.Put(ctx, c, b.data); err != nil {
		return cid.Undef, fmt.Errorf("failed to store block %s: %w", c, err)
	}

	r.MarkReachable(c)
	return c, nil
}

func (r *Registry) put(b *Block) (Handle, error) {
	if len(r.blocks) >= r.maxBlocks {
		return 0, &Error{Reason: ReasonTooManyBlocks}
	}
	r.blocks = append(r.blocks, b)
	return Handle(len(r.blocks)), nil
}
