package kernel

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"

	"github.com/openfroyo/froyovm/pkg/address"
	"github.com/openfroyo/froyovm/pkg/exitcode"
	"github.com/openfroyo/froyovm/pkg/hamt"
	"github.com/openfroyo/froyovm/pkg/kernel/blocks"
	"github.com/openfroyo/froyovm/pkg/stores"
)

// AddressBook maps non-ID addresses to actor IDs.
type AddressBook struct {
	ids map[string]uint64
}

// NewAddressBook creates an empty address book.
func NewAddressBook() *AddressBook {
	return &AddressBook{ids: make(map[string]uint64)}
}

// Register binds addr to id, replacing any previous binding.
func (b *AddressBook) Register(addr address.Address, id uint64) {
	b.ids[string(addr.Bytes())] = id
}

// Lookup returns the ID bound to addr. ID addresses resolve to themselves.
func (b *AddressBook) Lookup(addr address.Address) (uint64, bool) {
	if addr.Protocol() == address.ID {
		id, err := addr.ID()
		return id, err == nil
	}
	if b == nil {
		return 0, false
	}
	id, ok := b.ids[string(addr.Bytes())]
	return id, ok
}

// Len returns the number of registered bindings.
func (b *AddressBook) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ids)
}

// Options configures a Kernel.
type Options struct {
	// MaxBlocks bounds the block registry; zero selects blocks.DefaultMaxBlocks.
	MaxBlocks int

	// StateRoot is the root of the actor's state map. cid.Undef starts empty.
	StateRoot cid.Cid

	// Addresses resolves non-ID addresses. May be nil.
	Addresses *AddressBook
}

// Kernel is the host side of a single invocation. Every method that fails
// returns an *ExecutionError. A Kernel is not safe for concurrent use.
type Kernel struct {
	store     stores.Blockstore
	blocks    *blocks.Registry
	state     *hamt.Map
	addresses *AddressBook
}

// New creates a kernel over store, loading the actor state at opts.StateRoot.
func New(ctx context.Context, store stores.Blockstore, opts Options) (*Kernel, error) {
	registry := blocks.NewRegistry(store, opts.MaxBlocks)

	var (
		state *hamt.Map
		err   error
	)
	if opts.StateRoot.Defined() {
		state, err = hamt.Load(ctx, store, opts.StateRoot)
		registry.MarkReachable(opts.StateRoot)
	} else {
		state, err = hamt.New(store)
	}
	if err != nil {
		return nil, Convert(err)
	}

	return &Kernel{
		store:     store,
		blocks:    registry,
		state:     state,
		addresses: opts.Addresses,
	}, nil
}

// BlockOpen opens the block named by the CID bytes cidBytes.
func (k *Kernel) BlockOpen(ctx context.Context, cidBytes []byte) (blocks.Handle, blocks.Stat, error) {
	c, err := cid.Cast(cidBytes)
	if err != nil {
		return 0, blocks.Stat{}, SyscallWithCode(exitcode.SysErrIllegalArgument, "%s", cidMessage(err))
	}
	h, stat, err := k.blocks.Open(ctx, c)
	if err != nil {
		return 0, blocks.Stat{}, Convert(err)
	}
	return h, stat, nil
}

// BlockCreate adds a new block with the given codec.
func (k *Kernel) BlockCreate(codec uint64, data []byte) (blocks.Handle, error) {
	h, err := k.blocks.Create(codec, data)
	if err != nil {
		return 0, Convert(err)
	}
	return h, nil
}

// BlockRead returns up to size bytes of block h starting at offset. Reading at
// the end of the block returns an empty slice.
func (k *Kernel) BlockRead(h blocks.Handle, offset, size uint32) ([]byte, error) {
	b, err := k.blocks.Get(h)
	if err != nil {
		return nil, Convert(err)
	}
	data := b.Data()
	if offset > uint32(len(data)) {
		return nil, SyscallWithCode(exitcode.SysErrIllegalArgument,
			"read offset %d exceeds block length %d", offset, len(data))
	}
	end := uint64(offset) + uint64(size)
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	return data[offset:end], nil
}

// BlockStat returns the codec and size of block h.
func (k *Kernel) BlockStat(h blocks.Handle) (blocks.Stat, error) {
	stat, err := k.blocks.Stat(h)
	if err != nil {
		return blocks.Stat{}, Convert(err)
	}
	return stat, nil
}

// BlockLink hashes and stores block h, returning its CID.
func (k *Kernel) BlockLink(ctx context.Context, h blocks.Handle, hashCode uint64, hashLen uint32) (cid.Cid, error) {
	c, err := k.blocks.Link(ctx, h, hashCode, hashLen)
	if err != nil {
		return cid.Undef, Convert(err)
	}
	return c, nil
}

// StateGet returns the value stored under key in the actor's state.
func (k *Kernel) StateGet(ctx context.Context, key []byte) ([]byte, error) {
	v, err := k.state.Get(ctx, key)
	if errors.Is(err, hamt.ErrNotFound) {
		return nil, SyscallWithCode(exitcode.ErrNotFound, "state key %x not found", key)
	}
	if err != nil {
		return nil, Convert(err)
	}
	return v, nil
}

// StateSet stores value under key in the actor's state.
func (k *Kernel) StateSet(ctx context.Context, key, value []byte) error {
	if err := k.state.Set(ctx, key, value); err != nil {
		return Convert(err)
	}
	return nil
}

// StateDelete removes key from the actor's state.
func (k *Kernel) StateDelete(ctx context.Context, key []byte) error {
	err := k.state.Delete(ctx, key)
	if errors.Is(err, hamt.ErrNotFound) {
		return SyscallWithCode(exitcode.ErrNotFound, "state key %x not found", key)
	}
	if err != nil {
		return Convert(err)
	}
	return nil
}

// StateRoot flushes the actor's state and returns its root. The root becomes
// reachable, so the actor can open it as a block.
func (k *Kernel) StateRoot(ctx context.Context) (cid.Cid, error) {
	root, err := k.state.Flush(ctx)
	if err != nil {
		return cid.Undef, Convert(err)
	}
	k.blocks.MarkReachable(root)
	return root, nil
}

// ResolveAddress returns the actor ID for the binary address raw.
func (k *Kernel) ResolveAddress(raw []byte) (uint64, error) {
	addr, err := address.NewFromBytes(raw)
	if err != nil {
		return 0, SyscallWithCode(exitcode.SysErrIllegalArgument, "invalid %v", err)
	}
	id, ok := k.addresses.Lookup(addr)
	if !ok {
		return 0, SyscallWithCode(exitcode.ErrNotFound, "actor %s not found", addr)
	}
	return id, nil
}

// Abort builds the fault an actor raises when it exits with code. Codes
// reserved for the system, and Ok, are not the actor's to use and are
// replaced with SysErrIllegalActor.
func (k *Kernel) Abort(code exitcode.ExitCode, msg string) *ExecutionError {
	if code == exitcode.Ok || exitcode.IsSystem(code) {
		return Actorf(exitcode.SysErrIllegalActor,
			"actor aborted with reserved exit code %s: %s", exitcode.Name(code), msg)
	}
	return FromActorError(exitcode.NewActorError(code, msg))
}

// Blocks returns the number of blocks open in this invocation.
func (k *Kernel) Blocks() int {
	return k.blocks.Len()
}
