// Package hamt persists actor state as a hash array mapped trie of DAG-CBOR
// blocks in a content-addressed blockstore.
//
// The trie is the Filecoin HAMT: keys are hashed with sha2-256, each level
// consumes five bits of the hash, and each slot holds either up to three
// entries or a link to a child node. Values are stored as CBOR byte strings.
package hamt

import (
	"context"
	"errors"
	"io"

	hamtipld "github.com/filecoin-project/go-hamt-ipld/v3"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"

	"github.com/openfroyo/froyovm/pkg/encoding"
	"github.com/openfroyo/froyovm/pkg/stores"
)

// bitWidth is the number of hash bits consumed per level.
const bitWidth = 5

// Map is a persistent HAMT. It is not safe for concurrent use.
type Map struct {
	store cbor.IpldStore
	root  *hamtipld.Node
}

// New creates an empty map backed by store.
func New(store stores.Blockstore) (*Map, error) {
	return newMap(store)
}

func newMap(store stores.Blockstore, opts ...hamtipld.Option) (*Map, error) {
	cs := cbor.NewCborStore(blockstore{store: store})
	root, err := hamtipld.NewNode(cs, append([]hamtipld.Option{hamtipld.UseTreeBitWidth(bitWidth)}, opts...)...)
	if err != nil {
		return nil, opError("new", err)
	}
	return &Map{store: cs, root: root}, nil
}

// Load opens the map rooted at root.
func Load(ctx context.Context, store stores.Blockstore, root cid.Cid) (*Map, error) {
	cs := cbor.NewCborStore(blockstore{store: store})
	n, err := hamtipld.LoadNode(ctx, cs, root, hamtipld.UseTreeBitWidth(bitWidth))
	if err != nil {
		return nil, opError("load", err)
	}
	return &Map{store: cs, root: n}, nil
}

// Get returns the value stored under key.
func (m *Map) Get(ctx context.Context, key []byte) ([]byte, error) {
	var v value
	found, err := m.root.Find(ctx, string(key), &v)
	if errors.Is(err, hamtipld.ErrNotFound) {
		found, err = false, nil
	}
	if err != nil {
		return nil, opError("get", err)
	}
	if !found {
		return nil, opError("get", ErrNotFound)
	}
	return []byte(v), nil
}

// Set stores value under key, replacing any existing value.
func (m *Map) Set(ctx context.Context, key, val []byte) error {
	v := value(append([]byte(nil), val...))
	return opError("set", m.root.Set(ctx, string(key), &v))
}

// Delete removes key. It fails with ErrNotFound if the key is absent.
func (m *Map) Delete(ctx context.Context, key []byte) error {
	found, err := m.root.Delete(ctx, string(key))
	if errors.Is(err, hamtipld.ErrNotFound) {
		found, err = false, nil
	}
	if err != nil {
		return opError("delete", err)
	}
	if !found {
		return opError("delete", ErrNotFound)
	}
	return nil
}

// Flush writes all modified nodes and returns the root CID.
func (m *Map) Flush(ctx context.Context) (cid.Cid, error) {
	if err := m.root.Flush(ctx); err != nil {
		return cid.Undef, opError("flush", err)
	}
	c, err := m.store.Put(ctx, m.root)
	if err != nil {
		return cid.Undef, opError("flush", err)
	}
	return c, nil
}

// value is a map value, encoded as a CBOR byte string.
type value []byte

func (v *value) MarshalCBOR(w io.Writer) error {
	data, err := encoding.Marshal([]byte(*v))
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (v *value) UnmarshalCBOR(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var b []byte
	if err := encoding.Unmarshal(data, &b); err != nil {
		return err
	}
	*v = b
	return nil
}

// blockstore adapts a stores.Blockstore to the block interface the IPLD
// CBOR store reads and writes through.
type blockstore struct {
	store stores.Blockstore
}

func (b blockstore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	data, err := b.store.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	return blocks.NewBlockWithCid(data, c)
}

func (b blockstore) Put(ctx context.Context, blk blocks.Block) error {
	return b.store.Put(ctx, blk.Cid(), blk.RawData())
}
