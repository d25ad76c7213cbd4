package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
)

// DatastoreBlockstore implements Blockstore on top of an IPFS datastore.
type DatastoreBlockstore struct {
	store ds.Datastore
}

// NewDatastoreBlockstore wraps an existing datastore.
func NewDatastoreBlockstore(store ds.Datastore) *DatastoreBlockstore {
	return &DatastoreBlockstore{store: store}
}

// NewMemoryBlockstore returns a thread-safe in-memory blockstore.
func NewMemoryBlockstore() *DatastoreBlockstore {
	return NewDatastoreBlockstore(dssync.MutexWrap(ds.NewMapDatastore()))
}

// Get retrieves a block by CID.
func (b *DatastoreBlockstore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	data, err := b.store.Get(ctx, blockKey(c))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block %s: %w", c, err)
	}
	return data, nil
}

// Put stores a block.
func (b *DatastoreBlockstore) Put(ctx context.Context, c cid.Cid, data []byte) error {
	if err := b.store.Put(ctx, blockKey(c), data); err != nil {
		return fmt.Errorf("failed to put block %s: %w", c, err)
	}
	return nil
}

// Has reports whether the block exists.
func (b *DatastoreBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	ok, err := b.store.Has(ctx, blockKey(c))
	if err != nil {
		return false, fmt.Errorf("failed to check block %s: %w", c, err)
	}
	return ok, nil
}

func blockKey(c cid.Cid) ds.Key {
	return ds.NewKey("/blocks/" + c.String())
}
