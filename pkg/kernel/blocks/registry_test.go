package blocks

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-multihash"

	"github.com/openfroyo/froyovm/pkg/stores"
)

var (
	codecRaw     = uint64(multicodec.Raw)
	codecDagCbor = uint64(multicodec.DagCbor)
	hashBlake2b  = uint64(multicodec.Blake2b256)
)

func rawCID(t *testing.T, data []byte) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}
	return cid.NewCidV1(cid.Raw, mh)
}

func assertReason(t *testing.T, err error, want Reason) *Error {
	t.Helper()
	var blockErr *Error
	if !errors.As(err, &blockErr) {
		t.Fatalf("expected *blocks.Error with reason %s, got %v", want, err)
	}
	if blockErr.Reason != want {
		t.Fatalf("Reason = %s, want %s", blockErr.Reason, want)
	}
	return blockErr
}

func TestCreateLinkOpen(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryBlockstore()
	reg := NewRegistry(store, 0)

	data := []byte{0x82, 0x01, 0x02}
	h, err := reg.Create(codecDagCbor, data)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if h != FirstHandle {
		t.Errorf("first handle = %d, want %d", h, FirstHandle)
	}

	stat, err := reg.Stat(h)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if stat.Codec != codecDagCbor || stat.Size != uint32(len(data)) {
		t.Errorf("Stat = %+v", stat)
	}

	c, err := reg.Link(ctx, h, hashBlake2b, 32)
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if !reg.IsReachable(c) {
		t.Error("linked CID should be reachable")
	}
	if has, _ := store.Has(ctx, c); !has {
		t.Error("linked block should be in the blockstore")
	}

	reopened, stat, err := reg.Open(ctx, c)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if reopened == h {
		t.Error("Open should return a fresh handle")
	}
	if stat.Size != uint32(len(data)) {
		t.Errorf("opened size = %d, want %d", stat.Size, len(data))
	}

	b, err := reg.Get(reopened)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(b.Data(), data) {
		t.Errorf("opened data = %x, want %x", b.Data(), data)
	}
}

func TestCreateCopiesData(t *testing.T) {
	reg := NewRegistry(stores.NewMemoryBlockstore(), 0)

	data := []byte("mutable")
	h, err := reg.Create(codecRaw, data)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	data[0] = 'X'

	b, _ := reg.Get(h)
	if string(b.Data()) != "mutable" {
		t.Errorf("registry block changed with caller buffer: %q", b.Data())
	}
}

func TestRegistryErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Unreachable", func(t *testing.T) {
		reg := NewRegistry(stores.NewMemoryBlockstore(), 0)
		c := rawCID(t, []byte("x"))

		_, _, err := reg.Open(ctx, c)
		blockErr := assertReason(t, err, ReasonUnreachable)
		if !blockErr.CID.Equals(c) {
			t.Errorf("CID = %s, want %s", blockErr.CID, c)
		}
	})

	t.Run("MissingState", func(t *testing.T) {
		reg := NewRegistry(stores.NewMemoryBlockstore(), 0)
		c := rawCID(t, []byte("x"))
		reg.MarkReachable(c)

		_, _, err := reg.Open(ctx, c)
		assertReason(t, err, ReasonMissingState)
		if !bytes.Contains([]byte(err.Error()), []byte(c.String())) {
			t.Errorf("message %q should contain %s", err.Error(), c)
		}
	})

	t.Run("InvalidHandle", func(t *testing.T) {
		reg := NewRegistry(stores.NewMemoryBlockstore(), 0)
		for _, h := range []Handle{0, 1, 99} {
			_, err := reg.Get(h)
			blockErr := assertReason(t, err, ReasonInvalidHandle)
			if blockErr.Handle != h {
				t.Errorf("Handle = %d, want %d", blockErr.Handle, h)
			}
		}
	})

	t.Run("InvalidCodec", func(t *testing.T) {
		reg := NewRegistry(stores.NewMemoryBlockstore(), 0)
		_, err := reg.Create(uint64(multicodec.DagJson), []byte("{}"))
		assertReason(t, err, ReasonInvalidCodec)
	})

	t.Run("InvalidHashSpec", func(t *testing.T) {
		reg := NewRegistry(stores.NewMemoryBlockstore(), 0)
		h, err := reg.Create(codecRaw, []byte("data"))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		specs := []struct {
			code   uint64
			length uint32
		}{
			{hashBlake2b, 20},
			{uint64(multicodec.Identity), 4},
			{uint64(multicodec.Sha2_512), 64},
		}
		for _, spec := range specs {
			_, err := reg.Link(ctx, h, spec.code, spec.length)
			blockErr := assertReason(t, err, ReasonInvalidHashSpec)
			if blockErr.HashCode != spec.code || blockErr.HashLength != spec.length {
				t.Errorf("hash spec = (0x%x, %d), want (0x%x, %d)",
					blockErr.HashCode, blockErr.HashLength, spec.code, spec.length)
			}
		}
	})

	t.Run("TooManyBlocks", func(t *testing.T) {
		reg := NewRegistry(stores.NewMemoryBlockstore(), 2)
		for i := 0; i < 2; i++ {
			if _, err := reg.Create(codecRaw, []byte{byte(i)}); err != nil {
				t.Fatalf("Create %d failed: %v", i, err)
			}
		}

		_, err := reg.Create(codecRaw, []byte("one too many"))
		assertReason(t, err, ReasonTooManyBlocks)
		if !errors.Is(err, &Error{Reason: ReasonTooManyBlocks}) {
			t.Error("errors.Is should match on reason")
		}
		if reg.Len() != 2 {
			t.Errorf("Len = %d, want 2", reg.Len())
		}
	})
}
