// Package wrappers adapts the fixture's generic Call/CallWithErrno into
// the typed dm_bm_*/dm_btree_* surface spec.md §1 treats as an external
// collaborator and §6 enumerates as the external interface. None of these
// functions implement block-manager or B-tree logic themselves: they
// marshal host values into guest memory and call named guest symbols,
// exactly as
// _examples/original_source/src/wrappers/{block_manager,btree}.rs do.
package wrappers

import (
	"github.com/dm-devel/dmunit/internal/dmerr"
	"github.com/dm-devel/dmunit/internal/fixture"
	"github.com/dm-devel/dmunit/internal/guest"
)

// BlockManager is the Go-side handle to a guest dm_block_manager.
type BlockManager struct {
	fix *fixture.Fixture
	bm  guest.Addr
}

// BlockManagerCreate marshals nrBlocks into an 8-byte "bdev" descriptor
// and calls dm_block_manager_create(bdev, blockSize, maxHeldPerThread),
// mirroring dm_bm_create in block_manager.rs.
func BlockManagerCreate(fix *fixture.Fixture, nrBlocks, blockSize uint64) (*BlockManager, error) {
	bdev, err := fix.ScopedAlloc(8, guest.PermRead|guest.PermWrite)
	if err != nil {
		return nil, err
	}
	defer bdev.Free()
	if err := fix.Memory.WriteU64(bdev.Addr(), nrBlocks); err != nil {
		return nil, err
	}

	bm, err := fix.CallWithErrno("dm_block_manager_create", uint64(bdev.Addr()), blockSize, 16)
	if err != nil {
		return nil, err
	}
	return &BlockManager{fix: fix, bm: guest.Addr(bm)}, nil
}

// Addr returns the guest dm_block_manager handle.
func (b *BlockManager) Addr() guest.Addr { return b.bm }

// Destroy calls dm_block_manager_destroy.
func (b *BlockManager) Destroy() error {
	_, err := b.fix.CallWithErrno("dm_block_manager_destroy", uint64(b.bm))
	return err
}

// BlockSize calls dm_bm_block_size.
func (b *BlockManager) BlockSize() (uint64, error) {
	return b.fix.Call("dm_bm_block_size", uint64(b.bm))
}

// NrBlocks calls dm_bm_nr_blocks.
func (b *BlockManager) NrBlocks() (uint64, error) {
	return b.fix.Call("dm_bm_nr_blocks", uint64(b.bm))
}

func (b *BlockManager) lock(name string, block uint64, validator guest.Addr) (guest.Addr, error) {
	result, err := b.fix.ScopedAlloc(8, guest.PermRead|guest.PermWrite)
	if err != nil {
		return guest.Null, err
	}
	defer result.Free()

	errno, err := b.fix.Call(name, uint64(b.bm), block, uint64(validator), uint64(result.Addr()))
	if err != nil {
		return guest.Null, err
	}
	if int64(errno) < 0 {
		return guest.Null, &dmerr.GuestErrno{Func: name, Errno: int64(errno)}
	}
	handle, err := b.fix.Memory.ReadU64(result.Addr())
	return guest.Addr(handle), err
}

// ReadLock calls dm_bm_read_lock and returns the resulting block handle.
func (b *BlockManager) ReadLock(block uint64, validator guest.Addr) (guest.Addr, error) {
	return b.lock("dm_bm_read_lock", block, validator)
}

// WriteLock calls dm_bm_write_lock.
func (b *BlockManager) WriteLock(block uint64, validator guest.Addr) (guest.Addr, error) {
	return b.lock("dm_bm_write_lock", block, validator)
}

// WriteLockZero calls dm_bm_write_lock_zero.
func (b *BlockManager) WriteLockZero(block uint64, validator guest.Addr) (guest.Addr, error) {
	return b.lock("dm_bm_write_lock_zero", block, validator)
}

// Unlock calls dm_bm_unlock on a handle returned by one of the lock
// methods above.
func (b *BlockManager) Unlock(handle guest.Addr) error {
	errno, err := b.fix.Call("dm_bm_unlock", uint64(b.bm), uint64(handle))
	if err != nil {
		return err
	}
	if int64(errno) < 0 {
		return &dmerr.GuestErrno{Func: "dm_bm_unlock", Errno: int64(errno)}
	}
	return nil
}

// BlockLocation calls dm_block_location on a held block handle.
func (b *BlockManager) BlockLocation(handle guest.Addr) (uint64, error) {
	return b.fix.Call("dm_block_location", uint64(handle))
}

// BlockData calls dm_block_data on a held block handle.
func (b *BlockManager) BlockData(handle guest.Addr) (guest.Addr, error) {
	addr, err := b.fix.Call("dm_block_data", uint64(handle))
	return guest.Addr(addr), err
}
