// Package blockdev simulates the block device spec.md §6 describes: an
// in-memory array of fixed-size blocks (backed directly by guest memory,
// so a "block handle" the guest holds is simply the block's guest
// address), with a lock table enforcing at-most-one-writer and
// readers-exclude-writers. Grounded in
// _examples/original_source/src/wrappers/block_manager.rs's lock_ helper
// for the calling convention (lock function receives the block number and
// an out-pointer for the resulting block handle, returns an errno in A0).
package blockdev

import (
	"fmt"
	"sync"

	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/isa"
	"github.com/dm-devel/dmunit/internal/memory"
	"github.com/dm-devel/dmunit/internal/stubs"
)

type lockState int

const (
	unlocked lockState = iota
	readLocked
	writeLocked
)

// Device is the simulated block device. Block storage lives in guest
// memory; Device only tracks per-block lock state.
type Device struct {
	mu        sync.Mutex
	mem       *memory.Memory
	blockSize uint64
	blockAddr []guest.Addr
	state     []lockState
	readers   []int
}

// New allocates nrBlocks blocks of blockSize bytes each in mem and returns
// a Device ready to be wired into a Registry via Register.
func New(mem *memory.Memory, nrBlocks, blockSize uint64) (*Device, error) {
	d := &Device{
		mem:       mem,
		blockSize: blockSize,
		blockAddr: make([]guest.Addr, nrBlocks),
		state:     make([]lockState, nrBlocks),
		readers:   make([]int, nrBlocks),
	}
	for i := range d.blockAddr {
		addr, err := mem.Alloc(blockSize, guest.PermRead|guest.PermWrite)
		if err != nil {
			return nil, err
		}
		d.blockAddr[i] = addr
	}
	return d, nil
}

// NrBlocks returns the number of blocks the device was created with.
func (d *Device) NrBlocks() uint64 {
	return uint64(len(d.blockAddr))
}

// BlockSize returns the configured block size in bytes.
func (d *Device) BlockSize() uint64 {
	return d.blockSize
}

func (d *Device) indexOf(addr guest.Addr) (uint64, bool) {
	for i, a := range d.blockAddr {
		if a == addr {
			return uint64(i), true
		}
	}
	return 0, false
}

func (d *Device) checkRange(b uint64) error {
	if b >= uint64(len(d.blockAddr)) {
		return fmt.Errorf("block %d out of range (have %d blocks)", b, len(d.blockAddr))
	}
	return nil
}

// ReadLock takes a shared lock on block b and returns its guest handle
// (data address). It fails if b is currently write-locked.
func (d *Device) ReadLock(b uint64) (guest.Addr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkRange(b); err != nil {
		return guest.Null, err
	}
	if d.state[b] == writeLocked {
		return guest.Null, fmt.Errorf("block %d is write-locked", b)
	}
	d.state[b] = readLocked
	d.readers[b]++
	return d.blockAddr[b], nil
}

// WriteLock takes the exclusive lock on block b. If zero is true the
// block's contents are cleared first, matching dm_bm_write_lock_zero.
func (d *Device) WriteLock(b uint64, zero bool) (guest.Addr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkRange(b); err != nil {
		return guest.Null, err
	}
	if d.state[b] != unlocked {
		return guest.Null, fmt.Errorf("block %d is already locked", b)
	}
	d.state[b] = writeLocked
	if zero {
		zeros := make([]byte, d.blockSize)
		if err := d.mem.Write(d.blockAddr[b], zeros); err != nil {
			return guest.Null, err
		}
	}
	return d.blockAddr[b], nil
}

// Unlock releases the lock held via the handle returned by ReadLock or
// WriteLock.
func (d *Device) Unlock(handle guest.Addr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.indexOf(handle)
	if !ok {
		return fmt.Errorf("unlock: %s is not a known block handle", handle)
	}
	switch d.state[b] {
	case readLocked:
		d.readers[b]--
		if d.readers[b] == 0 {
			d.state[b] = unlocked
		}
	case writeLocked:
		d.state[b] = unlocked
	default:
		return fmt.Errorf("block %d is not locked", b)
	}
	return nil
}

// Register binds dm_bm_read_lock/write_lock/write_lock_zero/unlock,
// dm_block_location and dm_block_data to r, closing over this Device.
func (d *Device) Register(r *stubs.Registry) {
	r.RegisterFunc("dm_bm_read_lock", d.stubLock(false, false))
	r.RegisterFunc("dm_bm_write_lock", d.stubLock(true, false))
	r.RegisterFunc("dm_bm_write_lock_zero", d.stubLock(true, true))
	r.RegisterFunc("dm_bm_unlock", d.stubUnlock)
	r.RegisterFunc("dm_block_location", d.stubBlockLocation)
	r.RegisterFunc("dm_block_data", d.stubBlockData)
}

// stubLock builds the dm_bm_{read,write}_lock[_zero] stub: A1 is the
// block number, A3 is an out-pointer written with the resulting block
// handle, A0 receives 0 on success or a negative errno on failure.
func (d *Device) stubLock(write, zero bool) stubs.StubFunc {
	return func(h stubs.Handle) error {
		b := h.X(isa.A1)
		resultPtr := guest.Addr(h.X(isa.A3))

		var (
			handle guest.Addr
			err    error
		)
		if write {
			handle, err = d.WriteLock(b, zero)
		} else {
			handle, err = d.ReadLock(b)
		}
		if err != nil {
			h.SetX(isa.A0, uint64(int64(-1)))
			h.Return()
			return nil
		}

		if write {
			h.Stats().WriteLocks++
		} else {
			h.Stats().ReadLocks++
		}
		if resultPtr != guest.Null {
			if err := h.Mem().WriteU64(resultPtr, uint64(handle)); err != nil {
				return err
			}
		}
		h.SetX(isa.A0, 0)
		h.Return()
		return nil
	}
}

func (d *Device) stubUnlock(h stubs.Handle) error {
	handle := guest.Addr(h.X(isa.A1))
	if err := d.Unlock(handle); err != nil {
		h.SetX(isa.A0, uint64(int64(-1)))
		h.Return()
		return nil
	}
	h.SetX(isa.A0, 0)
	h.Return()
	return nil
}

func (d *Device) stubBlockLocation(h stubs.Handle) error {
	handle := guest.Addr(h.X(isa.A0))
	b, ok := d.indexOf(handle)
	if !ok {
		h.SetX(isa.A0, uint64(int64(-1)))
		h.Return()
		return nil
	}
	h.SetX(isa.A0, b)
	h.Return()
	return nil
}

// stubBlockData is the identity function on a block handle: in this
// simulation a handle already is the guest address of the block's data.
func (d *Device) stubBlockData(h stubs.Handle) error {
	handle := h.X(isa.A0)
	h.SetX(isa.A0, handle)
	h.Return()
	return nil
}
