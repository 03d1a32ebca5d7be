// Package memory implements the guest's sparse, permission-tagged address
// space and its allocator. The space is chunked rather than backed by one
// giant byte slice so that a harness never has to commit gigabytes of Go
// heap just because a guest pointer happens to be large.
package memory

import (
	"encoding/binary"
	"sync"

	"github.com/dm-devel/dmunit/internal/dmerr"
	"github.com/dm-devel/dmunit/internal/guest"
)

// ChunkSize is the granularity at which backing storage is allocated.
const ChunkSize = 64 * 1024

const chunkMask = ChunkSize - 1

type chunk struct {
	data [ChunkSize]byte
	perm [ChunkSize]guest.Perm
}

// block describes one live allocation handed out by Alloc.
type block struct {
	size uint64
}

// free describes one reusable span in the free list.
type free struct {
	addr guest.Addr
	size uint64
}

// Memory is a sparse, permission-tagged guest address space with a
// first-fit free-list allocator and a bump watermark beyond it.
type Memory struct {
	mu        sync.Mutex
	chunks    map[uint64]*chunk
	allocated map[guest.Addr]block
	freeList  []free
	watermark guest.Addr
	base      guest.Addr
	used      uint64
	ceiling   uint64
}

// New returns an empty address space. base is the first address the
// allocator ever hands out; ceiling is the maximum total bytes the
// allocator will grant before returning dmerr.OutOfMemory (0 means
// unlimited).
func New(base guest.Addr, ceiling uint64) *Memory {
	return &Memory{
		chunks:    make(map[uint64]*chunk),
		allocated: make(map[guest.Addr]block),
		base:      base,
		watermark: base,
		ceiling:   ceiling,
	}
}

func align16(n uint64) uint64 {
	return (n + 15) &^ 15
}

// Alloc reserves size bytes tagged with perm and returns the base address.
// Freed spans are reused first-fit before the watermark is advanced.
func (m *Memory) Alloc(size uint64, perm guest.Perm) (guest.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size = align16(size)
	if size == 0 {
		size = 16
	}

	if m.ceiling != 0 && m.used+size > m.ceiling {
		return guest.Null, &dmerr.OutOfMemory{Requested: size, Ceiling: m.ceiling}
	}

	var addr guest.Addr
	for i, f := range m.freeList {
		if f.size >= size {
			addr = f.addr
			if f.size == size {
				m.freeList = append(m.freeList[:i], m.freeList[i+1:]...)
			} else {
				m.freeList[i] = free{addr: f.addr + guest.Addr(size), size: f.size - size}
			}
			break
		}
	}
	if addr == guest.Null {
		addr = m.watermark
		m.watermark += guest.Addr(size)
	}

	m.allocated[addr] = block{size: size}
	m.used += size
	m.setPermsLocked(addr, size, perm)
	return addr, nil
}

// Free releases an allocation previously returned by Alloc. Freed bytes
// have their permissions cleared (poisoned) but are not zeroed, matching
// spec.md's "inaccessible until reused" invariant.
func (m *Memory) Free(addr guest.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.allocated[addr]
	if !ok {
		return &dmerr.BadFree{Addr: addr, Reason: "address was never returned by Alloc, or already freed"}
	}
	delete(m.allocated, addr)
	m.used -= b.size
	m.setPermsLocked(addr, b.size, 0)
	m.freeList = append(m.freeList, free{addr: addr, size: b.size})
	return nil
}

// MapFixed tags size bytes starting at a caller-chosen address with perm,
// without consulting the allocator's free list or watermark. Used by the
// loader to place ELF segments and synthetic test-kernel code at their
// declared addresses, which live outside the heap/stack space Alloc
// manages.
func (m *Memory) MapFixed(addr guest.Addr, size uint64, perm guest.Perm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setPermsLocked(addr, size, perm)
	return nil
}

// SetPerms retags size bytes starting at addr.
func (m *Memory) SetPerms(addr guest.Addr, size uint64, perm guest.Perm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setPermsLocked(addr, size, perm)
	return nil
}

func (m *Memory) setPermsLocked(addr guest.Addr, size uint64, perm guest.Perm) {
	for i := uint64(0); i < size; i++ {
		a := addr + guest.Addr(i)
		c := m.chunkFor(a, true)
		c.perm[uint64(a)&chunkMask] = perm
	}
}

func (m *Memory) chunkFor(addr guest.Addr, create bool) *chunk {
	idx := uint64(addr) / ChunkSize
	c, ok := m.chunks[idx]
	if !ok {
		if !create {
			return nil
		}
		c = &chunk{}
		m.chunks[idx] = c
	}
	return c
}

// checkLocked verifies every byte in [addr, addr+n) carries want, stopping
// at the first offending byte.
func (m *Memory) checkLocked(addr guest.Addr, n uint64, want guest.Perm) error {
	for i := uint64(0); i < n; i++ {
		a := addr + guest.Addr(i)
		c := m.chunkFor(a, false)
		var have guest.Perm
		if c != nil {
			have = c.perm[uint64(a)&chunkMask]
		}
		if !have.Has(want) {
			reason := "unmapped"
			if c != nil {
				reason = "permission mismatch"
			}
			return &dmerr.BadAccess{Addr: a, Want: want, Have: have, Reason: reason}
		}
	}
	return nil
}

// Read copies len(buf) bytes starting at addr into buf, requiring
// guest.PermRead on every byte. On error buf is left untouched.
func (m *Memory) Read(addr guest.Addr, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(addr, uint64(len(buf)), guest.PermRead); err != nil {
		return err
	}
	for i := range buf {
		a := addr + guest.Addr(i)
		c := m.chunkFor(a, false)
		buf[i] = c.data[uint64(a)&chunkMask]
	}
	return nil
}

// Write copies buf into guest memory starting at addr, requiring
// guest.PermWrite on every byte. On error memory is left untouched.
func (m *Memory) Write(addr guest.Addr, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(addr, uint64(len(buf)), guest.PermWrite); err != nil {
		return err
	}
	for i, b := range buf {
		a := addr + guest.Addr(i)
		c := m.chunkFor(a, true)
		c.data[uint64(a)&chunkMask] = b
	}
	return nil
}

// ReadExec reads n bytes requiring guest.PermExec, used by the fetch stage
// of the virtual machine.
func (m *Memory) ReadExec(addr guest.Addr, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(addr, uint64(len(buf)), guest.PermExec); err != nil {
		return err
	}
	for i := range buf {
		a := addr + guest.Addr(i)
		c := m.chunkFor(a, false)
		buf[i] = c.data[uint64(a)&chunkMask]
	}
	return nil
}

func (m *Memory) ReadU8(addr guest.Addr) (uint8, error) {
	var b [1]byte
	if err := m.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *Memory) WriteU8(addr guest.Addr, v uint8) error {
	return m.Write(addr, []byte{v})
}

func (m *Memory) ReadU16(addr guest.Addr) (uint16, error) {
	var b [2]byte
	if err := m.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (m *Memory) WriteU16(addr guest.Addr, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return m.Write(addr, b[:])
}

func (m *Memory) ReadU32(addr guest.Addr) (uint32, error) {
	var b [4]byte
	if err := m.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (m *Memory) WriteU32(addr guest.Addr, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.Write(addr, b[:])
}

func (m *Memory) ReadU64(addr guest.Addr) (uint64, error) {
	var b [8]byte
	if err := m.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (m *Memory) WriteU64(addr guest.Addr, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return m.Write(addr, b[:])
}

// ReadString reads a NUL-terminated string starting at addr, up to max
// bytes (0 means unbounded).
func (m *Memory) ReadString(addr guest.Addr, max int) (string, error) {
	var out []byte
	for max == 0 || len(out) < max {
		b, err := m.ReadU8(addr + guest.Addr(len(out)))
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		out = append(out, b)
	}
	return string(out), nil
}

// WriteString writes s followed by a NUL terminator.
func (m *Memory) WriteString(addr guest.Addr, s string) error {
	if err := m.Write(addr, []byte(s)); err != nil {
		return err
	}
	return m.WriteU8(addr+guest.Addr(len(s)), 0)
}

// Used returns the number of bytes currently allocated (not counting
// freed, reusable spans).
func (m *Memory) Used() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}
