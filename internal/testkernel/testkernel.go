// Package testkernel builds the synthetic guest object cmd/dmunit
// loads when no real compiled pdata object is supplied: a handful of
// trivial field-accessor routines encoded directly as RV64I words via
// internal/isa's encoders (never raw hex), plus a set of reserved,
// unmapped symbol addresses that the fetch-failure dispatch hook routes to
// internal/stubs/blockdev and internal/stubs/libc. It never implements
// real B-tree or block-manager structure: dm_btree_empty/del allocate and
// free a single block, and redistribute_entries reports success without
// touching node contents. consume_cursor is the one exception: cursor
// consumption is pure arithmetic over (begin,end) ranges, not real B-tree
// node layout, so it is hand-encoded to actually advance the cursor.
package testkernel

import (
	"encoding/binary"

	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/isa"
	"github.com/dm-devel/dmunit/internal/loader"
	"github.com/dm-devel/dmunit/internal/memory"
)

// slotSize must be large enough for the biggest hand-encoded routine;
// consume_cursor's cursor-advance arithmetic is by far the largest.
const slotSize = 512

// CodeBase is the guest address the hand-encoded routines are mapped at.
const CodeBase guest.Addr = 0x00100000

// Routine symbol names, in layout order.
const (
	SymBlockManagerCreate  = "dm_block_manager_create"
	SymBlockManagerDestroy = "dm_block_manager_destroy"
	SymBMBlockSize         = "dm_bm_block_size"
	SymBMNrBlocks          = "dm_bm_nr_blocks"
	SymBTreeEmpty          = "dm_btree_empty"
	SymBTreeDel            = "dm_btree_del"
	SymConsumeCursor       = "consume_cursor"
	SymRedistributeEntries = "redistribute_entries"
)

var routineOrder = []string{
	SymBlockManagerCreate,
	SymBlockManagerDestroy,
	SymBMBlockSize,
	SymBMNrBlocks,
	SymBTreeEmpty,
	SymBTreeDel,
	SymConsumeCursor,
	SymRedistributeEntries,
}

// Stub-only symbol names: never executable guest code, only addresses a
// stub registry binds a host handler to. The fetch stage's permission
// fault at one of these addresses is what internal/vm.DispatchFunc
// routes to internal/stubs.
const (
	SymKmalloc          = "kmalloc"
	SymKfree             = "kfree"
	SymBMReadLock        = "dm_bm_read_lock"
	SymBMWriteLock       = "dm_bm_write_lock"
	SymBMWriteLockZero   = "dm_bm_write_lock_zero"
	SymBMUnlock          = "dm_bm_unlock"
	SymBlockLocation     = "dm_block_location"
	SymBlockData         = "dm_block_data"
)

var stubOrder = []string{
	SymKmalloc,
	SymKfree,
	SymBMReadLock,
	SymBMWriteLock,
	SymBMWriteLockZero,
	SymBMUnlock,
	SymBlockLocation,
	SymBlockData,
}

const stubSlotSize = 16

func codeLen() uint64 { return uint64(len(routineOrder)) * slotSize }

func slotAddr(i int) guest.Addr { return CodeBase + guest.Addr(i*slotSize) }

func stubBase() guest.Addr { return CodeBase + guest.Addr(codeLen()) }

func stubAddr(i int) guest.Addr { return stubBase() + guest.Addr(i*stubSlotSize) }

// Symbols returns every routine and stub-only address this package
// defines, keyed by guest symbol name.
func Symbols() map[string]guest.Addr {
	out := make(map[string]guest.Addr, len(routineOrder)+len(stubOrder))
	for i, name := range routineOrder {
		out[name] = slotAddr(i)
	}
	for i, name := range stubOrder {
		out[name] = stubAddr(i)
	}
	return out
}

func putWord(code []byte, addr guest.Addr, word uint32) {
	off := uint64(addr - CodeBase)
	binary.LittleEndian.PutUint32(code[off:off+4], word)
}

// Build encodes the routine bodies into a flat byte blob, ready for
// loader.LoadFlat.
func Build() []byte {
	code := make([]byte, codeLen())

	kmallocAddr := Symbols()[SymKmalloc]
	kfreeAddr := Symbols()[SymKfree]

	// dm_block_manager_create(bdev_ptr, block_size, max_held) -> bm.
	// Allocates a 16-byte {nr_blocks, block_size} struct via kmalloc and
	// copies both fields from the arguments/bdev descriptor into it.
	{
		pc := slotAddr(0)
		putWord(code, pc+0, isa.EncodeI(isa.OpADDI, isa.S0, isa.A0, 0))
		putWord(code, pc+4, isa.EncodeI(isa.OpADDI, isa.S1, isa.A1, 0))
		putWord(code, pc+8, isa.EncodeI(isa.OpADDI, isa.S2, isa.RA, 0))
		putWord(code, pc+12, isa.EncodeI(isa.OpADDI, isa.A0, isa.Zero, 16))
		putWord(code, pc+16, isa.EncodeJ(isa.OpJAL, isa.RA, int64(kmallocAddr)-int64(pc+16)))
		putWord(code, pc+20, isa.EncodeI(isa.OpLD, isa.T0, isa.S0, 0))
		putWord(code, pc+24, isa.EncodeS(isa.OpSD, isa.A0, isa.T0, 0))
		putWord(code, pc+28, isa.EncodeS(isa.OpSD, isa.A0, isa.S1, 8))
		putWord(code, pc+32, isa.EncodeI(isa.OpJALR, isa.Zero, isa.S2, 0))
	}

	// dm_block_manager_destroy(bm): kfree(bm); return 0.
	{
		pc := slotAddr(1)
		putWord(code, pc+0, isa.EncodeI(isa.OpADDI, isa.S2, isa.RA, 0))
		putWord(code, pc+4, isa.EncodeJ(isa.OpJAL, isa.RA, int64(kfreeAddr)-int64(pc+4)))
		putWord(code, pc+8, isa.EncodeI(isa.OpADDI, isa.A0, isa.Zero, 0))
		putWord(code, pc+12, isa.EncodeI(isa.OpJALR, isa.Zero, isa.S2, 0))
	}

	// dm_bm_block_size(bm): return bm->block_size (offset 8).
	{
		pc := slotAddr(2)
		putWord(code, pc+0, isa.EncodeI(isa.OpLD, isa.A0, isa.A0, 8))
		putWord(code, pc+4, isa.EncodeI(isa.OpJALR, isa.Zero, isa.RA, 0))
	}

	// dm_bm_nr_blocks(bm): return bm->nr_blocks (offset 0).
	{
		pc := slotAddr(3)
		putWord(code, pc+0, isa.EncodeI(isa.OpLD, isa.A0, isa.A0, 0))
		putWord(code, pc+4, isa.EncodeI(isa.OpJALR, isa.Zero, isa.RA, 0))
	}

	// dm_btree_empty(info, root_out): *root_out = kmalloc(16); return 0.
	// The allocated block is never given real node structure: it exists
	// only so dm_btree_del has something to free.
	{
		pc := slotAddr(4)
		putWord(code, pc+0, isa.EncodeI(isa.OpADDI, isa.S0, isa.A1, 0))
		putWord(code, pc+4, isa.EncodeI(isa.OpADDI, isa.S2, isa.RA, 0))
		putWord(code, pc+8, isa.EncodeI(isa.OpADDI, isa.A0, isa.Zero, 16))
		putWord(code, pc+12, isa.EncodeJ(isa.OpJAL, isa.RA, int64(kmallocAddr)-int64(pc+12)))
		putWord(code, pc+16, isa.EncodeS(isa.OpSD, isa.S0, isa.A0, 0))
		putWord(code, pc+20, isa.EncodeI(isa.OpADDI, isa.A0, isa.Zero, 0))
		putWord(code, pc+24, isa.EncodeI(isa.OpJALR, isa.Zero, isa.S2, 0))
	}

	// dm_btree_del(info, root): kfree(root); return 0.
	{
		pc := slotAddr(5)
		putWord(code, pc+0, isa.EncodeI(isa.OpADDI, isa.S2, isa.RA, 0))
		putWord(code, pc+4, isa.EncodeI(isa.OpADDI, isa.A0, isa.A1, 0))
		putWord(code, pc+8, isa.EncodeJ(isa.OpJAL, isa.RA, int64(kfreeAddr)-int64(pc+8)))
		putWord(code, pc+12, isa.EncodeI(isa.OpADDI, isa.A0, isa.Zero, 0))
		putWord(code, pc+16, isa.EncodeI(isa.OpJALR, isa.Zero, isa.S2, 0))
	}

	// consume_cursor(cursor, count): advances the cursor by count entries.
	// A CopyCursor is {count:u32, index:u32, entries[MaxCursorEntries]},
	// each entry a {node:u64, begin:u32, end:u32}. The total remaining
	// capacity from index onward is computed first; if count exceeds it
	// the call fails with -1 and the cursor is left untouched. Otherwise
	// entries from index onward are walked: an entry fully consumed along
	// the way is passed over (its begin/end left unmutated) and index is
	// advanced past it; the entry where consumption stops has its begin
	// advanced in place and stays the active index. Grounded on
	// _examples/original_source/src/tests/btree.rs's test_cc_one_entry /
	// test_cc_two_entries / test_cc_multiple_entries expectations. Fully
	// unrolled over MaxCursorEntries=3, since the guest has no loop
	// construct to hand-encode against.
	{
		pc := slotAddr(6)
		pass1done := pc + 124
		pass2done := pc + 324
		fail := pc + 336
		next1 := pc + 196
		next2 := pc + 260
		partial1 := pc + 180
		partial2 := pc + 244
		partial3 := pc + 308

		putWord(code, pc+0, isa.EncodeI(isa.OpLW, isa.T0, isa.A0, 0))  // t0 = count
		putWord(code, pc+4, isa.EncodeI(isa.OpLW, isa.T1, isa.A0, 4))  // t1 = index
		putWord(code, pc+8, isa.EncodeI(isa.OpADDI, isa.T2, isa.T1, 0)) // t2 = i = index
		putWord(code, pc+12, isa.EncodeI(isa.OpADDI, isa.T3, isa.Zero, 0)) // t3 = total = 0

		// pass 1: total = sum of (end-begin) over entries[index:count).
		for _, base := range []guest.Addr{pc + 16, pc + 52, pc + 88} {
			putWord(code, base+0, isa.EncodeB(isa.OpBGE, isa.T2, isa.T0, int64(pass1done)-int64(base+0)))
			putWord(code, base+4, isa.EncodeI(isa.OpSLLI, isa.T4, isa.T2, 4))
			putWord(code, base+8, isa.EncodeI(isa.OpADDI, isa.T4, isa.T4, 8))
			putWord(code, base+12, isa.EncodeR(isa.OpADD, isa.T4, isa.T4, isa.A0))
			putWord(code, base+16, isa.EncodeI(isa.OpLW, isa.T5, isa.T4, 8))
			putWord(code, base+20, isa.EncodeI(isa.OpLW, isa.T6, isa.T4, 12))
			putWord(code, base+24, isa.EncodeR(isa.OpSUB, isa.S0, isa.T6, isa.T5))
			putWord(code, base+28, isa.EncodeR(isa.OpADD, isa.T3, isa.T3, isa.S0))
			putWord(code, base+32, isa.EncodeI(isa.OpADDI, isa.T2, isa.T2, 1))
		}

		// pass1done: fail without mutating if the request exceeds capacity.
		putWord(code, pass1done, isa.EncodeB(isa.OpBLT, isa.T3, isa.A1, int64(fail)-int64(pass1done)))

		// pass 2 init: i = index again; a1 becomes the mutable "remaining".
		putWord(code, pass1done+4, isa.EncodeI(isa.OpADDI, isa.T2, isa.T1, 0))

		blocks := []struct{ base, next, partial guest.Addr }{
			{pass1done + 8, next1, partial1},
			{next1, next2, partial2},
			{next2, pass2done, partial3},
		}
		for _, b := range blocks {
			base := b.base
			putWord(code, base+0, isa.EncodeB(isa.OpBGE, isa.T2, isa.T0, int64(pass2done)-int64(base+0)))
			putWord(code, base+4, isa.EncodeB(isa.OpBEQ, isa.A1, isa.Zero, int64(pass2done)-int64(base+4)))
			putWord(code, base+8, isa.EncodeI(isa.OpSLLI, isa.T4, isa.T2, 4))
			putWord(code, base+12, isa.EncodeI(isa.OpADDI, isa.T4, isa.T4, 8))
			putWord(code, base+16, isa.EncodeR(isa.OpADD, isa.T4, isa.T4, isa.A0))
			putWord(code, base+20, isa.EncodeI(isa.OpLW, isa.T5, isa.T4, 8))
			putWord(code, base+24, isa.EncodeI(isa.OpLW, isa.T6, isa.T4, 12))
			putWord(code, base+28, isa.EncodeR(isa.OpSUB, isa.S0, isa.T6, isa.T5))
			putWord(code, base+32, isa.EncodeB(isa.OpBLTU, isa.A1, isa.S0, int64(b.partial)-int64(base+32)))
			putWord(code, base+36, isa.EncodeR(isa.OpSUB, isa.A1, isa.A1, isa.S0))
			putWord(code, base+40, isa.EncodeI(isa.OpADDI, isa.T2, isa.T2, 1))
			putWord(code, base+44, isa.EncodeJ(isa.OpJAL, isa.Zero, int64(b.next)-int64(base+44)))
			putWord(code, b.partial+0, isa.EncodeR(isa.OpADD, isa.T5, isa.T5, isa.A1))
			putWord(code, b.partial+4, isa.EncodeS(isa.OpSW, isa.T4, isa.T5, 8))
			putWord(code, b.partial+8, isa.EncodeI(isa.OpADDI, isa.A1, isa.Zero, 0))
			putWord(code, b.partial+12, isa.EncodeJ(isa.OpJAL, isa.Zero, int64(pass2done)-int64(b.partial+12)))
		}

		putWord(code, pass2done+0, isa.EncodeS(isa.OpSW, isa.A0, isa.T2, 4))
		putWord(code, pass2done+4, isa.EncodeI(isa.OpADDI, isa.A0, isa.Zero, 0))
		putWord(code, pass2done+8, isa.EncodeI(isa.OpJALR, isa.Zero, isa.RA, 0))

		putWord(code, fail+0, isa.EncodeI(isa.OpADDI, isa.A0, isa.Zero, -1))
		putWord(code, fail+4, isa.EncodeI(isa.OpJALR, isa.Zero, isa.RA, 0))
	}

	// redistribute_entries(dest, src, len): always reports success. Real
	// rebalancing needs actual node contents, which this synthetic kernel
	// never builds; scenarios that depend on it are skipped explicitly by
	// internal/suite rather than faked here.
	{
		pc := slotAddr(7)
		putWord(code, pc+0, isa.EncodeI(isa.OpADDI, isa.A0, isa.Zero, 0))
		putWord(code, pc+4, isa.EncodeI(isa.OpJALR, isa.Zero, isa.RA, 0))
	}

	return code
}

// Load builds the synthetic kernel and maps it into mem, returning the
// loaded object with every routine and stub symbol resolved.
func Load(mem *memory.Memory) (*loader.Object, error) {
	code := Build()
	return loader.LoadFlat(mem, CodeBase, code, slotAddr(0), Symbols())
}
