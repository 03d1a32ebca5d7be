package wrappers

import (
	"fmt"

	"github.com/dm-devel/dmunit/internal/fixture"
	"github.com/dm-devel/dmunit/internal/guest"
)

// MaxCursorEntries is the maximum number of CursorEntry values a
// CopyCursor may hold, matching the fixed-size array btree.rs asserts
// against (max 3 entries).
const MaxCursorEntries = 3

const cursorEntrySize = 16 // node (8) + begin (4) + end (4)

// CopyCursorGuestLen is the guest-memory size of a marshaled CopyCursor:
// a 4-byte entry count, a 4-byte index, and up to MaxCursorEntries entries.
const CopyCursorGuestLen = 8 + MaxCursorEntries*cursorEntrySize

// CursorEntry is one range of a copy cursor: the node being copied from
// or into, and the [begin, end) range of entries remaining in that
// node.
type CursorEntry struct {
	Node  guest.Addr
	Begin uint32
	End   uint32
}

// CopyCursor is an ordered list of node ranges that a block-level copy
// (consume_cursor, redistribute_entries) works through front to back;
// Index is the entry currently being consumed.
type CopyCursor struct {
	Index   uint32
	Entries []CursorEntry
}

func writeCopyCursor(fix *fixture.Fixture, addr guest.Addr, c CopyCursor) error {
	if len(c.Entries) > MaxCursorEntries {
		return fmt.Errorf("wrappers: cursor has %d entries, max is %d", len(c.Entries), MaxCursorEntries)
	}
	if err := fix.Memory.WriteU32(addr, uint32(len(c.Entries))); err != nil {
		return err
	}
	if err := fix.Memory.WriteU32(addr+4, c.Index); err != nil {
		return err
	}
	for i, e := range c.Entries {
		base := addr + guest.Addr(8+i*cursorEntrySize)
		if err := fix.Memory.WriteU64(base, uint64(e.Node)); err != nil {
			return err
		}
		if err := fix.Memory.WriteU32(base+8, e.Begin); err != nil {
			return err
		}
		if err := fix.Memory.WriteU32(base+12, e.End); err != nil {
			return err
		}
	}
	return nil
}

func readCopyCursor(fix *fixture.Fixture, addr guest.Addr, n int) (CopyCursor, error) {
	count, err := fix.Memory.ReadU32(addr)
	if err != nil {
		return CopyCursor{}, err
	}
	idx, err := fix.Memory.ReadU32(addr + 4)
	if err != nil {
		return CopyCursor{}, err
	}
	if int(count) < n {
		n = int(count)
	}
	c := CopyCursor{Index: idx, Entries: make([]CursorEntry, 0, n)}
	for i := 0; i < n; i++ {
		base := addr + guest.Addr(8+i*cursorEntrySize)
		node, err := fix.Memory.ReadU64(base)
		if err != nil {
			return CopyCursor{}, err
		}
		begin, err := fix.Memory.ReadU32(base + 8)
		if err != nil {
			return CopyCursor{}, err
		}
		end, err := fix.Memory.ReadU32(base + 12)
		if err != nil {
			return CopyCursor{}, err
		}
		c.Entries = append(c.Entries, CursorEntry{Node: guest.Addr(node), Begin: begin, End: end})
	}
	return c, nil
}

// ConsumeCursor calls the guest consume_cursor(cursor, count) function,
// which advances the cursor by count entries across as many cursor
// entries as necessary, and returns the updated cursor.
func ConsumeCursor(fix *fixture.Fixture, cursor CopyCursor, count uint32) (CopyCursor, error) {
	ptr, err := fix.ScopedAlloc(CopyCursorGuestLen, guest.PermRead|guest.PermWrite)
	if err != nil {
		return CopyCursor{}, err
	}
	defer ptr.Free()
	if err := writeCopyCursor(fix, ptr.Addr(), cursor); err != nil {
		return CopyCursor{}, err
	}

	if _, err := fix.CallWithErrno("consume_cursor", uint64(ptr.Addr()), uint64(count)); err != nil {
		return CopyCursor{}, err
	}
	return readCopyCursor(fix, ptr.Addr(), len(cursor.Entries))
}

// RedistributeEntries calls the guest redistribute_entries(dest, src,
// len) function, which rebalances entries between two cursors so that
// each ends up with roughly the same amount of live data, and returns
// both updated cursors. The (dest, src, len) argument order matches
// redistribute_entries in
// _examples/original_source/src/wrappers/btree.rs exactly.
func RedistributeEntries(fix *fixture.Fixture, dest, src CopyCursor, length uint32) (newDest, newSrc CopyCursor, err error) {
	destPtr, err := fix.ScopedAlloc(CopyCursorGuestLen, guest.PermRead|guest.PermWrite)
	if err != nil {
		return CopyCursor{}, CopyCursor{}, err
	}
	defer destPtr.Free()
	srcPtr, err := fix.ScopedAlloc(CopyCursorGuestLen, guest.PermRead|guest.PermWrite)
	if err != nil {
		return CopyCursor{}, CopyCursor{}, err
	}
	defer srcPtr.Free()

	if err := writeCopyCursor(fix, destPtr.Addr(), dest); err != nil {
		return CopyCursor{}, CopyCursor{}, err
	}
	if err := writeCopyCursor(fix, srcPtr.Addr(), src); err != nil {
		return CopyCursor{}, CopyCursor{}, err
	}

	if _, err := fix.CallWithErrno("redistribute_entries", uint64(destPtr.Addr()), uint64(srcPtr.Addr()), uint64(length)); err != nil {
		return CopyCursor{}, CopyCursor{}, err
	}

	newDest, err = readCopyCursor(fix, destPtr.Addr(), len(dest.Entries))
	if err != nil {
		return CopyCursor{}, CopyCursor{}, err
	}
	newSrc, err = readCopyCursor(fix, srcPtr.Addr(), len(src.Entries))
	return newDest, newSrc, err
}
