package wrappers

import (
	"github.com/dm-devel/dmunit/internal/fixture"
	"github.com/dm-devel/dmunit/internal/guest"
)

// Info is the Go-side handle to a guest dm_btree_info: the (levels,
// value-size) pair the real dm_btree_* functions take as their first
// argument, mirroring BTreeInfo<G> in btree.rs (the transaction-manager
// pointer the original carries is out of scope here: the synthetic test
// kernel's dm_btree_empty/del never dereference it).
type Info struct {
	fix       *fixture.Fixture
	ptr       *fixture.AutoPtr
	Levels    uint32
	ValueSize uint32
}

// NewInfo allocates and marshals a dm_btree_info struct in guest memory.
func NewInfo(fix *fixture.Fixture, levels, valueSize uint32) (*Info, error) {
	ptr, err := fix.ScopedAlloc(16, guest.PermRead|guest.PermWrite)
	if err != nil {
		return nil, err
	}
	if err := fix.Memory.WriteU32(ptr.Addr(), levels); err != nil {
		ptr.Free()
		return nil, err
	}
	if err := fix.Memory.WriteU32(ptr.Addr()+4, valueSize); err != nil {
		ptr.Free()
		return nil, err
	}
	return &Info{fix: fix, ptr: ptr, Levels: levels, ValueSize: valueSize}, nil
}

// Addr returns the guest dm_btree_info address.
func (i *Info) Addr() guest.Addr { return i.ptr.Addr() }

// Close releases the guest-side info struct.
func (i *Info) Close() { i.ptr.Free() }

// BTreeEmpty calls dm_btree_empty and returns the new, empty root.
func BTreeEmpty(fix *fixture.Fixture, info *Info) (guest.Addr, error) {
	rootPtr, err := fix.ScopedAlloc(8, guest.PermRead|guest.PermWrite)
	if err != nil {
		return guest.Null, err
	}
	defer rootPtr.Free()

	if _, err := fix.CallWithErrno("dm_btree_empty", uint64(info.Addr()), uint64(rootPtr.Addr())); err != nil {
		return guest.Null, err
	}
	root, err := fix.Memory.ReadU64(rootPtr.Addr())
	return guest.Addr(root), err
}

// BTreeDel calls dm_btree_del, tearing down every node reachable from
// root.
func BTreeDel(fix *fixture.Fixture, info *Info, root guest.Addr) error {
	_, err := fix.CallWithErrno("dm_btree_del", uint64(info.Addr()), uint64(root))
	return err
}

// BTreeInsert calls dm_btree_insert and returns the new root.
func BTreeInsert(fix *fixture.Fixture, info *Info, root guest.Addr, key uint64, value []byte) (guest.Addr, error) {
	valuePtr, err := fix.ScopedAlloc(uint64(len(value)), guest.PermRead|guest.PermWrite)
	if err != nil {
		return guest.Null, err
	}
	defer valuePtr.Free()
	if err := fix.Memory.Write(valuePtr.Addr(), value); err != nil {
		return guest.Null, err
	}

	newRootPtr, err := fix.ScopedAlloc(8, guest.PermRead|guest.PermWrite)
	if err != nil {
		return guest.Null, err
	}
	defer newRootPtr.Free()

	if _, err := fix.CallWithErrno("dm_btree_insert", uint64(info.Addr()), uint64(root), key, uint64(valuePtr.Addr()), uint64(newRootPtr.Addr())); err != nil {
		return guest.Null, err
	}
	newRoot, err := fix.Memory.ReadU64(newRootPtr.Addr())
	return guest.Addr(newRoot), err
}

// BTreeInsertNotify is BTreeInsert plus an out-param reporting whether
// the key was newly inserted (true) or overwrote an existing entry
// (false), mirroring dm_btree_insert_notify.
func BTreeInsertNotify(fix *fixture.Fixture, info *Info, root guest.Addr, key uint64, value []byte) (newRoot guest.Addr, inserted bool, err error) {
	valuePtr, err := fix.ScopedAlloc(uint64(len(value)), guest.PermRead|guest.PermWrite)
	if err != nil {
		return guest.Null, false, err
	}
	defer valuePtr.Free()
	if err := fix.Memory.Write(valuePtr.Addr(), value); err != nil {
		return guest.Null, false, err
	}

	newRootPtr, err := fix.ScopedAlloc(8, guest.PermRead|guest.PermWrite)
	if err != nil {
		return guest.Null, false, err
	}
	defer newRootPtr.Free()
	insertedPtr, err := fix.ScopedAlloc(1, guest.PermRead|guest.PermWrite)
	if err != nil {
		return guest.Null, false, err
	}
	defer insertedPtr.Free()

	if _, err := fix.CallWithErrno("dm_btree_insert_notify", uint64(info.Addr()), uint64(root), key, uint64(valuePtr.Addr()), uint64(newRootPtr.Addr()), uint64(insertedPtr.Addr())); err != nil {
		return guest.Null, false, err
	}
	nr, err := fix.Memory.ReadU64(newRootPtr.Addr())
	if err != nil {
		return guest.Null, false, err
	}
	flag, err := fix.Memory.ReadU8(insertedPtr.Addr())
	return guest.Addr(nr), flag != 0, err
}

// BTreeLookup calls dm_btree_lookup, returning the value bytes and
// whether the key was present.
func BTreeLookup(fix *fixture.Fixture, info *Info, root guest.Addr, key uint64) (value []byte, found bool, err error) {
	valuePtr, err := fix.ScopedAlloc(uint64(info.ValueSize), guest.PermRead|guest.PermWrite)
	if err != nil {
		return nil, false, err
	}
	defer valuePtr.Free()

	errno, err := fix.Call("dm_btree_lookup", uint64(info.Addr()), uint64(root), key, uint64(valuePtr.Addr()))
	if err != nil {
		return nil, false, err
	}
	if int64(errno) < 0 {
		return nil, false, nil
	}
	buf := make([]byte, info.ValueSize)
	if err := fix.Memory.Read(valuePtr.Addr(), buf); err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

// BTreeLookupNext calls dm_btree_lookup_next: the lowest key strictly
// greater than key, with its value.
func BTreeLookupNext(fix *fixture.Fixture, info *Info, root guest.Addr, key uint64) (nextKey uint64, value []byte, found bool, err error) {
	keyPtr, err := fix.ScopedAlloc(8, guest.PermRead|guest.PermWrite)
	if err != nil {
		return 0, nil, false, err
	}
	defer keyPtr.Free()
	valuePtr, err := fix.ScopedAlloc(uint64(info.ValueSize), guest.PermRead|guest.PermWrite)
	if err != nil {
		return 0, nil, false, err
	}
	defer valuePtr.Free()

	errno, err := fix.Call("dm_btree_lookup_next", uint64(info.Addr()), uint64(root), key, uint64(keyPtr.Addr()), uint64(valuePtr.Addr()))
	if err != nil {
		return 0, nil, false, err
	}
	if int64(errno) < 0 {
		return 0, nil, false, nil
	}
	nk, err := fix.Memory.ReadU64(keyPtr.Addr())
	if err != nil {
		return 0, nil, false, err
	}
	buf := make([]byte, info.ValueSize)
	if err := fix.Memory.Read(valuePtr.Addr(), buf); err != nil {
		return 0, nil, false, err
	}
	return nk, buf, true, nil
}

// BTreeRemove calls dm_btree_remove and returns the new root.
func BTreeRemove(fix *fixture.Fixture, info *Info, root guest.Addr, key uint64) (guest.Addr, error) {
	newRootPtr, err := fix.ScopedAlloc(8, guest.PermRead|guest.PermWrite)
	if err != nil {
		return guest.Null, err
	}
	defer newRootPtr.Free()

	if _, err := fix.CallWithErrno("dm_btree_remove", uint64(info.Addr()), uint64(root), key, uint64(newRootPtr.Addr())); err != nil {
		return guest.Null, err
	}
	nr, err := fix.Memory.ReadU64(newRootPtr.Addr())
	return guest.Addr(nr), err
}

// BTreeRemoveLeaves calls dm_btree_remove_leaves, removing every key in
// [keyBegin, keyEnd) and returning the new root.
func BTreeRemoveLeaves(fix *fixture.Fixture, info *Info, root guest.Addr, keyBegin, keyEnd uint64) (guest.Addr, error) {
	newRootPtr, err := fix.ScopedAlloc(8, guest.PermRead|guest.PermWrite)
	if err != nil {
		return guest.Null, err
	}
	defer newRootPtr.Free()

	if _, err := fix.CallWithErrno("dm_btree_remove_leaves", uint64(info.Addr()), uint64(root), keyBegin, keyEnd, uint64(newRootPtr.Addr())); err != nil {
		return guest.Null, err
	}
	nr, err := fix.Memory.ReadU64(newRootPtr.Addr())
	return guest.Addr(nr), err
}

func findKey(fix *fixture.Fixture, name string, info *Info, root guest.Addr) (uint64, bool, error) {
	keyPtr, err := fix.ScopedAlloc(8, guest.PermRead|guest.PermWrite)
	if err != nil {
		return 0, false, err
	}
	defer keyPtr.Free()

	errno, err := fix.Call(name, uint64(info.Addr()), uint64(root), uint64(keyPtr.Addr()))
	if err != nil {
		return 0, false, err
	}
	if int64(errno) < 0 {
		return 0, false, nil
	}
	k, err := fix.Memory.ReadU64(keyPtr.Addr())
	return k, true, err
}

// BTreeFindLowestKey calls dm_btree_find_lowest_key.
func BTreeFindLowestKey(fix *fixture.Fixture, info *Info, root guest.Addr) (uint64, bool, error) {
	return findKey(fix, "dm_btree_find_lowest_key", info, root)
}

// BTreeFindHighestKey calls dm_btree_find_highest_key.
func BTreeFindHighestKey(fix *fixture.Fixture, info *Info, root guest.Addr) (uint64, bool, error) {
	return findKey(fix, "dm_btree_find_highest_key", info, root)
}
