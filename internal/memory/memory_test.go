package memory

import (
	"testing"

	"github.com/dm-devel/dmunit/internal/dmerr"
	"github.com/dm-devel/dmunit/internal/guest"
)

func TestAllocReadWriteRoundTrip(t *testing.T) {
	m := New(0x1000, 0)
	addr, err := m.Alloc(16, guest.PermRead|guest.PermWrite)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := m.Write(addr, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]byte, len(want))
	if err := m.Read(addr, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestAllocExclusiveRanges(t *testing.T) {
	m := New(0x1000, 0)
	a, err := m.Alloc(16, guest.PermRead)
	if err != nil {
		t.Fatalf("Alloc a: %v", err)
	}
	b, err := m.Alloc(16, guest.PermRead)
	if err != nil {
		t.Fatalf("Alloc b: %v", err)
	}
	if a == b {
		t.Fatalf("two live allocations share address %s", a)
	}
	ao, bo := uint64(a), uint64(b)
	lo, hi := ao, bo
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo+16 > hi {
		t.Fatalf("allocations overlap: a=%s b=%s", a, b)
	}
}

func TestPermissionViolationLeavesFirstOffendingByte(t *testing.T) {
	m := New(0x1000, 0)
	addr, err := m.Alloc(16, guest.PermRead)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	err = m.Write(addr, []byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected a permission error writing to a read-only allocation")
	}
	var bad *dmerr.BadAccess
	if be, ok := err.(*dmerr.BadAccess); ok {
		bad = be
	} else {
		t.Fatalf("got %T, want *dmerr.BadAccess", err)
	}
	if bad.Addr != addr {
		t.Errorf("BadAccess.Addr = %s, want %s (first offending byte)", bad.Addr, addr)
	}

	// Memory must be untouched: reading back gives zeros, not partial data.
	got, rerr := m.ReadU8(addr)
	if rerr != nil {
		t.Fatalf("ReadU8: %v", rerr)
	}
	if got != 0 {
		t.Errorf("byte 0 = %d, want 0 (write must not have partially applied)", got)
	}
}

func TestFreePoisonsRange(t *testing.T) {
	m := New(0x1000, 0)
	addr, err := m.Alloc(16, guest.PermRead|guest.PermWrite)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := m.Free(addr); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := m.Read(addr, make([]byte, 1)); err == nil {
		t.Error("expected read of freed memory to fail")
	}
}

func TestDoubleFreeFails(t *testing.T) {
	m := New(0x1000, 0)
	addr, err := m.Alloc(16, guest.PermRead)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := m.Free(addr); err != nil {
		t.Fatalf("first Free: %v", err)
	}
	if err := m.Free(addr); err == nil {
		t.Error("expected second Free of the same address to fail")
	}
}

func TestFreeThenReallocReuses(t *testing.T) {
	m := New(0x1000, 0)
	a, err := m.Alloc(32, guest.PermRead)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := m.Free(a); err != nil {
		t.Fatalf("Free: %v", err)
	}
	b, err := m.Alloc(32, guest.PermRead)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if a != b {
		t.Errorf("expected first-fit reuse of freed span: got %s, want %s", b, a)
	}
}

func TestOutOfMemory(t *testing.T) {
	m := New(0x1000, 32)
	if _, err := m.Alloc(16, guest.PermRead); err != nil {
		t.Fatalf("first Alloc: %v", err)
	}
	if _, err := m.Alloc(16, guest.PermRead); err != nil {
		t.Fatalf("second Alloc: %v", err)
	}
	if _, err := m.Alloc(16, guest.PermRead); err == nil {
		t.Error("expected OutOfMemory once the ceiling is exceeded")
	}
}

func TestLittleEndianRoundTrip(t *testing.T) {
	m := New(0x1000, 0)
	addr, err := m.Alloc(16, guest.PermRead|guest.PermWrite)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if err := m.WriteU64(addr, 0x0102030405060708); err != nil {
		t.Fatalf("WriteU64: %v", err)
	}
	b0, err := m.ReadU8(addr)
	if err != nil {
		t.Fatalf("ReadU8: %v", err)
	}
	if b0 != 0x08 {
		t.Errorf("low byte = %#x, want 0x08 (little-endian)", b0)
	}
	got, err := m.ReadU64(addr)
	if err != nil {
		t.Fatalf("ReadU64: %v", err)
	}
	if got != 0x0102030405060708 {
		t.Errorf("ReadU64 = %#x, want 0x0102030405060708", got)
	}
}

func TestStringRoundTrip(t *testing.T) {
	m := New(0x1000, 0)
	addr, err := m.Alloc(32, guest.PermRead|guest.PermWrite)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := m.WriteString(addr, "dm-unit"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	got, err := m.ReadString(addr, 0)
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if got != "dm-unit" {
		t.Errorf("ReadString = %q, want %q", got, "dm-unit")
	}
}
