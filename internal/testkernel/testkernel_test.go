package testkernel

import (
	"testing"

	"github.com/dm-devel/dmunit/internal/memory"
)

func TestSymbolsCoverEveryRoutineAndStub(t *testing.T) {
	syms := Symbols()
	for _, name := range routineOrder {
		if _, ok := syms[name]; !ok {
			t.Errorf("Symbols() missing routine %q", name)
		}
	}
	for _, name := range stubOrder {
		if _, ok := syms[name]; !ok {
			t.Errorf("Symbols() missing stub %q", name)
		}
	}
}

func TestRoutineAndStubAddressesDoNotCollide(t *testing.T) {
	syms := Symbols()
	seen := make(map[uint64]string)
	for name, addr := range syms {
		if other, ok := seen[uint64(addr)]; ok {
			t.Fatalf("addresses collide: %q and %q both at %s", name, other, addr)
		}
		seen[uint64(addr)] = name
	}
}

func TestStubAddressesAreUnmapped(t *testing.T) {
	mem := memory.New(0x01000000, 0)
	if _, err := Load(mem); err != nil {
		t.Fatalf("Load: %v", err)
	}
	syms := Symbols()
	for _, name := range stubOrder {
		addr := syms[name]
		if err := mem.ReadExec(addr, make([]byte, 4)); err == nil {
			t.Errorf("stub symbol %q at %s should have no executable permission", name, addr)
		}
	}
}

func TestBuildProducesCodeCoveringEveryRoutineSlot(t *testing.T) {
	code := Build()
	if uint64(len(code)) != codeLen() {
		t.Fatalf("Build() produced %d bytes, want %d", len(code), codeLen())
	}
}

func TestLoadResolvesEntryToFirstRoutine(t *testing.T) {
	mem := memory.New(0x01000000, 0)
	obj, err := Load(mem)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if obj.Entry != slotAddr(0) {
		t.Errorf("Entry = %s, want %s", obj.Entry, slotAddr(0))
	}
	addr, ok := obj.Symbols.Lookup(SymBlockManagerCreate)
	if !ok || addr != slotAddr(0) {
		t.Errorf("Lookup(%s) = %s, %v, want %s, true", SymBlockManagerCreate, addr, ok, slotAddr(0))
	}
}
