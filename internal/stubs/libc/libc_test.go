package libc

import (
	"testing"

	"github.com/dm-devel/dmunit/internal/dmlog"
	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/isa"
	"github.com/dm-devel/dmunit/internal/memory"
	"github.com/dm-devel/dmunit/internal/stats"
)

type fakeHandle struct {
	regs [32]uint64
	mem  *memory.Memory
	st   stats.Counters
	log  *dmlog.Logger
	ra   uint64
	pc   guest.Addr
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{mem: memory.New(0x10000, 0), log: dmlog.NewNop()}
}

func (h *fakeHandle) X(r isa.Reg) uint64         { return h.regs[r] }
func (h *fakeHandle) SetX(r isa.Reg, val uint64) { h.regs[r] = val }
func (h *fakeHandle) PC() guest.Addr             { return h.pc }
func (h *fakeHandle) RA() uint64                 { return h.ra }
func (h *fakeHandle) Mem() *memory.Memory        { return h.mem }
func (h *fakeHandle) Stats() *stats.Counters     { return &h.st }
func (h *fakeHandle) Log() *dmlog.Logger         { return h.log }
func (h *fakeHandle) Return()                    { h.pc = guest.Addr(h.ra) }

func TestKmallocThenKfreeRoundTrip(t *testing.T) {
	h := newFakeHandle()
	h.SetX(isa.A0, 32)
	if err := stubKmalloc(h); err != nil {
		t.Fatalf("stubKmalloc: %v", err)
	}
	ptr := h.X(isa.A0)
	if ptr == 0 {
		t.Fatal("kmalloc returned a null pointer")
	}

	h.SetX(isa.A0, ptr)
	if err := stubKfree(h); err != nil {
		t.Fatalf("stubKfree: %v", err)
	}

	if err := h.mem.Read(guest.Addr(ptr), make([]byte, 1)); err == nil {
		t.Error("expected the freed block to be unreadable")
	}
}

func TestKfreeNullIsNoop(t *testing.T) {
	h := newFakeHandle()
	h.SetX(isa.A0, 0)
	if err := stubKfree(h); err != nil {
		t.Fatalf("stubKfree(NULL): %v", err)
	}
}

func TestMemcpyCopiesBytes(t *testing.T) {
	h := newFakeHandle()
	src, err := h.mem.Alloc(8, guest.PermRead|guest.PermWrite)
	if err != nil {
		t.Fatalf("Alloc src: %v", err)
	}
	dst, err := h.mem.Alloc(8, guest.PermRead|guest.PermWrite)
	if err != nil {
		t.Fatalf("Alloc dst: %v", err)
	}
	if err := h.mem.Write(src, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write src: %v", err)
	}

	h.SetX(isa.A0, uint64(dst))
	h.SetX(isa.A1, uint64(src))
	h.SetX(isa.A2, 4)
	if err := stubMemcpy(h); err != nil {
		t.Fatalf("stubMemcpy: %v", err)
	}

	got := make([]byte, 4)
	if err := h.mem.Read(dst, got); err != nil {
		t.Fatalf("Read dst: %v", err)
	}
	want := []byte{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
	if h.X(isa.A0) != uint64(dst) {
		t.Errorf("A0 = %d, want dest %d", h.X(isa.A0), dst)
	}
}

func TestMemsetFillsBytes(t *testing.T) {
	h := newFakeHandle()
	dst, err := h.mem.Alloc(8, guest.PermRead|guest.PermWrite)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	h.SetX(isa.A0, uint64(dst))
	h.SetX(isa.A1, 0xAB)
	h.SetX(isa.A2, 4)
	if err := stubMemset(h); err != nil {
		t.Fatalf("stubMemset: %v", err)
	}
	got := make([]byte, 4)
	if err := h.mem.Read(dst, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range got {
		if b != 0xAB {
			t.Errorf("byte %d = %#x, want 0xab", i, b)
		}
	}
}

func TestStrlenStopsAtNUL(t *testing.T) {
	h := newFakeHandle()
	addr, err := h.mem.Alloc(16, guest.PermRead|guest.PermWrite)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := h.mem.WriteString(addr, "hello"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	h.SetX(isa.A0, uint64(addr))
	if err := stubStrlen(h); err != nil {
		t.Fatalf("stubStrlen: %v", err)
	}
	if h.X(isa.A0) != 5 {
		t.Errorf("strlen = %d, want 5", h.X(isa.A0))
	}
}

func TestPrintkReadsFormatString(t *testing.T) {
	h := newFakeHandle()
	addr, err := h.mem.Alloc(32, guest.PermRead|guest.PermWrite)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := h.mem.WriteString(addr, "block %d locked"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	h.SetX(isa.A0, uint64(addr))
	if err := stubPrintk(h); err != nil {
		t.Fatalf("stubPrintk: %v", err)
	}
}
