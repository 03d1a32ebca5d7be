package stubs

import (
	"testing"

	"github.com/dm-devel/dmunit/internal/dmlog"
	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/isa"
	"github.com/dm-devel/dmunit/internal/memory"
	"github.com/dm-devel/dmunit/internal/stats"
)

// fakeHandle is a minimal Handle implementation for exercising Registry
// without depending on internal/fixture.
type fakeHandle struct {
	regs    [32]uint64
	pc      guest.Addr
	mem     *memory.Memory
	stats   stats.Counters
	log     *dmlog.Logger
	ra      uint64
	didCall bool
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{mem: memory.New(0x1000, 0), log: dmlog.NewNop()}
}

func (h *fakeHandle) X(r isa.Reg) uint64        { return h.regs[r] }
func (h *fakeHandle) SetX(r isa.Reg, val uint64) { h.regs[r] = val }
func (h *fakeHandle) PC() guest.Addr            { return h.pc }
func (h *fakeHandle) RA() uint64                { return h.ra }
func (h *fakeHandle) Mem() *memory.Memory       { return h.mem }
func (h *fakeHandle) Stats() *stats.Counters    { return &h.stats }
func (h *fakeHandle) Log() *dmlog.Logger        { return h.log }
func (h *fakeHandle) Return()                   { h.didCall = true; h.pc = guest.Addr(h.ra) }

func TestInstallBindsOnlyKnownSymbols(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunc("kmalloc", func(h Handle) error { return nil })
	r.RegisterFunc("kfree", func(h Handle) error { return nil })

	n := r.Install(map[string]guest.Addr{"kmalloc": 0x5000})
	if n != 1 {
		t.Fatalf("Install bound %d symbols, want 1", n)
	}
	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}
}

func TestRegisterAtSymbolRejectsUnknownName(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterAtSymbol("nope", 0x1000); err == nil {
		t.Error("expected an error binding an address to a never-registered stub name")
	}
}

func TestDispatchRunsBoundStub(t *testing.T) {
	r := NewRegistry()
	called := false
	r.RegisterFunc("kmalloc", func(h Handle) error {
		called = true
		h.SetX(isa.A0, 42)
		h.Return()
		return nil
	})
	if err := r.RegisterAtSymbol("kmalloc", 0x9000); err != nil {
		t.Fatalf("RegisterAtSymbol: %v", err)
	}

	h := newFakeHandle()
	h.ra = 0x1234
	r.BindHandle(h)

	handled, err := r.Dispatch(0x9000)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !handled {
		t.Fatal("Dispatch reported unhandled for a bound address")
	}
	if !called {
		t.Error("stub function was never invoked")
	}
	if h.X(isa.A0) != 42 {
		t.Errorf("A0 = %d, want 42", h.X(isa.A0))
	}
	if h.pc != 0x1234 {
		t.Errorf("pc after Return() = %s, want 0x1234", h.pc)
	}
}

func TestDispatchUnboundAddressReturnsFalseNoError(t *testing.T) {
	r := NewRegistry()
	r.BindHandle(newFakeHandle())
	handled, err := r.Dispatch(0xDEAD)
	if handled || err != nil {
		t.Errorf("Dispatch(unbound) = (%v, %v), want (false, nil)", handled, err)
	}
}

func TestDispatchWithoutHandleFails(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunc("kmalloc", func(h Handle) error { return nil })
	if err := r.RegisterAtSymbol("kmalloc", 0x9000); err != nil {
		t.Fatalf("RegisterAtSymbol: %v", err)
	}
	if _, err := r.Dispatch(0x9000); err == nil {
		t.Error("expected an error dispatching before BindHandle is called")
	}
}

func TestNamesListsEveryRegisteredStub(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunc("kmalloc", func(h Handle) error { return nil })
	r.RegisterFunc("kfree", func(h Handle) error { return nil })
	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("Names() = %v, want 2 entries", names)
	}
}
