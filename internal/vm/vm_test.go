package vm

import (
	"testing"

	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/isa"
	"github.com/dm-devel/dmunit/internal/memory"
)

func writeProgram(t *testing.T, mem *memory.Memory, base guest.Addr, words []uint32) {
	t.Helper()
	if err := mem.MapFixed(base, uint64(len(words)*4), guest.PermRead|guest.PermWrite|guest.PermExec); err != nil {
		t.Fatalf("MapFixed: %v", err)
	}
	for i, w := range words {
		if err := mem.WriteU32(base+guest.Addr(i*4), w); err != nil {
			t.Fatalf("WriteU32: %v", err)
		}
	}
}

func TestRunReturnsAtSentinel(t *testing.T) {
	mem := memory.New(0x2000, 0)
	const base = guest.Addr(0x1000)
	words := []uint32{
		isa.EncodeI(isa.OpADDI, isa.A0, isa.Zero, 7),
		isa.EncodeI(isa.OpJALR, isa.Zero, isa.RA, 0),
	}
	writeProgram(t, mem, base, words)

	v := New(mem)
	v.SetRA(uint64(Sentinel))
	v.SetPC(base)

	if err := v.Run(0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.State() != StateReturned {
		t.Fatalf("State() = %v, want %v", v.State(), StateReturned)
	}
	if v.Result() != 7 {
		t.Errorf("Result() = %d, want 7", v.Result())
	}
}

func TestInstructionCountMonotonic(t *testing.T) {
	mem := memory.New(0x2000, 0)
	const base = guest.Addr(0x1000)
	words := []uint32{
		isa.EncodeI(isa.OpADDI, isa.T0, isa.Zero, 1),
		isa.EncodeI(isa.OpADDI, isa.T0, isa.T0, 1),
		isa.EncodeI(isa.OpADDI, isa.T0, isa.T0, 1),
		isa.EncodeI(isa.OpJALR, isa.Zero, isa.RA, 0),
	}
	writeProgram(t, mem, base, words)

	v := New(mem)
	v.SetRA(uint64(Sentinel))
	v.SetPC(base)

	var last uint64
	for v.State() != StateReturned && v.State() != StateFaulted {
		if err := v.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
		if v.Stats.Instructions < last {
			t.Fatalf("instruction count went backwards: %d -> %d", last, v.Stats.Instructions)
		}
		last = v.Stats.Instructions
	}
	if last != 4 {
		t.Errorf("total instructions retired = %d, want 4", last)
	}
}

func TestBreakpointStopsBeforeExecuting(t *testing.T) {
	mem := memory.New(0x2000, 0)
	const base = guest.Addr(0x1000)
	words := []uint32{
		isa.EncodeI(isa.OpADDI, isa.A0, isa.Zero, 1),
		isa.EncodeI(isa.OpADDI, isa.A0, isa.Zero, 2),
		isa.EncodeI(isa.OpJALR, isa.Zero, isa.RA, 0),
	}
	writeProgram(t, mem, base, words)

	v := New(mem)
	v.SetRA(uint64(Sentinel))
	v.SetPC(base)
	v.SetBreakpoint(base + 4)

	if err := v.Run(0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.State() != StateBreakpoint {
		t.Fatalf("State() = %v, want %v", v.State(), StateBreakpoint)
	}
	if v.Result() != 1 {
		t.Errorf("Result() = %d before the breakpoint instruction runs, want 1", v.Result())
	}

	if err := v.ResumeFromBreakpoint(); err != nil {
		t.Fatalf("ResumeFromBreakpoint: %v", err)
	}
	if err := v.Run(0); err != nil {
		t.Fatalf("Run after resume: %v", err)
	}
	if v.Result() != 2 {
		t.Errorf("Result() = %d after resume, want 2", v.Result())
	}
}

func TestUnmappedFetchWithNoDispatchFaults(t *testing.T) {
	mem := memory.New(0x2000, 0)
	v := New(mem)
	v.SetRA(uint64(Sentinel))
	v.SetPC(0xABCD000)

	err := v.Run(0)
	if err == nil {
		t.Fatal("expected a fault calling unmapped, undispatched code")
	}
	if v.State() != StateFaulted {
		t.Errorf("State() = %v, want %v", v.State(), StateFaulted)
	}
}

func TestDispatchHandlesUnmappedFetch(t *testing.T) {
	mem := memory.New(0x2000, 0)
	const stubAddr = guest.Addr(0x9000)

	v := New(mem)
	v.Dispatch = func(pc guest.Addr) (bool, error) {
		if pc != stubAddr {
			return false, nil
		}
		v.SetX(isa.A0, 99)
		v.SetPC(guest.Addr(v.RA()))
		return true, nil
	}
	v.SetRA(uint64(Sentinel))
	v.SetPC(stubAddr)

	if err := v.Run(0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.Result() != 99 {
		t.Errorf("Result() = %d, want 99", v.Result())
	}
}

func TestInstructionLimitFaults(t *testing.T) {
	mem := memory.New(0x2000, 0)
	const base = guest.Addr(0x1000)
	// An infinite loop: jal rd=zero back to itself.
	words := []uint32{isa.EncodeJ(isa.OpJAL, isa.Zero, 0)}
	writeProgram(t, mem, base, words)

	v := New(mem)
	v.SetRA(uint64(Sentinel))
	v.SetPC(base)

	err := v.Run(10)
	if err == nil {
		t.Fatal("expected an instruction-limit fault")
	}
	if v.State() != StateFaulted {
		t.Errorf("State() = %v, want %v", v.State(), StateFaulted)
	}
}
