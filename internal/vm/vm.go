// Package vm implements the RV64I virtual machine: a 32-register file, the
// fetch/decode/execute loop, and the Idle -> Running -> {Running,
// Breakpoint, Returned, Faulted} state machine. This is the hand-written
// core spec.md calls out as the hard, in-scope part of the system; nothing
// here delegates to a real CPU.
package vm

import (
	"github.com/dm-devel/dmunit/internal/dmerr"
	"github.com/dm-devel/dmunit/internal/dmlog"
	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/isa"
	"github.com/dm-devel/dmunit/internal/memory"
	"github.com/dm-devel/dmunit/internal/stats"
)

// State is the VM's current run state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateBreakpoint
	StateReturned
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateBreakpoint:
		return "breakpoint"
	case StateReturned:
		return "returned"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// DispatchFunc is consulted whenever the fetch stage finds no executable
// permission at PC. It is how the stub registry is wired in without
// internal/vm importing internal/stubs: handled reports whether a host
// stub claimed the call (and is responsible for advancing PC itself).
type DispatchFunc func(pc guest.Addr) (handled bool, err error)

// VM is a single RV64I hart plus its control state.
type VM struct {
	regs      [32]uint64
	pc        guest.Addr
	sentinel  guest.Addr
	state     State
	faultErr  error
	breakAddr guest.Addr

	breakpoints map[guest.Addr]bool
	justResumed bool

	mem      *memory.Memory
	Dispatch DispatchFunc
	Stats    *stats.Counters
	Log      *dmlog.Logger

	symbolize func(guest.Addr) string
}

// Sentinel is the default return address installed into RA before a
// top-level host-initiated call: when PC reaches it, the call is complete.
const Sentinel guest.Addr = 0xFFFFFFFFFFFFFFF0

// New returns an idle VM bound to mem. All registers including PC start at
// zero; the caller sets up SP/entry point/RA before the first Run.
func New(mem *memory.Memory) *VM {
	return &VM{
		mem:         mem,
		sentinel:    Sentinel,
		breakpoints: make(map[guest.Addr]bool),
		state:       StateIdle,
		Stats:       &stats.Counters{},
		Log:         dmlog.NewNop(),
	}
}

// SetSymbolizer installs a function used only for trace/log readability
// (e.g. resolving PC to "dm_bm_create+0x4").
func (v *VM) SetSymbolizer(f func(guest.Addr) string) {
	v.symbolize = f
}

// X returns the value of register r. X(Zero) is always 0.
func (v *VM) X(r isa.Reg) uint64 {
	if r == isa.Zero {
		return 0
	}
	return v.regs[r]
}

// SetX sets register r to val. Writes to Zero are discarded, matching the
// RV64I architectural register.
func (v *VM) SetX(r isa.Reg, val uint64) {
	if r == isa.Zero {
		return
	}
	v.regs[r] = val
}

func (v *VM) PC() guest.Addr      { return v.pc }
func (v *VM) SetPC(a guest.Addr)  { v.pc = a }
func (v *VM) SP() uint64          { return v.X(isa.SP) }
func (v *VM) SetSP(val uint64)    { v.SetX(isa.SP, val) }
func (v *VM) RA() uint64          { return v.X(isa.RA) }
func (v *VM) SetRA(val uint64)    { v.SetX(isa.RA, val) }
func (v *VM) State() State        { return v.state }
func (v *VM) FaultErr() error     { return v.faultErr }
func (v *VM) BreakAddr() guest.Addr { return v.breakAddr }
func (v *VM) Memory() *memory.Memory { return v.mem }

// SetSentinel overrides the address that marks "return to host". Used by
// fixture.Call for re-entrant calls issued from within a stub, where each
// nested call needs its own sentinel distinct from the outer one.
func (v *VM) SetSentinel(a guest.Addr) guest.Addr {
	old := v.sentinel
	v.sentinel = a
	return old
}

// SentinelAddr returns the address currently marking "return to host".
func (v *VM) SentinelAddr() guest.Addr {
	return v.sentinel
}

// Snapshot returns every general-purpose register, for a caller that
// needs to make a nested call and restore the outer call's registers
// afterward.
func (v *VM) Snapshot() [32]uint64 {
	return v.regs
}

// Restore overwrites every general-purpose register from a prior
// Snapshot. Zero is always reset to 0 regardless of what snapshot holds.
func (v *VM) Restore(regs [32]uint64) {
	v.regs = regs
	v.regs[isa.Zero] = 0
}

// SetArgs loads up to 6 calling-convention argument registers A0..A5.
func (v *VM) SetArgs(args ...uint64) {
	regs := []isa.Reg{isa.A0, isa.A1, isa.A2, isa.A3, isa.A4, isa.A5}
	for i, a := range args {
		if i >= len(regs) {
			break
		}
		v.SetX(regs[i], a)
	}
}

// Result returns the A0 calling-convention return register.
func (v *VM) Result() uint64 {
	return v.X(isa.A0)
}

// SetBreakpoint marks addr as a breakpoint: Step stops before executing
// the instruction there rather than after.
func (v *VM) SetBreakpoint(addr guest.Addr) {
	v.breakpoints[addr] = true
}

// ClearBreakpoint removes a previously set breakpoint.
func (v *VM) ClearBreakpoint(addr guest.Addr) {
	delete(v.breakpoints, addr)
}

// Step executes at most one instruction, implementing the
// fetch/sentinel-check/breakpoint-check/execute sequence. It is a no-op
// once the VM has reached a terminal state (Returned or Faulted).
func (v *VM) Step() error {
	if v.state == StateFaulted || v.state == StateReturned {
		return nil
	}

	if v.pc == v.sentinel {
		v.state = StateReturned
		return nil
	}

	if v.breakpoints[v.pc] && !v.justResumed {
		v.state = StateBreakpoint
		v.breakAddr = v.pc
		return nil
	}
	v.justResumed = false

	word, err := v.fetch(v.pc)
	if err != nil {
		var bad *dmerr.BadAccess
		if asBadAccess(err, &bad) && v.Dispatch != nil {
			handled, derr := v.Dispatch(v.pc)
			if derr != nil {
				v.fault(derr)
				return derr
			}
			if handled {
				v.state = StateRunning
				return nil
			}
			uerr := &dmerr.UnresolvedCall{Addr: v.pc}
			v.fault(uerr)
			return uerr
		}
		v.fault(err)
		return err
	}

	instr, err := isa.Decode(word, v.pc)
	if err != nil {
		v.fault(err)
		return err
	}

	if v.Log != nil {
		v.Log.Trace(uint64(v.pc), v.symbolAt(v.pc), instr.Op.String())
	}

	if err := v.execute(instr); err != nil {
		v.fault(err)
		return err
	}

	v.Stats.Instructions++
	v.state = StateRunning
	return nil
}

func (v *VM) symbolAt(pc guest.Addr) string {
	if v.symbolize == nil {
		return ""
	}
	return v.symbolize(pc)
}

func (v *VM) fault(err error) {
	v.state = StateFaulted
	v.faultErr = err
}

func (v *VM) fetch(pc guest.Addr) (uint32, error) {
	var buf [4]byte
	if err := v.mem.ReadExec(pc, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// ResumeFromBreakpoint clears the Breakpoint state and executes the
// instruction at the current (still-pending) breakpoint address.
func (v *VM) ResumeFromBreakpoint() error {
	v.justResumed = true
	v.state = StateRunning
	return v.Step()
}

// Run steps the VM until it reaches Returned, Breakpoint, or Faulted, or
// until limit instructions have retired without reaching a stop
// condition, in which case it faults with dmerr.InstructionLimit.
func (v *VM) Run(limit uint64) error {
	if v.state == StateIdle {
		v.state = StateRunning
	}
	var n uint64
	for {
		switch v.state {
		case StateReturned, StateBreakpoint, StateFaulted:
			return v.faultErr
		}
		if err := v.Step(); err != nil {
			return err
		}
		switch v.state {
		case StateReturned, StateBreakpoint:
			return nil
		case StateFaulted:
			return v.faultErr
		}
		n++
		if limit != 0 && n > limit {
			err := &dmerr.InstructionLimit{Limit: limit}
			v.fault(err)
			return err
		}
	}
}

// asBadAccess is a small helper over errors.As to keep Step readable.
func asBadAccess(err error, target **dmerr.BadAccess) bool {
	if b, ok := err.(*dmerr.BadAccess); ok {
		*target = b
		return true
	}
	return false
}
