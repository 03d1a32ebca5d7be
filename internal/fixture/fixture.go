// Package fixture stitches the virtual machine, guest memory, stub
// registry and loaded symbol table into the single orchestration object
// a test calls guest functions through. The teacher has no equivalent
// single type for this: the same wiring lived inline in cmd/galago/main.go
// and is pushed down here instead, so that internal/testrunner can build
// one fresh Fixture per test rather than sharing process-wide state.
package fixture

import (
	"fmt"

	"github.com/dm-devel/dmunit/internal/dmerr"
	"github.com/dm-devel/dmunit/internal/dmlog"
	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/isa"
	"github.com/dm-devel/dmunit/internal/loader"
	"github.com/dm-devel/dmunit/internal/memory"
	"github.com/dm-devel/dmunit/internal/stats"
	"github.com/dm-devel/dmunit/internal/stubs"
	"github.com/dm-devel/dmunit/internal/vm"
)

// Fixture is the calling-convention layer spec.md §4.6 describes. It
// implements stubs.Handle so host stubs can call back into it.
type Fixture struct {
	VM       *vm.VM
	Memory   *memory.Memory
	Stubs    *stubs.Registry
	Symbols  *loader.SymbolTable
	Counters *stats.Counters
	Logger   *dmlog.Logger

	// InstructionLimit bounds every Call; 0 means unlimited.
	InstructionLimit uint64

	sentinelSeq uint64
}

// New wires a fresh Fixture around mem and the symbol table produced by
// loading a kernel object into it. log may be nil, in which case a no-op
// logger is used.
func New(mem *memory.Memory, symbols *loader.SymbolTable, log *dmlog.Logger) *Fixture {
	if log == nil {
		log = dmlog.NewNop()
	}
	if symbols == nil {
		symbols = loader.NewSymbolTable()
	}

	v := vm.New(mem)
	v.Log = log
	v.SetSymbolizer(symbols.Symbolizer())

	f := &Fixture{
		VM:       v,
		Memory:   mem,
		Stubs:    stubs.NewRegistry(),
		Symbols:  symbols,
		Counters: v.Stats,
		Logger:   log,
	}
	v.Dispatch = f.Stubs.Dispatch
	f.Stubs.BindHandle(f)
	return f
}

// --- stubs.Handle ---

func (f *Fixture) X(r isa.Reg) uint64        { return f.VM.X(r) }
func (f *Fixture) SetX(r isa.Reg, val uint64) { f.VM.SetX(r, val) }
func (f *Fixture) PC() guest.Addr            { return f.VM.PC() }
func (f *Fixture) RA() uint64                { return f.VM.RA() }
func (f *Fixture) Mem() *memory.Memory       { return f.Memory }
func (f *Fixture) Stats() *stats.Counters    { return f.Counters }
func (f *Fixture) Log() *dmlog.Logger        { return f.Logger }

// Return sets PC to RA, handing control back to whichever call is
// waiting on this stub's completion.
func (f *Fixture) Return() {
	f.VM.SetPC(guest.Addr(f.VM.RA()))
}

// RegisterStub is a convenience wrapper over f.Stubs.RegisterFunc.
func (f *Fixture) RegisterStub(name string, fn stubs.StubFunc) {
	f.Stubs.RegisterFunc(name, fn)
}

// InstallStubs resolves every registered stub against the loaded symbol
// table and returns how many were bound.
func (f *Fixture) InstallStubs() int {
	return f.Stubs.Install(f.Symbols.Map())
}

// Call invokes the guest function named name with up to 6 arguments via
// the A0..A5 calling convention, runs the VM to completion, and returns
// its A0 result. It is re-entrant: calling it again from within a stub
// that is itself handling an outer Call saves and restores every
// register and the active sentinel around the nested run, so the outer
// call's registers (other than the one the caller explicitly reads the
// result from) are unaffected by the time the stub resumes it.
func (f *Fixture) Call(name string, args ...uint64) (uint64, error) {
	addr, ok := f.Symbols.Lookup(name)
	if !ok {
		return 0, &dmerr.LinkError{Symbol: name, Reason: "not found in symbol table"}
	}
	return f.CallAt(addr, args...)
}

// CallAt is Call for a caller that already has a resolved guest address.
func (f *Fixture) CallAt(addr guest.Addr, args ...uint64) (uint64, error) {
	savedRegs := f.VM.Snapshot()
	savedPC := f.VM.PC()
	savedSentinel := f.VM.SentinelAddr()

	f.sentinelSeq++
	sentinel := guest.Addr(uint64(vm.Sentinel) - f.sentinelSeq)
	f.VM.SetSentinel(sentinel)
	f.VM.SetArgs(args...)
	f.VM.SetRA(uint64(sentinel))
	f.VM.SetPC(addr)

	runErr := f.VM.Run(f.InstructionLimit)
	result := f.VM.Result()

	f.VM.Restore(savedRegs)
	f.VM.SetSentinel(savedSentinel)
	f.VM.SetPC(savedPC)

	if runErr != nil {
		return 0, fmt.Errorf("calling %s: %w", f.symbolOrAddr(addr), runErr)
	}
	return result, nil
}

func (f *Fixture) symbolOrAddr(addr guest.Addr) string {
	if name, off, ok := f.Symbols.Nearest(addr); ok && off == 0 {
		return name
	}
	return addr.String()
}

// CallWithErrno is Call for guest functions following the kernel errno
// convention: a negative A0 is a negative errno, not a value.
func (f *Fixture) CallWithErrno(name string, args ...uint64) (uint64, error) {
	result, err := f.Call(name, args...)
	if err != nil {
		return 0, err
	}
	if errno := int64(result); errno < 0 {
		return 0, &dmerr.GuestErrno{Func: name, Errno: errno}
	}
	return result, nil
}

// TraceFunc calls name like Call, additionally emitting a trace log entry
// naming the call and its arguments.
func (f *Fixture) TraceFunc(name string, args ...uint64) (uint64, error) {
	f.Logger.Trace(uint64(f.VM.PC()), name, fmt.Sprintf("args=%v", args))
	return f.Call(name, args...)
}

// AutoPtr is a scope-guarded guest allocation: the language-neutral
// rendering of spec.md's "scope guard", used via defer.
type AutoPtr struct {
	addr guest.Addr
	mem  *memory.Memory
}

// Addr returns the guarded allocation's guest address.
func (p *AutoPtr) Addr() guest.Addr {
	if p == nil {
		return guest.Null
	}
	return p.addr
}

// Free releases the allocation. Safe to call on a nil receiver or more
// than once.
func (p *AutoPtr) Free() {
	if p == nil || p.addr == guest.Null {
		return
	}
	_ = p.mem.Free(p.addr)
	p.addr = guest.Null
}

// ScopedAlloc allocates size bytes tagged with perm and returns an
// AutoPtr the caller frees with defer ptr.Free().
func (f *Fixture) ScopedAlloc(size uint64, perm guest.Perm) (*AutoPtr, error) {
	addr, err := f.Memory.Alloc(size, perm)
	if err != nil {
		return nil, err
	}
	return &AutoPtr{addr: addr, mem: f.Memory}, nil
}
