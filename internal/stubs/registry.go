// Package stubs implements the host-side function registry: when the
// virtual machine's fetch stage finds no executable guest code at an
// address, the registry is given first refusal before the VM raises
// dmerr.UnresolvedCall.
//
// Handle is the narrow interface stub implementations see instead of a
// concrete *fixture.Fixture, so that stubs/libc, stubs/locks and
// stubs/blockdev depend only on stubs+vm+memory and never on
// internal/fixture — avoiding an import cycle the same way the teacher's
// internal/stubs/* subpackages depend only on internal/emulator and never
// on the top-level orchestrator.
package stubs

import (
	"fmt"
	"sync"

	"github.com/dm-devel/dmunit/internal/dmlog"
	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/isa"
	"github.com/dm-devel/dmunit/internal/memory"
	"github.com/dm-devel/dmunit/internal/stats"
)

// Handle is the mutable handle to the running fixture a stub is given.
// fixture.Fixture implements this interface.
type Handle interface {
	X(r isa.Reg) uint64
	SetX(r isa.Reg, val uint64)
	PC() guest.Addr
	RA() uint64
	Mem() *memory.Memory
	Stats() *stats.Counters
	Log() *dmlog.Logger
	// Return sets PC to RA, the convention every built-in stub uses to
	// hand control back to the caller once it has done its work.
	Return()
}

// StubFunc is a host-side implementation of a guest-callable function.
type StubFunc func(h Handle) error

// StubDef names a registered stub.
type StubDef struct {
	Name string
	Fn   StubFunc
}

// Registry resolves guest addresses to host stub implementations.
type Registry struct {
	mu     sync.Mutex
	stubs  map[string]*StubDef
	addrs  map[guest.Addr]*StubDef
	handle Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stubs: make(map[string]*StubDef),
		addrs: make(map[guest.Addr]*StubDef),
	}
}

// RegisterFunc registers a named stub implementation. It does not bind it
// to any address; call Install or RegisterAtSymbol to do that once the
// guest object's symbol table is known.
func (r *Registry) RegisterFunc(name string, fn StubFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stubs[name] = &StubDef{Name: name, Fn: fn}
}

// RegisterAtSymbol binds a previously registered stub to addr. It fails
// if name was never registered via RegisterFunc.
func (r *Registry) RegisterAtSymbol(name string, addr guest.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.stubs[name]
	if !ok {
		return fmt.Errorf("stubs: unknown stub %q", name)
	}
	r.addrs[addr] = def
	return nil
}

// Install binds every registered stub whose name appears in symbols to
// its resolved address, and reports how many were bound. Registered
// stubs whose name is absent from symbols are simply left unbound (the
// guest object doesn't call them), not an error.
func (r *Registry) Install(symbols map[string]guest.Addr) int {
	r.mu.Lock()
	names := make([]string, 0, len(r.stubs))
	for name := range r.stubs {
		names = append(names, name)
	}
	r.mu.Unlock()

	n := 0
	for _, name := range names {
		addr, ok := symbols[name]
		if !ok {
			continue
		}
		if err := r.RegisterAtSymbol(name, addr); err == nil {
			n++
		}
	}
	return n
}

// BindHandle attaches the fixture.Fixture every dispatched stub will run
// against. Called once, when the fixture finishes constructing itself.
func (r *Registry) BindHandle(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handle = h
}

// Dispatch looks up addr and, if a stub is bound there, runs it against
// the bound Handle. handled is false (with a nil error) when no stub
// claims the address, signalling the caller (internal/vm) to raise
// dmerr.UnresolvedCall.
func (r *Registry) Dispatch(addr guest.Addr) (handled bool, err error) {
	r.mu.Lock()
	def, ok := r.addrs[addr]
	h := r.handle
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	if h == nil {
		return false, fmt.Errorf("stubs: %q resolved but no handle bound", def.Name)
	}
	if err := def.Fn(h); err != nil {
		return true, err
	}
	return true, nil
}

// Count returns the number of stubs currently bound to an address.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.addrs)
}

// Names returns every registered stub name, bound or not.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.stubs))
	for name := range r.stubs {
		names = append(names, name)
	}
	return names
}
