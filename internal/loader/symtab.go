package loader

import (
	"fmt"
	"sort"

	"github.com/dm-devel/dmunit/internal/guest"
)

type symEntry struct {
	name string
	addr guest.Addr
	size uint64
}

// SymbolTable maps symbol names to addresses and supports reverse
// (address -> nearest symbol) lookup for trace/log readability.
type SymbolTable struct {
	byName map[string]guest.Addr
	all    []symEntry
	sorted bool
}

// NewSymbolTable returns an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{byName: make(map[string]guest.Addr)}
}

// Add records a symbol. Re-adding a name overwrites its address.
func (t *SymbolTable) Add(name string, addr guest.Addr, size uint64) {
	t.byName[name] = addr
	t.all = append(t.all, symEntry{name: name, addr: addr, size: size})
	t.sorted = false
}

// Lookup returns the address bound to name.
func (t *SymbolTable) Lookup(name string) (guest.Addr, bool) {
	a, ok := t.byName[name]
	return a, ok
}

func (t *SymbolTable) ensureSorted() {
	if t.sorted {
		return
	}
	sort.Slice(t.all, func(i, j int) bool { return t.all[i].addr < t.all[j].addr })
	t.sorted = true
}

// Nearest returns the name of the highest-addressed symbol at or below
// addr, and the byte offset from that symbol to addr.
func (t *SymbolTable) Nearest(addr guest.Addr) (name string, offset uint64, ok bool) {
	t.ensureSorted()
	lo, hi, best := 0, len(t.all)-1, -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if t.all[mid].addr <= addr {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best == -1 {
		return "", 0, false
	}
	e := t.all[best]
	return e.name, uint64(addr - e.addr), true
}

// Symbolizer returns a closure suitable for vm.VM.SetSymbolizer.
func (t *SymbolTable) Symbolizer() func(guest.Addr) string {
	return func(addr guest.Addr) string {
		name, off, ok := t.Nearest(addr)
		if !ok {
			return ""
		}
		if off == 0 {
			return name
		}
		return fmt.Sprintf("%s+0x%x", name, off)
	}
}

// Map returns a copy of the name -> address table, suitable for
// stubs.Registry.Install.
func (t *SymbolTable) Map() map[string]guest.Addr {
	out := make(map[string]guest.Addr, len(t.byName))
	for k, v := range t.byName {
		out[k] = v
	}
	return out
}

// Names returns every symbol name, sorted.
func (t *SymbolTable) Names() []string {
	names := make([]string, 0, len(t.byName))
	for n := range t.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
