package loader

import (
	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/memory"
)

// LoadFlat maps a raw byte blob (hand-encoded RV64I words, not parsed from
// section headers) into mem at base with READ|WRITE|EXEC permission, and binds
// the given symbol table directly. Used by internal/testkernel, which has
// no ELF structure of its own.
func LoadFlat(mem *memory.Memory, base guest.Addr, code []byte, entry guest.Addr, symbols map[string]guest.Addr) (*Object, error) {
	if err := mem.MapFixed(base, uint64(len(code)), guest.PermRead|guest.PermWrite|guest.PermExec); err != nil {
		return nil, err
	}
	if err := mem.Write(base, code); err != nil {
		return nil, err
	}

	symtab := NewSymbolTable()
	for name, addr := range symbols {
		symtab.Add(name, addr, 0)
	}

	return &Object{Entry: entry, Symbols: symtab}, nil
}
