// Package loader maps compiled kernel objects into a guest address space:
// statically-linked RV64 ELF objects via the standard library's debug/elf,
// or a raw byte blob with an explicit symbol table via LoadFlat for the
// synthetic test kernel, which has no section headers to parse.
package loader

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dm-devel/dmunit/internal/dmerr"
	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/memory"
)

// Object is the result of loading a kernel object: its entry point and the
// symbols resolved within it.
type Object struct {
	Entry   guest.Addr
	Symbols *SymbolTable
}

// LoadELF parses a statically-linked RV64 ELF object from r, maps its
// PT_LOAD segments into mem with permissions derived from the segment's
// ELF flags (BSS zero-filled since a fresh Memory chunk reads as zero),
// merges .symtab/.dynsym into a SymbolTable, and applies RISC-V
// relocations. Returns dmerr.LinkError for anything it can't resolve.
func LoadELF(r io.ReaderAt, mem *memory.Memory) (*Object, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, &dmerr.LinkError{Symbol: "<elf>", Reason: err.Error()}
	}
	defer f.Close()

	if f.Machine != elf.EM_RISCV {
		return nil, &dmerr.LinkError{Symbol: "<elf>", Reason: fmt.Sprintf("unsupported machine %s, want RISC-V", f.Machine)}
	}
	if f.Class != elf.ELFCLASS64 {
		return nil, &dmerr.LinkError{Symbol: "<elf>", Reason: "only 64-bit RV64 objects are supported"}
	}

	type segment struct {
		addr guest.Addr
		size uint64
		perm guest.Perm
	}
	var segs []segment
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		addr := guest.Addr(prog.Vaddr)
		perm := permFromFlags(prog.Flags)
		// Mapped writable while the file image and relocations are written;
		// the segment's own permissions are applied once loading is done.
		if err := mem.MapFixed(addr, prog.Memsz, perm|guest.PermWrite); err != nil {
			return nil, err
		}
		segs = append(segs, segment{addr: addr, size: prog.Memsz, perm: perm})
		data := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), data); err != nil && err != io.EOF {
			return nil, &dmerr.LinkError{Symbol: "<elf>", Reason: fmt.Sprintf("reading segment at %s: %v", addr, err)}
		}
		if len(data) > 0 {
			if err := mem.Write(addr, data); err != nil {
				return nil, err
			}
		}
	}

	symtab := NewSymbolTable()
	var dynSyms []elf.Symbol
	addSymbols := func(syms []elf.Symbol) {
		for _, s := range syms {
			if s.Name == "" {
				continue
			}
			switch elf.ST_TYPE(s.Info) {
			case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
				symtab.Add(s.Name, guest.Addr(s.Value), s.Size)
			}
		}
	}
	if syms, err := f.Symbols(); err == nil {
		addSymbols(syms)
	}
	if dyn, err := f.DynamicSymbols(); err == nil {
		dynSyms = dyn
		addSymbols(dyn)
	}

	if err := applyRelocations(f, mem, dynSyms); err != nil {
		return nil, err
	}
	for _, s := range segs {
		if err := mem.SetPerms(s.addr, s.size, s.perm); err != nil {
			return nil, err
		}
	}

	return &Object{Entry: guest.Addr(f.Entry), Symbols: symtab}, nil
}

func permFromFlags(flags elf.ProgFlag) guest.Perm {
	var p guest.Perm
	if flags&elf.PF_R != 0 {
		p |= guest.PermRead
	}
	if flags&elf.PF_W != 0 {
		p |= guest.PermWrite
	}
	if flags&elf.PF_X != 0 {
		p |= guest.PermExec
	}
	return p
}

// rela64 is the on-disk layout of an Elf64_Rela entry.
type rela64 struct {
	Offset uint64
	Info   uint64
	Addend int64
}

func readRelas(data []byte) []rela64 {
	const entSize = 24
	out := make([]rela64, 0, len(data)/entSize)
	for i := 0; i+entSize <= len(data); i += entSize {
		out = append(out, rela64{
			Offset: binary.LittleEndian.Uint64(data[i : i+8]),
			Info:   binary.LittleEndian.Uint64(data[i+8 : i+16]),
			Addend: int64(binary.LittleEndian.Uint64(data[i+16 : i+24])),
		})
	}
	return out
}

// applyRelocations resolves the RISC-V relocation types a statically
// linked object plausibly carries: R_RISCV_RELATIVE (base + addend, base
// assumed zero since objects are loaded at their declared, non-PIE
// addresses), R_RISCV_64 (symbol value + addend) and R_RISCV_JUMP_SLOT
// (symbol value, PLT/GOT slot). Anything else is a dmerr.LinkError.
func applyRelocations(f *elf.File, mem *memory.Memory, dynSyms []elf.Symbol) error {
	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_RELA {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return &dmerr.LinkError{Symbol: sec.Name, Reason: err.Error()}
		}
		for _, r := range readRelas(data) {
			symIdx := r.Info >> 32
			relType := elf.R_RISCV(r.Info & 0xFFFFFFFF)

			var symVal uint64
			if symIdx > 0 && int(symIdx) < len(dynSyms) {
				symVal = dynSyms[symIdx].Value
			}

			var value uint64
			switch relType {
			case elf.R_RISCV_RELATIVE:
				value = uint64(r.Addend)
			case elf.R_RISCV_64:
				value = symVal + uint64(r.Addend)
			case elf.R_RISCV_JUMP_SLOT:
				value = symVal
			case elf.R_RISCV_NONE:
				continue
			default:
				return &dmerr.LinkError{Symbol: fmt.Sprintf("reloc@%#x", r.Offset), Reason: fmt.Sprintf("unsupported relocation type %s", relType)}
			}

			if err := mem.WriteU64(guest.Addr(r.Offset), value); err != nil {
				return err
			}
		}
	}
	return nil
}
