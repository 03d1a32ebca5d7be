// Package guest defines the address and permission vocabulary shared by
// every layer that touches guest memory: the allocator, the decoder, the
// virtual machine, the loader and the stub registry.
package guest

import "fmt"

// Addr is a guest virtual address. Zero is reserved as the null pointer and
// is never returned by the allocator.
type Addr uint64

// Null is the reserved zero address.
const Null Addr = 0

func (a Addr) String() string {
	return fmt.Sprintf("0x%016x", uint64(a))
}

// Perm is a bitmask of access permissions tagged per byte of guest memory.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

// Has reports whether all bits of want are set in p.
func (p Perm) Has(want Perm) bool {
	return p&want == want
}

func (p Perm) String() string {
	var out [3]byte
	out[0] = '-'
	out[1] = '-'
	out[2] = '-'
	if p.Has(PermRead) {
		out[0] = 'r'
	}
	if p.Has(PermWrite) {
		out[1] = 'w'
	}
	if p.Has(PermExec) {
		out[2] = 'x'
	}
	return string(out[:])
}
