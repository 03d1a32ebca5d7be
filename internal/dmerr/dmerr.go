// Package dmerr holds the typed fault kinds the rest of the module raises,
// following the teacher's fmt.Errorf("...: %w", err) wrapping style rather
// than a single monolithic error type.
package dmerr

import (
	"fmt"

	"github.com/dm-devel/dmunit/internal/guest"
)

// BadAccess is returned when a memory operation touches a byte that does
// not carry the requested permission. Addr is the first offending byte;
// memory is left untouched.
type BadAccess struct {
	Addr   guest.Addr
	Want   guest.Perm
	Have   guest.Perm
	Reason string
}

func (e *BadAccess) Error() string {
	return fmt.Sprintf("bad access at %s: want %s, have %s (%s)", e.Addr, e.Want, e.Have, e.Reason)
}

// OutOfMemory is returned by the allocator when an Alloc would exceed the
// configured ceiling.
type OutOfMemory struct {
	Requested uint64
	Ceiling   uint64
}

func (e *OutOfMemory) Error() string {
	return fmt.Sprintf("out of memory: requested %d bytes, ceiling %d", e.Requested, e.Ceiling)
}

// BadFree is returned when Free is called on an address the allocator did
// not hand out, or one already freed.
type BadFree struct {
	Addr   guest.Addr
	Reason string
}

func (e *BadFree) Error() string {
	return fmt.Sprintf("bad free at %s: %s", e.Addr, e.Reason)
}

// DecodeError is returned when a 32-bit word does not decode to a known
// RV64I instruction.
type DecodeError struct {
	PC   guest.Addr
	Word uint32
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("undecodable instruction 0x%08x at %s", e.Word, e.PC)
}

// LinkError is returned by the loader when a relocation or symbol cannot
// be resolved.
type LinkError struct {
	Symbol string
	Reason string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link error: %s: %s", e.Symbol, e.Reason)
}

// UnresolvedCall is raised by the VM when control reaches an address that
// is neither mapped code nor a registered stub.
type UnresolvedCall struct {
	Addr guest.Addr
}

func (e *UnresolvedCall) Error() string {
	return fmt.Sprintf("unresolved call to %s: no code and no registered stub", e.Addr)
}

// GuestErrno wraps a negative-errno return value from a guest function
// called through the calling-convention layer.
type GuestErrno struct {
	Func  string
	Errno int64
}

func (e *GuestErrno) Error() string {
	return fmt.Sprintf("%s returned errno %d", e.Func, e.Errno)
}

// InstructionLimit is returned when a Run exceeds its configured
// instruction ceiling without reaching a stop condition.
type InstructionLimit struct {
	Limit uint64
}

func (e *InstructionLimit) Error() string {
	return fmt.Sprintf("instruction limit of %d exceeded without stopping", e.Limit)
}

// StubError wraps an error raised from within a host stub implementation.
type StubError struct {
	Name string
	Err  error
}

func (e *StubError) Error() string {
	return fmt.Sprintf("stub %q: %v", e.Name, e.Err)
}

func (e *StubError) Unwrap() error {
	return e.Err
}
