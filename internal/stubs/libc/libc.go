// Package libc provides the handful of C-runtime stubs spec.md §4.5 names
// as required built-ins: kmalloc/kfree, the memcpy/memset/memmove/strlen
// memory helpers, and printk-style logging. Grounded in the teacher's
// internal/stubs/libc/{memory,string}.go, trimmed to exactly the set
// spec.md requires rather than the teacher's full libc surface.
package libc

import "github.com/dm-devel/dmunit/internal/stubs"

// Register binds every libc-style stub this package implements into r.
// Call it once per fixture, before Install resolves addresses from the
// loaded object's symbol table.
func Register(r *stubs.Registry) {
	r.RegisterFunc("kmalloc", stubKmalloc)
	r.RegisterFunc("kfree", stubKfree)
	r.RegisterFunc("memcpy", stubMemcpy)
	r.RegisterFunc("memset", stubMemset)
	r.RegisterFunc("memmove", stubMemmove)
	r.RegisterFunc("strlen", stubStrlen)
	r.RegisterFunc("printk", stubPrintk)
}
