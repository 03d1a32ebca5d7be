package libc

import (
	"github.com/dm-devel/dmunit/internal/dmerr"
	"github.com/dm-devel/dmunit/internal/dmlog"
	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/isa"
	"github.com/dm-devel/dmunit/internal/stubs"
)

func stubKmalloc(h stubs.Handle) error {
	size := h.X(isa.A0)

	ptr, err := h.Mem().Alloc(size, guest.PermRead|guest.PermWrite)
	if err != nil {
		return &dmerr.StubError{Name: "kmalloc", Err: err}
	}

	h.Log().Stub("kmalloc", dmlog.Size(size), dmlog.Ptr("ptr", uint64(ptr)))
	h.SetX(isa.A0, uint64(ptr))
	h.Return()
	return nil
}

func stubKfree(h stubs.Handle) error {
	ptr := guest.Addr(h.X(isa.A0))
	if ptr == guest.Null {
		h.Return()
		return nil
	}
	if err := h.Mem().Free(ptr); err != nil {
		return &dmerr.StubError{Name: "kfree", Err: err}
	}
	h.Log().Stub("kfree", dmlog.Ptr("ptr", uint64(ptr)))
	h.Return()
	return nil
}
