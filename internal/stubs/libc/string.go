package libc

import (
	"github.com/dm-devel/dmunit/internal/dmerr"
	"github.com/dm-devel/dmunit/internal/dmlog"
	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/isa"
	"github.com/dm-devel/dmunit/internal/stubs"
)

func stubMemcpy(h stubs.Handle) error {
	dest := guest.Addr(h.X(isa.A0))
	src := guest.Addr(h.X(isa.A1))
	n := h.X(isa.A2)

	buf := make([]byte, n)
	if err := h.Mem().Read(src, buf); err != nil {
		return &dmerr.StubError{Name: "memcpy", Err: err}
	}
	if err := h.Mem().Write(dest, buf); err != nil {
		return &dmerr.StubError{Name: "memcpy", Err: err}
	}

	h.Log().Stub("memcpy", dmlog.Ptr("dest", uint64(dest)), dmlog.Ptr("src", uint64(src)), dmlog.Size(n))
	h.SetX(isa.A0, uint64(dest))
	h.Return()
	return nil
}

func stubMemmove(h stubs.Handle) error {
	// A plain read-then-write already tolerates overlap here because the
	// read happens in full before any write, unlike an in-place byte loop.
	dest := guest.Addr(h.X(isa.A0))
	src := guest.Addr(h.X(isa.A1))
	n := h.X(isa.A2)

	buf := make([]byte, n)
	if err := h.Mem().Read(src, buf); err != nil {
		return &dmerr.StubError{Name: "memmove", Err: err}
	}
	if err := h.Mem().Write(dest, buf); err != nil {
		return &dmerr.StubError{Name: "memmove", Err: err}
	}

	h.Log().Stub("memmove", dmlog.Ptr("dest", uint64(dest)), dmlog.Ptr("src", uint64(src)), dmlog.Size(n))
	h.SetX(isa.A0, uint64(dest))
	h.Return()
	return nil
}

func stubMemset(h stubs.Handle) error {
	dest := guest.Addr(h.X(isa.A0))
	val := byte(h.X(isa.A1))
	n := h.X(isa.A2)

	buf := make([]byte, n)
	for i := range buf {
		buf[i] = val
	}
	if err := h.Mem().Write(dest, buf); err != nil {
		return &dmerr.StubError{Name: "memset", Err: err}
	}

	h.Log().Stub("memset", dmlog.Ptr("dest", uint64(dest)), dmlog.Size(n))
	h.SetX(isa.A0, uint64(dest))
	h.Return()
	return nil
}

func stubStrlen(h stubs.Handle) error {
	s := guest.Addr(h.X(isa.A0))

	var n uint64
	for {
		b, err := h.Mem().ReadU8(s + guest.Addr(n))
		if err != nil {
			return &dmerr.StubError{Name: "strlen", Err: err}
		}
		if b == 0 {
			break
		}
		n++
	}

	h.Log().Stub("strlen", dmlog.Ptr("s", uint64(s)), dmlog.Size(n))
	h.SetX(isa.A0, n)
	h.Return()
	return nil
}
