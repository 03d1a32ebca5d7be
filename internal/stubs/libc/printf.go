package libc

import (
	"go.uber.org/zap"

	"github.com/dm-devel/dmunit/internal/dmerr"
	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/isa"
	"github.com/dm-devel/dmunit/internal/stubs"
)

// stubPrintk logs the guest's format string at debug level. Unlike a real
// printk it does not expand %-directives against the remaining argument
// registers: the harness only needs to observe that the guest logged
// something and with what message, not render it byte-for-byte.
func stubPrintk(h stubs.Handle) error {
	fmtPtr := guest.Addr(h.X(isa.A0))

	msg, err := h.Mem().ReadString(fmtPtr, 4096)
	if err != nil {
		return &dmerr.StubError{Name: "printk", Err: err}
	}

	h.Log().Stub("printk", zap.String("msg", msg))
	h.Return()
	return nil
}
