package locks

import (
	"testing"

	"github.com/dm-devel/dmunit/internal/dmlog"
	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/isa"
	"github.com/dm-devel/dmunit/internal/memory"
	"github.com/dm-devel/dmunit/internal/stats"
	"github.com/dm-devel/dmunit/internal/stubs"
)

type fakeHandle struct {
	regs [32]uint64
	mem  *memory.Memory
	st   stats.Counters
	log  *dmlog.Logger
	ra   uint64
	pc   guest.Addr
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{mem: memory.New(0x1000, 0), log: dmlog.NewNop()}
}

func (h *fakeHandle) X(r isa.Reg) uint64         { return h.regs[r] }
func (h *fakeHandle) SetX(r isa.Reg, val uint64) { h.regs[r] = val }
func (h *fakeHandle) PC() guest.Addr             { return h.pc }
func (h *fakeHandle) RA() uint64                 { return h.ra }
func (h *fakeHandle) Mem() *memory.Memory        { return h.mem }
func (h *fakeHandle) Stats() *stats.Counters     { return &h.st }
func (h *fakeHandle) Log() *dmlog.Logger         { return h.log }
func (h *fakeHandle) Return()                    { h.pc = guest.Addr(h.ra) }

func TestMutexLockBumpsWriteLocks(t *testing.T) {
	h := newFakeHandle()
	if err := stubWriteLock(h); err != nil {
		t.Fatalf("stubWriteLock: %v", err)
	}
	if h.st.WriteLocks != 1 {
		t.Errorf("WriteLocks = %d, want 1", h.st.WriteLocks)
	}
	if h.X(isa.A0) != 0 {
		t.Errorf("A0 = %d, want 0", h.X(isa.A0))
	}
}

func TestRwlockRdlockBumpsReadLocks(t *testing.T) {
	h := newFakeHandle()
	if err := stubReadLock(h); err != nil {
		t.Fatalf("stubReadLock: %v", err)
	}
	if h.st.ReadLocks != 1 {
		t.Errorf("ReadLocks = %d, want 1", h.st.ReadLocks)
	}
}

func TestInitDestroyDoNotCount(t *testing.T) {
	h := newFakeHandle()
	if err := stubOKNoCount(h); err != nil {
		t.Fatalf("stubOKNoCount: %v", err)
	}
	if h.st.ReadLocks != 0 || h.st.WriteLocks != 0 {
		t.Errorf("counters = %+v, want zero", h.st)
	}
}

func TestRegisterBindsEveryLockPrimitive(t *testing.T) {
	want := []string{
		"pthread_mutex_init", "pthread_mutex_destroy", "pthread_mutex_lock",
		"pthread_mutex_trylock", "pthread_mutex_unlock",
		"pthread_rwlock_init", "pthread_rwlock_destroy", "pthread_rwlock_rdlock",
		"pthread_rwlock_wrlock", "pthread_rwlock_unlock",
		"pthread_spin_init", "pthread_spin_destroy", "pthread_spin_lock", "pthread_spin_unlock",
	}
	r := stubs.NewRegistry()
	Register(r)

	got := map[string]bool{}
	for _, name := range r.Names() {
		got[name] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("Register never bound %q", name)
		}
	}
}
