// Package stats holds the run counters spec.md's data model names:
// instructions retired, and read/write lock stub invocations.
package stats

// Counters is copied by value for Snapshot/Delta semantics, so a fixture
// can report how much work one test did independent of totals
// accumulated by earlier tests sharing the same VM.
type Counters struct {
	Instructions uint64
	ReadLocks    uint64
	WriteLocks   uint64
}

// Snapshot returns a copy of the current counters.
func (c *Counters) Snapshot() Counters {
	return *c
}

// Delta returns now minus c, field by field. Counters only ever increase
// within a run, so this never underflows in practice; it is not clamped.
func (c Counters) Delta(now Counters) Counters {
	return Counters{
		Instructions: now.Instructions - c.Instructions,
		ReadLocks:    now.ReadLocks - c.ReadLocks,
		WriteLocks:   now.WriteLocks - c.WriteLocks,
	}
}
