// Package testrunner registers and executes dmunit's guest-function unit
// tests, each against its own freshly constructed fixture.Fixture, and
// prints a colorized pass/fail/skip summary. The hierarchical test path
// strings (e.g. "/pdata/btree/insert/ascending") follow the same
// register_tests naming original_source/src/tests/btree.rs uses.
package testrunner

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dm-devel/dmunit/internal/fixture"
	"github.com/dm-devel/dmunit/internal/ui"
)

// TestFunc is one registered test body. It receives a fresh fixture and
// reports failure by returning a non-nil error.
type TestFunc func(fix *fixture.Fixture) error

// SetupFunc builds the fixture a test runs against: the loaded kernel
// object (synthetic or real), its stub registry, and symbol table.
type SetupFunc func() (*fixture.Fixture, error)

type entry struct {
	path       string
	fn         TestFunc
	skip       bool
	skipReason string
}

// Status is the outcome of one executed (or skipped) test.
type Status int

const (
	Passed Status = iota
	Failed
	Skipped
)

// Result is one test's outcome.
type Result struct {
	Path       string
	Status     Status
	Err        error
	SkipReason string
	Duration   time.Duration
}

// Runner holds the registered test set and the fixture factory used to
// give each one a clean, isolated VM/memory/stub state.
type Runner struct {
	setup   SetupFunc
	entries []entry
}

// New returns a Runner whose tests each run against a fixture built by
// setup.
func New(setup SetupFunc) *Runner {
	return &Runner{setup: setup}
}

// Register adds a test at the given hierarchical path.
func (r *Runner) Register(path string, fn TestFunc) {
	r.entries = append(r.entries, entry{path: path, fn: fn})
}

// Skip registers a path that is never executed, reported as skipped with
// reason. Used for scenarios (e.g. large-N B-tree inserts) that need a
// real compiled kernel object this harness cannot synthesize.
func (r *Runner) Skip(path, reason string) {
	r.entries = append(r.entries, entry{path: path, skip: true, skipReason: reason})
}

// Paths returns every registered path in registration order, without
// running anything.
func (r *Runner) Paths() []string {
	paths := make([]string, len(r.entries))
	for i, e := range r.entries {
		paths[i] = e.path
	}
	return paths
}

// Run executes every registered test whose path contains filter (matching
// all tests when filter is empty), in registration order, and returns
// one Result per test.
func (r *Runner) Run(filter string) []Result {
	var results []Result
	for _, e := range r.entries {
		if filter != "" && !strings.Contains(e.path, filter) {
			continue
		}
		results = append(results, r.runOne(e))
	}
	return results
}

func (r *Runner) runOne(e entry) (res Result) {
	res.Path = e.path
	if e.skip {
		res.Status = Skipped
		res.SkipReason = e.skipReason
		return res
	}

	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if p := recover(); p != nil {
			res.Status = Failed
			res.Err = fmt.Errorf("panic: %v", p)
		}
	}()

	fix, err := r.setup()
	if err != nil {
		res.Status = Failed
		res.Err = fmt.Errorf("setup: %w", err)
		return res
	}

	if err := e.fn(fix); err != nil {
		res.Status = Failed
		res.Err = err
		return res
	}
	res.Status = Passed
	return res
}

// PrintResults writes one line per result plus a trailing summary to w.
func PrintResults(w io.Writer, results []Result) {
	var passed, failed, skipped int
	for _, res := range results {
		switch res.Status {
		case Passed:
			passed++
			fmt.Fprintf(w, "%s %s (%s)\n", ui.Pass("PASS"), ui.Tag(res.Path), res.Duration)
		case Failed:
			failed++
			fmt.Fprintf(w, "%s %s: %v\n", ui.Fail("FAIL"), ui.Tag(res.Path), res.Err)
		case Skipped:
			skipped++
			fmt.Fprintf(w, "%s %s: %s\n", ui.Skip("SKIP"), ui.Tag(res.Path), res.SkipReason)
		}
	}
	fmt.Fprintln(w, ui.Header(fmt.Sprintf("\n%d passed, %d failed, %d skipped", passed, failed, skipped)))
}
