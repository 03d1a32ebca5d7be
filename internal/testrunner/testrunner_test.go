package testrunner

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/dm-devel/dmunit/internal/fixture"
	"github.com/dm-devel/dmunit/internal/memory"
)

func fakeSetup() (*fixture.Fixture, error) {
	mem := memory.New(0x1000, 0)
	return fixture.New(mem, nil, nil), nil
}

func TestRunExecutesOnlyMatchingPaths(t *testing.T) {
	r := New(fakeSetup)
	r.Register("/pdata/btree/empty_del", func(fix *fixture.Fixture) error { return nil })
	r.Register("/pdata/block_manager/create_destroy", func(fix *fixture.Fixture) error { return nil })

	results := r.Run("btree")
	if len(results) != 1 {
		t.Fatalf("Run(\"btree\") returned %d results, want 1", len(results))
	}
	if results[0].Path != "/pdata/btree/empty_del" {
		t.Errorf("matched path = %q, want /pdata/btree/empty_del", results[0].Path)
	}
}

func TestRunEmptyFilterRunsEverything(t *testing.T) {
	r := New(fakeSetup)
	r.Register("/a", func(fix *fixture.Fixture) error { return nil })
	r.Register("/b", func(fix *fixture.Fixture) error { return nil })
	if got := len(r.Run("")); got != 2 {
		t.Errorf("Run(\"\") returned %d results, want 2", got)
	}
}

func TestFailedTestReportsError(t *testing.T) {
	r := New(fakeSetup)
	wantErr := errors.New("boom")
	r.Register("/fails", func(fix *fixture.Fixture) error { return wantErr })

	results := r.Run("")
	if len(results) != 1 || results[0].Status != Failed {
		t.Fatalf("results = %+v, want one Failed result", results)
	}
	if !errors.Is(results[0].Err, wantErr) {
		t.Errorf("Err = %v, want %v", results[0].Err, wantErr)
	}
}

func TestPanicInsideTestIsRecoveredAsFailure(t *testing.T) {
	r := New(fakeSetup)
	r.Register("/panics", func(fix *fixture.Fixture) error {
		panic("guest fault")
	})
	results := r.Run("")
	if len(results) != 1 || results[0].Status != Failed {
		t.Fatalf("results = %+v, want one Failed result", results)
	}
}

func TestSkippedTestNeverCallsSetupOrFn(t *testing.T) {
	setupCalled := false
	setup := func() (*fixture.Fixture, error) {
		setupCalled = true
		return fakeSetup()
	}
	r := New(setup)
	r.Skip("/needs/real/object", "no compiled object available")

	results := r.Run("")
	if len(results) != 1 || results[0].Status != Skipped {
		t.Fatalf("results = %+v, want one Skipped result", results)
	}
	if results[0].SkipReason != "no compiled object available" {
		t.Errorf("SkipReason = %q", results[0].SkipReason)
	}
	if setupCalled {
		t.Error("setup was called for a skipped test")
	}
}

func TestPathsListsEverythingWithoutRunning(t *testing.T) {
	ran := false
	setup := func() (*fixture.Fixture, error) {
		ran = true
		return fakeSetup()
	}
	r := New(setup)
	r.Register("/a", func(fix *fixture.Fixture) error { return nil })
	r.Skip("/b", "reason")

	paths := r.Paths()
	if len(paths) != 2 || paths[0] != "/a" || paths[1] != "/b" {
		t.Errorf("Paths() = %v, want [/a /b]", paths)
	}
	if ran {
		t.Error("Paths() must not invoke setup")
	}
}

func TestPrintResultsSummaryLine(t *testing.T) {
	var buf bytes.Buffer
	results := []Result{
		{Path: "/a", Status: Passed},
		{Path: "/b", Status: Failed, Err: errors.New("bad")},
		{Path: "/c", Status: Skipped, SkipReason: "nope"},
	}
	PrintResults(&buf, results)
	out := buf.String()
	if !strings.Contains(out, "1 passed, 1 failed, 1 skipped") {
		t.Errorf("PrintResults output missing summary line:\n%s", out)
	}
}
