package views

import (
	"strings"
	"testing"

	"github.com/tracekit/heaptrace/accum"
)

func fixtureDataset(t *testing.T) *accum.Dataset {
	t.Helper()
	lines := []string{
		"s outer",
		"s outer.go",
		"s inner",
		"s inner.go",
		"i 1 1000 0 0 1 2",
		"i 2 2000 0 0 3 4",
		"t 1 0 0",
		"t 2 1 0",
		"+ 64 2 1000",
		"+ 64 2 1004",
		"c 5",
		"* 4096 3 0 0 1 8000",
	}
	r := accum.NewReader(accum.DefaultConfig(), accum.NoManagedRuntime())
	d, err := r.Load(strings.NewReader(strings.Join(lines, "\n") + "\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return d
}

func TestBottomUpMergesSharedCaller(t *testing.T) {
	d := fixtureDataset(t)
	nodes := BottomUp(d)
	if len(nodes) != 2 {
		t.Fatalf("BottomUp roots = %d, want 2 (inner from the mallocs, outer from the mmap on trace 1)", len(nodes))
	}
	if nodes[0].Location.Function != "inner" {
		t.Errorf("leaf function = %q, want inner", nodes[0].Location.Function)
	}
	if nodes[0].Self.Get(0).Allocations != 2 {
		t.Errorf("Self.Allocations = %d, want 2", nodes[0].Self.Get(0).Allocations)
	}
}

func TestCallerCalleeSeparatesSelfAndInclusive(t *testing.T) {
	d := fixtureDataset(t)
	rows := CallerCallee(d)
	var outer, inner *CallerCalleeRow
	for i := range rows {
		switch rows[i].Location.Function {
		case "outer":
			outer = &rows[i]
		case "inner":
			inner = &rows[i]
		}
	}
	if outer == nil || inner == nil {
		t.Fatalf("expected rows for both outer and inner, got %+v", rows)
	}
	if inner.Self.Get(0).Allocations != 2 {
		t.Errorf("inner.Self.Allocations = %d, want 2", inner.Self.Get(0).Allocations)
	}
	if outer.Self.Get(0).Allocations != 0 {
		t.Errorf("outer.Self.Allocations = %d, want 0 (outer never allocates directly)", outer.Self.Get(0).Allocations)
	}
	if outer.Inclusive.Get(0).Allocations != 2 {
		t.Errorf("outer.Inclusive.Allocations = %d, want 2", outer.Inclusive.Get(0).Allocations)
	}
}

func TestHistogramBucketsPowerOfTwo(t *testing.T) {
	d := fixtureDataset(t)
	buckets := Histogram(d)
	var found bool
	for _, b := range buckets {
		if b.LowerBound == 64 {
			found = true
			if b.Count != 2 {
				t.Errorf("bucket 64 count = %d, want 2", b.Count)
			}
		}
	}
	if !found {
		t.Fatalf("expected a bucket at LowerBound=64, got %+v", buckets)
	}
}

func TestFoldedStacksFormatsRootToLeaf(t *testing.T) {
	d := fixtureDataset(t)
	out := FoldedStacks(d, 0)
	if !strings.Contains(out, "outer;inner 2") {
		t.Errorf("FoldedStacks = %q, want a line for outer;inner with count 2", out)
	}
}
