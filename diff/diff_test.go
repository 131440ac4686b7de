package diff

import (
	"strings"
	"testing"

	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/model"
)

func load(t *testing.T, lines ...string) *accum.Dataset {
	t.Helper()
	r := accum.NewReader(accum.DefaultConfig(), accum.NoManagedRuntime())
	d, err := r.Load(strings.NewReader(strings.Join(lines, "\n") + "\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return d
}

func TestComputeSubtractsMatchingTrace(t *testing.T) {
	base := load(t,
		"s alloc_hot_path",
		"s hot.go",
		"i 1 1000 0 0 1 2",
		"t 1 0 0",
		"+ 100 1 1",
	)
	self := load(t,
		"s alloc_hot_path",
		"s hot.go",
		"i 1 2000 0 0 1 2",
		"t 1 0 0",
		"+ 100 1 1",
		"+ 100 1 2",
	)

	result := Compute(base, self)

	got := result.PerTrace[1].Get(model.CostMalloc)
	if got.Allocations != 1 {
		t.Errorf("Allocations = %d, want 1 (self's 2 minus base's 1)", got.Allocations)
	}
	if got.Leaked != 256 {
		t.Errorf("Leaked = %d, want 256 (one outstanding 0x100-byte alloc)", got.Leaked)
	}
}

func TestComputeCopiesBaseOnlyChain(t *testing.T) {
	base := load(t,
		"s only_in_base",
		"s base.go",
		"i 1 1000 0 0 1 2",
		"t 1 0 0",
		"+ 50 1 1",
	)
	self := load(t,
		"s only_in_self",
		"s self.go",
		"i 1 2000 0 0 1 2",
		"t 1 0 0",
		"+ 50 1 1",
	)

	result := Compute(base, self)

	if len(result.Traces) != 2 {
		t.Fatalf("Traces = %d, want 2 (self's own trace plus base's copied-in one)", len(result.Traces))
	}
	changed := ChangedTraces(result)
	if len(changed) != 2 {
		t.Fatalf("ChangedTraces = %d, want 2", len(changed))
	}
}

func TestChangedTracesPrunesZeroCost(t *testing.T) {
	base := load(t,
		"s f",
		"s f.go",
		"i 1 1000 0 0 1 2",
		"t 1 0 0",
		"+ 100 1 1",
	)
	self := load(t,
		"s f",
		"s f.go",
		"i 1 2000 0 0 1 2",
		"t 1 0 0",
		"+ 100 1 1",
	)

	result := Compute(base, self)
	if got := ChangedTraces(result); len(got) != 0 {
		t.Errorf("ChangedTraces = %v, want none (identical runs cancel out)", got)
	}
}
