package accum

import (
	"strings"
	"testing"

	"github.com/tracekit/heaptrace/model"
)

func resolvedFixture() string {
	return strings.Join([]string{
		"v 1 3",
		"# session test",
		"s main.allocate",
		"s main.go",
		"i 1 400000 0 0 1 2",
		"t 1 0 0",
		"+ 40 1 1000",
		"+ 40 1 1004",
		"- 1000",
		"* 1000 3 1 0 1 2000",
		"/ 1000 2000",
	}, "\n") + "\n"
}

func TestReaderAccumulatesMallocFree(t *testing.T) {
	r := NewReader(DefaultConfig(), NoManagedRuntime())
	data, err := r.Load(strings.NewReader(resolvedFixture()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	total := data.Total.Get(model.CostMalloc)
	if total.Allocations != 2 {
		t.Errorf("Allocations = %d, want 2", total.Allocations)
	}
	if total.Deallocations != 1 {
		t.Errorf("Deallocations = %d, want 1", total.Deallocations)
	}
	if total.Leaked != 64 {
		t.Errorf("Leaked = %d, want 64 (one outstanding 0x40-byte alloc)", total.Leaked)
	}
	if total.Peak != 128 {
		t.Errorf("Peak = %d, want 128 (both allocations live at once)", total.Peak)
	}
	if len(data.LeakedAllocations) != 1 {
		t.Errorf("LeakedAllocations = %d, want 1", len(data.LeakedAllocations))
	}
}

func TestReaderTemporaryOnlyWhenNoAllocIntervenes(t *testing.T) {
	stream := strings.Join([]string{
		"v 1 3",
		"s main.allocate",
		"s main.go",
		"i 1 400000 0 0 1 2",
		"t 1 0 0",
		"+ 20 1 100", // malloc(A)
		"+ 20 1 200", // malloc(B) intervenes before free(A)
		"- 100",      // free(A): not temporary, malloc(B) intervened
		"- 200",      // free(B): temporary, nothing intervened since malloc(B)
	}, "\n") + "\n"

	r := NewReader(DefaultConfig(), NoManagedRuntime())
	data, err := r.Load(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	total := data.Total.Get(model.CostMalloc)
	if total.Temporary != 1 {
		t.Errorf("Temporary = %d, want 1 (only free(B) has no intervening allocation)", total.Temporary)
	}
}

func TestReaderLeakedAllocationsSurviveSharedInfo(t *testing.T) {
	stream := strings.Join([]string{
		"v 1 3",
		"s main.allocate",
		"s main.go",
		"i 1 400000 0 0 1 2",
		"t 1 0 0",
		"+ 40 1 1000",
		"+ 40 1 1004",
		"- 1000",
	}, "\n") + "\n"

	r := NewReader(DefaultConfig(), NoManagedRuntime())
	data, err := r.Load(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(data.LeakedAllocations) != 1 {
		t.Errorf("LeakedAllocations = %d, want 1 (the second pointer sharing the same info is still live)", len(data.LeakedAllocations))
	}
}

func TestReaderTracksMmapRanges(t *testing.T) {
	r := NewReader(DefaultConfig(), NoManagedRuntime())
	data, err := r.Load(strings.NewReader(resolvedFixture()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(data.Ranges.All()) != 0 {
		t.Errorf("expected the munmap to remove the range, got %d ranges", len(data.Ranges.All()))
	}
}

func TestReaderRejectsMalformedRecord(t *testing.T) {
	r := NewReader(DefaultConfig(), NoManagedRuntime())
	_, err := r.Load(strings.NewReader("+ notahex\n"))
	if err == nil {
		t.Fatal("expected an error on a malformed malloc record")
	}
}

func TestReaderUnknownTagFails(t *testing.T) {
	r := NewReader(DefaultConfig(), NoManagedRuntime())
	_, err := r.Load(strings.NewReader("? garbage\n"))
	if err == nil {
		t.Fatal("expected an error on an unknown record tag")
	}
}
