package interp

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tracekit/heaptrace/model"
	"github.com/tracekit/heaptrace/symtab"
)

// stubResolver answers every offset with the same synthetic frame, so
// tests can assert on the resolved stream's shape without real debug
// info or an on-disk binary.
type stubResolver struct {
	fn, file string
	line     uint32
}

func (r stubResolver) Resolve(modulePath string, offset uint64) (symtab.Resolved, error) {
	return symtab.Resolved{Frame: symtab.Frame{Function: r.fn, File: r.file, Line: r.line}}, nil
}

func run(t *testing.T, resolver symtab.Resolver, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	ip := New(resolver, &out)
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	if err := ip.Run(in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestResolveIPEmitsRawAddressAndResolvedFields(t *testing.T) {
	out := run(t, stubResolver{fn: "main", file: "main.go"},
		"v 1 3",
		"m /bin/app - 0 1000 2000",
		"t 1000 0 0",
	)
	if !strings.Contains(out, "s main\n") || !strings.Contains(out, "s main.go\n") {
		t.Fatalf("output = %q, want interned function/file strings", out)
	}
	var iLine string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "i ") {
			iLine = line
		}
	}
	if iLine == "" {
		t.Fatalf("output = %q, want an `i` record", out)
	}
	fields := strings.Fields(iLine)
	if len(fields) != 7 {
		t.Fatalf("i record = %q, want 7 fields (tag, id, raw, module, offset, func, file)", iLine)
	}
	if fields[2] != "1000" {
		t.Errorf("i record raw address = %q, want 1000", fields[2])
	}
}

func TestManagedNameIsReKeyedToIPID(t *testing.T) {
	out := run(t, nil,
		"v 1 3",
		"n 8000000000000001 MyType.Method",
	)
	var nLine string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "n ") {
			nLine = line
		}
	}
	if nLine == "" {
		t.Fatalf("output = %q, want an `n` record", out)
	}
	fields := strings.Fields(nLine)
	if len(fields) < 2 {
		t.Fatalf("n record = %q, too short", nLine)
	}
	if fields[1] == "8000000000000001" {
		t.Errorf("n record = %q, want the raw address re-keyed to a resolved IPID, not passed through", nLine)
	}
	if !strings.Contains(nLine, "MyType.Method") {
		t.Errorf("n record = %q, want the original name preserved", nLine)
	}
}

func TestMallocDeduplicatesAllocationInfo(t *testing.T) {
	ip := New(nil, &bytes.Buffer{})
	a := ip.internAllocInfo(model.AllocationInfo{Size: 64, TraceID: 1})
	b := ip.internAllocInfo(model.AllocationInfo{Size: 64, TraceID: 1})
	c := ip.internAllocInfo(model.AllocationInfo{Size: 64, TraceID: 2})
	if a != b {
		t.Errorf("same (size,trace,managed) got distinct AllocInfoIDs %v and %v", a, b)
	}
	if a == c {
		t.Errorf("different trace got the same AllocInfoID %v", a)
	}
}

func TestSummaryReportsAllocationStatistics(t *testing.T) {
	var out bytes.Buffer
	ip := New(nil, &out)
	stream := strings.Join([]string{
		"v 1 3",
		"+ 40 1 1000", // native alloc, not the most recent at its free
		"+ 40 1 1004", // native alloc, left outstanding (leaked)
		"- 1000",      // frees 1000: malloc(1004) intervened, not temporary
		"^ 2 80 2000", // managed alloc, info index 2
		"~ 2",         // frees it immediately: temporary
	}, "\n") + "\n"
	if err := ip.Run(strings.NewReader(stream)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	summary := ip.Summary()
	for _, want := range []string{
		"total allocations: 2",
		"leaked allocations: 1",
		"managed allocations: 1",
		"managed leaked: 0",
		"temporary allocations: 1",
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("Summary() = %q, want it to contain %q", summary, want)
		}
	}
}

func TestUnknownTagFails(t *testing.T) {
	var out bytes.Buffer
	ip := New(nil, &out)
	if err := ip.Run(strings.NewReader("? nonsense\n")); err == nil {
		t.Fatal("expected an error for an unknown record tag")
	}
}
