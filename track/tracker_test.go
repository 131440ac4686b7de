package track

import (
	"bytes"
	"strings"
	"testing"
)

// memDestination buffers written records for inspection without
// touching a real file or socket.
type memDestination struct {
	buf bytes.Buffer
}

func (d *memDestination) Write(p []byte) (int, error) { return d.buf.Write(p) }
func (d *memDestination) Flush() error                { return nil }
func (d *memDestination) Close() error                { return nil }

type emptyModules struct{}

func (emptyModules) ListModules() ([]ModuleDump, error) { return nil, nil }

func newTestTracker(t *testing.T) (*Tracker, *memDestination) {
	t.Helper()
	dest := &memDestination{}
	tr := NewTracker(dest, emptyModules{})
	t.Cleanup(tr.Stop)
	return tr, dest
}

func TestMallocEmitsRecord(t *testing.T) {
	tr, dest := newTestTracker(t)
	tr.Malloc(1, 0x2000, 64, []uint64{0x1000})
	out := dest.buf.String()
	if !strings.Contains(out, "+ 40 ") {
		t.Errorf("output = %q, want a `+ 40 <trace> <ptr>` malloc record", out)
	}
	if !strings.Contains(out, " 2000\n") {
		t.Errorf("output = %q, want the pointer 0x2000 on the malloc record", out)
	}
}

func TestFreeEmitsRecord(t *testing.T) {
	tr, dest := newTestTracker(t)
	tr.Malloc(1, 0x2000, 64, []uint64{0x1000})
	tr.Free(1, 0x2000)
	out := dest.buf.String()
	if !strings.Contains(out, "- 2000\n") {
		t.Errorf("output = %q, want a `- 2000` free record", out)
	}
}

func TestMmapMunmapEmitRecords(t *testing.T) {
	tr, dest := newTestTracker(t)
	tr.Mmap(1, 0x3000, 4096, 3, 0, -1, []uint64{0x1000})
	tr.Munmap(1, 0x3000, 4096)
	out := dest.buf.String()
	if !strings.Contains(out, "* 1000 ") {
		t.Errorf("output = %q, want a `*` mmap record with length 0x1000", out)
	}
	if !strings.Contains(out, "/ 1000 3000\n") {
		t.Errorf("output = %q, want a `/ 1000 3000` munmap record", out)
	}
}

func TestForkedTrackerIgnoresEvents(t *testing.T) {
	tr, dest := newTestTracker(t)
	tr.pid = currentPID() + 1 // simulate a fork child without re-executing the process
	before := dest.buf.Len()  // header is already written by NewTracker at this point
	tr.Malloc(1, 0x2000, 64, []uint64{0x1000})
	tr.Free(1, 0x2000)
	if dest.buf.Len() != before {
		t.Errorf("forked tracker emitted a record after pid mismatch")
	}
}
