package track

import (
	"github.com/tracekit/heaptrace/model"
	"github.com/tracekit/heaptrace/track/ebpf"
)

// ebpfSink implements ebpf.Sink over a Tracker, translating each
// uprobe/uretprobe RawEvent into the Tracker call it corresponds to.
// The ring buffer carries only the call site's entry address, not a
// fully unwound native stack (unwinding multiple native frames from
// BPF context is out of this tracker's scope), so every native trace
// captured this way is effectively one frame deep; Capture still
// appends whatever managed shadow-stack frames are live for the
// thread, so managed call chains above a native allocation site are
// unaffected by this limitation.
type ebpfSink struct {
	t *Tracker
}

// NewEBPFSink returns an ebpf.Sink that forwards decoded events to t.
func NewEBPFSink(t *Tracker) ebpf.Sink {
	return ebpfSink{t: t}
}

func (s ebpfSink) OnEvent(ev ebpf.RawEvent) {
	tid := uint64(ev.TID)
	frame := []uint64{ev.Addr}
	switch ebpf.EventKind(ev.Kind) {
	case ebpf.EventMalloc, ebpf.EventCalloc:
		s.t.Malloc(tid, ev.Ptr, ev.Size, frame)
	case ebpf.EventFree:
		s.t.Free(tid, ev.Ptr)
	case ebpf.EventRealloc:
		s.t.Realloc(tid, ev.OldPtr, ev.Ptr, ev.Size, frame)
	case ebpf.EventMmap:
		s.t.Mmap(tid, ev.Ptr, ev.Size, ev.Prot, model.RegionUntracked, ev.Fd, frame)
	case ebpf.EventMunmap:
		s.t.Munmap(tid, ev.Ptr, ev.Size)
	case ebpf.EventMprotect:
		// permission changes on an already-tracked mapping carry no
		// cost-accounting meaning of their own; nothing to emit.
	}
}
