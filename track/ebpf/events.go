package ebpf

// RawEvent mirrors the fixed-size record the BPF program pushes onto
// the ring buffer for one intercepted call; its layout matches the C
// struct referenced by the program's ringbuf_output call, so it can be
// decoded with encoding/binary.Read directly over the raw bytes.
type RawEvent struct {
	PID       uint32
	TID       uint32
	Kind      uint8 // EventKind
	_         [7]byte // padding to keep Addr/Size/Ptr 8-byte aligned
	Addr      uint64 // function entry address (used to tell symbols apart when one probe covers an alias)
	Size      uint64 // requested size, or old size for realloc/munmap/mprotect's length
	Ptr       uint64 // returned pointer (fetched from a paired uretprobe) or freed pointer
	OldPtr    uint64 // realloc's original pointer
	Prot      int32
	Fd        int32
}

// EventKind identifies which allocator entry point produced a RawEvent.
type EventKind uint8

const (
	EventMalloc EventKind = iota
	EventFree
	EventCalloc
	EventRealloc
	EventMmap
	EventMunmap
	EventMprotect
)

// RawEventSize is sizeof(RawEvent) on the wire, used to size the
// ring buffer reader's decode buffer.
const RawEventSize = 4 + 4 + 1 + 7 + 8 + 8 + 8 + 8 + 4 + 4
