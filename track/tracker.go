package track

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tracekit/heaptrace/gcbook"
	"github.com/tracekit/heaptrace/model"
)

// Tracker is the process-wide singleton that owns the writer, the
// trace tree, the module cache, and the per-GC accumulators. It is
// one-shot initialized and, on normal process exit, deliberately left
// to leak rather than torn down, so that already-destructed globals
// of the host program cannot crash a destructor. An explicit Stop requests full cleanup instead.
type Tracker struct {
	writer   *Writer
	tree     *Tree
	cache    *moduleCache
	capturer *Capturer
	shadow   *ShadowStacks
	timer    *Timer
	sessionID uuid.UUID
	startedAt time.Time

	pid int // remembered at init; a mismatch on a later call means we're
	        // the child of a fork and must disable ourselves. Go has no
	        // safe hook to run between fork() and exec(), so we detect
	        // the fork after the fact instead of intercepting it.

	mu          sync.Mutex // guards gcActive, objGraph, managed live set during one GC cycle
	gcActive    bool
	gcNum       uint32
	objGraph    *gcbook.Graph
	managed     *gcbook.Replayer
	survivalBuf []gcbook.SurvivalRange

	stopped atomic.Bool

	classNames map[model.ClassID]string
}

// NewTracker creates a tracker writing to dest, writes the file header
// (a `v` record and a `# session <uuid>` comment line) and starts the
// timer goroutine before returning. No `x`, `X` or `I` records are
// written, and there is no init callback.
func NewTracker(dest Destination, modules ModuleSource) *Tracker {
	w := NewWriter(dest)
	shadow := NewShadowStacks()
	t := &Tracker{
		writer:    w,
		tree:      NewTree(),
		cache:     newModuleCache(modules),
		capturer:  NewCapturer(shadow),
		shadow:    shadow,
		sessionID: uuid.New(),
		startedAt: time.Now(),
		pid:       currentPID(),
		objGraph:  gcbook.NewGraph(),
		managed:   gcbook.NewReplayer(),
		classNames: make(map[model.ClassID]string),
	}
	t.writeHeader()
	t.timer = NewTimer(t, t.startedAt)
	go t.timer.Run()
	return t
}

func (t *Tracker) writeHeader() {
	unlock := t.writer.AcquireForWrite()
	defer unlock()
	t.writer.WriteString(fmt.Sprintf("v %x %x\n", FormatVersion, FileFormatVersion))
	t.writer.WriteString(fmt.Sprintf("# session %s\n", t.sessionID))
}

// FormatVersion and FileFormatVersion identify this tracker's wire
// protocol, checked by the reader.
const (
	FormatVersion     = 1
	FileFormatVersion = 3
)

// forked reports whether the calling process is a fork-child of the
// process that created this Tracker; if so every hot-path handler
// becomes a no-op, matching the original's "child zeroes its
// singleton pointer" fork policy.
func (t *Tracker) forked() bool {
	return currentPID() != t.pid
}

// Stop requests full cleanup: the timer thread is joined and the
// writer is closed. Call this only when the traced program explicitly
// asks to stop tracking before exit; otherwise let the process exit
// and the tracker leak.
func (t *Tracker) Stop() {
	if !t.stopped.CompareAndSwap(false, true) {
		return
	}
	t.timer.Stop()
	t.writer.Close()
}

// --- event handlers ---
// Every hook follows: skip if forked or reentrant; capture a trace;
// acquire the writer lock; flush the module cache if dirty; emit.

// Malloc records `+ <size> <trace> <ptr>`.
func (t *Tracker) Malloc(tid, ptr, size uint64, nativeIPs []uint64) {
	if t.forked() || t.writer.Failed() {
		return
	}
	trace, leave, ok := t.capturer.Capture(tid, nativeIPs, 0)
	defer leave()
	if !ok {
		return
	}
	traceID := t.indexTrace(trace)

	unlock := t.writer.AcquireForWrite()
	defer unlock()
	t.cache.ensure(t.writer)
	t.writer.WriteString(fmt.Sprintf("+ %x %x %x\n", size, traceID, ptr))
}

// Free records `- <ptr>`.
func (t *Tracker) Free(tid, ptr uint64) {
	if t.forked() || t.writer.Failed() {
		return
	}
	if ok, leave := t.capturer.guard.Enter(tid); !ok {
		return
	} else {
		defer leave()
	}
	unlock := t.writer.AcquireForWrite()
	defer unlock()
	t.writer.WriteString(fmt.Sprintf("- %x\n", ptr))
}

// Realloc records `- <old>` followed by `+ <size> <trace> <new>`
// atomically with respect to the writer lock.
func (t *Tracker) Realloc(tid, oldPtr, newPtr, size uint64, nativeIPs []uint64) {
	if t.forked() || t.writer.Failed() {
		return
	}
	trace, leave, ok := t.capturer.Capture(tid, nativeIPs, 0)
	defer leave()
	if !ok {
		return
	}
	traceID := t.indexTrace(trace)

	unlock := t.writer.AcquireForWrite()
	defer unlock()
	t.cache.ensure(t.writer)
	t.writer.WriteString(fmt.Sprintf("- %x\n", oldPtr))
	t.writer.WriteString(fmt.Sprintf("+ %x %x %x\n", size, traceID, newPtr))
}

// Mmap records `* <len> <prot> <is_coreclr> <fd> <trace> <ptr>`.
func (t *Tracker) Mmap(tid, ptr, length uint64, prot int32, isCoreCLR model.CoreCLRState, fd int32, nativeIPs []uint64) {
	if t.forked() || t.writer.Failed() {
		return
	}
	trace, leave, ok := t.capturer.Capture(tid, nativeIPs, 0)
	defer leave()
	if !ok {
		return
	}
	traceID := t.indexTrace(trace)

	unlock := t.writer.AcquireForWrite()
	defer unlock()
	t.cache.ensure(t.writer)
	t.writer.WriteString(fmt.Sprintf("* %x %x %x %x %x %x\n", length, prot, isCoreCLR, fd, traceID, ptr))
}

// Munmap records `/ <len> <ptr>`.
func (t *Tracker) Munmap(tid, ptr, length uint64) {
	if t.forked() || t.writer.Failed() {
		return
	}
	if ok, leave := t.capturer.guard.Enter(tid); !ok {
		return
	} else {
		defer leave()
	}
	unlock := t.writer.AcquireForWrite()
	defer unlock()
	t.writer.WriteString(fmt.Sprintf("/ %x %x\n", length, ptr))
}

// ManagedAlloc records `^ <trace> <size> <ptr>` and inserts ptr into
// the managed live-pointer set.
func (t *Tracker) ManagedAlloc(tid, ptr, size uint64, nativeIPs []uint64) {
	if t.forked() || t.writer.Failed() {
		return
	}
	trace, leave, ok := t.capturer.Capture(tid, nativeIPs, 0)
	defer leave()
	if !ok {
		return
	}
	traceID := t.indexTrace(trace)

	unlock := t.writer.AcquireForWrite()
	defer unlock()
	t.cache.ensure(t.writer)
	t.writer.WriteString(fmt.Sprintf("^ %x %x %x\n", traceID, size, ptr))

	t.mu.Lock()
	t.managed.Insert(ptr, model.AllocInfoID(traceID)) // alloc index unknown on this side; see interp
	t.mu.Unlock()
}

// ClassLoad records `N <id> <name>` (only when the class's name is new
// or has changed) then `C <id>` for a newly loaded managed class.
func (t *Tracker) ClassLoad(id model.ClassID, name string) {
	if t.forked() || t.writer.Failed() {
		return
	}
	unlock := t.writer.AcquireForWrite()
	defer unlock()
	if t.classNames[id] != name {
		t.classNames[id] = name
		t.writer.WriteString(fmt.Sprintf("N %x %s\n", id, name))
	}
	t.writer.WriteString(fmt.Sprintf("C %x\n", id))
}

// GCStart records `G 1`, entering GC mode: the object-reference graph
// is cleared and survival-range accumulation begins.
func (t *Tracker) GCStart() {
	if t.forked() || t.writer.Failed() {
		return
	}
	t.mu.Lock()
	t.gcActive = true
	t.gcNum++
	t.objGraph.Clear()
	t.survivalBuf = t.survivalBuf[:0]
	t.mu.Unlock()

	unlock := t.writer.AcquireForWrite()
	defer unlock()
	t.writer.WriteString("G 1\n")
}

// SurvivedRange records `L <len> <src> <dst>`; replay is deferred to
// GCFinish so all ranges for the cycle are known at once.
func (t *Tracker) SurvivedRange(src, dst, length uint64) {
	if t.forked() || t.writer.Failed() {
		return
	}
	t.mu.Lock()
	if !t.gcActive {
		t.mu.Unlock()
		return // diagnostic: survival range outside a GC cycle, dropped
	}
	t.survivalBuf = append(t.survivalBuf, gcbook.SurvivalRange{Src: src, Dst: dst, Len: length})
	t.mu.Unlock()

	unlock := t.writer.AcquireForWrite()
	defer unlock()
	t.writer.WriteString(fmt.Sprintf("L %x %x %x\n", length, src, dst))
}

// ObjectReference records an edge into the in-progress object graph.
// The edge itself is only written to the stream at G 0, in DFS
// pre-order with its real child count (see GCFinish); writing it here
// too would double-write every edge with a hardcoded n_children of 1.
func (t *Tracker) ObjectReference(parentPtr, childPtr uint64, childClass model.ClassID, size uint64, parentAllocIdx model.AllocInfoID) {
	if t.forked() || t.writer.Failed() {
		return
	}
	t.mu.Lock()
	if !t.gcActive {
		t.mu.Unlock()
		return
	}
	err := t.objGraph.AddEdge(parentPtr, childPtr, childClass, size, t.gcNum)
	gcNum := t.gcNum
	t.mu.Unlock()
	if err != nil {
		// Snapshot inconsistency aborts rather than producing corrupt
		// output.
		panic(fmt.Sprintf("track: object graph inconsistency in GC %d: %v", gcNum, err))
	}
}

// GCFinish records `G 0`, replays survival ranges to prune
// non-survivors (emitting `~` for each dead pointer), and flushes the
// object-reference graph.
func (t *Tracker) GCFinish() {
	if t.forked() || t.writer.Failed() {
		return
	}
	t.mu.Lock()
	ranges := t.survivalBuf
	gcNum := t.gcNum
	dead, replayErr := t.managed.Apply(ranges)
	t.gcActive = false
	nodes, graphErr := t.objGraph.Finish(gcNum)
	t.mu.Unlock()

	unlock := t.writer.AcquireForWrite()
	defer unlock()
	for _, idx := range dead {
		t.writer.WriteString(fmt.Sprintf("~ %x\n", idx))
	}
	for _, n := range nodes {
		t.writer.WriteString(fmt.Sprintf("e %x %x %x %x\n", n.GCNum, len(n.Children), n.ObjectPtr, n.ClassID))
	}
	t.writer.WriteString("G 0\n")
	_ = replayErr // overlap is a diagnostic, already logged by caller if desired
	if graphErr != nil {
		panic(fmt.Sprintf("track: object graph inconsistency in GC %d: %v", gcNum, graphErr))
	}
}

// OnDlopen / OnDlclose mark the module cache dirty; the next event
// that references an IP will force a fresh dump.
func (t *Tracker) OnDlopen()  { t.cache.MarkDirty() }
func (t *Tracker) OnDlclose() { t.cache.MarkDirty() }

// EmitTimestamp implements TimestampSampler for the background timer.
func (t *Tracker) EmitTimestamp(ms uint64) {
	if t.writer.Failed() {
		return
	}
	unlock := t.writer.AcquireForWrite()
	defer unlock()
	t.writer.WriteString(fmt.Sprintf("c %d\n", ms))
}

// EmitSmaps implements TimestampSampler; the actual /proc/<pid>/smaps
// read lives in smaps.go, which calls back into the writer under its
// own lock acquisition when invoked from the timer.
func (t *Tracker) EmitSmaps() {
	if t.writer.Failed() {
		return
	}
	chunk, err := ReadSmaps(t.pid)
	if err != nil {
		return
	}
	unlock := t.writer.AcquireForWrite()
	defer unlock()
	WriteSmapsChunk(t.writer, chunk)
}

// indexTrace builds the caller-first IP slice from a capture and
// indexes it into the trace tree, emitting any new edges/names under
// the writer lock.
func (t *Tracker) indexTrace(tr Trace) model.TraceID {
	ips := tr.CallerFirst()
	managed := make([]bool, len(ips))
	for i, ip := range ips {
		managed[i] = model.IsManagedAddress(ip)
	}
	unlock := t.writer.AcquireForWrite()
	defer unlock()
	t.cache.ensure(t.writer) // new `t` edges reference IPs too
	return t.tree.Index(ips, managed, t.managedFrameName, writerSink{t.writer})
}

// managedFrameName returns the placeholder name "managed_<hex ip>" for
// a managed IP; class and method names are not looked up.
func (t *Tracker) managedFrameName(ip uint64) string {
	return fmt.Sprintf("managed_%x", ip)
}

type writerSink struct{ w *Writer }

func (s writerSink) EmitEdge(rawIP uint64, parent model.TraceID, isManaged bool) {
	m := 0
	if isManaged {
		m = 1
	}
	s.w.WriteString(fmt.Sprintf("t %x %x %x\n", rawIP, parent, m))
}

func (s writerSink) EmitName(rawIP uint64, name string) {
	s.w.WriteString(fmt.Sprintf("n %x %s\n", rawIP, name))
}
