// Package track implements the tracker runtime: the hot-path component
// that observes heap events in a traced process, captures backtraces,
// interns them into a trace tree, and serializes them to an output
// stream.
package track

import (
	"sync"

	"github.com/tracekit/heaptrace/model"
)

// MaxFrames bounds the number of frames captured per half (native,
// managed) of a combined trace, matching the original's MAX_SIZE.
const MaxFrames = 64

// Trace is an ordered sequence of raw instruction pointer addresses,
// callee first, caller last, as captured for one event. Managed
// addresses carry model.ManagedBit; model.ManagedBoundaryIP separates
// the managed half from the native half when both are present.
type Trace struct {
	IPs []uint64
}

// recursionGuard is the per-traced-thread reentrancy guard. Go has no
// direct thread-local-storage primitive, so instead of a thread_local
// bool the guard is keyed by the traced thread's kernel TID, which
// every event carries; it does not depend on which goroutine or OS
// thread handles the event.
type recursionGuard struct {
	mu     sync.Mutex
	active map[uint64]bool // keyed by OS thread id reported by the kernel
}

func newRecursionGuard() *recursionGuard {
	return &recursionGuard{active: make(map[uint64]bool)}
}

// Enter returns false if tid is already inside a capture (reentrant
// call triggered by the capture machinery itself, e.g. an allocation
// made by the unwinder); the caller must skip the event entirely.
// On success it returns a leave function that must be deferred.
func (g *recursionGuard) Enter(tid uint64) (ok bool, leave func()) {
	g.mu.Lock()
	if g.active[tid] {
		g.mu.Unlock()
		return false, func() {}
	}
	g.active[tid] = true
	g.mu.Unlock()
	return true, func() {
		g.mu.Lock()
		delete(g.active, tid)
		g.mu.Unlock()
	}
}

// Capturer produces Traces by combining a native unwind (supplied by
// the eBPF stack-walking helper) with the thread-local managed shadow
// stack.
type Capturer struct {
	guard  *recursionGuard
	shadow *ShadowStacks
}

// NewCapturer creates a Capturer backed by the given shadow-stack
// registry.
func NewCapturer(shadow *ShadowStacks) *Capturer {
	return &Capturer{guard: newRecursionGuard(), shadow: shadow}
}

// Capture combines a native frame buffer (already unwound and trimmed
// of trailing null frames by the eBPF side) with the calling thread's
// managed shadow stack, inserting the managed/native boundary marker
// between the two halves when the managed half is non-empty. skip
// native frames are dropped from the head of nativeIPs first.
func (c *Capturer) Capture(tid uint64, nativeIPs []uint64, skip int) (Trace, func(), bool) {
	ok, leave := c.guard.Enter(tid)
	if !ok {
		return Trace{}, func() {}, false
	}
	if skip > 0 && skip <= len(nativeIPs) {
		nativeIPs = nativeIPs[skip:]
	}
	if len(nativeIPs) > MaxFrames {
		nativeIPs = nativeIPs[:MaxFrames]
	}

	managed := c.shadow.Snapshot(tid)
	if len(managed) > MaxFrames {
		managed = managed[:MaxFrames]
	}

	ips := make([]uint64, 0, len(nativeIPs)+len(managed)+1)
	ips = append(ips, nativeIPs...)
	if len(managed) > 0 {
		ips = append(ips, model.ManagedBoundaryIP)
	}
	ips = append(ips, managed...)
	return Trace{IPs: ips}, leave, true
}

// CallerFirst returns the trace's IPs reversed into caller-to-callee
// order, the order Tree.Index expects.
func (tr Trace) CallerFirst() []uint64 {
	out := make([]uint64, len(tr.IPs))
	for i, ip := range tr.IPs {
		out[len(tr.IPs)-1-i] = ip
	}
	return out
}

// CaptureSynthetic produces a 2-frame trace attributing some anonymous
// region (e.g. the process's sbrk heap) to a fixed address, matching
// the original's capture_synthetic.
func CaptureSynthetic(address uint64) Trace {
	return Trace{IPs: []uint64{address, 0}}
}
