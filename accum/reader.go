package accum

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tracekit/heaptrace/model"
)

// liveAlloc is one currently-outstanding allocation, tracked by
// pointer so a later free/managed-free record can find its size and
// trace without the wire format having to repeat them.
type liveAlloc struct {
	info  model.AllocInfoID
	trace model.TraceID
	size  uint64
}

// Dataset is everything a report view is built from: the interned
// tables the resolved stream carried plus the cost vectors the
// accumulator derived from replaying it.
type Dataset struct {
	Strings []string
	IPs     []model.IP
	Traces  []model.TraceNode
	Allocs  []model.AllocationInfo

	Modules *model.ModuleList

	// PerTrace sums every allocation rooted at each TraceID (1-based,
	// index 0 unused to line up with TraceID's own 1-based numbering).
	PerTrace []model.CostVector
	// Total is the aggregate across every trace.
	Total model.CostVector

	Ranges *RangeMap

	// LeakedAllocations lists allocations never observed to be freed
	// by the end of the stream, keyed by their AllocInfoID.
	LeakedAllocations []model.AllocInfoID

	// Timeline is a coarse, timestamp-ordered sample of Total after
	// every cost-changing event, the non-GUI precursor to the chart
	// views package builds time-bucketed series from.
	Timeline []TimelineSample
}

// TimelineSample pairs a millisecond timestamp with the aggregate
// cost vector at that moment.
type TimelineSample struct {
	TimestampMS uint64
	Total       model.CostVector
}

// Reader accumulates one resolved stream into a Dataset set. The
// original re-read its input file up to three times (once to size
// its tables, once to compute peak timing precisely, once to build
// the final report) because its C++ allocator model kept the whole
// stream on disk and only small fixed-size tables in memory. This
// accumulator instead buffers the decoded stream once, so only two
// passes over that buffer are needed: Load resolves the wire format
// into the permanent tables (equivalent to the original's first
// pass), and accumulate (run at the end of Load) walks the decoded
// events chronologically and updates each cost's peak after every
// change. The aggregate Total peak is the highest aggregate level
// reached; each PerTrace peak is that trace's own highest level, taken
// whenever it occurred, not its level at the moment of the aggregate
// peak.
type Reader struct {
	cfg Config

	classifier ManagedRegionClassifier

	strings   []string
	stringIdx map[model.StringID]string

	ips []model.IP

	traces []model.TraceNode

	allocInfos   []model.AllocationInfo
	allocInfoIdx map[allocKey]model.AllocInfoID

	events []decodedEvent

	ranges *RangeMap

	timestamp uint64
}

// NewReader returns a Reader configured with cfg and classifier.
// classifier may be NoManagedRuntime() if the traced process carries
// no managed runtime.
func NewReader(cfg Config, classifier ManagedRegionClassifier) *Reader {
	return &Reader{
		cfg:          cfg,
		classifier:   classifier,
		stringIdx:    make(map[model.StringID]string),
		allocInfoIdx: make(map[allocKey]model.AllocInfoID),
		ranges:       NewRangeMap(),
	}
}

// allocKey dedups allocations the same way package interp's own
// internAllocInfo does, since the wire format carries (size, trace)
// on every malloc/managed-alloc record rather than a precomputed
// AllocInfoID.
type allocKey struct {
	trace   model.TraceID
	size    uint64
	managed bool
}

type eventKind int

const (
	evMalloc eventKind = iota
	evFree
	evMmap
	evMunmap
	evManagedAlloc
	evManagedFree
	evSmapsRSS
)

type decodedEvent struct {
	kind eventKind
	ts   uint64

	size  uint64
	trace model.TraceID
	ptr   uint64

	prot    uint32
	fd      int32
	coreclr model.CoreCLRState

	rssKB uint64
}

// Load reads a resolved stream produced by package interp, in full,
// then replays it to build a Dataset set.
func (r *Reader) Load(src io.Reader) (*Dataset, error) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := r.decode(line); err != nil {
			return nil, fmt.Errorf("accum: %q: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return r.accumulate(), nil
}

func fields(line string) []string { return strings.Fields(line) }

func parseHex(s string) (uint64, error) { return strconv.ParseUint(s, 16, 64) }

func (r *Reader) decode(line string) error {
	f := fields(line)
	switch line[0] {
	case '#':
		return nil
	case 'v':
		// `v <format> <file format>`; only file format 3 (the version
		// package track writes) is accepted.
		if len(f) != 3 {
			return fmt.Errorf("malformed version record")
		}
		if v, err := parseHex(f[2]); err != nil || v != 3 {
			return fmt.Errorf("unsupported file format version %q", f[2])
		}
		return nil
	case 's':
		r.strings = append(r.strings, strings.TrimPrefix(line, "s "))
		r.stringIdx[model.StringID(len(r.strings))] = r.strings[len(r.strings)-1]
		return nil
	case 'i':
		return r.decodeIP(f)
	case 't':
		return r.decodeTrace(f)
	case 'n', 'N', 'C', 'm':
		return nil // display-only naming and module bookkeeping; no cost impact
	case '+':
		return r.decodeMalloc(f)
	case '-':
		if len(f) != 2 {
			return fmt.Errorf("malformed free")
		}
		ptr, err := parseHex(f[1])
		if err != nil {
			return err
		}
		r.events = append(r.events, decodedEvent{kind: evFree, ts: r.timestamp, ptr: ptr})
		return nil
	case '*':
		return r.decodeMmap(f)
	case '/':
		if len(f) != 3 {
			return fmt.Errorf("malformed munmap")
		}
		length, err1 := parseHex(f[1])
		ptr, err2 := parseHex(f[2])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("malformed munmap fields")
		}
		r.events = append(r.events, decodedEvent{kind: evMunmap, ts: r.timestamp, size: length, ptr: ptr})
		return nil
	case '^':
		if len(f) != 4 {
			return fmt.Errorf("malformed managed alloc")
		}
		trace, err1 := strconv.ParseUint(f[1], 16, 32)
		size, err2 := parseHex(f[2])
		ptr, err3 := parseHex(f[3])
		if err1 != nil || err2 != nil || err3 != nil {
			return fmt.Errorf("malformed managed alloc fields")
		}
		r.events = append(r.events, decodedEvent{kind: evManagedAlloc, ts: r.timestamp,
			trace: model.TraceID(trace), size: size, ptr: ptr})
		return nil
	case '~':
		if len(f) != 2 {
			return fmt.Errorf("malformed managed free")
		}
		idx, err := strconv.ParseUint(f[1], 16, 32)
		if err != nil {
			return err
		}
		r.events = append(r.events, decodedEvent{kind: evManagedFree, ts: r.timestamp,
			size: uint64(idx)}) // AllocInfoID smuggled through size; see accumulate
		return nil
	case 'G', 'L', 'e':
		return nil // GC graph/survival bookkeeping already folded into ~ records
	case 'c':
		ms, err := strconv.ParseUint(f[1], 10, 64)
		if err != nil {
			return err
		}
		r.timestamp = ms
		return nil
	case 'K':
		return nil // smaps region detail folds into the following R
	case 'R':
		kb, err := parseHex(f[1])
		if err != nil {
			return err
		}
		r.events = append(r.events, decodedEvent{kind: evSmapsRSS, ts: r.timestamp, rssKB: kb})
		return nil
	default:
		return fmt.Errorf("unknown record tag %q", line[0])
	}
}

func (r *Reader) decodeIP(f []string) error {
	if len(f) != 7 {
		return fmt.Errorf("malformed ip record")
	}
	raw, err0 := parseHex(f[2])
	modID, err1 := strconv.ParseUint(f[3], 16, 32)
	modOff, err2 := parseHex(f[4])
	funcID, err3 := strconv.ParseUint(f[5], 16, 32)
	fileID, err4 := strconv.ParseUint(f[6], 16, 32)
	if err0 != nil || err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return fmt.Errorf("malformed ip fields")
	}
	r.ips = append(r.ips, model.IP{
		ID:         model.IPID(len(r.ips) + 1),
		RawAddress: raw,
		IsManaged:  model.IsManagedAddress(raw),
		ModuleID:   model.ModuleID(modID),
		ModuleOff:  modOff,
		Frame: model.Frame{
			FunctionID: model.StringID(funcID),
			FileID:     model.StringID(fileID),
		},
	})
	return nil
}

func (r *Reader) decodeTrace(f []string) error {
	if len(f) != 4 {
		return fmt.Errorf("malformed trace edge")
	}
	ipid, err1 := strconv.ParseUint(f[1], 16, 32)
	parent, err2 := strconv.ParseUint(f[2], 16, 32)
	if err1 != nil || err2 != nil {
		return fmt.Errorf("malformed trace fields")
	}
	r.traces = append(r.traces, model.TraceNode{
		ID:       model.TraceID(len(r.traces) + 1),
		IPID:     model.IPID(ipid),
		ParentID: model.TraceID(parent),
	})
	return nil
}

func (r *Reader) decodeMalloc(f []string) error {
	if len(f) != 4 {
		return fmt.Errorf("malformed malloc")
	}
	size, err1 := parseHex(f[1])
	trace, err2 := strconv.ParseUint(f[2], 16, 32)
	ptr, err3 := parseHex(f[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return fmt.Errorf("malformed malloc fields")
	}
	r.events = append(r.events, decodedEvent{
		kind: evMalloc, ts: r.timestamp, size: size, trace: model.TraceID(trace), ptr: ptr,
	})
	return nil
}

func (r *Reader) decodeMmap(f []string) error {
	if len(f) != 7 {
		return fmt.Errorf("malformed mmap")
	}
	length, err1 := parseHex(f[1])
	prot, err2 := strconv.ParseUint(f[2], 16, 32)
	isCoreCLR, err3 := strconv.ParseUint(f[3], 16, 32)
	fd, err4 := strconv.ParseInt(f[4], 16, 32)
	trace, err5 := strconv.ParseUint(f[5], 16, 32)
	ptr, err6 := parseHex(f[6])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil {
		return fmt.Errorf("malformed mmap fields")
	}
	state := model.RegionUntracked
	if isCoreCLR == 1 {
		state = model.RegionYes
	} else if isCoreCLR == 0 {
		state = model.RegionNo
	}
	r.events = append(r.events, decodedEvent{
		kind: evMmap, ts: r.timestamp, size: length, trace: model.TraceID(trace), ptr: ptr,
		prot: uint32(prot), fd: int32(fd), coreclr: state,
	})
	return nil
}

// accumulate walks the decoded event list chronologically, folding
// every allocation and deallocation into per-trace and aggregate cost
// vectors and re-evaluating the relevant peak after each change.
func (r *Reader) accumulate() *Dataset {
	d := &Dataset{
		Strings: r.strings,
		IPs:     r.ips,
		Traces:  r.traces,
		Modules: model.NewModuleList(),
		Ranges:  r.ranges,
	}
	if len(r.traces) > 0 {
		d.PerTrace = make([]model.CostVector, len(r.traces)+1)
	}

	live := make(map[uint64]liveAlloc)
	// liveCount ref-counts outstanding pointers per AllocInfoID: since
	// AllocInfoID dedups by (size, trace, is_managed), several
	// concurrently-live pointers can share one info, and freeing one of
	// them must not clear the leak flag for the others still
	// outstanding.
	liveCount := make(map[model.AllocInfoID]int)

	// lastAllocKey is the pointer (native `+`) or AllocInfoID (managed
	// `^`) from the most recent allocation-tracking event; a `-` that
	// frees exactly that pointer, or a `~` that frees exactly that
	// AllocInfoID, with no intervening `+`/`^` is temporary, per the
	// spec's "last allocation key" rule.
	type allocKeyKind int
	const (
		keyNone allocKeyKind = iota
		keyNativePtr
		keyManagedInfo
	)
	var lastAllocKey struct {
		kind allocKeyKind
		ptr  uint64
		info model.AllocInfoID
	}

	addCost := func(kind model.CostKind, trace model.TraceID, size uint64, ts uint64) {
		total := d.Total.Get(kind)
		total.Add(size)
		total.UpdatePeak(ts)
		if trace != model.None && int(trace) < len(d.PerTrace) {
			per := d.PerTrace[trace].Get(kind)
			per.Add(size)
			per.UpdatePeak(ts)
		}
	}
	removeCost := func(kind model.CostKind, trace model.TraceID, size uint64, ts uint64) {
		total := d.Total.Get(kind)
		total.Remove(size)
		total.UpdatePeak(ts)
		if trace != model.None && int(trace) < len(d.PerTrace) {
			per := d.PerTrace[trace].Get(kind)
			per.Remove(size)
			per.UpdatePeak(ts)
		}
	}

	recordSample := func(ts uint64) {
		d.Timeline = append(d.Timeline, TimelineSample{TimestampMS: ts, Total: d.Total})
	}

	for _, ev := range r.events {
		switch ev.kind {
		case evMalloc:
			info := r.allocInfoFor(ev.trace, ev.size, false)
			live[ev.ptr] = liveAlloc{info: info, trace: ev.trace, size: ev.size}
			liveCount[info]++
			lastAllocKey.kind = keyNativePtr
			lastAllocKey.ptr = ev.ptr
			addCost(model.CostMalloc, ev.trace, ev.size, ev.ts)
		case evFree:
			a, ok := live[ev.ptr]
			if !ok {
				continue // free of an untracked pointer (pre-existing at attach time)
			}
			delete(live, ev.ptr)
			liveCount[a.info]--
			if lastAllocKey.kind == keyNativePtr && lastAllocKey.ptr == ev.ptr {
				total := d.Total.Get(model.CostMalloc)
				total.Temporary++
			}
			removeCost(model.CostMalloc, a.trace, a.size, ev.ts)
		case evMmap:
			r.ranges.Insert(model.AddressRange{
				Start: ev.ptr, Size: ev.size, Prot: ev.prot, Fd: ev.fd,
				CoreCLR: ev.coreclr, TraceID: ev.trace,
			})
			addCost(model.CostPrivateClean, ev.trace, ev.size, ev.ts)
		case evMunmap:
			r.ranges.Remove(ev.ptr, ev.size)
			removeCost(model.CostPrivateClean, model.None, ev.size, ev.ts)
		case evManagedAlloc:
			info := r.allocInfoFor(ev.trace, ev.size, true)
			liveCount[info]++
			lastAllocKey.kind = keyManagedInfo
			lastAllocKey.info = info
			addCost(model.CostManaged, ev.trace, ev.size, ev.ts)
		case evManagedFree:
			idx := model.AllocInfoID(ev.size)
			liveCount[idx]--
			if lastAllocKey.kind == keyManagedInfo && lastAllocKey.info == idx {
				d.Total.Get(model.CostManaged).Temporary++
			}
			if int(idx) > 0 && int(idx) <= len(r.allocInfos) {
				info := r.allocInfos[idx-1]
				removeCost(model.CostManaged, info.TraceID, info.Size, ev.ts)
			}
		case evSmapsRSS:
			total := d.Total.Get(model.CostPrivateDirty)
			if total.Leaked != 0 || ev.rssKB*1024 > uint64(total.Peak) {
				total.Peak = int64(ev.rssKB * 1024)
				total.PeakTime = ev.ts
			}
		}
		recordSample(ev.ts)
	}

	r.ranges.CoalesceSimilar()
	d.Allocs = r.allocInfos
	for idx, count := range liveCount {
		if count <= 0 {
			continue
		}
		d.LeakedAllocations = append(d.LeakedAllocations, idx)
	}
	return d
}

// allocInfoFor finds or creates the deduplicated AllocInfoID for a
// (trace, size, managed) triple, mirroring package interp's own
// internAllocInfo: the wire format repeats size and trace on every
// malloc/managed-alloc record rather than carrying a precomputed ID.
func (r *Reader) allocInfoFor(trace model.TraceID, size uint64, managed bool) model.AllocInfoID {
	key := allocKey{trace: trace, size: size, managed: managed}
	if id, ok := r.allocInfoIdx[key]; ok {
		return id
	}
	info := model.AllocationInfo{
		ID: model.AllocInfoID(len(r.allocInfos) + 1), Size: size, TraceID: trace, IsManaged: managed,
	}
	r.allocInfos = append(r.allocInfos, info)
	r.allocInfoIdx[key] = info.ID
	return info.ID
}
