// Package interp transforms the tracker's raw record stream into the
// resolved stream the offline accumulator reads: every instruction
// pointer is symbolized exactly once (via symtab.Resolver) the first
// time it is seen, instead of repeatedly on every accumulator read
//.
package interp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tracekit/heaptrace/gcbook"
	"github.com/tracekit/heaptrace/model"
	"github.com/tracekit/heaptrace/symtab"
)

// Interpreter holds all state accumulated while reading one raw
// stream: the module list, the raw-IP interning table, the trace
// tree (keyed by resolved IPID, unlike track.Tree which is keyed by
// raw address), and the managed live-pointer set shared in spirit
// with the tracker's own.
type Interpreter struct {
	resolver symtab.Resolver

	modules *model.ModuleList

	strings   []string
	stringIdx map[string]model.StringID

	ipTable map[uint64]model.IPID // raw address -> resolved index
	ips     []model.IP            // 1-based via IPID

	traceIPID []model.IPID // 1-based via TraceID, parallel to rawParent
	rawParent []model.TraceID

	classNames map[model.ClassID]string

	managed *gcbook.Replayer

	allocInfos   []model.AllocationInfo
	allocInfoIdx map[allocKey]model.AllocInfoID
	lastAllocPtr map[uint64]model.AllocInfoID // ptr -> live allocation at that address

	// managedLive ref-counts outstanding managed allocations by info,
	// since `^`/`~` records identify an allocation by its deduplicated
	// AllocInfoID rather than by pointer.
	managedLive map[model.AllocInfoID]int

	// lastAlloc is the key (native pointer or managed info) from the
	// most recent `+`/`^` record. A `-`/`~` that matches it with no
	// intervening allocation is temporary.
	lastAlloc allocKeyRef

	totalAllocations     int
	managedAllocations   int
	temporaryAllocations int

	out io.Writer
}

type allocKey struct {
	size    uint64
	trace   model.TraceID
	managed bool
}

type allocKeyRef struct {
	set    bool
	native bool
	ptr    uint64
	info   model.AllocInfoID
}

// New creates an Interpreter that resolves symbols with resolver and
// writes the resolved stream to out.
func New(resolver symtab.Resolver, out io.Writer) *Interpreter {
	return &Interpreter{
		resolver:     resolver,
		modules:      model.NewModuleList(),
		stringIdx:    make(map[string]model.StringID),
		ipTable:      make(map[uint64]model.IPID),
		classNames:   make(map[model.ClassID]string),
		managed:      gcbook.NewReplayer(),
		allocInfoIdx: make(map[allocKey]model.AllocInfoID),
		lastAllocPtr: make(map[uint64]model.AllocInfoID),
		managedLive:  make(map[model.AllocInfoID]int),
		out:          out,
	}
}

// Run reads the raw stream from r line by line, writing the resolved
// stream to the Interpreter's configured out, and returns once r is
// exhausted or a malformed record is hit.
func (ip *Interpreter) Run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := ip.dispatch(line); err != nil {
			return fmt.Errorf("interp: %q: %w", line, err)
		}
	}
	return scanner.Err()
}

func (ip *Interpreter) dispatch(line string) error {
	switch line[0] {
	case '#':
		return nil
	case 'v':
		return ip.handleVersion(line)
	case 'm':
		return ip.handleModule(line)
	case 't':
		return ip.handleTraceEdge(line)
	case 'n':
		return ip.handleManagedName(line)
	case 'N':
		return ip.handleClassName(line)
	case 'C':
		return ip.handleClassTouch(line)
	case '+':
		return ip.handleMalloc(line)
	case '-':
		return ip.handleFree(line)
	case '*':
		return ip.handleMmap(line)
	case '/':
		return ip.handleMunmap(line)
	case '^':
		return ip.handleManagedAlloc(line)
	case '~':
		return ip.handleManagedFree(line)
	case 'G':
		return ip.handleGC(line)
	case 'L':
		return ip.handleSurvival(line)
	case 'e':
		return ip.handleObjectRef(line)
	case 'c':
		return ip.handleTimestamp(line)
	case 'K', 'R':
		return ip.handleSmaps(line)
	default:
		return fmt.Errorf("unknown record tag %q", line[0])
	}
}

func fields(line string) []string { return strings.Fields(line) }

func parseHex(s string) (uint64, error) { return strconv.ParseUint(s, 16, 64) }

func (ip *Interpreter) handleVersion(line string) error {
	_, err := fmt.Fprintln(ip.out, line)
	return err
}

func (ip *Interpreter) intern(s string) model.StringID {
	if id, ok := ip.stringIdx[s]; ok {
		return id
	}
	ip.strings = append(ip.strings, s)
	id := model.StringID(len(ip.strings))
	ip.stringIdx[s] = id
	fmt.Fprintf(ip.out, "s %s\n", s)
	return id
}

// resolveIP interns the raw address into the IP table, resolving it
// through the symbol table on first sight, and emits an `i` record.
func (ip *Interpreter) resolveIP(raw uint64) model.IPID {
	if id, ok := ip.ipTable[raw]; ok {
		return id
	}

	entry := model.IP{RawAddress: raw, IsManaged: model.IsManagedAddress(raw)}
	if raw == model.ManagedBoundaryIP {
		entry.IsManaged = true
	} else if mod := ip.modules.Find(raw); mod != nil {
		entry.ModuleID = mod.ID
		entry.ModuleOff = raw - mod.Start
		if ip.resolver != nil {
			mod.Resolved = true
			if resolved, err := ip.resolver.Resolve(mod.Path, entry.ModuleOff); err == nil {
				entry.Frame = model.Frame{
					FunctionID: ip.intern(resolved.Frame.Function),
					FileID:     ip.intern(resolved.Frame.File),
					Line:       resolved.Frame.Line,
				}
				for _, inl := range resolved.Inlined {
					entry.Inlined = append(entry.Inlined, model.Frame{
						FunctionID: ip.intern(inl.Function),
						FileID:     ip.intern(inl.File),
						Line:       inl.Line,
					})
				}
			}
		}
	}

	ip.ips = append(ip.ips, entry)
	id := model.IPID(len(ip.ips))
	entry.ID = id
	ip.ips[id-1] = entry
	ip.ipTable[raw] = id

	fmt.Fprintf(ip.out, "i %x %x %x %x %x %x\n", id, raw, entry.ModuleID, entry.ModuleOff,
		entry.Frame.FunctionID, entry.Frame.FileID)
	return id
}

func (ip *Interpreter) handleModule(line string) error {
	f := fields(line)
	if len(f) == 2 && f[1] == "-" {
		ip.modules.Clear()
		fmt.Fprintln(ip.out, line)
		return nil
	}
	if len(f) < 4 {
		return fmt.Errorf("malformed module record")
	}
	base, err := parseHex(f[3])
	if err != nil {
		return err
	}
	mod := &model.Module{ID: model.ModuleID(len(ip.modules.All()) + 1), Path: f[1], BuildID: f[2], LoadBase: base}
	for i := 4; i+1 < len(f); i += 2 {
		vaddr, err1 := parseHex(f[i])
		memsz, err2 := parseHex(f[i+1])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("malformed module segment")
		}
		mod.Segments = append(mod.Segments, model.ModuleSegment{VAddr: vaddr, MemSz: memsz})
		end := base + vaddr + memsz
		if end > mod.End {
			mod.End = end
		}
	}
	mod.Start = base
	ip.modules.Insert(mod)
	fmt.Fprintln(ip.out, line)
	return nil
}

func (ip *Interpreter) handleTraceEdge(line string) error {
	f := fields(line)
	if len(f) != 4 {
		return fmt.Errorf("malformed trace edge")
	}
	raw, err := parseHex(f[1])
	if err != nil {
		return err
	}
	parent, err := strconv.ParseUint(f[2], 16, 32)
	if err != nil {
		return err
	}
	ipid := ip.resolveIP(raw)
	ip.traceIPID = append(ip.traceIPID, ipid)
	ip.rawParent = append(ip.rawParent, model.TraceID(parent))
	fmt.Fprintf(ip.out, "t %x %x %s\n", ipid, parent, f[3])
	return nil
}

// handleManagedName re-keys a managed IP's display name from the raw
// address the tracker named it under to the resolved IPID the rest of
// the resolved stream refers to it by, forcing that IP's resolution
// now rather than waiting for a `t` record to do it (the tracker names
// a managed IP before it first emits an edge for it).
func (ip *Interpreter) handleManagedName(line string) error {
	f := fields(line)
	if len(f) < 2 {
		return fmt.Errorf("malformed managed name record")
	}
	raw, err := parseHex(f[1])
	if err != nil {
		return err
	}
	name := ""
	if len(f) > 2 {
		name = strings.Join(f[2:], " ")
	}
	id := ip.resolveIP(raw)
	fmt.Fprintf(ip.out, "n %x %s\n", id, name)
	return nil
}

func (ip *Interpreter) handleClassName(line string) error {
	f := fields(line)
	if len(f) < 2 {
		return fmt.Errorf("malformed class name")
	}
	id, err := strconv.ParseUint(f[1], 16, 32)
	if err != nil {
		return err
	}
	name := ""
	if len(f) > 2 {
		name = strings.Join(f[2:], " ")
	}
	ip.classNames[model.ClassID(id)] = name
	fmt.Fprintln(ip.out, line)
	return nil
}

func (ip *Interpreter) handleClassTouch(line string) error {
	fmt.Fprintln(ip.out, line)
	return nil
}

func (ip *Interpreter) handleMalloc(line string) error {
	f := fields(line)
	if len(f) != 4 {
		return fmt.Errorf("malformed malloc record")
	}
	size, err1 := parseHex(f[1])
	trace, err2 := strconv.ParseUint(f[2], 16, 32)
	ptr, err3 := parseHex(f[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return fmt.Errorf("malformed malloc fields")
	}
	info := model.AllocationInfo{Size: size, TraceID: model.TraceID(trace)}
	idx := ip.internAllocInfo(info)
	ip.lastAllocPtr[ptr] = idx
	ip.totalAllocations++
	ip.lastAlloc = allocKeyRef{set: true, native: true, ptr: ptr}
	fmt.Fprintf(ip.out, "+ %x %x %x\n", size, trace, ptr)
	return nil
}

func (ip *Interpreter) internAllocInfo(info model.AllocationInfo) model.AllocInfoID {
	key := allocKey{size: info.Size, trace: info.TraceID, managed: info.IsManaged}
	if id, ok := ip.allocInfoIdx[key]; ok {
		return id
	}
	ip.allocInfos = append(ip.allocInfos, info)
	id := model.AllocInfoID(len(ip.allocInfos))
	ip.allocInfoIdx[key] = id
	return id
}

func (ip *Interpreter) handleFree(line string) error {
	f := fields(line)
	if len(f) != 2 {
		return fmt.Errorf("malformed free record")
	}
	ptr, err := parseHex(f[1])
	if err != nil {
		return fmt.Errorf("malformed free fields")
	}
	if _, ok := ip.lastAllocPtr[ptr]; ok {
		delete(ip.lastAllocPtr, ptr)
		if ip.lastAlloc.set && ip.lastAlloc.native && ip.lastAlloc.ptr == ptr {
			ip.temporaryAllocations++
		}
	}
	fmt.Fprintln(ip.out, line)
	return nil
}

func (ip *Interpreter) handleMmap(line string) error {
	fmt.Fprintln(ip.out, line)
	return nil
}

func (ip *Interpreter) handleMunmap(line string) error {
	fmt.Fprintln(ip.out, line)
	return nil
}

func (ip *Interpreter) handleManagedAlloc(line string) error {
	f := fields(line)
	if len(f) != 4 {
		return fmt.Errorf("malformed managed alloc record")
	}
	trace, err1 := strconv.ParseUint(f[1], 16, 32)
	size, err2 := parseHex(f[2])
	ptr, err3 := parseHex(f[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return fmt.Errorf("malformed managed alloc fields")
	}
	info := model.AllocationInfo{Size: size, TraceID: model.TraceID(trace), IsManaged: true}
	idx := ip.internAllocInfo(info)
	ip.managed.Insert(ptr, idx)
	ip.managedLive[idx]++
	ip.managedAllocations++
	ip.lastAlloc = allocKeyRef{set: true, native: false, info: idx}
	fmt.Fprintln(ip.out, line)
	return nil
}

func (ip *Interpreter) handleManagedFree(line string) error {
	f := fields(line)
	if len(f) != 2 {
		return fmt.Errorf("malformed managed free record")
	}
	raw, err := parseHex(f[1])
	if err != nil {
		return fmt.Errorf("malformed managed free fields")
	}
	idx := model.AllocInfoID(raw)
	ip.managedLive[idx]--
	if ip.lastAlloc.set && !ip.lastAlloc.native && ip.lastAlloc.info == idx {
		ip.temporaryAllocations++
	}
	fmt.Fprintln(ip.out, line)
	return nil
}

func (ip *Interpreter) handleGC(line string) error {
	fmt.Fprintln(ip.out, line)
	return nil
}

func (ip *Interpreter) handleSurvival(line string) error {
	f := fields(line)
	if len(f) != 4 {
		return fmt.Errorf("malformed survival record")
	}
	length, err1 := parseHex(f[1])
	src, err2 := parseHex(f[2])
	dst, err3 := parseHex(f[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return fmt.Errorf("malformed survival fields")
	}
	_, err := ip.managed.Apply([]gcbook.SurvivalRange{{Src: src, Dst: dst, Len: length}})
	fmt.Fprintln(ip.out, line)
	return err
}

func (ip *Interpreter) handleObjectRef(line string) error {
	fmt.Fprintln(ip.out, line)
	return nil
}

func (ip *Interpreter) handleTimestamp(line string) error {
	fmt.Fprintln(ip.out, line)
	return nil
}

func (ip *Interpreter) handleSmaps(line string) error {
	fmt.Fprintln(ip.out, line)
	return nil
}

// Summary reports the final string/IP table sizes plus the shutdown
// allocation statistics: total allocations, leaked allocations,
// managed allocations, managed leaked, and temporary allocations.
func (ip *Interpreter) Summary() string {
	managedLeaked := 0
	for _, count := range ip.managedLive {
		if count > 0 {
			managedLeaked += count
		}
	}
	return fmt.Sprintf(
		"# strings: %d\n# ips: %d\n"+
			"total allocations: %d\nleaked allocations: %d\nmanaged allocations: %d\nmanaged leaked: %d\ntemporary allocations: %d\n",
		len(ip.strings), len(ip.ips),
		ip.totalAllocations, len(ip.lastAllocPtr), ip.managedAllocations, managedLeaked, ip.temporaryAllocations,
	)
}
