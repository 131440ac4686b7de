package track

import "fmt"

// ModuleDump describes one loaded module as reported by the host's
// module-list walk.
type ModuleDump struct {
	Path     string
	BuildID  string // empty renders as "-" on the wire
	Base     uint64
	Segments []ModuleSegment
}

// ModuleSegment is one (vaddr, memsz) program-header pair.
type ModuleSegment struct {
	VAddr uint64
	MemSz uint64
}

// ModuleSource supplies a fresh view of the traced process's loaded
// modules; the concrete implementation is track/ebpf's
// /proc/<pid>/maps reader, adapted by ebpfModuleSource.
type ModuleSource interface {
	ListModules() ([]ModuleDump, error)
}

// moduleCache tracks the dlopen/dlclose dirty flag and forces a
// wholesale re-dump before the next event that references an IP,
// per the module-cache discipline.
type moduleCache struct {
	dirty  bool
	source ModuleSource
}

func newModuleCache(source ModuleSource) *moduleCache {
	return &moduleCache{dirty: true, source: source} // dirty at startup: first event always dumps
}

// MarkDirty is called on every dlopen/dlclose-class event.
func (m *moduleCache) MarkDirty() {
	m.dirty = true
}

// ensure writes `m -` followed by a fresh module dump if the cache is
// dirty, and is always called (by the tracker) immediately before any
// event that references an IP, under the writer lock.
func (m *moduleCache) ensure(w *Writer) {
	if !m.dirty {
		return
	}
	m.dirty = false
	w.WriteString("m -\n")
	mods, err := m.source.ListModules()
	if err != nil {
		return
	}
	for _, mod := range mods {
		writeModuleDump(w, mod)
	}
}

func writeModuleDump(w *Writer, mod ModuleDump) {
	buildID := mod.BuildID
	if buildID == "" {
		buildID = "-"
	}
	w.WriteString(fmt.Sprintf("m %s %s %x", mod.Path, buildID, mod.Base))
	for _, seg := range mod.Segments {
		w.WriteString(fmt.Sprintf(" %x %x", seg.VAddr, seg.MemSz))
	}
	w.WriteString("\n")
}
