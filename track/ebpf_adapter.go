package track

import trackebpf "github.com/tracekit/heaptrace/track/ebpf"

// ebpfModuleSource adapts track/ebpf's /proc/<pid>/maps scan to the
// ModuleSource interface the module cache dumps from, converting
// across the package boundary field by field to avoid a dependency
// cycle (track/ebpf cannot import track, since track imports it for
// the concrete activation hook).
type ebpfModuleSource struct {
	pid int
}

// NewEBPFModuleSource returns the production ModuleSource, backed by
// uprobe attachment's own /proc scan.
func NewEBPFModuleSource(pid int) ModuleSource {
	return &ebpfModuleSource{pid: pid}
}

func (m *ebpfModuleSource) ListModules() ([]ModuleDump, error) {
	src := trackebpf.NewModuleSource(m.pid)
	mods, err := src.ListModules()
	if err != nil {
		return nil, err
	}
	out := make([]ModuleDump, len(mods))
	for i, mod := range mods {
		segs := make([]ModuleSegment, len(mod.Segments))
		for j, s := range mod.Segments {
			segs[j] = ModuleSegment{VAddr: s.VAddr, MemSz: s.MemSz}
		}
		out[i] = ModuleDump{Path: mod.Path, BuildID: mod.BuildID, Base: mod.Base, Segments: segs}
	}
	return out, nil
}
