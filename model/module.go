package model

import "sort"

// Module is a mapped executable or shared object, keyed by the triple
// (path, build ID, load base). It owns the virtual address range
// [Start, End) it occupies; symbols are looked up lazily by a Resolver,
// and Resolved records that one has been consulted for this module.
type Module struct {
	ID        ModuleID
	Path      string
	BuildID   string
	LoadBase  uint64
	Start     uint64
	End       uint64
	Segments  []ModuleSegment
	Resolved  bool // true once a Resolver has touched this module
}

// ModuleSegment is one loaded (vaddr, memsz) pair from the module's
// program headers, as reported on the wire by an `m` record.
type ModuleSegment struct {
	VAddr  uint64
	MemSz  uint64
}

// Contains reports whether addr falls inside this module's range.
func (m *Module) Contains(addr uint64) bool {
	return addr >= m.Start && addr < m.End
}

// ModuleList is a list of modules sorted by End address, searched with
// a lower_bound-style binary search exactly as the original analyzer
// does; overlapping modules are tolerated (diagnostic, not fatal) and
// containment is validated after the bound is found.
type ModuleList struct {
	mods []*Module
}

// NewModuleList returns an empty, sorted module list.
func NewModuleList() *ModuleList {
	return &ModuleList{}
}

// Insert adds a module, keeping mods sorted by End address.
func (l *ModuleList) Insert(m *Module) {
	i := sort.Search(len(l.mods), func(i int) bool { return l.mods[i].End >= m.End })
	l.mods = append(l.mods, nil)
	copy(l.mods[i+1:], l.mods[i:])
	l.mods[i] = m
}

// Clear drops every module; used when an `m -` record invalidates the
// cache wholesale.
func (l *ModuleList) Clear() {
	l.mods = l.mods[:0]
}

// Find returns the module containing addr, or nil if none does.
// Insert does not check for overlapping modules (Overlaps is a
// separate query); Find always returns the first containing match
// found via lower_bound on End.
func (l *ModuleList) Find(addr uint64) *Module {
	i := sort.Search(len(l.mods), func(i int) bool { return l.mods[i].End > addr })
	if i == len(l.mods) {
		return nil
	}
	m := l.mods[i]
	if !m.Contains(addr) {
		return nil
	}
	return m
}

// Overlaps reports whether m would overlap any already-inserted
// module; callers treat this as a diagnostic to log, not an error.
func (l *ModuleList) Overlaps(m *Module) bool {
	for _, existing := range l.mods {
		if m.Start < existing.End && existing.Start < m.End {
			return true
		}
	}
	return false
}

// All returns the modules in End-sorted order.
func (l *ModuleList) All() []*Module {
	return l.mods
}
