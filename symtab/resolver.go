// Package symtab is the symbol interpreter's external collaborator:
// given a module file and an offset into it, it answers with a best
// effort function/file/line. Symbol resolution internals are
// explicitly out of scope for the core design, which only depends on
// the Resolver interface.
package symtab

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sync"
)

// Frame is one resolved source-level location.
type Frame struct {
	Function string
	File     string
	Line     uint32
}

// Valid reports whether any symbol information was found.
func (f Frame) Valid() bool { return f.Function != "" }

// Resolved is the answer to one Resolve call: a primary frame plus
// zero or more frames the compiler inlined at that address, outermost
// caller last, matching the original's AddressInformation.
type Resolved struct {
	Frame   Frame
	Inlined []Frame
}

// Resolver maps a (module path, offset-into-module) pair to symbol
// information.
type Resolver interface {
	Resolve(modulePath string, offset uint64) (Resolved, error)
}

// ELFResolver resolves addresses using each module's ELF symbol table
// and, when present, its DWARF line-number program. One ELFResolver
// instance is safe for concurrent use.
type ELFResolver struct {
	mu      sync.Mutex
	modules map[string]*moduleInfo
}

// NewELFResolver returns an empty resolver; module files are opened
// lazily on first use and kept open for the process lifetime.
func NewELFResolver() *ELFResolver {
	return &ELFResolver{modules: make(map[string]*moduleInfo)}
}

type moduleInfo struct {
	file    *elf.File
	dwarf   *dwarf.Data // nil if the module carries no debug info
	symbols []elf.Symbol
	err     error
}

func (r *ELFResolver) load(path string) *moduleInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.modules[path]; ok {
		return m
	}
	m := &moduleInfo{}
	f, err := elf.Open(path)
	if err != nil {
		m.err = err
		r.modules[path] = m
		return m
	}
	m.file = f
	if syms, err := f.Symbols(); err == nil {
		m.symbols = syms
	}
	if dyn, err := f.DynamicSymbols(); err == nil {
		m.symbols = append(m.symbols, dyn...)
	}
	if dw, err := f.DWARF(); err == nil {
		m.dwarf = dw
	}
	r.modules[path] = m
	return m
}

// Resolve finds the function containing offset via the symbol table,
// then asks the DWARF line table (if present) for the file and line
// at that address, matching the original's "debug info first, symbol
// table fallback" order — here reversed in priority only for the
// function name, since ELF symbols give a name unconditionally while
// DWARF gives the precise source line.
func (r *ELFResolver) Resolve(modulePath string, offset uint64) (Resolved, error) {
	m := r.load(modulePath)
	if m.err != nil {
		return Resolved{}, fmt.Errorf("symtab: %s: %w", modulePath, m.err)
	}

	var out Resolved
	out.Frame.Function = symbolAt(m.symbols, offset)

	if m.dwarf != nil {
		if file, line, ok := lineAt(m.dwarf, offset); ok {
			out.Frame.File = file
			out.Frame.Line = line
		}
	}
	return out, nil
}

// symbolAt returns the name of the last STT_FUNC symbol whose value is
// <= offset, the same "nearest preceding function symbol" heuristic
// backtrace_syminfo uses.
func symbolAt(symbols []elf.Symbol, offset uint64) string {
	var best string
	var bestAddr uint64
	for _, s := range symbols {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		if s.Value <= offset && s.Value >= bestAddr {
			bestAddr = s.Value
			best = s.Name
		}
	}
	return best
}

// lineAt walks the DWARF line table for the compile unit covering
// offset and returns the last row not past it.
func lineAt(data *dwarf.Data, offset uint64) (file string, line uint32, ok bool) {
	reader := data.Reader()
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			return "", 0, false
		}
		if entry.Tag != dwarf.TagCompileUnit {
			continue
		}
		covers := false
		if ranges, err := data.Ranges(entry); err == nil {
			for _, rg := range ranges {
				if offset >= rg[0] && offset < rg[1] {
					covers = true
					break
				}
			}
		}
		if !covers {
			continue
		}
		lr, err := data.LineReader(entry)
		if err != nil || lr == nil {
			continue
		}
		var row dwarf.LineEntry
		var best dwarf.LineEntry
		found := false
		for {
			if err := lr.Next(&row); err != nil {
				break
			}
			if row.Address > offset {
				break
			}
			best = row
			found = true
		}
		if found {
			return best.File.Name, uint32(best.Line), true
		}
	}
}
