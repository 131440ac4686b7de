package symtab

import (
	"debug/elf"
	"testing"
)

func symbol(name string, value uint64) elf.Symbol {
	return elf.Symbol{Name: name, Value: value, Info: uint8(elf.STT_FUNC)}
}

func TestSymbolAtPicksNearestPrecedingFunction(t *testing.T) {
	syms := []elf.Symbol{
		symbol("foo", 0x1000),
		symbol("bar", 0x2000),
		symbol("baz", 0x3000),
	}
	got := symbolAt(syms, 0x2500)
	if got != "bar" {
		t.Errorf("symbolAt(0x2500) = %q, want %q", got, "bar")
	}
}

func TestSymbolAtBeforeFirstSymbol(t *testing.T) {
	syms := []elf.Symbol{symbol("foo", 0x1000)}
	got := symbolAt(syms, 0x500)
	if got != "" {
		t.Errorf("symbolAt(0x500) = %q, want empty (offset precedes every symbol)", got)
	}
}

func TestSymbolAtSkipsNonFunctionSymbols(t *testing.T) {
	syms := []elf.Symbol{
		{Name: "some_object", Value: 0x1000, Info: uint8(elf.STT_OBJECT)},
		symbol("real_func", 0x1100),
	}
	got := symbolAt(syms, 0x1200)
	if got != "real_func" {
		t.Errorf("symbolAt(0x1200) = %q, want %q (STT_OBJECT symbols must not match)", got, "real_func")
	}
}

func TestSymbolAtExactMatch(t *testing.T) {
	syms := []elf.Symbol{symbol("foo", 0x1000), symbol("bar", 0x2000)}
	got := symbolAt(syms, 0x2000)
	if got != "bar" {
		t.Errorf("symbolAt(0x2000) = %q, want %q (exact match counts as preceding)", got, "bar")
	}
}

func TestFrameValid(t *testing.T) {
	if (Frame{}).Valid() {
		t.Error("zero Frame reports Valid")
	}
	if !(Frame{Function: "main"}).Valid() {
		t.Error("Frame with a Function reports not Valid")
	}
}

func TestResolveMissingFileReturnsError(t *testing.T) {
	r := NewELFResolver()
	_, err := r.Resolve("/nonexistent/path/to/binary", 0x1000)
	if err == nil {
		t.Fatal("Resolve on a nonexistent module path returned a nil error")
	}
}

func TestResolveCachesModuleLookup(t *testing.T) {
	r := NewELFResolver()
	path := "/nonexistent/path/to/binary"
	_, err1 := r.Resolve(path, 0x1000)
	_, err2 := r.Resolve(path, 0x2000)
	if err1 == nil || err2 == nil {
		t.Fatal("expected both Resolve calls to fail on a nonexistent module")
	}
	if len(r.modules) != 1 {
		t.Errorf("len(r.modules) = %d, want 1 (second Resolve should reuse the cached failure)", len(r.modules))
	}
}
