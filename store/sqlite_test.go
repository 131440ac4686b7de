package store

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/model"
)

func loadFixture(t *testing.T) *accum.Dataset {
	t.Helper()
	lines := []string{
		"s main",
		"s main.go",
		"i 1 1000 0 0 1 2",
		"t 1 0 0",
		"+ 64 1 1000",
		"+ 64 1 1004",
		"- 1000",
	}
	r := accum.NewReader(accum.DefaultConfig(), accum.NoManagedRuntime())
	d, err := r.Load(strings.NewReader(strings.Join(lines, "\n") + "\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return d
}

func TestSaveLoadRoundTrips(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "run.db")
	want := loadFixture(t)

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(got.Strings) != len(want.Strings) {
		t.Fatalf("Strings len = %d, want %d", len(got.Strings), len(want.Strings))
	}
	if len(got.IPs) != len(want.IPs) {
		t.Fatalf("IPs len = %d, want %d", len(got.IPs), len(want.IPs))
	}
	if len(got.Allocs) != len(want.Allocs) {
		t.Fatalf("Allocs len = %d, want %d", len(got.Allocs), len(want.Allocs))
	}

	gotMalloc := got.Total.Get(model.CostMalloc)
	wantMalloc := want.Total.Get(model.CostMalloc)
	if gotMalloc.Allocations != wantMalloc.Allocations {
		t.Errorf("Total malloc Allocations = %d, want %d", gotMalloc.Allocations, wantMalloc.Allocations)
	}
	if gotMalloc.Leaked != wantMalloc.Leaked {
		t.Errorf("Total malloc Leaked = %d, want %d", gotMalloc.Leaked, wantMalloc.Leaked)
	}
	if len(got.LeakedAllocations) != len(want.LeakedAllocations) {
		t.Errorf("LeakedAllocations len = %d, want %d", len(got.LeakedAllocations), len(want.LeakedAllocations))
	}
}

func TestQueryRunsArbitrarySQL(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "run.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Save(loadFixture(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rows, err := s.Query("SELECT COUNT(*) FROM allocations")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer rows.Close()
	if !rows.Next() {
		t.Fatal("expected one row")
	}
	var count int
	if err := rows.Scan(&count); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if count != 1 {
		t.Errorf("allocation count = %d, want 1 (two same-size mallocs at the same trace dedup to one AllocationInfo)", count)
	}
}
