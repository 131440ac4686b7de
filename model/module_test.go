package model

import "testing"

func TestModuleListFindContainingAddress(t *testing.T) {
	l := NewModuleList()
	l.Insert(&Module{Path: "a.so", Start: 0x1000, End: 0x2000})
	l.Insert(&Module{Path: "b.so", Start: 0x3000, End: 0x4000})

	m := l.Find(0x3500)
	if m == nil || m.Path != "b.so" {
		t.Errorf("Find(0x3500) = %v, want b.so", m)
	}
}

func TestModuleListFindOutsideAnyRangeReturnsNil(t *testing.T) {
	l := NewModuleList()
	l.Insert(&Module{Path: "a.so", Start: 0x1000, End: 0x2000})
	if m := l.Find(0x2500); m != nil {
		t.Errorf("Find(0x2500) = %v, want nil (falls in the gap between modules)", m)
	}
}

func TestModuleListFindEmpty(t *testing.T) {
	l := NewModuleList()
	if m := l.Find(0x1000); m != nil {
		t.Errorf("Find on empty list = %v, want nil", m)
	}
}

func TestModuleListInsertKeepsEndSortedOrder(t *testing.T) {
	l := NewModuleList()
	l.Insert(&Module{Path: "c.so", Start: 0x5000, End: 0x6000})
	l.Insert(&Module{Path: "a.so", Start: 0x1000, End: 0x2000})
	l.Insert(&Module{Path: "b.so", Start: 0x3000, End: 0x4000})

	all := l.All()
	if len(all) != 3 {
		t.Fatalf("len(All()) = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].End < all[i-1].End {
			t.Fatalf("All() not sorted by End: %v", all)
		}
	}
}

func TestModuleListClear(t *testing.T) {
	l := NewModuleList()
	l.Insert(&Module{Path: "a.so", Start: 0x1000, End: 0x2000})
	l.Clear()
	if len(l.All()) != 0 {
		t.Errorf("len(All()) after Clear = %d, want 0", len(l.All()))
	}
	if m := l.Find(0x1500); m != nil {
		t.Errorf("Find after Clear = %v, want nil", m)
	}
}

func TestModuleListOverlaps(t *testing.T) {
	l := NewModuleList()
	l.Insert(&Module{Start: 0x1000, End: 0x2000})

	if !l.Overlaps(&Module{Start: 0x1500, End: 0x2500}) {
		t.Error("Overlaps = false, want true for ranges sharing [0x1500,0x2000)")
	}
	if l.Overlaps(&Module{Start: 0x2000, End: 0x3000}) {
		t.Error("Overlaps = true, want false for adjacent non-overlapping ranges")
	}
}

func TestModuleContains(t *testing.T) {
	m := &Module{Start: 0x1000, End: 0x2000}
	if !m.Contains(0x1000) {
		t.Error("Contains(Start) = false, want true (half-open interval includes Start)")
	}
	if m.Contains(0x2000) {
		t.Error("Contains(End) = true, want false (half-open interval excludes End)")
	}
}
