package model

import "testing"

func TestCostStatsAddRemove(t *testing.T) {
	var s CostStats
	s.Add(100)
	s.Add(50)
	s.Remove(100)

	if s.Allocations != 2 {
		t.Errorf("Allocations = %d, want 2", s.Allocations)
	}
	if s.Deallocations != 1 {
		t.Errorf("Deallocations = %d, want 1", s.Deallocations)
	}
	if s.Allocated != 150 {
		t.Errorf("Allocated = %d, want 150", s.Allocated)
	}
	if s.Leaked != 50 {
		t.Errorf("Leaked = %d, want 50", s.Leaked)
	}
}

func TestCostStatsUpdatePeak(t *testing.T) {
	var s CostStats
	s.Add(100)
	if !s.UpdatePeak(10) {
		t.Fatal("UpdatePeak returned false for the first-ever leaked value")
	}
	if s.Peak != 100 || s.PeakTime != 10 || s.PeakInstances != 1 {
		t.Errorf("Peak=%d PeakTime=%d PeakInstances=%d, want 100, 10, 1", s.Peak, s.PeakTime, s.PeakInstances)
	}

	s.Remove(40)
	if s.UpdatePeak(20) {
		t.Error("UpdatePeak returned true after Leaked dropped below the existing peak")
	}
	if s.Peak != 100 || s.PeakTime != 10 {
		t.Errorf("Peak/PeakTime changed on a non-peak update: Peak=%d PeakTime=%d", s.Peak, s.PeakTime)
	}

	s.Add(80)
	if !s.UpdatePeak(30) {
		t.Error("UpdatePeak returned false after Leaked exceeded the prior peak")
	}
	if s.Peak != 140 || s.PeakTime != 30 {
		t.Errorf("Peak=%d PeakTime=%d, want 140, 30", s.Peak, s.PeakTime)
	}
}

func TestCostVectorIsZero(t *testing.T) {
	var v CostVector
	if !v.IsZero() {
		t.Error("zero CostVector reports not IsZero")
	}
	v.Get(CostMalloc).Add(1)
	if v.IsZero() {
		t.Error("CostVector with a recorded allocation reports IsZero")
	}
}

func TestCostKindString(t *testing.T) {
	cases := map[CostKind]string{
		CostMalloc:       "malloc",
		CostManaged:      "managed",
		CostPrivateClean: "privateClean",
		CostPrivateDirty: "privateDirty",
		CostShared:       "shared",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", k, got, want)
		}
	}
	if got := CostKind(99).String(); got != "unknown" {
		t.Errorf("unknown CostKind.String() = %q, want %q", got, "unknown")
	}
}
