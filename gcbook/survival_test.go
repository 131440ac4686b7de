package gcbook

import (
	"testing"

	"github.com/tracekit/heaptrace/model"
)

func TestReplayerApplyMoves(t *testing.T) {
	r := NewReplayer()
	r.Insert(0x1000, 1)
	r.Insert(0x1008, 2)

	dead, err := r.Apply([]SurvivalRange{{Src: 0x1000, Dst: 0x2000, Len: 0x10}})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if len(dead) != 0 {
		t.Errorf("dead = %v, want none (both pointers fall inside the surviving range)", dead)
	}
	if idx := r.Live[0x2000]; idx != 1 {
		t.Errorf("r.Live[0x2000] = %v, want 1", idx)
	}
	if idx := r.Live[0x2008]; idx != 2 {
		t.Errorf("r.Live[0x2008] = %v, want 2", idx)
	}
	if _, ok := r.Live[0x1000]; ok {
		t.Error("r.Live still has the pre-move pointer 0x1000")
	}
}

func TestReplayerApplyStayed(t *testing.T) {
	r := NewReplayer()
	r.Insert(0x1000, 1)
	dead, err := r.Apply([]SurvivalRange{{Src: 0x1000, Dst: 0x1000, Len: 0x10}})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if len(dead) != 0 {
		t.Errorf("dead = %v, want none", dead)
	}
	if idx := r.Live[0x1000]; idx != 1 {
		t.Errorf("r.Live[0x1000] = %v, want 1", idx)
	}
}

func TestReplayerApplyOutsideRangeDies(t *testing.T) {
	r := NewReplayer()
	r.Insert(0x1000, 1)
	r.Insert(0x5000, 2)
	dead, err := r.Apply([]SurvivalRange{{Src: 0x1000, Dst: 0x1000, Len: 0x10}})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if len(dead) != 1 || dead[0] != 2 {
		t.Errorf("dead = %v, want [2] (0x5000 falls outside every range)", dead)
	}
	if _, ok := r.Live[0x5000]; ok {
		t.Error("r.Live still has the dead pointer 0x5000")
	}
}

func TestReplayerApplyOverlappingRangesReportsError(t *testing.T) {
	r := NewReplayer()
	_, err := r.Apply([]SurvivalRange{
		{Src: 0x1000, Dst: 0x1000, Len: 0x20},
		{Src: 0x1010, Dst: 0x3000, Len: 0x10},
	})
	if err == nil {
		t.Fatal("expected an overlap error for ranges [0x1000,0x1020) and [0x1010,0x1020)")
	}
	if _, ok := err.(*ErrOverlappingSurvivalRanges); !ok {
		t.Fatalf("err = %v (%T), want *ErrOverlappingSurvivalRanges", err, err)
	}
}

func TestReplayerRemove(t *testing.T) {
	r := NewReplayer()
	r.Insert(0x1000, model.AllocInfoID(7))
	idx, ok := r.Remove(0x1000)
	if !ok || idx != 7 {
		t.Errorf("Remove = (%v, %v), want (7, true)", idx, ok)
	}
	if _, ok := r.Remove(0x1000); ok {
		t.Error("second Remove of the same pointer reported ok")
	}
}
