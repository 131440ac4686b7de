package gcbook

import (
	"testing"
)

func TestGraphFinishOrdersDFSPreOrder(t *testing.T) {
	g := NewGraph()
	g.AddRoot(0x1000, 1, 16, 1)
	if err := g.AddEdge(0x1000, 0x2000, 2, 32, 1); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.AddEdge(0x1000, 0x3000, 3, 8, 1); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	nodes, err := g.Finish(1)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("len(nodes) = %d, want 3", len(nodes))
	}
	if nodes[0].ObjectPtr != 0x1000 {
		t.Errorf("nodes[0].ObjectPtr = %x, want 0x1000 (root's child comes first)", nodes[0].ObjectPtr)
	}
}

func TestGraphFinishDropsCycles(t *testing.T) {
	g := NewGraph()
	g.AddRoot(0x1000, 1, 16, 1)
	if err := g.AddEdge(0x1000, 0x2000, 2, 16, 1); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.AddEdge(0x2000, 0x1000, 1, 16, 1); err != nil {
		t.Fatalf("AddEdge (back-edge): %v", err)
	}

	nodes, err := g.Finish(1)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("len(nodes) = %d, want 2 (0x1000, 0x2000 with the back-edge dropped)", len(nodes))
	}
	for _, n := range nodes {
		if n.ObjectPtr == 0x2000 && len(n.Children) != 0 {
			t.Errorf("0x2000 node kept a child edge back to 0x1000, should have been pruned as a cycle")
		}
	}
}

func TestGraphAddEdgeUnknownParent(t *testing.T) {
	g := NewGraph()
	if err := g.AddEdge(0x9999, 0x1000, 1, 16, 1); err == nil {
		t.Error("AddEdge from an unknown parent returned no error")
	}
}

func TestGraphAddEdgeOlderGCNumIsInconsistent(t *testing.T) {
	g := NewGraph()
	g.AddRoot(0x1000, 1, 16, 5)
	err := g.AddEdge(0x1000, 0x2000, 2, 16, 3)
	if err != ErrSnapshotInconsistent {
		t.Errorf("err = %v, want ErrSnapshotInconsistent", err)
	}
}

func TestGraphClearResetsToEmptyRoot(t *testing.T) {
	g := NewGraph()
	g.AddRoot(0x1000, 1, 16, 1)
	g.Clear()
	nodes, err := g.Finish(1)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("len(nodes) = %d after Clear, want 0", len(nodes))
	}
}
