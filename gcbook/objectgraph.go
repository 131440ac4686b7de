package gcbook

import (
	"errors"
	"fmt"

	"github.com/tracekit/heaptrace/model"
)

// ErrSnapshotInconsistent is returned when a child node refers to an
// earlier GC cycle than its parent — a hard error, since the
// resulting derived graph would be meaningless.
var ErrSnapshotInconsistent = errors.New("gcbook: object graph snapshot inconsistent")

const nullObjectRoot = 0

// node is the graph's internal representation, keyed by object
// pointer (the synthetic root uses pointer 0).
type node struct {
	class    model.ClassID
	size     uint64
	gcNum    uint32
	children []uint64
}

// Graph accumulates one GC cycle's object-reference edges, reduced to
// a spanning DAG on Finish.
type Graph struct {
	nodes map[uint64]*node
}

// NewGraph returns an empty object-reference graph.
func NewGraph() *Graph {
	g := &Graph{nodes: make(map[uint64]*node)}
	g.nodes[nullObjectRoot] = &node{}
	return g
}

// AddRoot records a GC root reference directly from the synthetic root
// to obj.
func (g *Graph) AddRoot(obj uint64, class model.ClassID, size uint64, gcNum uint32) {
	g.ensure(obj, class, size, gcNum)
	root := g.nodes[nullObjectRoot]
	root.children = append(root.children, obj)
	root.gcNum = gcNum
}

// AddEdge records an object->object reference edge observed during
// the current GC cycle's root/ref traversal.
func (g *Graph) AddEdge(parent, child uint64, childClass model.ClassID, size uint64, gcNum uint32) error {
	p, ok := g.nodes[parent]
	if !ok {
		return fmt.Errorf("gcbook: edge references unknown parent %x", parent)
	}
	if p.gcNum != 0 && gcNum < p.gcNum {
		return ErrSnapshotInconsistent
	}
	g.ensure(child, childClass, size, gcNum)
	p.children = append(p.children, child)
	return nil
}

func (g *Graph) ensure(ptr uint64, class model.ClassID, size uint64, gcNum uint32) *node {
	n, ok := g.nodes[ptr]
	if !ok {
		n = &node{class: class, size: size, gcNum: gcNum}
		g.nodes[ptr] = n
		return n
	}
	if n.gcNum == 0 {
		n.gcNum = gcNum
	}
	return n
}

// Clear empties the graph, ready for the next GC cycle.
func (g *Graph) Clear() {
	g.nodes = map[uint64]*node{nullObjectRoot: {}}
}

// Finish performs a DFS from the synthetic root, dropping back-edges
// that would reintroduce a cycle (cycle elimination -> spanning DAG),
// and returns the nodes in DFS pre-order with children immediately
// following their parent, matching the wire emission order of `e`
// records.
func (g *Graph) Finish(gcNum uint32) ([]model.ObjectNode, error) {
	visited := make(map[uint64]bool, len(g.nodes))
	var out []model.ObjectNode
	var walk func(ptr uint64) error
	walk = func(ptr uint64) error {
		if visited[ptr] {
			return nil // back-edge or cross-edge: drop it
		}
		visited[ptr] = true
		n := g.nodes[ptr]

		// Decide which child edges survive cycle elimination *before*
		// recursing: an edge to an already-visited pointer is a
		// back/cross-edge and is dropped, matching the original's DFS
		// visited-bitmap pruning.
		var kept []uint64
		for _, c := range n.children {
			if !visited[c] {
				kept = append(kept, c)
			}
		}

		if ptr != nullObjectRoot {
			out = append(out, model.ObjectNode{
				ObjectPtr: ptr,
				ClassID:   n.class,
				Size:      n.size,
				GCNum:     gcNum,
				Children:  kept,
			})
		}
		for _, c := range kept {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	root := g.nodes[nullObjectRoot]
	for _, c := range root.children {
		if err := walk(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}
