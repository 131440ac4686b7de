package track

import (
	"sort"

	"github.com/tracekit/heaptrace/model"
)

// EdgeSink receives newly-created trace-tree edges and newly-named
// managed IPs, for serialization onto the output stream. The tree
// itself holds no I/O. Note that the raw wire format written here
// carries a `t` record's IP field as the literal raw address: index
// assignment only happens for the *trace node*, never for the IP
// itself on this side — IP interning into resolved indices is the
// symbol interpreter's job (package interp), which rewrites the field
// to the resolved IPID in the stream it emits.
type EdgeSink interface {
	// EmitEdge writes a `t <ip> <parent> <is_managed>` record for a
	// previously unseen edge.
	EmitEdge(rawIP uint64, parent model.TraceID, isManaged bool)
	// EmitName writes an `n <ip> <name>` record the first time a
	// managed IP is referenced by an edge.
	EmitName(rawIP uint64, name string)
}

type treeChild struct {
	ip   uint64
	node model.TraceID
}

// Tree is the prefix-compressed backtrace tree: one node per distinct
// (parent, ip) pair, append-only, with each node's children kept
// sorted by raw IP for binary search on insert/lookup.
type Tree struct {
	rawIP    []uint64 // 1-based, parallel to TraceID
	parent   []model.TraceID
	children map[model.TraceID][]treeChild
	named    map[uint64]bool
}

// NewTree returns an empty trace tree.
func NewTree() *Tree {
	return &Tree{children: make(map[model.TraceID][]treeChild), named: make(map[uint64]bool)}
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int { return len(t.rawIP) }

// RawIP returns the raw instruction pointer address of node id.
func (t *Tree) RawIP(id model.TraceID) uint64 { return t.rawIP[id-1] }

// Parent returns the parent of node id.
func (t *Tree) Parent(id model.TraceID) model.TraceID { return t.parent[id-1] }

// Index inserts (or finds) the path described by rawIPs, walking from
// the synthetic root toward the leaf. rawIPs must be ordered caller to
// callee (outermost first) — the inverse of Trace.IPs' capture order,
// so callers typically pass a reversed slice built from a Capture
// result. managed[i] says whether rawIPs[i] is a managed address;
// nameOf supplies a display name the first time a managed IP is named.
// Index returns the TraceID of the deepest (last) frame.
func (t *Tree) Index(rawIPs []uint64, managed []bool, nameOf func(uint64) string, sink EdgeSink) model.TraceID {
	var parent model.TraceID = model.None
	for i, ip := range rawIPs {
		parent = t.child(parent, ip, managed[i], nameOf, sink)
	}
	return parent
}

// child finds or creates the node for (parent, ip), emitting a `t`
// record (and an `n` record, if this is a not-yet-named managed IP)
// on first sight of the edge.
func (t *Tree) child(parent model.TraceID, ip uint64, isManaged bool, nameOf func(uint64) string, sink EdgeSink) model.TraceID {
	kids := t.children[parent]
	i := sort.Search(len(kids), func(i int) bool { return kids[i].ip >= ip })
	if i < len(kids) && kids[i].ip == ip {
		return kids[i].node
	}

	if isManaged && !t.named[ip] {
		t.named[ip] = true
		if sink != nil {
			sink.EmitName(ip, nameOf(ip))
		}
	}

	t.rawIP = append(t.rawIP, ip)
	t.parent = append(t.parent, parent)
	id := model.TraceID(len(t.rawIP))

	kids = append(kids, treeChild{})
	copy(kids[i+1:], kids[i:])
	kids[i] = treeChild{ip: ip, node: id}
	t.children[parent] = kids

	if sink != nil {
		sink.EmitEdge(ip, parent, isManaged)
	}
	return id
}
