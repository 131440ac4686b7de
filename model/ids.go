// Package model holds the pure data entities shared by the tracker,
// the symbol interpreter, and the offline accumulator.
package model

// StringID, IPID, TraceID and AllocInfoID are opaque 1-based indices
// into append-only tables. Zero is the sentinel "none" value.
type (
	StringID    uint32
	IPID        uint32
	TraceID     uint32
	AllocInfoID uint32
	ModuleID    uint32
	ClassID     uint32
)

// None is the sentinel value shared by every index type: the zeroth
// slot of every table is never assigned.
const None = 0

// Valid reports whether id refers to a real table slot.
func (id StringID) Valid() bool    { return id != None }
func (id IPID) Valid() bool        { return id != None }
func (id TraceID) Valid() bool     { return id != None }
func (id AllocInfoID) Valid() bool { return id != None }
func (id ModuleID) Valid() bool    { return id != None }
func (id ClassID) Valid() bool     { return id != None }
