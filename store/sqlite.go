// Package store persists a finished accum.Dataset to an embedded
// sqlite file so a later process can run ad hoc SQL against a run
// without re-reading or re-accumulating its resolved event stream, and
// so two runs can be compared by path alone instead of by keeping both
// decoded in memory at once.
package store

import (
	"database/sql"
	"fmt"

	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/model"

	_ "modernc.org/sqlite"
)

// totalTraceID is the reserved trace_id marking a Dataset's aggregate
// Total cost vector rather than one trace's PerTrace entry.
const totalTraceID = -1

const schema = `
CREATE TABLE IF NOT EXISTS strings (
	id   INTEGER PRIMARY KEY,
	text TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS ips (
	id          INTEGER PRIMARY KEY,
	raw_address INTEGER NOT NULL,
	module_id   INTEGER NOT NULL,
	module_off  INTEGER NOT NULL,
	is_managed  INTEGER NOT NULL,
	function_id INTEGER NOT NULL,
	file_id     INTEGER NOT NULL,
	line        INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS traces (
	id        INTEGER PRIMARY KEY,
	ip_id     INTEGER NOT NULL,
	parent_id INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS allocations (
	id         INTEGER PRIMARY KEY,
	size       INTEGER NOT NULL,
	trace_id   INTEGER NOT NULL,
	is_managed INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cost_vectors (
	trace_id      INTEGER NOT NULL,
	kind          INTEGER NOT NULL,
	allocations   INTEGER NOT NULL,
	deallocations INTEGER NOT NULL,
	peak_instances INTEGER NOT NULL,
	temporary     INTEGER NOT NULL,
	allocated     INTEGER NOT NULL,
	leaked        INTEGER NOT NULL,
	peak          INTEGER NOT NULL,
	peak_time     INTEGER NOT NULL,
	PRIMARY KEY (trace_id, kind)
);
CREATE TABLE IF NOT EXISTS leaked_allocations (
	alloc_info_id INTEGER NOT NULL PRIMARY KEY
);
`

// Store wraps a *sql.DB open on a single dataset file. Go's database/sql
// pools its own connections, so Store needs no mutex of its own; every
// write path below runs inside one transaction rather than locking a
// shared handle, matching how the rest of this tree avoids inventing
// synchronization database/sql already gives for free.
type Store struct {
	db *sql.DB
}

// Open creates or opens path and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces path's entire contents with d, inside one transaction
// so a reader never observes a half-written dataset.
func (s *Store) Save(d *accum.Dataset) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM strings", "DELETE FROM ips", "DELETE FROM traces",
		"DELETE FROM allocations", "DELETE FROM cost_vectors",
		"DELETE FROM leaked_allocations",
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("store: clear: %w", err)
		}
	}

	insertString, err := tx.Prepare("INSERT INTO strings (id, text) VALUES (?, ?)")
	if err != nil {
		return err
	}
	for i, text := range d.Strings {
		if _, err := insertString.Exec(i+1, text); err != nil {
			return fmt.Errorf("store: insert string %d: %w", i+1, err)
		}
	}

	insertIP, err := tx.Prepare(`INSERT INTO ips
		(id, raw_address, module_id, module_off, is_managed, function_id, file_id, line)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	for _, ip := range d.IPs {
		managed := 0
		if ip.IsManaged {
			managed = 1
		}
		if _, err := insertIP.Exec(ip.ID, ip.RawAddress, ip.ModuleID, ip.ModuleOff,
			managed, ip.Frame.FunctionID, ip.Frame.FileID, ip.Frame.Line); err != nil {
			return fmt.Errorf("store: insert ip %d: %w", ip.ID, err)
		}
	}

	insertTrace, err := tx.Prepare("INSERT INTO traces (id, ip_id, parent_id) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	for _, t := range d.Traces {
		if _, err := insertTrace.Exec(t.ID, t.IPID, t.ParentID); err != nil {
			return fmt.Errorf("store: insert trace %d: %w", t.ID, err)
		}
	}

	insertAlloc, err := tx.Prepare(`INSERT INTO allocations
		(id, size, trace_id, is_managed) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	for _, a := range d.Allocs {
		managed := 0
		if a.IsManaged {
			managed = 1
		}
		if _, err := insertAlloc.Exec(a.ID, a.Size, a.TraceID, managed); err != nil {
			return fmt.Errorf("store: insert allocation %d: %w", a.ID, err)
		}
	}

	insertCost, err := tx.Prepare(`INSERT INTO cost_vectors
		(trace_id, kind, allocations, deallocations, peak_instances, temporary, allocated, leaked, peak, peak_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	for traceID, vec := range d.PerTrace {
		for kind := model.CostMalloc; int(kind) < len(vec); kind++ {
			st := vec.Get(kind)
			if _, err := insertCost.Exec(traceID, int(kind), st.Allocations, st.Deallocations,
				st.PeakInstances, st.Temporary, st.Allocated, st.Leaked, st.Peak, st.PeakTime); err != nil {
				return fmt.Errorf("store: insert cost vector trace=%d kind=%d: %w", traceID, kind, err)
			}
		}
	}
	// Total is persisted under the reserved trace_id -1 rather than a
	// separate table: it is structurally one more CostVector, and
	// reusing cost_vectors keeps Load's reconstruction to one query
	// shape instead of two.
	for kind := model.CostMalloc; int(kind) < len(d.Total); kind++ {
		st := d.Total.Get(kind)
		if _, err := insertCost.Exec(totalTraceID, int(kind), st.Allocations, st.Deallocations,
			st.PeakInstances, st.Temporary, st.Allocated, st.Leaked, st.Peak, st.PeakTime); err != nil {
			return fmt.Errorf("store: insert total cost vector kind=%d: %w", kind, err)
		}
	}

	insertLeaked, err := tx.Prepare("INSERT INTO leaked_allocations (alloc_info_id) VALUES (?)")
	if err != nil {
		return err
	}
	for _, id := range d.LeakedAllocations {
		if _, err := insertLeaked.Exec(id); err != nil {
			return fmt.Errorf("store: insert leaked allocation %d: %w", id, err)
		}
	}

	return tx.Commit()
}

// Load reconstructs a Dataset from a previously Saved store. Ranges
// and Modules are not persisted: address-range coalescing and module
// path resolution are both re-derivable cheaply from a re-run of
// interp against the same binaries, and keeping them out of the
// schema avoids duplicating accum's own range/module bookkeeping here.
func (s *Store) Load() (*accum.Dataset, error) {
	d := &accum.Dataset{Modules: model.NewModuleList()}

	rows, err := s.db.Query("SELECT text FROM strings ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("store: query strings: %w", err)
	}
	if err := scanInto(rows, func() error {
		var text string
		if err := rows.Scan(&text); err != nil {
			return err
		}
		d.Strings = append(d.Strings, text)
		return nil
	}); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT id, raw_address, module_id, module_off, is_managed,
		function_id, file_id, line FROM ips ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: query ips: %w", err)
	}
	if err := scanInto(rows, func() error {
		var ip model.IP
		var managed int
		if err := rows.Scan(&ip.ID, &ip.RawAddress, &ip.ModuleID, &ip.ModuleOff, &managed,
			&ip.Frame.FunctionID, &ip.Frame.FileID, &ip.Frame.Line); err != nil {
			return err
		}
		ip.IsManaged = managed != 0
		d.IPs = append(d.IPs, ip)
		return nil
	}); err != nil {
		return nil, err
	}

	rows, err = s.db.Query("SELECT id, ip_id, parent_id FROM traces ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("store: query traces: %w", err)
	}
	if err := scanInto(rows, func() error {
		var t model.TraceNode
		if err := rows.Scan(&t.ID, &t.IPID, &t.ParentID); err != nil {
			return err
		}
		d.Traces = append(d.Traces, t)
		return nil
	}); err != nil {
		return nil, err
	}

	rows, err = s.db.Query("SELECT id, size, trace_id, is_managed FROM allocations ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("store: query allocations: %w", err)
	}
	if err := scanInto(rows, func() error {
		var a model.AllocationInfo
		var managed int
		if err := rows.Scan(&a.ID, &a.Size, &a.TraceID, &managed); err != nil {
			return err
		}
		a.IsManaged = managed != 0
		d.Allocs = append(d.Allocs, a)
		return nil
	}); err != nil {
		return nil, err
	}

	d.PerTrace = make([]model.CostVector, len(d.Traces)+1)
	rows, err = s.db.Query(`SELECT trace_id, kind, allocations, deallocations, peak_instances,
		temporary, allocated, leaked, peak, peak_time FROM cost_vectors`)
	if err != nil {
		return nil, fmt.Errorf("store: query cost vectors: %w", err)
	}
	if err := scanInto(rows, func() error {
		var traceID int64
		var kind model.CostKind
		var st model.CostStats
		if err := rows.Scan(&traceID, &kind, &st.Allocations, &st.Deallocations, &st.PeakInstances,
			&st.Temporary, &st.Allocated, &st.Leaked, &st.Peak, &st.PeakTime); err != nil {
			return err
		}
		if traceID == totalTraceID {
			*d.Total.Get(kind) = st
			return nil
		}
		if traceID < 0 || int(traceID) >= len(d.PerTrace) {
			return fmt.Errorf("store: cost vector for out-of-range trace %d", traceID)
		}
		*d.PerTrace[traceID].Get(kind) = st
		return nil
	}); err != nil {
		return nil, err
	}

	rows, err = s.db.Query("SELECT alloc_info_id FROM leaked_allocations")
	if err != nil {
		return nil, fmt.Errorf("store: query leaked allocations: %w", err)
	}
	if err := scanInto(rows, func() error {
		var id model.AllocInfoID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		d.LeakedAllocations = append(d.LeakedAllocations, id)
		return nil
	}); err != nil {
		return nil, err
	}

	return d, nil
}

// scanInto runs scan once per row returned by rows, closing rows and
// propagating either scan's error or rows.Err once the loop ends.
func scanInto(rows *sql.Rows, scan func() error) error {
	defer rows.Close()
	for rows.Next() {
		if err := scan(); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Query runs an arbitrary read-only SQL statement against the open
// store, the entry point behind `heaptrace analyze --query`: the
// schema above is deliberately a plain relational shape rather than a
// blob, so a user can join cost_vectors against traces and ips with
// ordinary SQL instead of needing a bespoke query language.
func (s *Store) Query(sqlText string, args ...any) (*sql.Rows, error) {
	return s.db.Query(sqlText, args...)
}
