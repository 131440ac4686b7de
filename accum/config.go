// Package accum implements the offline accumulator: it re-reads a
// resolved event stream (possibly multiple times) and builds the
// tables and cost vectors every report view is derived from.
package accum

import "github.com/tracekit/heaptrace/model"

// Config carries the accumulator's display and filtering choices as an
// explicit, immutable value threaded through every Reader, rather than
// mutable package-level globals. The original kept these as static
// fields on its allocation-data type and a free-standing bool, which
// made two concurrent reads of different files interfere with each
// other; an explicit struct removes that hazard and lets the
// accumulator build several views of the same data with different
// settings in parallel.
type Config struct {
	// Display names the CostKind a caller renders its views under. The
	// Reader books every event under its own kind (native heap under
	// CostMalloc, managed heap under CostManaged, mmap under
	// CostPrivateClean) whatever Display says.
	Display model.CostKind
	// HideUnmanagedStackParts records the user's choice to show only
	// the managed call chain of a managed allocation. The Reader does
	// not read it: traces are aggregated with all their native frames.
	HideUnmanagedStackParts bool
	// ShortenTemplates records the user's choice to collapse C++-style
	// template argument lists in function names. The Reader does not
	// read it: function names are kept as the stream carries them.
	ShortenTemplates bool
	// SubtractLeaked records the user's choice to keep definitely
	// leaked allocations out of the "temporary" count. The Reader does
	// not read it: temporary counting ignores whether an allocation
	// later leaks.
	SubtractLeaked bool
}

// DefaultConfig matches the original's default global state: malloc
// cost displayed, unmanaged frames kept, no template shortening.
func DefaultConfig() Config {
	return Config{Display: model.CostMalloc}
}
