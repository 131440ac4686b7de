package track

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tracekit/heaptrace/model"
	"github.com/tracekit/heaptrace/util"
)

// SmapsRegion is one VMA entry read from /proc/<pid>/smaps, reduced to
// the fields the accumulator needs to attribute physical memory cost
// to address ranges.
type SmapsRegion struct {
	Start, End                                 uint64
	Perms                                      string
	PrivateClean, PrivateDirty                 uint64
	SharedClean, SharedDirty                   uint64
}

// SmapsChunk is one timer-driven snapshot: the regions bracketed by a
// `K 1` ... `K 0` pair, plus the kernel-reported total RSS for `R`.
type SmapsChunk struct {
	Regions []SmapsRegion
	RSSKB   uint64
}

// ReadSmaps parses /proc/<pid>/smaps and /proc/<pid>/status in one
// pass. A transient read failure (process exited mid-sample, smaps not
// supported on this kernel) is reported to the caller, which drops the
// sample rather than treating it as fatal: host-introspection data is
// outside the tracker's control.
func ReadSmaps(pid int) (SmapsChunk, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/smaps", pid))
	if err != nil {
		return SmapsChunk{}, err
	}
	defer f.Close()

	var chunk SmapsChunk
	var cur *SmapsRegion
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if isHeaderLine(line) {
			if cur != nil {
				chunk.Regions = append(chunk.Regions, *cur)
			}
			region, ok := parseHeaderLine(line)
			if !ok {
				cur = nil
				continue
			}
			cur = &region
			continue
		}
		if cur == nil {
			continue
		}
		parseCounterLine(line, cur)
	}
	if cur != nil {
		chunk.Regions = append(chunk.Regions, *cur)
	}
	if err := scanner.Err(); err != nil {
		return chunk, err
	}

	chunk.RSSKB, _ = readVMRSS(pid)
	return chunk, nil
}

func isHeaderLine(line string) bool {
	i := strings.IndexByte(line, '-')
	if i <= 0 {
		return false
	}
	for _, c := range line[:i] {
		if !isHex(c) {
			return false
		}
	}
	return true
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func parseHeaderLine(line string) (SmapsRegion, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return SmapsRegion{}, false
	}
	bounds := strings.SplitN(fields[0], "-", 2)
	if len(bounds) != 2 {
		return SmapsRegion{}, false
	}
	start, err1 := strconv.ParseUint(bounds[0], 16, 64)
	end, err2 := strconv.ParseUint(bounds[1], 16, 64)
	if err1 != nil || err2 != nil {
		return SmapsRegion{}, false
	}
	return SmapsRegion{Start: start, End: end, Perms: fields[1]}, true
}

func parseCounterLine(line string, cur *SmapsRegion) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return
	}
	key := strings.TrimSuffix(fields[0], ":")
	val, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return
	}
	switch key {
	case "Private_Clean":
		cur.PrivateClean = val * 1024
	case "Private_Dirty":
		cur.PrivateDirty = val * 1024
	case "Shared_Clean":
		cur.SharedClean = val * 1024
	case "Shared_Dirty":
		cur.SharedDirty = val * 1024
	}
}

func readVMRSS(pid int) (uint64, error) {
	fields, err := util.ParseKeyValueFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	return util.ParseUint64(fields["VmRSS"]), nil
}

// WriteSmapsChunk serializes a chunk as `K 1`, one `K <start> <end>
// <perms> <private_clean> <private_dirty> <shared_clean> <shared_dirty>`
// line per region, `K 0`, then `R <rss_kb>`, mirroring the original's
// bracketed smaps dump.
func WriteSmapsChunk(w *Writer, chunk SmapsChunk) {
	w.WriteString("K 1\n")
	for _, r := range chunk.Regions {
		w.WriteString(fmt.Sprintf("K %x %x %s %x %x %x %x\n",
			r.Start, r.End, r.Perms, r.PrivateClean, r.PrivateDirty, r.SharedClean, r.SharedDirty))
	}
	w.WriteString("K 0\n")
	w.WriteString(fmt.Sprintf("R %x\n", chunk.RSSKB))
}

// ToPhysicalMemory converts a region's smaps counters into the
// model.PhysicalMemory shape the accumulator's address-range map
// stores per range.
func (r SmapsRegion) ToPhysicalMemory() model.PhysicalMemory {
	return model.PhysicalMemory{
		PrivateClean: r.PrivateClean,
		PrivateDirty: r.PrivateDirty,
		SharedClean:  r.SharedClean,
		SharedDirty:  r.SharedDirty,
		IsSet:        true,
	}
}
