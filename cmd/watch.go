package cmd

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/watch"
)

// runWatchCmd shows a live bubbletea console over a resolved event
// stream file, re-reading it from the start on each tick. Pairing it
// with `heaptrace track -o` and a periodically re-run `heaptrace
// interpret` against the same path lets a long track run be watched
// without waiting for it to finish, the narrowed "stats only" console
// the original's GUI shell would otherwise show live.
func runWatchCmd(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	in := fs.String("i", "", "resolved event stream file to watch (required)")
	interval := fs.Duration("interval", time.Second, "refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("watch: -i is required")
	}
	return watch.Run(fileSnapshotter{path: *in}, *interval)
}

type fileSnapshotter struct{ path string }

func (s fileSnapshotter) Snapshot() *accum.Dataset {
	f, err := os.Open(s.path)
	if err != nil {
		return nil
	}
	defer f.Close()
	reader := accum.NewReader(accum.DefaultConfig(), accum.NoManagedRuntime())
	d, err := reader.Load(f)
	if err != nil {
		return nil
	}
	return d
}
