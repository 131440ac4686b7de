package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tracekit/heaptrace/track"
	"github.com/tracekit/heaptrace/track/ebpf"
)

// runTrack attaches uprobes to a running process's allocator and mmap
// family and streams raw event records to a destination until the
// process exits or heaptrace is interrupted.
func runTrack(args []string) error {
	fs := flag.NewFlagSet("track", flag.ContinueOnError)
	pid := fs.Int("pid", 0, "pid of the process to attach to (required)")
	out := fs.String("o", "", "output file for the raw event stream (default: stdout)")
	tcpPort := fs.Int("tcp-port", 0, "listen on this port and stream events to the first connection instead of a file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pid <= 0 {
		return fmt.Errorf("track: -pid is required")
	}

	dest, err := trackDestination(*out, *tcpPort)
	if err != nil {
		return fmt.Errorf("track: %w", err)
	}

	tracker := track.NewTracker(dest, track.NewEBPFModuleSource(*pid))
	defer tracker.Stop()

	session, err := ebpf.Attach(*pid)
	if err != nil {
		return fmt.Errorf("track: attach to pid %d: %w", *pid, err)
	}
	defer session.Close()

	fmt.Fprintf(os.Stderr, "heaptrace: attached to pid %d, writing raw events\n", *pid)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- session.EventLoop(track.NewEBPFSink(tracker)) }()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "heaptrace: stopping")
		return nil
	case err := <-done:
		return err
	}
}

func trackDestination(out string, tcpPort int) (track.Destination, error) {
	switch {
	case tcpPort > 0 && out != "":
		return nil, fmt.Errorf("-o and -tcp-port are mutually exclusive")
	case tcpPort > 0:
		return track.ListenTCP(tcpPort, "heaptrace")
	case out != "":
		return track.OpenFile(out)
	default:
		return track.Stdout(), nil
	}
}
