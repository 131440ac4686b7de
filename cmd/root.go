// Package cmd implements heaptrace's command-line dispatch: a small
// set of subcommands (track, interpret, analyze, diff, watch) each
// parsed with their own stdlib flag.FlagSet, in the same no-framework
// style the teacher's single-mode flag dispatch uses.
package cmd

import (
	"fmt"
	"os"
)

// Version is set at build time via ldflags.
var Version = "0.1.0"

// ExitCodeError signals a non-zero exit code without calling os.Exit
// directly, so deferred cleanup (closing the tracker, flushing the
// writer) still runs.
type ExitCodeError struct{ Code int }

func (e ExitCodeError) Error() string { return fmt.Sprintf("exit %d", e.Code) }

func printUsage() {
	fmt.Fprintf(os.Stderr, `heaptrace v%s — allocation and heap-behavior profiler

Usage:
  heaptrace <command> [options]

Commands:
  track       Attach to a running process and record a raw event stream
  interpret   Resolve a raw event stream's addresses into a symbolized stream
  analyze     Accumulate a resolved stream and render a view or report
  diff        Subtract one accumulated dataset from another
  watch       Live console showing stats while a track run is in progress
  version     Print version and exit

Run 'heaptrace <command> -h' for the flags a command accepts.
`, Version)
}

// Run parses the subcommand and dispatches to its handler.
func Run() error {
	if len(os.Args) < 2 {
		printUsage()
		return ExitCodeError{Code: 2}
	}

	switch os.Args[1] {
	case "track":
		return runTrack(os.Args[2:])
	case "interpret":
		return runInterpret(os.Args[2:])
	case "analyze":
		return runAnalyze(os.Args[2:])
	case "diff":
		return runDiff(os.Args[2:])
	case "watch":
		return runWatchCmd(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Printf("heaptrace v%s\n", Version)
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		fmt.Fprintf(os.Stderr, "heaptrace: unknown command %q\n\n", os.Args[1])
		printUsage()
		return ExitCodeError{Code: 2}
	}
}
