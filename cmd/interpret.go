package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tracekit/heaptrace/interp"
	"github.com/tracekit/heaptrace/symtab"
)

// runInterpret reads a raw event stream and resolves every IP into a
// symbolized frame, writing the resolved stream for analyze or diff
// to consume.
func runInterpret(args []string) error {
	fs := flag.NewFlagSet("interpret", flag.ContinueOnError)
	in := fs.String("i", "", "raw event stream file (default: stdin)")
	out := fs.String("o", "", "resolved event stream file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	src, closeSrc, err := openInput(*in)
	if err != nil {
		return fmt.Errorf("interpret: %w", err)
	}
	defer closeSrc()

	dst, closeDst, err := createOutput(*out)
	if err != nil {
		return fmt.Errorf("interpret: %w", err)
	}
	defer closeDst()

	ip := interp.New(symtab.NewELFResolver(), dst)
	if err := ip.Run(src); err != nil {
		return fmt.Errorf("interpret: %w", err)
	}
	fmt.Fprintln(os.Stderr, ip.Summary())
	return nil
}

func openInput(path string) (io.Reader, func() error, error) {
	if path == "" {
		return os.Stdin, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func createOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
