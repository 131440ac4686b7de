package cmd

import (
	"flag"
	"fmt"

	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/diff"
	"github.com/tracekit/heaptrace/report"
)

// runDiff accumulates two resolved event streams and subtracts the
// base dataset's costs from the second, printing a report of what
// changed.
func runDiff(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	basePath := fs.String("base", "", "resolved event stream to use as the baseline (required)")
	selfPath := fs.String("self", "", "resolved event stream to compare against the baseline (required)")
	kindFlag := fs.String("kind", "malloc", "cost kind: malloc, managed, privateClean, privateDirty, shared")
	topN := fs.Int("top", 10, "rows in the resulting report")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *basePath == "" || *selfPath == "" {
		return fmt.Errorf("diff: -base and -self are both required")
	}
	kind, ok := parseCostKind(*kindFlag)
	if !ok {
		return fmt.Errorf("diff: unknown cost kind %q", *kindFlag)
	}

	base, err := loadDataset(*basePath)
	if err != nil {
		return fmt.Errorf("diff: base: %w", err)
	}
	self, err := loadDataset(*selfPath)
	if err != nil {
		return fmt.Errorf("diff: self: %w", err)
	}

	result := diff.Compute(base, self)
	fmt.Println(report.TopCost(result, kind, *topN))
	return nil
}

func loadDataset(path string) (*accum.Dataset, error) {
	f, closeF, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer closeF()
	reader := accum.NewReader(accum.DefaultConfig(), accum.NoManagedRuntime())
	return reader.Load(f)
}
