package cmd

import (
	"flag"
	"fmt"
	"strings"

	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/config"
	"github.com/tracekit/heaptrace/model"
	"github.com/tracekit/heaptrace/report"
	"github.com/tracekit/heaptrace/store"
	"github.com/tracekit/heaptrace/views"
)

// runAnalyze loads a resolved event stream into an accumulated
// dataset and renders one of the aggregation views over it, or runs
// an ad hoc SQL query against a previously persisted database.
func runAnalyze(args []string) error {
	userCfg := config.Load()

	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	in := fs.String("i", "", "resolved event stream file (default: stdin)")
	view := fs.String("view", "report", "view to render: report, histogram, bottomup, topdown, callercallee, folded")
	kindFlag := fs.String("kind", userCfg.Display, "cost kind: malloc, managed, privateClean, privateDirty, shared")
	topN := fs.Int("top", userCfg.TopN, "rows for top-cost based views")
	dbPath := fs.String("db", "", "persist the accumulated dataset to this sqlite file")
	query := fs.String("query", "", "run this SQL against -db and print the rows (requires -db, skips loading -i)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	kind, ok := parseCostKind(*kindFlag)
	if !ok {
		return fmt.Errorf("analyze: unknown cost kind %q", *kindFlag)
	}

	if *query != "" {
		return runQuery(*dbPath, *query)
	}

	src, closeSrc, err := openInput(*in)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	defer closeSrc()

	accCfg := accum.DefaultConfig()
	accCfg.Display = kind
	accCfg.HideUnmanagedStackParts = userCfg.HideUnmanagedStackParts
	accCfg.ShortenTemplates = userCfg.ShortenTemplates
	accCfg.SubtractLeaked = userCfg.SubtractLeaked
	reader := accum.NewReader(accCfg, accum.NoManagedRuntime())
	d, err := reader.Load(src)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	if *dbPath != "" {
		st, err := store.Open(*dbPath)
		if err != nil {
			return fmt.Errorf("analyze: open %s: %w", *dbPath, err)
		}
		defer st.Close()
		if err := st.Save(d); err != nil {
			return fmt.Errorf("analyze: save to %s: %w", *dbPath, err)
		}
	}

	switch *view {
	case "report":
		fmt.Println(report.TopCost(d, kind, *topN))
	case "histogram":
		fmt.Println(report.Histogram(d))
	case "bottomup":
		printTree(views.BottomUp(d), kind, 0)
	case "topdown":
		printTree(views.TopDown(d), kind, 0)
	case "callercallee":
		printCallerCallee(views.CallerCallee(d), kind)
	case "folded":
		fmt.Print(views.FoldedStacks(d, kind))
	default:
		return fmt.Errorf("analyze: unknown view %q", *view)
	}
	return nil
}

func runQuery(dbPath, sqlText string) error {
	if dbPath == "" {
		return fmt.Errorf("analyze: -query requires -db")
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("analyze: open %s: %w", dbPath, err)
	}
	defer st.Close()

	rows, err := st.Query(sqlText)
	if err != nil {
		return fmt.Errorf("analyze: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("analyze: query: %w", err)
	}
	fmt.Println(strings.Join(cols, "\t"))

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("analyze: query: %w", err)
		}
		cells := make([]string, len(vals))
		for i, v := range vals {
			cells[i] = fmt.Sprint(v)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	return rows.Err()
}

func parseCostKind(s string) (model.CostKind, bool) {
	for k := model.CostMalloc; k <= model.CostShared; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

func printTree(nodes []*views.Node, kind model.CostKind, depth int) {
	for _, n := range nodes {
		st := n.Inclusive.Get(kind)
		fmt.Printf("%s%s (%s:%d) — %d allocations, %d leaked, %d peak\n",
			strings.Repeat("  ", depth), n.Location.Function, n.Location.File, n.Location.Line,
			st.Allocations, st.Leaked, st.Peak)
		printTree(n.Sorted(kind), kind, depth+1)
	}
}

func printCallerCallee(rows []views.CallerCalleeRow, kind model.CostKind) {
	for _, r := range rows {
		self, inc := r.Self.Get(kind), r.Inclusive.Get(kind)
		fmt.Printf("%s (%s:%d)\tself=%d\tinclusive=%d\n",
			r.Location.Function, r.Location.File, r.Location.Line, self.Peak, inc.Peak)
	}
}
