package accum

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"
)

// LoadAll accumulates every resolved stream in srcs concurrently,
// returning one Dataset per source in the same order. The other loads
// are not cancelled when one source fails: LoadAll waits for every
// load to finish and then returns the first error encountered.
func LoadAll(ctx context.Context, cfg Config, classifier ManagedRegionClassifier, srcs []io.Reader) ([]*Dataset, error) {
	out := make([]*Dataset, len(srcs))
	g, _ := errgroup.WithContext(ctx)
	for i, src := range srcs {
		i, src := i, src
		g.Go(func() error {
			r := NewReader(cfg, classifier)
			data, err := r.Load(src)
			if err != nil {
				return err
			}
			out[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
