package compute

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// CPUBackend splits the items into contiguous chunks, one goroutine per
// worker.
type CPUBackend struct {
	workers int
}

// NewCPUBackend uses one worker per CPU when workers < 1.
func NewCPUBackend(workers int) *CPUBackend {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &CPUBackend{workers: workers}
}

func (c *CPUBackend) Name() string    { return "cpu" }
func (c *CPUBackend) Available() bool { return true }
func (c *CPUBackend) Workers() int    { return c.workers }
func (c *CPUBackend) Cleanup()        {}

func (c *CPUBackend) Run(ctx context.Context, n int, fn ItemFunc) ([]error, error) {
	errs := make([]error, n)
	if n <= 0 {
		return errs, ctx.Err()
	}

	if n == 1 || c.workers == 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return errs, err
			}
			errs[i] = fn(0, i)
		}
		return errs, nil
	}

	workers := min(c.workers, n)
	chunkSize := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			break
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				errs[i] = fn(w, i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errs, err
	}
	return errs, nil
}
