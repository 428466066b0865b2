// Package compute runs per-system work across the available hardware.
//
// A solver session hands every system of a batch to the active backend:
//
//   - CPU: contiguous chunks of systems, one goroutine and one engine per worker
//   - CUDA: reserved; reports unavailable and delegates to the CPU backend
//
// Per-system failures are returned by index and never cancel the other
// systems:
//
//	errs, err := compute.GetBackend().Run(ctx, batch.Len(), func(w, i int) error {
//		return advance(engines[w], batch.State(i))
//	})
//
// err is only set when ctx is cancelled mid-run.
package compute
