package compute

import "context"

// ItemFunc processes item i on the given worker. Worker indices are dense in
// [0, Workers()) so callers can keep one resource per worker.
type ItemFunc func(worker, i int) error

type Backend interface {
	Name() string
	Available() bool
	Workers() int
	// Run calls fn once for every item in [0, n). A failing item does not
	// stop the others; its error is stored at its index in the returned
	// slice. The second return is non-nil only when ctx ended the run early.
	Run(ctx context.Context, n int, fn ItemFunc) ([]error, error)
	Cleanup()
}

var activeBackend Backend

func init() {
	// Auto-select best available backend (CUDA if available, else CPU)
	activeBackend = AutoSelectBackend()
}

func SetBackend(b Backend) {
	if activeBackend != nil && activeBackend != b {
		activeBackend.Cleanup()
	}
	activeBackend = b
}

func GetBackend() Backend {
	return activeBackend
}

func AutoSelectBackend() Backend {
	cuda := NewCUDABackend()
	if cuda.Available() {
		return cuda
	}
	return NewCPUBackend(0)
}

// ByName resolves a backend from its configured name. Empty and "auto" pick
// the best available one.
func ByName(name string, workers int) (Backend, bool) {
	switch name {
	case "", "auto":
		b := AutoSelectBackend()
		if workers > 0 {
			if cpu, ok := b.(*CPUBackend); ok {
				cpu.workers = workers
			}
		}
		return b, true
	case "cpu":
		return NewCPUBackend(workers), true
	case "serial":
		return NewCPUBackend(1), true
	case "cuda":
		return NewCUDABackend(), true
	}
	return nil, false
}
