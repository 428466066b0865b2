package compute

import "context"

// CUDABackend is a placeholder: there is no device Newton solver, so it
// reports unavailable and runs everything on the CPU.
type CUDABackend struct {
	cpu *CPUBackend
}

func NewCUDABackend() *CUDABackend {
	return &CUDABackend{cpu: NewCPUBackend(0)}
}

func (c *CUDABackend) Name() string    { return "cuda (not available)" }
func (c *CUDABackend) Available() bool { return false }
func (c *CUDABackend) Workers() int    { return c.cpu.Workers() }
func (c *CUDABackend) Cleanup()        {}

func (c *CUDABackend) Run(ctx context.Context, n int, fn ItemFunc) ([]error, error) {
	return c.cpu.Run(ctx, n, fn)
}
