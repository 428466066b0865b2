package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/chemdyn/internal/dynamo"
)

// Conserved is implemented by networks with linear invariants, such as
// element or charge totals.
type Conserved interface {
	Invariants() (names []string, weights [][]float64)
}

// Conservation tracks the largest relative drift of one invariant across
// all systems of a batch since the first observation.
type Conservation struct {
	name    string
	weights []float64
	initial []float64
	samples int
	drift   float64
}

func NewConservation(name string, weights []float64) *Conservation {
	return &Conservation{
		name:    "drift_" + name,
		weights: weights,
	}
}

// ForNetwork returns one Conservation metric per invariant of net, or nil
// when net declares none.
func ForNetwork(net dynamo.Network) []*Conservation {
	c, ok := net.(Conserved)
	if !ok {
		return nil
	}
	names, weights := c.Invariants()
	out := make([]*Conservation, len(names))
	for i := range names {
		out[i] = NewConservation(names[i], weights[i])
	}
	return out
}

func (c *Conservation) Name() string { return c.name }

func (c *Conservation) Observe(t float64, batch *dynamo.Batch) {
	if c.samples == 0 {
		c.initial = make([]float64, batch.Len())
	}
	for i := 0; i < batch.Len() && i < len(c.initial); i++ {
		y := batch.State(i)
		if len(y) < len(c.weights) {
			continue
		}
		total := floats.Dot(c.weights, y[:len(c.weights)])
		if c.samples == 0 {
			c.initial[i] = total
			continue
		}
		if ref := c.initial[i]; ref != 0 {
			c.drift = math.Max(c.drift, math.Abs(total-ref)/math.Abs(ref))
		}
	}
	c.samples++
}

func (c *Conservation) Value() float64 {
	return c.drift
}

func (c *Conservation) Reset() {
	c.initial = nil
	c.samples = 0
	c.drift = 0
}
