package integrators

import (
	"fmt"

	"github.com/san-kum/chemdyn/internal/dynamo"
)

// binding carries the state every engine shares: tolerances, the bound
// working vector and the per-reinit attachments.
type binding struct {
	dim        int
	rtol, atol float64
	y          []float64
	t          float64
	params     *dynamo.Params
	rhs        dynamo.RHSFunc
	released   bool
	stats      Stats
}

func (b *binding) Configure(rtol, atol float64) error {
	if b.released {
		return ErrReleased
	}
	if err := validTolerances(rtol, atol); err != nil {
		return err
	}
	b.rtol, b.atol = rtol, atol
	return nil
}

func (b *binding) Bind(y []float64) error {
	if b.released {
		return ErrReleased
	}
	if len(y) != b.dim {
		return fmt.Errorf("integrators: bind %d values to a %d-equation engine", len(y), b.dim)
	}
	b.y = y
	return nil
}

func (b *binding) reinit(t0 float64) error {
	if b.released {
		return ErrReleased
	}
	b.t = t0
	b.params = nil
	b.rhs = nil
	b.stats = Stats{}
	return nil
}

func (b *binding) AttachParams(p *dynamo.Params) { b.params = p }

func (b *binding) AttachRHS(f dynamo.RHSFunc) error {
	if b.released {
		return ErrReleased
	}
	if f == nil {
		return ErrNoRHS
	}
	b.rhs = f
	return nil
}

func (b *binding) Stats() Stats { return b.stats }

// Time reports the engine clock.
func (b *binding) Time() float64 { return b.t }

func (b *binding) ready(t0, t1 float64) error {
	switch {
	case b.released:
		return ErrReleased
	case b.y == nil:
		return ErrNotBound
	case b.rhs == nil:
		return ErrNoRHS
	case t0 != b.t:
		return fmt.Errorf("integrators: advance from %g but engine is at %g", t0, b.t)
	case !(t1 >= t0):
		return fmt.Errorf("integrators: cannot advance backwards from %g to %g", t0, t1)
	}
	return nil
}

func (b *binding) eval(t float64, y, ydot []float64) error {
	b.stats.RHSEvals++
	return b.rhs(t, y, ydot, b.params)
}

func (b *binding) release() {
	b.released = true
	b.y = nil
	b.rhs = nil
	b.params = nil
}
