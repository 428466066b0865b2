package integrators

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/chemdyn/internal/dynamo"
)

const (
	defaultMaxSteps  = 20000
	maxNewtonIters   = 10
	newtonTol        = 0.01
	newtonRateFloor  = 0.3
	newtonDivergence = 2.0
	bdfSafety        = 0.9
	bdfMinScale      = 0.2
	bdfMaxScale      = 5.0
	convFailShrink   = 0.25
	initialStepRatio = 1e-12
)

// BDF is a first-order backward differentiation engine. Local error is
// controlled by step doubling: every step is taken once with h and twice with
// h/2, and the weighted difference decides acceptance.
type BDF struct {
	binding
	strategy Strategy
	ls       linearSolver
	pr       *probe
	maxSteps int

	f, g, delta              []float64
	yfull, yhalf, ytwo, diff []float64
	nwt                      []float64
}

type BDFOption func(*BDF)

// WithMaxSteps bounds the internal steps of a single Advance.
func WithMaxSteps(n int) BDFOption {
	return func(b *BDF) {
		if n > 0 {
			b.maxSteps = n
		}
	}
}

func NewBDF(dim int, opts ...BDFOption) (*BDF, error) {
	if dim < 1 {
		return nil, fmt.Errorf("integrators: engine dimension %d", dim)
	}
	e := &BDF{
		binding:  binding{dim: dim, rtol: 1e-5, atol: 1e-20},
		maxSteps: defaultMaxSteps,
		f:        make([]float64, dim),
		g:        make([]float64, dim),
		delta:    make([]float64, dim),
		yfull:    make([]float64, dim),
		yhalf:    make([]float64, dim),
		ytwo:     make([]float64, dim),
		diff:     make([]float64, dim),
		nwt:      make([]float64, dim),
	}
	e.pr = newProbe(dim, &e.stats)
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// BDFFactory returns a Factory producing BDF engines.
func BDFFactory(opts ...BDFOption) Factory {
	return func(dim int) (Engine, error) { return NewBDF(dim, opts...) }
}

func (e *BDF) Reinit(t0 float64) error {
	if err := e.reinit(t0); err != nil {
		return err
	}
	e.ls = nil
	e.pr.jtv = nil
	return nil
}

func (e *BDF) AttachJacTimes(f dynamo.JacTimesFunc) error {
	if e.released {
		return ErrReleased
	}
	e.pr.jtv = f
	return nil
}

func (e *BDF) AttachLinearSolver(s Strategy) error {
	if e.released {
		return ErrReleased
	}
	ls, err := newLinearSolver(s, e.dim)
	if err != nil {
		return err
	}
	e.strategy = s
	e.ls = ls
	return nil
}

func (e *BDF) Advance(t0, t1 float64) (float64, error) {
	if err := e.ready(t0, t1); err != nil {
		return e.t, err
	}
	if e.ls == nil {
		return e.t, ErrNoLinearSolver
	}
	if t1 == t0 {
		return t0, nil
	}
	e.pr.rhs = e.rhs
	e.pr.params = e.params

	h, err := e.initialStep(t1 - t0)
	if err != nil {
		return e.t, err
	}
	hmin := 16 * (math.Nextafter(1, 2) - 1) * math.Max(math.Abs(t0), math.Abs(t1))

	for steps := 0; e.t < t1; steps++ {
		if steps >= e.maxSteps {
			return e.t, fmt.Errorf("%w: %d steps, reached t=%g of %g", ErrTooMuchWork, steps, e.t, t1)
		}
		last := false
		if e.t+1.05*h >= t1 {
			h = t1 - e.t
			last = true
		}

		errNorm, err := e.trial(h)
		if err != nil {
			e.stats.ConvFails++
			h *= convFailShrink
			if h < hmin {
				return e.t, fmt.Errorf("%w at t=%g: %v", ErrConvergence, e.t, err)
			}
			continue
		}

		if errNorm <= 1 {
			copy(e.y, e.ytwo)
			if last {
				e.t = t1
			} else {
				e.t += h
			}
			e.stats.Steps++
			e.stats.LastStep = h
		} else {
			e.stats.Rejected++
		}

		scale := bdfMaxScale
		if errNorm > 0 {
			scale = math.Min(bdfMaxScale, math.Max(bdfMinScale, bdfSafety/math.Sqrt(errNorm)))
		}
		h *= scale
		if h < hmin && e.t < t1 {
			return e.t, fmt.Errorf("%w: step size %g below minimum at t=%g", ErrConvergence, h, e.t)
		}
	}
	return e.t, nil
}

func (e *BDF) initialStep(span float64) (float64, error) {
	weights(e.pr.ewt, e.y, e.rtol, e.atol)
	if err := e.eval(e.t, e.y, e.f); err != nil {
		return 0, err
	}
	d := wrms(e.f, e.pr.ewt)
	h := span
	if d > 0 && 0.1/d < h {
		h = 0.1 / d
	}
	if minH := span * initialStepRatio; h < minH {
		h = minH
	}
	return h, nil
}

// trial takes one full step and two half steps of size h from the current
// state and returns the weighted norm of their difference. The error weights
// use the larger of the old and new magnitudes, so a species produced from
// zero is measured against what it became.
func (e *BDF) trial(h float64) (float64, error) {
	weights(e.pr.ewt, e.y, e.rtol, e.atol)
	if err := e.backwardEuler(e.y, e.t, h, e.yfull); err != nil {
		return 0, err
	}
	if err := e.backwardEuler(e.y, e.t, h/2, e.yhalf); err != nil {
		return 0, err
	}
	if err := e.backwardEuler(e.yhalf, e.t+h/2, h/2, e.ytwo); err != nil {
		return 0, err
	}
	floats.SubTo(e.diff, e.ytwo, e.yfull)
	weightsMax(e.nwt, e.y, e.ytwo, e.rtol, e.atol)
	nrm := wrms(e.diff, e.nwt)
	if math.IsNaN(nrm) || math.IsInf(nrm, 0) {
		return 0, fmt.Errorf("non-finite error estimate")
	}
	return nrm, nil
}

// backwardEuler solves out = yn + h f(t+h, out) with a modified Newton
// iteration whose matrix is frozen at the predictor. Convergence is judged on
// the update scaled by the estimated contraction rate.
func (e *BDF) backwardEuler(yn []float64, t, h float64, out []float64) error {
	tn := t + h
	copy(out, yn)
	if err := e.eval(tn, out, e.f); err != nil {
		return err
	}
	if err := e.ls.setup(e.pr, tn, h, out, e.f); err != nil {
		return err
	}
	e.stats.JacEvals++

	prev, rate := 0.0, 1.0
	for it := 0; it < maxNewtonIters; it++ {
		if it > 0 {
			if err := e.eval(tn, out, e.f); err != nil {
				return err
			}
		}
		for i := range e.g {
			e.g[i] = yn[i] + h*e.f[i] - out[i]
		}
		iters, err := e.ls.solve(e.g, e.delta)
		e.stats.LinIters += iters
		if err != nil {
			return err
		}
		floats.Add(out, e.delta)
		e.stats.NewtonIters++

		weightsMax(e.nwt, yn, out, e.rtol, e.atol)
		nrm := wrms(e.delta, e.nwt)
		if math.IsNaN(nrm) || math.IsInf(nrm, 0) {
			return fmt.Errorf("non-finite newton update")
		}
		if nrm == 0 {
			return nil
		}
		if it > 0 {
			rate = math.Max(newtonRateFloor*rate, nrm/prev)
		}
		if nrm*math.Min(1, rate) <= newtonTol {
			return nil
		}
		if it > 0 && nrm > newtonDivergence*prev {
			return fmt.Errorf("newton diverging: %g after %g", nrm, prev)
		}
		prev = nrm
	}
	return fmt.Errorf("newton did not converge in %d iterations", maxNewtonIters)
}

func (e *BDF) Release() error {
	if e.released {
		return nil
	}
	e.release()
	e.ls = nil
	e.pr = nil
	return nil
}
