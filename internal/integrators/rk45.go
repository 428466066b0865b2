package integrators

import (
	"fmt"
	"math"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

// RK45 is an explicit adaptive engine for networks that are not stiff. It
// accepts a linear strategy for interface compatibility and ignores it.
type RK45 struct {
	binding
	safety   float64
	minScale float64
	maxScale float64
	maxSteps int

	k1, k2, k3, k4, k5, k6, k7 []float64
	tmp, next                  []float64
}

func NewRK45(dim int) (*RK45, error) {
	if dim < 1 {
		return nil, fmt.Errorf("integrators: engine dimension %d", dim)
	}
	buf := func() []float64 { return make([]float64, dim) }
	return &RK45{
		binding:  binding{dim: dim, rtol: 1e-5, atol: 1e-20},
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
		maxSteps: 100000,
		k1:       buf(), k2: buf(), k3: buf(), k4: buf(), k5: buf(), k6: buf(), k7: buf(),
		tmp: buf(), next: buf(),
	}, nil
}

func RK45Factory() Factory {
	return func(dim int) (Engine, error) { return NewRK45(dim) }
}

func (r *RK45) Reinit(t0 float64) error { return r.reinit(t0) }

func (r *RK45) AttachLinearSolver(Strategy) error {
	if r.released {
		return ErrReleased
	}
	return nil
}

func (r *RK45) Advance(t0, t1 float64) (float64, error) {
	if err := r.ready(t0, t1); err != nil {
		return r.t, err
	}
	if t1 == t0 {
		return t0, nil
	}
	if err := r.eval(r.t, r.y, r.k1); err != nil {
		return r.t, err
	}
	h := (t1 - t0) * 1e-6
	for steps := 0; r.t < t1; steps++ {
		if steps >= r.maxSteps {
			return r.t, fmt.Errorf("%w: %d steps, reached t=%g of %g", ErrTooMuchWork, steps, r.t, t1)
		}
		last := false
		if r.t+h >= t1 {
			h = t1 - r.t
			last = true
		}
		errRatio, err := r.step(h)
		if err != nil {
			return r.t, err
		}
		if errRatio <= 1 {
			copy(r.y, r.next)
			copy(r.k1, r.k7)
			if last {
				r.t = t1
			} else {
				r.t += h
			}
			r.stats.Steps++
			r.stats.LastStep = h
		} else {
			r.stats.Rejected++
		}

		var scale float64
		switch {
		case errRatio > 1:
			scale = math.Max(r.minScale, r.safety*math.Pow(errRatio, -0.25))
		case errRatio > 0:
			scale = math.Min(r.maxScale, r.safety*math.Pow(errRatio, -0.2))
		default:
			scale = r.maxScale
		}
		h *= scale
		if h <= 0 || math.IsNaN(h) {
			return r.t, fmt.Errorf("%w: step size collapsed at t=%g", ErrConvergence, r.t)
		}
	}
	return r.t, nil
}

// step computes a trial state of size h into r.next and returns the weighted
// error ratio. k1 must hold f at the current state.
func (r *RK45) step(h float64) (float64, error) {
	x, n, t := r.y, r.dim, r.t
	k1 := r.k1

	for i := 0; i < n; i++ {
		r.tmp[i] = x[i] + h*b21*k1[i]
	}
	if err := r.eval(t+a2*h, r.tmp, r.k2); err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		r.tmp[i] = x[i] + h*(b31*k1[i]+b32*r.k2[i])
	}
	if err := r.eval(t+a3*h, r.tmp, r.k3); err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		r.tmp[i] = x[i] + h*(b41*k1[i]+b42*r.k2[i]+b43*r.k3[i])
	}
	if err := r.eval(t+a4*h, r.tmp, r.k4); err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		r.tmp[i] = x[i] + h*(b51*k1[i]+b52*r.k2[i]+b53*r.k3[i]+b54*r.k4[i])
	}
	if err := r.eval(t+a5*h, r.tmp, r.k5); err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		r.tmp[i] = x[i] + h*(b61*k1[i]+b62*r.k2[i]+b63*r.k3[i]+b64*r.k4[i]+b65*r.k5[i])
	}
	if err := r.eval(t+h, r.tmp, r.k6); err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		r.next[i] = x[i] + h*(c1*k1[i]+c3*r.k3[i]+c4*r.k4[i]+c5*r.k5[i]+c6*r.k6[i])
	}
	if err := r.eval(t+h, r.next, r.k7); err != nil {
		return 0, err
	}

	errMax := 0.0
	for i := 0; i < n; i++ {
		errEst := h * (dc1*k1[i] + dc3*r.k3[i] + dc4*r.k4[i] + dc5*r.k5[i] + dc6*r.k6[i] + dc7*r.k7[i])
		scale := r.rtol*math.Max(math.Abs(x[i]), math.Abs(r.next[i])) + r.atol
		errMax = math.Max(errMax, math.Abs(errEst)/scale)
	}
	if math.IsNaN(errMax) {
		return 0, fmt.Errorf("%w: non-finite stage at t=%g", ErrConvergence, t)
	}
	return errMax, nil
}

func (r *RK45) Release() error {
	r.release()
	return nil
}

var _ Engine = (*RK45)(nil)
var _ Engine = (*BDF)(nil)
var _ JacTimesAttacher = (*BDF)(nil)
