// Package integrators defines the stiff ODE engine contract consumed by the
// solver session and ships pure-Go engines that satisfy it.
//
// An Engine advances one bound state vector between two times. It keeps no
// configuration across Reinit: the caller re-attaches the parameter context,
// the right-hand side, the Jacobian-vector product and the linear strategy
// after every reinitialization.
package integrators

import (
	"errors"
	"fmt"

	"github.com/san-kum/chemdyn/internal/dynamo"
)

var (
	ErrConvergence    = errors.New("integrators: corrector failed to converge")
	ErrTooMuchWork    = errors.New("integrators: step budget exhausted before tout")
	ErrNotBound       = errors.New("integrators: no working vector bound")
	ErrNoRHS          = errors.New("integrators: no right-hand side attached")
	ErrNoLinearSolver = errors.New("integrators: no linear solver attached")
	ErrReleased       = errors.New("integrators: engine released")
	ErrTolerance      = errors.New("integrators: invalid tolerances")
)

// Strategy selects how the engine solves the Newton linear systems.
type Strategy int

const (
	// Dense forms the full Jacobian and factorizes it.
	Dense Strategy = iota
	// Sparse stores only the structural non-zeros of the Jacobian and solves
	// iteratively with a diagonal preconditioner.
	Sparse
	// Krylov never forms the Jacobian; it applies it through the
	// Jacobian-vector product.
	Krylov
)

func (s Strategy) String() string {
	switch s {
	case Dense:
		return "dense"
	case Sparse:
		return "sparse"
	case Krylov:
		return "krylov"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy also accepts the solver names klu, spgmr and gmres.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "dense":
		return Dense, nil
	case "sparse", "klu":
		return Sparse, nil
	case "krylov", "spgmr", "gmres":
		return Krylov, nil
	default:
		return 0, fmt.Errorf("unknown linear strategy %q", s)
	}
}

// Stats counts the work done since the last Reinit.
type Stats struct {
	Steps       int
	Rejected    int
	RHSEvals    int
	JacEvals    int
	NewtonIters int
	LinIters    int
	ConvFails   int
	LastStep    float64
}

// Add accumulates o into s. LastStep keeps the receiver's value unless it is
// zero.
func (s *Stats) Add(o Stats) {
	s.Steps += o.Steps
	s.Rejected += o.Rejected
	s.RHSEvals += o.RHSEvals
	s.JacEvals += o.JacEvals
	s.NewtonIters += o.NewtonIters
	s.LinIters += o.LinIters
	s.ConvFails += o.ConvFails
	if s.LastStep == 0 {
		s.LastStep = o.LastStep
	}
}

// Engine is a stiff ODE integrator bound to one working vector.
type Engine interface {
	// Configure sets scalar relative and absolute tolerances.
	Configure(rtol, atol float64) error
	// Bind makes y the working vector. The engine integrates in place.
	Bind(y []float64) error
	// Reinit resets the engine time to t0 and drops the attached context,
	// Jacobian-vector product and linear solver.
	Reinit(t0 float64) error
	AttachParams(p *dynamo.Params)
	AttachRHS(f dynamo.RHSFunc) error
	AttachLinearSolver(s Strategy) error
	// Advance integrates from t0 (the current engine time) to t1 and returns
	// the time actually reached.
	Advance(t0, t1 float64) (float64, error)
	Stats() Stats
	Release() error
}

// JacTimesAttacher is implemented by engines that can use an analytic
// Jacobian-vector product.
type JacTimesAttacher interface {
	AttachJacTimes(f dynamo.JacTimesFunc) error
}

// Factory allocates an engine sized for dim equations.
type Factory func(dim int) (Engine, error)

func validTolerances(rtol, atol float64) error {
	if !(rtol > 0) || !(atol > 0) || rtol >= 1 {
		return fmt.Errorf("%w: rtol=%g atol=%g", ErrTolerance, rtol, atol)
	}
	return nil
}
