package integrators

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/san-kum/chemdyn/internal/dynamo"
)

func decayRHS(k float64) dynamo.RHSFunc {
	return func(t float64, y, ydot []float64, p *dynamo.Params) error {
		ydot[0] = -k * y[0]
		return nil
	}
}

// isomerRHS is A <-> B with a fast forward and a slow backward rate.
func isomerRHS(kf, kb float64) dynamo.RHSFunc {
	return func(t float64, y, ydot []float64, p *dynamo.Params) error {
		r := kf*y[0] - kb*y[1]
		ydot[0] = -r
		ydot[1] = r
		return nil
	}
}

func isomerJacTimes(kf, kb float64) dynamo.JacTimesFunc {
	return func(v, jv []float64, t float64, y []float64, p *dynamo.Params) error {
		r := kf*v[0] - kb*v[1]
		jv[0] = -r
		jv[1] = r
		return nil
	}
}

func prepare(t *testing.T, e Engine, y []float64, f dynamo.RHSFunc, s Strategy) {
	t.Helper()
	if err := e.Bind(y); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := e.Reinit(0); err != nil {
		t.Fatalf("Reinit: %v", err)
	}
	p := dynamo.DefaultParams()
	e.AttachParams(&p)
	if err := e.AttachRHS(f); err != nil {
		t.Fatalf("AttachRHS: %v", err)
	}
	if err := e.AttachLinearSolver(s); err != nil {
		t.Fatalf("AttachLinearSolver: %v", err)
	}
}

func TestBDF_Decay(t *testing.T) {
	e, err := NewBDF(1)
	if err != nil {
		t.Fatal(err)
	}
	y := []float64{1}
	prepare(t, e, y, decayRHS(1), Dense)

	reached, err := e.Advance(0, 1)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if reached != 1 {
		t.Errorf("reached %v, want 1", reached)
	}
	want := math.Exp(-1)
	if rel := math.Abs(y[0]-want) / want; rel > 1e-2 {
		t.Errorf("y(1) = %v, want %v (rel err %e)", y[0], want, rel)
	}
	st := e.Stats()
	if st.Steps == 0 || st.JacEvals == 0 || st.RHSEvals == 0 {
		t.Errorf("stats not counted: %+v", st)
	}
}

func TestBDF_StiffIsomerAllStrategies(t *testing.T) {
	const kf, kb = 1e6, 1.0
	eq := kf / (kf + kb)

	for _, s := range []Strategy{Dense, Sparse, Krylov} {
		for _, analytic := range []bool{false, true} {
			name := s.String()
			if analytic {
				name += "/jtv"
			}
			t.Run(name, func(t *testing.T) {
				e, _ := NewBDF(2)
				y := []float64{1, 0}
				prepare(t, e, y, isomerRHS(kf, kb), s)
				if analytic {
					if err := e.AttachJacTimes(isomerJacTimes(kf, kb)); err != nil {
						t.Fatal(err)
					}
				}
				if _, err := e.Advance(0, 10); err != nil {
					t.Fatalf("Advance: %v", err)
				}
				if sum := y[0] + y[1]; math.Abs(sum-1) > 1e-6 {
					t.Errorf("mass not conserved: sum = %.12f", sum)
				}
				if math.Abs(y[1]-eq)/eq > 1e-4 {
					t.Errorf("B = %v, want equilibrium %v", y[1], eq)
				}
			})
		}
	}
}

func TestBDF_LateStartKeepsStepFloorRelative(t *testing.T) {
	// The step floor is a few ulps of t, not a multiple of t.
	const t0 = 1e8
	e, _ := NewBDF(1)
	y := []float64{1}
	if err := e.Bind(y); err != nil {
		t.Fatal(err)
	}
	if err := e.Reinit(t0); err != nil {
		t.Fatal(err)
	}
	p := dynamo.DefaultParams()
	e.AttachParams(&p)
	_ = e.AttachRHS(decayRHS(1))
	_ = e.AttachLinearSolver(Dense)

	reached, err := e.Advance(t0, t0+1)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if reached != t0+1 {
		t.Errorf("reached %v, want %v", reached, t0+1)
	}
	if want := math.Exp(-1); math.Abs(y[0]-want)/want > 1e-2 {
		t.Errorf("y = %v, want %v", y[0], want)
	}
}

func TestBDF_StiffProductionFromTrace(t *testing.T) {
	const kb = 1.0
	for _, s := range []Strategy{Dense, Sparse, Krylov} {
		for _, kf := range []float64{1e4, 1e6} {
			for _, b0 := range []float64{0, 1e-40} {
				name := fmt.Sprintf("%s/kf=%g/b0=%g", s, kf, b0)
				t.Run(name, func(t *testing.T) {
					e, _ := NewBDF(2)
					y := []float64{1, b0}
					prepare(t, e, y, isomerRHS(kf, kb), s)
					reached, err := e.Advance(0, 10)
					if err != nil {
						t.Fatalf("Advance: %v", err)
					}
					if reached != 10 {
						t.Errorf("reached %v", reached)
					}
					eq := kf / (kf + kb) * (1 + b0)
					if math.Abs(y[1]-eq)/eq > 1e-4 {
						t.Errorf("B = %v, want %v", y[1], eq)
					}
					if st := e.Stats(); st.Steps > 1000 {
						t.Errorf("took %d steps", st.Steps)
					}
				})
			}
		}
	}
}

func TestBDF_ReinitPerInterval(t *testing.T) {
	e, _ := NewBDF(1)
	y := []float64{1}
	for i := 0; i < 10; i++ {
		prepare(t, e, y, decayRHS(1), Dense)
		if _, err := e.Advance(0, 0.1); err != nil {
			t.Fatalf("interval %d: %v", i, err)
		}
	}
	want := math.Exp(-1)
	if rel := math.Abs(y[0]-want) / want; rel > 1e-2 {
		t.Errorf("y after 10 intervals = %v, want %v", y[0], want)
	}
}

func TestBDF_ReinitDropsAttachments(t *testing.T) {
	e, _ := NewBDF(1)
	y := []float64{1}
	prepare(t, e, y, decayRHS(1), Dense)
	if err := e.Reinit(0); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Advance(0, 1); !errors.Is(err, ErrNoRHS) {
		t.Errorf("expected ErrNoRHS after Reinit, got %v", err)
	}
	if err := e.AttachRHS(decayRHS(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Advance(0, 1); !errors.Is(err, ErrNoLinearSolver) {
		t.Errorf("expected ErrNoLinearSolver after Reinit, got %v", err)
	}
	if e.Stats() != (Stats{}) {
		t.Errorf("Reinit did not reset stats: %+v", e.Stats())
	}
}

func TestBDF_Errors(t *testing.T) {
	t.Run("unbound", func(t *testing.T) {
		e, _ := NewBDF(1)
		_ = e.AttachRHS(decayRHS(1))
		if _, err := e.Advance(0, 1); !errors.Is(err, ErrNotBound) {
			t.Errorf("got %v", err)
		}
	})
	t.Run("bind mismatch", func(t *testing.T) {
		e, _ := NewBDF(3)
		if err := e.Bind([]float64{1}); err == nil {
			t.Error("expected error binding a short vector")
		}
	})
	t.Run("bad tolerances", func(t *testing.T) {
		e, _ := NewBDF(1)
		for _, tol := range [][2]float64{{0, 1e-20}, {1e-5, 0}, {math.NaN(), 1}, {2, 1e-20}} {
			if err := e.Configure(tol[0], tol[1]); !errors.Is(err, ErrTolerance) {
				t.Errorf("Configure(%v, %v) = %v", tol[0], tol[1], err)
			}
		}
	})
	t.Run("wrong start", func(t *testing.T) {
		e, _ := NewBDF(1)
		prepare(t, e, []float64{1}, decayRHS(1), Dense)
		if _, err := e.Advance(5, 6); err == nil {
			t.Error("expected error advancing from a time the engine is not at")
		}
	})
	t.Run("backwards", func(t *testing.T) {
		e, _ := NewBDF(1)
		prepare(t, e, []float64{1}, decayRHS(1), Dense)
		if _, err := e.Advance(0, -1); err == nil {
			t.Error("expected error advancing backwards")
		}
	})
	t.Run("released", func(t *testing.T) {
		e, _ := NewBDF(1)
		if err := e.Release(); err != nil {
			t.Fatal(err)
		}
		if err := e.Release(); err != nil {
			t.Errorf("second Release = %v", err)
		}
		if err := e.Reinit(0); !errors.Is(err, ErrReleased) {
			t.Errorf("Reinit after Release = %v", err)
		}
	})
	t.Run("dimension", func(t *testing.T) {
		if _, err := NewBDF(0); err == nil {
			t.Error("expected error for zero dimension")
		}
	})
}

func TestBDF_NonFiniteRHSFails(t *testing.T) {
	e, _ := NewBDF(1)
	y := []float64{1}
	nan := func(t float64, y, ydot []float64, p *dynamo.Params) error {
		ydot[0] = math.NaN()
		return nil
	}
	prepare(t, e, y, nan, Dense)
	reached, err := e.Advance(0, 1)
	if !errors.Is(err, ErrConvergence) {
		t.Fatalf("expected ErrConvergence, got %v", err)
	}
	if reached != 0 {
		t.Errorf("reached = %v, want 0", reached)
	}
}

func TestBDF_MaxSteps(t *testing.T) {
	e, _ := NewBDF(1, WithMaxSteps(3))
	prepare(t, e, []float64{1}, decayRHS(1), Dense)
	reached, err := e.Advance(0, 1e3)
	if !errors.Is(err, ErrTooMuchWork) {
		t.Fatalf("expected ErrTooMuchWork, got %v", err)
	}
	if reached <= 0 || reached >= 1e3 {
		t.Errorf("reached = %v, want partial progress", reached)
	}
}

func TestBDF_ZeroInterval(t *testing.T) {
	e, _ := NewBDF(1)
	y := []float64{0.5}
	prepare(t, e, y, decayRHS(1), Dense)
	reached, err := e.Advance(0, 0)
	if err != nil || reached != 0 || y[0] != 0.5 {
		t.Errorf("Advance(0, 0) = %v, %v; y = %v", reached, err, y[0])
	}
}

func TestParseStrategy(t *testing.T) {
	tests := map[string]Strategy{
		"dense": Dense, "sparse": Sparse, "klu": Sparse,
		"krylov": Krylov, "spgmr": Krylov, "gmres": Krylov,
	}
	for in, want := range tests {
		got, err := ParseStrategy(in)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseStrategy("lapack"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
