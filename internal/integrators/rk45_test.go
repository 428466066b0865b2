package integrators

import (
	"math"
	"testing"

	"github.com/san-kum/chemdyn/internal/dynamo"
)

func oscillatorRHS(t float64, x, dx []float64, p *dynamo.Params) error {
	dx[0] = x[1]
	dx[1] = -x[0]
	return nil
}

func TestRK45_Decay(t *testing.T) {
	e, err := NewRK45(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Configure(1e-8, 1e-12); err != nil {
		t.Fatal(err)
	}
	y := []float64{1}
	prepare(t, e, y, decayRHS(1), Dense)

	if _, err := e.Advance(0, 1); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if d := math.Abs(y[0] - math.Exp(-1)); d > 1e-6 {
		t.Errorf("y(1) off by %e", d)
	}
}

func TestRK45_EnergyConservation(t *testing.T) {
	e, _ := NewRK45(2)
	if err := e.Configure(1e-9, 1e-12); err != nil {
		t.Fatal(err)
	}
	x := []float64{1.0, 0.0}
	prepare(t, e, x, oscillatorRHS, Dense)

	if _, err := e.Advance(0, 10); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	energy := 0.5 * (x[0]*x[0] + x[1]*x[1])
	if drift := math.Abs(energy - 0.5) / 0.5; drift > 1e-6 {
		t.Errorf("RK45 energy drift too high: %e", drift)
	}
	if !dynamo.State(x).IsValid() {
		t.Error("RK45 produced invalid state")
	}
}

func TestRK45_IgnoresStrategy(t *testing.T) {
	e, _ := NewRK45(1)
	for _, s := range []Strategy{Dense, Sparse, Krylov} {
		if err := e.AttachLinearSolver(s); err != nil {
			t.Errorf("AttachLinearSolver(%v) = %v", s, err)
		}
	}
}

func TestRK45_StatsAndReinit(t *testing.T) {
	e, _ := NewRK45(1)
	prepare(t, e, []float64{1}, decayRHS(2), Dense)
	if _, err := e.Advance(0, 1); err != nil {
		t.Fatal(err)
	}
	if e.Stats().Steps == 0 || e.Stats().LastStep <= 0 {
		t.Errorf("stats not counted: %+v", e.Stats())
	}
	if err := e.Reinit(0); err != nil {
		t.Fatal(err)
	}
	if e.Stats().Steps != 0 {
		t.Error("Reinit did not reset stats")
	}
}
