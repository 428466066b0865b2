package integrators

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/chemdyn/internal/dynamo"
)

func TestGMRES_MatchesLU(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{
		4, 1, 0,
		2, 5, 1,
		0, 3, 6,
	})
	b := []float64{1, 2, 3}

	var lu mat.LU
	lu.Factorize(a)
	want := mat.NewVecDense(3, nil)
	if err := lu.SolveVecTo(want, false, mat.NewVecDense(3, b)); err != nil {
		t.Fatal(err)
	}

	g := newGMRES(3)
	op := func(in, out []float64) error {
		mat.NewVecDense(3, out).MulVec(a, mat.NewVecDense(3, in))
		return nil
	}
	x := make([]float64, 3)
	iters, err := g.solve(op, b, x)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if iters == 0 || iters > 3 {
		t.Errorf("iters = %d, want 1..3", iters)
	}
	if !floats.EqualApprox(x, want.RawVector().Data, 1e-9) {
		t.Errorf("x = %v, want %v", x, want.RawVector().Data)
	}
}

func TestGMRES_ZeroRHS(t *testing.T) {
	g := newGMRES(2)
	x := []float64{5, 5}
	iters, err := g.solve(func(in, out []float64) error { copy(out, in); return nil }, []float64{0, 0}, x)
	if err != nil || iters != 0 || x[0] != 0 || x[1] != 0 {
		t.Errorf("got iters=%d err=%v x=%v", iters, err, x)
	}
}

func TestSparseSolver_StoresNonZeros(t *testing.T) {
	// Diagonal decay: only n structural non-zeros.
	rhs := func(t float64, y, ydot []float64, p *dynamo.Params) error {
		for i := range y {
			ydot[i] = -float64(i+1) * y[i]
		}
		return nil
	}
	var st Stats
	p := newProbe(4, &st)
	p.rhs = rhs
	y := []float64{1, 1, 1, 1}
	fy := make([]float64, 4)
	_ = rhs(0, y, fy, nil)
	weights(p.ewt, y, 1e-5, 1e-20)

	s := newSparseSolver(4)
	if err := s.setup(p, 0, 0.5, y, fy); err != nil {
		t.Fatal(err)
	}
	if s.Nnz() != 4 {
		t.Errorf("Nnz = %d, want 4", s.Nnz())
	}
	if st.RHSEvals != 4 {
		t.Errorf("finite-difference columns used %d evaluations, want 4", st.RHSEvals)
	}

	b := []float64{1, 1, 1, 1}
	x := make([]float64, 4)
	if _, err := s.solve(b, x); err != nil {
		t.Fatal(err)
	}
	for i, v := range x {
		want := 1 / (1 + 0.5*float64(i+1))
		if math.Abs(v-want) > 1e-6 {
			t.Errorf("x[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestSparseSolver_MatchesDense(t *testing.T) {
	// A -> B -> C chain with a slow back reaction: lower bidiagonal plus one entry.
	rhs := func(t float64, y, ydot []float64, p *dynamo.Params) error {
		ydot[0] = -1e3*y[0] + 2*y[1]
		ydot[1] = 1e3*y[0] - 50*y[1] - 2*y[1]
		ydot[2] = 50 * y[1]
		return nil
	}
	var st Stats
	p := newProbe(3, &st)
	p.rhs = rhs
	y := []float64{1, 1e-3, 1e-40}
	fy := make([]float64, 3)
	_ = rhs(0, y, fy, nil)
	weights(p.ewt, y, 1e-5, 1e-20)

	d := newDenseSolver(3)
	sp := newSparseSolver(3)
	if err := d.setup(p, 0, 0.01, y, fy); err != nil {
		t.Fatal(err)
	}
	if err := sp.setup(p, 0, 0.01, y, fy); err != nil {
		t.Fatal(err)
	}
	if sp.Nnz() != 5 {
		t.Errorf("Nnz = %d, want 5", sp.Nnz())
	}

	b := []float64{0.3, -0.2, 1e-6}
	want := make([]float64, 3)
	got := make([]float64, 3)
	if _, err := d.solve(b, want); err != nil {
		t.Fatal(err)
	}
	if _, err := sp.solve(b, got); err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-6*math.Max(1, math.Abs(want[i])) {
			t.Errorf("x[%d] = %v, dense gives %v", i, got[i], want[i])
		}
	}
}

func TestDenseSolver_Singular(t *testing.T) {
	// gamma*J = I makes the iteration matrix zero.
	rhs := func(t float64, y, ydot []float64, p *dynamo.Params) error {
		copy(ydot, y)
		return nil
	}
	var st Stats
	p := newProbe(2, &st)
	p.rhs = rhs
	p.jtv = func(v, jv []float64, t float64, y []float64, p *dynamo.Params) error {
		copy(jv, v)
		return nil
	}
	y := []float64{1, 1}
	weights(p.ewt, y, 1e-5, 1e-20)
	d := newDenseSolver(2)
	if err := d.setup(p, 0, 1, y, y); err == nil {
		t.Error("expected singular iteration matrix")
	}
}

func TestWRMS(t *testing.T) {
	v := []float64{3, 4}
	w := []float64{1, 1}
	want := math.Sqrt(12.5)
	if got := wrms(v, w); math.Abs(got-want) > 1e-15 {
		t.Errorf("wrms = %v, want %v", got, want)
	}
	if wrms(nil, nil) != 0 {
		t.Error("wrms of empty vector should be 0")
	}
}
