package integrators

import (
	"errors"
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/chemdyn/internal/dynamo"
)

var (
	errSingular     = errors.New("integrators: iteration matrix is singular")
	errLinearSolver = errors.New("integrators: linear solver did not converge")
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)

// probe evaluates Jacobian actions around a state, either through an
// attached analytic product or by finite differences of the right-hand side.
type probe struct {
	dim    int
	rhs    dynamo.RHSFunc
	jtv    dynamo.JacTimesFunc
	params *dynamo.Params
	ewt    []float64
	stats  *Stats

	ytmp []float64
	ftmp []float64
	unit []float64
}

func newProbe(dim int, stats *Stats) *probe {
	return &probe{
		dim:   dim,
		stats: stats,
		ewt:   make([]float64, dim),
		ytmp:  make([]float64, dim),
		ftmp:  make([]float64, dim),
		unit:  make([]float64, dim),
	}
}

// column writes J[:, j] at (t, y) into out. fy must hold f(t, y).
func (p *probe) column(t float64, y, fy []float64, j int, out []float64) error {
	if p.jtv != nil {
		for i := range p.unit {
			p.unit[i] = 0
		}
		p.unit[j] = 1
		return p.jtv(p.unit, out, t, y, p.params)
	}
	sigma := math.Max(sqrtEps*math.Abs(y[j]), sqrtEps/p.ewt[j])
	copy(p.ytmp, y)
	p.ytmp[j] += sigma
	if err := p.rhs(t, p.ytmp, p.ftmp, p.params); err != nil {
		return err
	}
	p.stats.RHSEvals++
	for i := range out {
		out[i] = (p.ftmp[i] - fy[i]) / sigma
	}
	return nil
}

// times writes J v at (t, y) into out.
func (p *probe) times(t float64, y, fy, v, out []float64) error {
	if p.jtv != nil {
		return p.jtv(v, out, t, y, p.params)
	}
	nrm := wrms(v, p.ewt)
	if nrm == 0 {
		for i := range out {
			out[i] = 0
		}
		return nil
	}
	sigma := 1 / nrm
	copy(p.ytmp, y)
	floats.AddScaled(p.ytmp, sigma, v)
	if err := p.rhs(t, p.ytmp, p.ftmp, p.params); err != nil {
		return err
	}
	p.stats.RHSEvals++
	for i := range out {
		out[i] = (p.ftmp[i] - fy[i]) / sigma
	}
	return nil
}

// linearSolver solves (I - gamma J) x = b for the Newton corrector.
type linearSolver interface {
	setup(p *probe, t, gamma float64, y, fy []float64) error
	solve(b, x []float64) (iters int, err error)
}

func newLinearSolver(s Strategy, dim int) (linearSolver, error) {
	switch s {
	case Dense:
		return newDenseSolver(dim), nil
	case Sparse:
		return newSparseSolver(dim), nil
	case Krylov:
		return newKrylovSolver(dim), nil
	default:
		return nil, ErrNoLinearSolver
	}
}

type denseSolver struct {
	n   int
	m   *mat.Dense
	lu  mat.LU
	col []float64
}

func newDenseSolver(n int) *denseSolver {
	return &denseSolver{n: n, m: mat.NewDense(n, n, nil), col: make([]float64, n)}
}

func (d *denseSolver) setup(p *probe, t, gamma float64, y, fy []float64) error {
	for c := 0; c < d.n; c++ {
		if err := p.column(t, y, fy, c, d.col); err != nil {
			return err
		}
		for r := 0; r < d.n; r++ {
			v := -gamma * d.col[r]
			if r == c {
				v++
			}
			d.m.Set(r, c, v)
		}
	}
	d.lu.Factorize(d.m)
	if c := d.lu.Cond(); math.IsInf(c, 1) || math.IsNaN(c) {
		return errSingular
	}
	return nil
}

func (d *denseSolver) solve(b, x []float64) (int, error) {
	err := d.lu.SolveVecTo(mat.NewVecDense(d.n, x), false, mat.NewVecDense(d.n, b))
	var cond mat.Condition
	if errors.As(err, &cond) {
		if math.IsInf(float64(cond), 1) {
			return 0, errSingular
		}
		// Ill-conditioned but usable.
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// sparseSolver keeps the structural non-zeros of J in a CSR matrix and
// solves with Jacobi-preconditioned GMRES in the error-weighted norm.
type sparseSolver struct {
	n     int
	gamma float64
	jac   *sparse.CSR
	diag  []float64
	ewt   []float64

	ia   []int
	ja   []int
	val  []float64
	rows [][]sparseEntry
	col  []float64
	tmp  []float64
	gm   *gmres
}

type sparseEntry struct {
	col int
	val float64
}

func newSparseSolver(n int) *sparseSolver {
	return &sparseSolver{
		n:    n,
		ia:   make([]int, n+1),
		diag: make([]float64, n),
		rows: make([][]sparseEntry, n),
		col:  make([]float64, n),
		tmp:  make([]float64, n),
		gm:   newGMRES(n),
	}
}

func (s *sparseSolver) setup(p *probe, t, gamma float64, y, fy []float64) error {
	s.gamma = gamma
	s.ewt = p.ewt
	for r := range s.rows {
		s.rows[r] = s.rows[r][:0]
	}
	for c := 0; c < s.n; c++ {
		if err := p.column(t, y, fy, c, s.col); err != nil {
			return err
		}
		for r, v := range s.col {
			if v != 0 {
				s.rows[r] = append(s.rows[r], sparseEntry{col: c, val: v})
			}
		}
	}
	ja := make([]int, 0, len(s.ja))
	val := make([]float64, 0, len(s.val))
	for r, row := range s.rows {
		s.ia[r] = len(ja)
		s.diag[r] = 1
		for _, e := range row {
			ja = append(ja, e.col)
			val = append(val, e.val)
			if e.col == r {
				s.diag[r] -= gamma * e.val
			}
		}
		if s.diag[r] == 0 {
			return errSingular
		}
	}
	s.ia[s.n] = len(ja)
	s.ja, s.val = ja, val
	s.jac = sparse.NewCSR(s.n, s.n, append([]int(nil), s.ia...), ja, val)
	return nil
}

// Nnz reports the stored non-zeros after the last setup.
func (s *sparseSolver) Nnz() int {
	if s.jac == nil {
		return 0
	}
	return s.jac.NNZ()
}

// mul writes (I - gamma J) v into out.
func (s *sparseSolver) mul(v, out []float64) {
	copy(out, v)
	s.jac.DoNonZero(func(i, j int, a float64) {
		out[i] -= s.gamma * a * v[j]
	})
}

func (s *sparseSolver) solve(b, x []float64) (int, error) {
	// Right-preconditioned and scaled: z = W D x, op(z) = W M D^-1 W^-1 z.
	op := func(z, out []float64) error {
		for i := range z {
			s.tmp[i] = z[i] / (s.ewt[i] * s.diag[i])
		}
		s.mul(s.tmp, out)
		for i := range out {
			out[i] *= s.ewt[i]
		}
		return nil
	}
	bs := s.gm.rhs
	for i := range b {
		bs[i] = b[i] * s.ewt[i]
	}
	z := s.gm.sol
	iters, err := s.gm.solve(op, bs, z)
	for i := range x {
		x[i] = z[i] / (s.ewt[i] * s.diag[i])
	}
	return iters, err
}

// krylovSolver never forms J. Each operator application costs one
// Jacobian-vector product.
type krylovSolver struct {
	n     int
	p     *probe
	t     float64
	gamma float64
	y, fy []float64
	tmp   []float64
	jv    []float64
	gm    *gmres
}

func newKrylovSolver(n int) *krylovSolver {
	return &krylovSolver{
		n:   n,
		y:   make([]float64, n),
		fy:  make([]float64, n),
		tmp: make([]float64, n),
		jv:  make([]float64, n),
		gm:  newGMRES(n),
	}
}

func (k *krylovSolver) setup(p *probe, t, gamma float64, y, fy []float64) error {
	k.p = p
	k.t = t
	k.gamma = gamma
	copy(k.y, y)
	copy(k.fy, fy)
	return nil
}

func (k *krylovSolver) solve(b, x []float64) (int, error) {
	ewt := k.p.ewt
	op := func(z, out []float64) error {
		for i := range z {
			k.tmp[i] = z[i] / ewt[i]
		}
		if err := k.p.times(k.t, k.y, k.fy, k.tmp, k.jv); err != nil {
			return err
		}
		for i := range out {
			out[i] = (k.tmp[i] - k.gamma*k.jv[i]) * ewt[i]
		}
		return nil
	}
	bs := k.gm.rhs
	for i := range b {
		bs[i] = b[i] * ewt[i]
	}
	z := k.gm.sol
	iters, err := k.gm.solve(op, bs, z)
	for i := range x {
		x[i] = z[i] / ewt[i]
	}
	return iters, err
}

// gmres is restarted GMRES with modified Gram-Schmidt. The Hessenberg
// matrix is reduced by BLAS plane rotations as columns arrive and the
// triangular factor is solved at the end of each cycle.
type gmres struct {
	n, m        int
	tol         float64
	maxRestarts int

	v        [][]float64
	h        *mat.Dense
	cs, sn   []float64
	g        []float64
	r, w     []float64
	rhs, sol []float64
}

func newGMRES(n int) *gmres {
	m := min(n, 30)
	if m < 1 {
		m = 1
	}
	g := &gmres{
		n: n, m: m, tol: 1e-10, maxRestarts: 20,
		v:   make([][]float64, m+1),
		h:   mat.NewDense(m+1, m, nil),
		cs:  make([]float64, m),
		sn:  make([]float64, m),
		g:   make([]float64, m+1),
		r:   make([]float64, n),
		w:   make([]float64, n),
		rhs: make([]float64, n),
		sol: make([]float64, n),
	}
	for i := range g.v {
		g.v[i] = make([]float64, n)
	}
	return g
}

func (g *gmres) solve(op func(in, out []float64) error, b, x []float64) (int, error) {
	for i := range x {
		x[i] = 0
	}
	bnorm := floats.Norm(b, 2)
	if bnorm == 0 {
		return 0, nil
	}
	target := g.tol * bnorm
	impl := blas64.Implementation()
	iters := 0

	for restart := 0; restart <= g.maxRestarts; restart++ {
		if restart == 0 {
			copy(g.r, b)
		} else {
			if err := op(x, g.w); err != nil {
				return iters, err
			}
			floats.SubTo(g.r, b, g.w)
		}
		beta := floats.Norm(g.r, 2)
		if beta <= target {
			return iters, nil
		}
		floats.ScaleTo(g.v[0], 1/beta, g.r)
		for i := range g.g {
			g.g[i] = 0
		}
		g.g[0] = beta
		g.h.Zero()

		k := 0
		for k < g.m {
			if err := op(g.v[k], g.v[k+1]); err != nil {
				return iters, err
			}
			iters++
			for i := 0; i <= k; i++ {
				hik := floats.Dot(g.v[i], g.v[k+1])
				g.h.Set(i, k, hik)
				floats.AddScaled(g.v[k+1], -hik, g.v[i])
			}
			sub := floats.Norm(g.v[k+1], 2)
			if sub != 0 {
				floats.Scale(1/sub, g.v[k+1])
			}
			for i := 0; i < k; i++ {
				hi, hn := g.h.At(i, k), g.h.At(i+1, k)
				g.h.Set(i, k, g.cs[i]*hi+g.sn[i]*hn)
				g.h.Set(i+1, k, -g.sn[i]*hi+g.cs[i]*hn)
			}
			c, s, r, _ := impl.Drotg(g.h.At(k, k), sub)
			if r == 0 {
				return iters, errSingular
			}
			g.cs[k], g.sn[k] = c, s
			g.h.Set(k, k, r)
			g.h.Set(k+1, k, 0)
			g.g[k+1] = -s * g.g[k]
			g.g[k] = c * g.g[k]
			k++
			if math.Abs(g.g[k]) <= target {
				break
			}
		}

		upper := mat.NewTriDense(k, mat.Upper, nil)
		for i := 0; i < k; i++ {
			for j := i; j < k; j++ {
				upper.SetTri(i, j, g.h.At(i, j))
			}
		}
		var y mat.VecDense
		if err := y.SolveVec(upper, mat.NewVecDense(k, g.g[:k])); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return iters, err
			}
		}
		for i := 0; i < k; i++ {
			floats.AddScaled(x, y.AtVec(i), g.v[i])
		}
		if math.Abs(g.g[k]) <= target {
			return iters, nil
		}
	}
	return iters, errLinearSolver
}

// wrms is the weighted root-mean-square norm used for every error test.
func wrms(v, w []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for i, x := range v {
		x *= w[i]
		s += x * x
	}
	return math.Sqrt(s / float64(len(v)))
}

// weights fills ewt with 1 / (rtol |y| + atol).
func weights(ewt, y []float64, rtol, atol float64) {
	for i, v := range y {
		ewt[i] = 1 / (rtol*math.Abs(v) + atol)
	}
}

// weightsMax is weights over max(|a|, |b|).
func weightsMax(ewt, a, b []float64, rtol, atol float64) {
	for i := range ewt {
		ewt[i] = 1 / (rtol*math.Max(math.Abs(a[i]), math.Abs(b[i])) + atol)
	}
}
