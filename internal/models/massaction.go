package models

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/chemdyn/internal/dynamo"
)

// Kind selects the rate law of a reaction.
type Kind int

const (
	// TwoBody: k = alpha (T/300)^beta exp(-gamma/T).
	TwoBody Kind = iota
	// CosmicRay: k = alpha zeta_CR.
	CosmicRay
	// Photo: k = alpha G0 exp(-gamma Av).
	Photo
	// Constant: k = alpha.
	Constant
)

func (k Kind) String() string {
	switch k {
	case TwoBody:
		return "two-body"
	case CosmicRay:
		return "cosmic-ray"
	case Photo:
		return "photo"
	case Constant:
		return "constant"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Reaction is written with species names; repeated names mean
// stoichiometric coefficients above one.
type Reaction struct {
	Reactants []string
	Products  []string
	Kind      Kind
	Alpha     float64
	Beta      float64
	Gamma     float64
}

func (r Reaction) String() string {
	return fmt.Sprintf("%v -> %v", r.Reactants, r.Products)
}

// minRateTemperature bounds the temperature used in two-body rates.
const minRateTemperature = 1.0

func (r Reaction) coefficient(p *dynamo.Params) float64 {
	switch r.Kind {
	case TwoBody:
		T := math.Max(p.Tgas, minRateTemperature)
		k := r.Alpha
		if r.Beta != 0 {
			k *= math.Pow(T/300, r.Beta)
		}
		if r.Gamma != 0 {
			k *= math.Exp(-r.Gamma / T)
		}
		return k
	case CosmicRay:
		return r.Alpha * p.ZetaCR
	case Photo:
		return r.Alpha * p.G0 * math.Exp(-r.Gamma*p.Av)
	default:
		return r.Alpha
	}
}

type compiled struct {
	Reaction
	in, out []int
}

// MassAction is a reaction network under the law of mass action. It holds
// no scratch state and is safe for concurrent use.
type MassAction struct {
	name       string
	species    []string
	reactions  []compiled
	initial    map[string]float64
	invariants map[string][]float64

	tempIdx int
	tcool   float64
}

type Option func(*MassAction)

// WithCooling appends a gas temperature slot relaxing toward Params.Tdust
// on the timescale tcool (seconds).
func WithCooling(tcool float64) Option {
	return func(m *MassAction) {
		m.tempIdx = len(m.species)
		m.tcool = tcool
	}
}

// WithInitial sets default initial abundances as fractions of nH.
func WithInitial(fractions map[string]float64) Option {
	return func(m *MassAction) { m.initial = fractions }
}

// WithInvariant registers a linear combination of the state that the
// network conserves.
func WithInvariant(name string, weights map[string]float64) Option {
	return func(m *MassAction) {
		if m.invariants == nil {
			m.invariants = map[string][]float64{}
		}
		w := make([]float64, len(m.species))
		for s, v := range weights {
			for i, n := range m.species {
				if n == s {
					w[i] = v
				}
			}
		}
		m.invariants[name] = w
	}
}

func NewMassAction(name string, species []string, reactions []Reaction, opts ...Option) (*MassAction, error) {
	index := make(map[string]int, len(species))
	for i, s := range species {
		if _, dup := index[s]; dup {
			return nil, fmt.Errorf("network %s: duplicate species %q", name, s)
		}
		index[s] = i
	}
	resolve := func(names []string) ([]int, error) {
		idx := make([]int, len(names))
		for i, n := range names {
			j, ok := index[n]
			if !ok {
				return nil, fmt.Errorf("network %s: unknown species %q", name, n)
			}
			idx[i] = j
		}
		return idx, nil
	}

	m := &MassAction{name: name, species: species, tempIdx: -1}
	for _, r := range reactions {
		if len(r.Reactants) == 0 {
			return nil, fmt.Errorf("network %s: reaction %v has no reactants", name, r)
		}
		in, err := resolve(r.Reactants)
		if err != nil {
			return nil, err
		}
		out, err := resolve(r.Products)
		if err != nil {
			return nil, err
		}
		m.reactions = append(m.reactions, compiled{Reaction: r, in: in, out: out})
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tempIdx >= 0 && !(m.tcool > 0) {
		return nil, fmt.Errorf("network %s: cooling time %g must be positive", name, m.tcool)
	}
	return m, nil
}

func (m *MassAction) Name() string { return m.name }

func (m *MassAction) Species() []string { return m.species }

func (m *MassAction) Dim() int {
	if m.tempIdx >= 0 {
		return len(m.species) + 1
	}
	return len(m.species)
}

func (m *MassAction) TemperatureIndex() int { return m.tempIdx }

func (m *MassAction) Reactions() int { return len(m.reactions) }

// Initial returns the default initial abundances as fractions of nH.
func (m *MassAction) Initial() map[string]float64 { return m.initial }

// Invariants returns the conserved linear combinations, keyed by name, in
// sorted key order.
func (m *MassAction) Invariants() ([]string, [][]float64) {
	names := make([]string, 0, len(m.invariants))
	for n := range m.invariants {
		names = append(names, n)
	}
	sort.Strings(names)
	ws := make([][]float64, len(names))
	for i, n := range names {
		ws[i] = m.invariants[n]
	}
	return names, ws
}

// Rates writes every rate coefficient under p into dst.
func (m *MassAction) Rates(p *dynamo.Params, dst []float64) []float64 {
	dst = dst[:0]
	for _, r := range m.reactions {
		dst = append(dst, r.coefficient(p))
	}
	return dst
}

func (m *MassAction) check(y []float64) error {
	if len(y) != m.Dim() {
		return fmt.Errorf("network %s: state has %d values, want %d", m.name, len(y), m.Dim())
	}
	return nil
}

func (m *MassAction) RHS(t float64, y, ydot []float64, p *dynamo.Params) error {
	if err := m.check(y); err != nil {
		return err
	}
	for i := range ydot {
		ydot[i] = 0
	}
	for _, r := range m.reactions {
		rate := r.coefficient(p)
		for _, j := range r.in {
			rate *= y[j]
		}
		for _, j := range r.in {
			ydot[j] -= rate
		}
		for _, j := range r.out {
			ydot[j] += rate
		}
	}
	if m.tempIdx >= 0 {
		ydot[m.tempIdx] = -(y[m.tempIdx] - p.Tdust) / m.tcool
	}
	return nil
}

// JacTimes applies the analytic Jacobian. Rate coefficients depend on
// Params only, so the temperature slot couples to nothing but itself.
func (m *MassAction) JacTimes(v, jv []float64, t float64, y []float64, p *dynamo.Params) error {
	if err := m.check(y); err != nil {
		return err
	}
	for i := range jv {
		jv[i] = 0
	}
	for _, r := range m.reactions {
		k := r.coefficient(p)
		d := 0.0
		for a, ja := range r.in {
			term := k * v[ja]
			for b, jb := range r.in {
				if b != a {
					term *= y[jb]
				}
			}
			d += term
		}
		for _, j := range r.in {
			jv[j] -= d
		}
		for _, j := range r.out {
			jv[j] += d
		}
	}
	if m.tempIdx >= 0 {
		jv[m.tempIdx] = -v[m.tempIdx] / m.tcool
	}
	return nil
}

var (
	_ dynamo.Network        = (*MassAction)(nil)
	_ dynamo.JacobianVector = (*MassAction)(nil)
	_ dynamo.Thermal        = (*MassAction)(nil)
)
