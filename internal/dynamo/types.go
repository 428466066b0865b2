package dynamo

import (
	"math"
)

// State is the abundance vector of one system. When a network evolves the gas
// temperature it occupies the last slot.
type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Sum() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v
	}
	return sum
}

func (s State) Min() float64 {
	if len(s) == 0 {
		return 0
	}
	m := s[0]
	for _, v := range s[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// ClampFloor raises every entry below floor to floor and reports how many
// entries were touched.
func (s State) ClampFloor(floor float64) int {
	n := 0
	for i, v := range s {
		if v < floor {
			s[i] = floor
			n++
		}
	}
	return n
}

// Params describes the ambient conditions of one system. The layout is fixed;
// network-specific tunables go in Extra.
type Params struct {
	NH     float64 `yaml:"nh" toml:"nh" json:"nh"`
	Tgas   float64 `yaml:"tgas" toml:"tgas" json:"tgas"`
	Tdust  float64 `yaml:"tdust" toml:"tdust" json:"tdust"`
	Av     float64 `yaml:"av" toml:"av" json:"av"`
	G0     float64 `yaml:"g0" toml:"g0" json:"g0"`
	ZetaCR float64 `yaml:"zeta_cr" toml:"zeta_cr" json:"zeta_cr"`
	ZetaXR float64 `yaml:"zeta_xr" toml:"zeta_xr" json:"zeta_xr"`
	RG     float64 `yaml:"rg" toml:"rg" json:"rg"`
	Omega  float64 `yaml:"omega" toml:"omega" json:"omega"`
	Barr   float64 `yaml:"barr" toml:"barr" json:"barr"`
	Sites  float64 `yaml:"sites" toml:"sites" json:"sites"`
	Hop    float64 `yaml:"hop" toml:"hop" json:"hop"`
	NMono  float64 `yaml:"nmono" toml:"nmono" json:"nmono"`
	Duty   float64 `yaml:"duty" toml:"duty" json:"duty"`
	Tcr    float64 `yaml:"tcr" toml:"tcr" json:"tcr"`
	Branch float64 `yaml:"branch" toml:"branch" json:"branch"`

	Extra map[string]float64 `yaml:"extra,omitempty" toml:"extra,omitempty" json:"extra,omitempty"`
}

// DefaultParams returns dense-cloud conditions.
func DefaultParams() Params {
	return Params{
		NH:     2e4,
		Tgas:   10.0,
		Tdust:  10.0,
		Av:     10.0,
		G0:     1.0,
		ZetaCR: 1.3e-17,
		RG:     1e-5,
		Omega:  0.5,
		Barr:   1.5e-8,
		Sites:  1.5e15,
		Hop:    0.3,
		NMono:  2.0,
		Duty:   3.16e-19,
		Tcr:    70.0,
		Branch: 1e-2,
	}
}

// Clone returns a deep copy; Extra is not shared.
func (p Params) Clone() Params {
	c := p
	if p.Extra != nil {
		c.Extra = make(map[string]float64, len(p.Extra))
		for k, v := range p.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

var paramFields = map[string]func(*Params) *float64{
	"nh":      func(p *Params) *float64 { return &p.NH },
	"tgas":    func(p *Params) *float64 { return &p.Tgas },
	"tdust":   func(p *Params) *float64 { return &p.Tdust },
	"av":      func(p *Params) *float64 { return &p.Av },
	"g0":      func(p *Params) *float64 { return &p.G0 },
	"zeta_cr": func(p *Params) *float64 { return &p.ZetaCR },
	"zeta_xr": func(p *Params) *float64 { return &p.ZetaXR },
	"rg":      func(p *Params) *float64 { return &p.RG },
	"omega":   func(p *Params) *float64 { return &p.Omega },
	"barr":    func(p *Params) *float64 { return &p.Barr },
	"sites":   func(p *Params) *float64 { return &p.Sites },
	"hop":     func(p *Params) *float64 { return &p.Hop },
	"nmono":   func(p *Params) *float64 { return &p.NMono },
	"duty":    func(p *Params) *float64 { return &p.Duty },
	"tcr":     func(p *Params) *float64 { return &p.Tcr },
	"branch":  func(p *Params) *float64 { return &p.Branch },
}

// Get returns the named field, falling back to Extra.
func (p *Params) Get(name string) (float64, bool) {
	if f, ok := paramFields[name]; ok {
		return *f(p), true
	}
	v, ok := p.Extra[name]
	return v, ok
}

// Set writes the named field; unknown names land in Extra.
func (p *Params) Set(name string, value float64) {
	if f, ok := paramFields[name]; ok {
		*f(p) = value
		return
	}
	if p.Extra == nil {
		p.Extra = make(map[string]float64)
	}
	p.Extra[name] = value
}

// RHSFunc evaluates dy/dt at (t, y) into ydot.
type RHSFunc func(t float64, y, ydot []float64, p *Params) error

// JacTimesFunc evaluates the Jacobian-vector product J(t, y)·v into jv.
type JacTimesFunc func(v, jv []float64, t float64, y []float64, p *Params) error

// Network is a compiled reaction network. Rate evaluation is opaque to the
// driver.
type Network interface {
	Name() string
	Species() []string
	// Dim is the number of equations: species plus the temperature slot when
	// the network evolves temperature.
	Dim() int
	RHS(t float64, y, ydot []float64, p *Params) error
}

// JacobianVector is implemented by networks that can apply their Jacobian to
// a vector without forming it.
type JacobianVector interface {
	JacTimes(v, jv []float64, t float64, y []float64, p *Params) error
}

// Thermal is implemented by networks that evolve the gas temperature
// alongside the chemistry.
type Thermal interface {
	TemperatureIndex() int
}

// TemperatureIndex returns the temperature slot of net, or -1.
func TemperatureIndex(net Network) int {
	if th, ok := net.(Thermal); ok {
		return th.TemperatureIndex()
	}
	return -1
}

// SpeciesIndex returns the index of the named species, or -1.
func SpeciesIndex(net Network, name string) int {
	for i, s := range net.Species() {
		if s == name {
			return i
		}
	}
	return -1
}
