package models

import (
	"fmt"
	"sort"
)

// Toy4 is a conservative cycle A -> B -> C -> D -> A with first-order rates
// (s^-1) spread over two decades.
func NewToy4() *MassAction {
	return must(NewMassAction("toy4",
		[]string{"A", "B", "C", "D"},
		[]Reaction{
			{Reactants: []string{"A"}, Products: []string{"B"}, Kind: Constant, Alpha: 1e-9},
			{Reactants: []string{"B"}, Products: []string{"C"}, Kind: Constant, Alpha: 3e-9},
			{Reactants: []string{"C"}, Products: []string{"D"}, Kind: Constant, Alpha: 1e-8},
			{Reactants: []string{"D"}, Products: []string{"A"}, Kind: Constant, Alpha: 1e-10},
		},
		WithInitial(map[string]float64{"A": 0.4, "B": 0.4, "C": 0.1, "D": 0.1}),
		WithInvariant("total", map[string]float64{"A": 1, "B": 1, "C": 1, "D": 1}),
	))
}

// NewDecay is a single irreversible A -> B with rate alpha.
func NewDecay() *MassAction {
	return must(NewMassAction("decay",
		[]string{"A", "B"},
		[]Reaction{
			{Reactants: []string{"A"}, Products: []string{"B"}, Kind: Constant, Alpha: 1e-10},
		},
		WithInitial(map[string]float64{"A": 1}),
		WithInvariant("total", map[string]float64{"A": 1, "B": 1}),
	))
}

// NewISM is a small dark-cloud network with cosmic-ray ionization,
// photoprocesses, recombination and CO formation.
func NewISM() *MassAction {
	two := func(in, out []string, a, b, g float64) Reaction {
		return Reaction{Reactants: in, Products: out, Kind: TwoBody, Alpha: a, Beta: b, Gamma: g}
	}
	return must(NewMassAction("ism",
		[]string{"H", "H2", "H+", "He", "He+", "C", "C+", "O", "CO", "e-"},
		[]Reaction{
			two([]string{"H", "H"}, []string{"H2"}, 1e-17, 0.5, 0),
			{Reactants: []string{"H2"}, Products: []string{"H+", "H", "e-"}, Kind: CosmicRay, Alpha: 0.1},
			{Reactants: []string{"H"}, Products: []string{"H+", "e-"}, Kind: CosmicRay, Alpha: 0.46},
			{Reactants: []string{"He"}, Products: []string{"He+", "e-"}, Kind: CosmicRay, Alpha: 0.5},
			two([]string{"H+", "e-"}, []string{"H"}, 3.5e-12, -0.75, 0),
			two([]string{"He+", "e-"}, []string{"He"}, 4.5e-12, -0.67, 0),
			{Reactants: []string{"C"}, Products: []string{"C+", "e-"}, Kind: Photo, Alpha: 3e-10, Gamma: 3.0},
			two([]string{"C+", "e-"}, []string{"C"}, 4.4e-12, -0.61, 0),
			two([]string{"C", "O"}, []string{"CO"}, 1e-17, 0.5, 0),
			{Reactants: []string{"CO"}, Products: []string{"C", "O"}, Kind: Photo, Alpha: 2e-10, Gamma: 3.5},
			two([]string{"He+", "CO"}, []string{"C+", "O", "He"}, 1.6e-9, 0, 0),
			two([]string{"He+", "H2"}, []string{"He", "H", "H+"}, 3.7e-14, 0, 35),
		},
		WithInitial(map[string]float64{
			"H2": 0.5, "H": 5e-5, "He": 0.1, "C+": 7.3e-6, "O": 1.8e-5, "e-": 7.3e-6,
		}),
		WithInvariant("hydrogen", map[string]float64{"H": 1, "H2": 2, "H+": 1}),
		WithInvariant("charge", map[string]float64{"H+": 1, "He+": 1, "C+": 1, "e-": -1}),
		WithInvariant("carbon", map[string]float64{"C": 1, "C+": 1, "CO": 1}),
	))
}

// NewPrimordial is a metal-free network that also evolves the gas
// temperature, which relaxes toward Tdust over "tcool" seconds.
func NewPrimordial() *MassAction {
	two := func(in, out []string, a, b, g float64) Reaction {
		return Reaction{Reactants: in, Products: out, Kind: TwoBody, Alpha: a, Beta: b, Gamma: g}
	}
	return must(NewMassAction("primordial",
		[]string{"H", "H+", "H-", "H2", "He", "He+", "e-"},
		[]Reaction{
			two([]string{"H", "e-"}, []string{"H+", "e-", "e-"}, 5.85e-11, 0.5, 157809.1),
			two([]string{"H+", "e-"}, []string{"H"}, 3.5e-12, -0.75, 0),
			two([]string{"H", "e-"}, []string{"H-"}, 1.4e-18, 0.928, 0),
			two([]string{"H-", "H"}, []string{"H2", "e-"}, 1.3e-9, 0, 0),
			two([]string{"He", "e-"}, []string{"He+", "e-", "e-"}, 2.38e-11, 0.5, 285335.4),
			two([]string{"He+", "e-"}, []string{"He"}, 4.5e-12, -0.67, 0),
			two([]string{"H2", "H"}, []string{"H", "H", "H"}, 4.4e-10, 0.35, 102000),
		},
		WithCooling(3.1536e13),
		WithInitial(map[string]float64{
			"H": 1, "H+": 1e-4, "He": 0.1, "H2": 1.5e-5, "e-": 1e-4,
		}),
		WithInvariant("hydrogen", map[string]float64{"H": 1, "H+": 1, "H-": 1, "H2": 2}),
		WithInvariant("charge", map[string]float64{"H+": 1, "H-": -1, "He+": 1, "e-": -1}),
	))
}

var builtin = map[string]func() *MassAction{
	"toy4":       NewToy4,
	"decay":      NewDecay,
	"ism":        NewISM,
	"primordial": NewPrimordial,
}

// Lookup builds the named built-in network.
func Lookup(name string) (*MassAction, error) {
	fn, ok := builtin[name]
	if !ok {
		return nil, fmt.Errorf("unknown network: %s", name)
	}
	return fn(), nil
}

func Names() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func must(m *MassAction, err error) *MassAction {
	if err != nil {
		panic(err)
	}
	return m
}
