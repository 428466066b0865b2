package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/chemdyn/internal/dynamo"
)

// MinAbundance reports the smallest value seen in any system. Species
// slots only; a temperature slot is skipped.
type MinAbundance struct {
	name    string
	species int
	min     float64
}

func NewMinAbundance(net dynamo.Network) *MinAbundance {
	return &MinAbundance{
		name:    "min_abundance",
		species: len(net.Species()),
		min:     math.Inf(1),
	}
}

func (m *MinAbundance) Name() string { return m.name }

func (m *MinAbundance) Observe(t float64, batch *dynamo.Batch) {
	for i := 0; i < batch.Len(); i++ {
		y := batch.State(i)
		n := min(m.species, len(y))
		if n == 0 {
			continue
		}
		m.min = math.Min(m.min, floats.Min(y[:n]))
	}
}

func (m *MinAbundance) Value() float64 {
	if math.IsInf(m.min, 1) {
		return 0
	}
	return m.min
}

func (m *MinAbundance) Reset() {
	m.min = math.Inf(1)
}
