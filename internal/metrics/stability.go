package metrics

import (
	"github.com/san-kum/chemdyn/internal/dynamo"
)

// Stability is the fraction of systems whose state stayed finite and no
// lower than the threshold at every observation.
type Stability struct {
	threshold float64
	broken    []bool
}

func NewStability(threshold float64) *Stability {
	return &Stability{threshold: threshold}
}

func (s *Stability) Name() string { return "stability" }

func (s *Stability) Observe(t float64, batch *dynamo.Batch) {
	if s.broken == nil {
		s.broken = make([]bool, batch.Len())
	}
	for i := 0; i < batch.Len() && i < len(s.broken); i++ {
		if s.broken[i] {
			continue
		}
		if y := batch.State(i); !y.IsValid() || y.Min() < s.threshold {
			s.broken[i] = true
		}
	}
}

func (s *Stability) Value() float64 {
	if len(s.broken) == 0 {
		return 1
	}
	ok := 0
	for _, b := range s.broken {
		if !b {
			ok++
		}
	}
	return float64(ok) / float64(len(s.broken))
}

// Unstable lists the systems that left the valid range.
func (s *Stability) Unstable() []int {
	var idx []int
	for i, b := range s.broken {
		if b {
			idx = append(idx, i)
		}
	}
	return idx
}

func (s *Stability) Reset() { s.broken = nil }
