package dynamo

import "fmt"

// Layout selects how a Batch stores its abundance vectors.
type Layout int

const (
	// LayoutContiguous keeps all systems in one n*dim buffer, system i at
	// offset i*dim.
	LayoutContiguous Layout = iota
	// LayoutIndependent gives every system its own buffer.
	LayoutIndependent
)

func (l Layout) String() string {
	switch l {
	case LayoutContiguous:
		return "contiguous"
	case LayoutIndependent:
		return "independent"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// ParseLayout maps a config string to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "", "contiguous":
		return LayoutContiguous, nil
	case "independent":
		return LayoutIndependent, nil
	default:
		return 0, fmt.Errorf("%w: unknown layout %q", ErrConfiguration, s)
	}
}

// Batch is an ordered collection of independent systems sharing one network.
// State(i) and Params(i) refer to the same system for the lifetime of the
// batch.
type Batch struct {
	n, dim int
	layout Layout
	buf    []float64
	bufs   []State
	params []Params
}

// NewBatch allocates n systems of dim equations each. Abundances start at
// zero and parameters at their zero value.
func NewBatch(n, dim int, layout Layout) (*Batch, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: batch size %d", ErrConfiguration, n)
	}
	if dim < 1 {
		return nil, fmt.Errorf("%w: system dimension %d", ErrConfiguration, dim)
	}
	b := &Batch{
		n:      n,
		dim:    dim,
		layout: layout,
		params: make([]Params, n),
	}
	switch layout {
	case LayoutIndependent:
		b.bufs = make([]State, n)
		for i := range b.bufs {
			b.bufs[i] = make(State, dim)
		}
	default:
		b.layout = LayoutContiguous
		b.buf = make([]float64, n*dim)
	}
	return b, nil
}

func (b *Batch) Len() int       { return b.n }
func (b *Batch) Dim() int       { return b.dim }
func (b *Batch) Layout() Layout { return b.layout }

// State returns system i's abundances. The slice aliases the batch memory.
func (b *Batch) State(i int) State {
	if b.layout == LayoutIndependent {
		return b.bufs[i]
	}
	off := i * b.dim
	return State(b.buf[off : off+b.dim : off+b.dim])
}

// Params returns system i's parameter record.
func (b *Batch) Params(i int) *Params {
	return &b.params[i]
}

// Fill copies y into system i.
func (b *Batch) Fill(i int, y []float64) error {
	if len(y) != b.dim {
		return fmt.Errorf("%w: system %d expects %d values, got %d", ErrConfiguration, i, b.dim, len(y))
	}
	copy(b.State(i), y)
	return nil
}

func (b *Batch) SetParams(i int, p Params) {
	b.params[i] = p.Clone()
}

// Raw returns the contiguous buffer, or nil for independent layouts.
func (b *Batch) Raw() []float64 {
	return b.buf
}
