package sim

import (
	"sync"

	"github.com/san-kum/chemdyn/internal/dynamo"
)

// SnapshotPool recycles the pre-interval copies taken for every system so a
// failed advance can be rolled back.
type SnapshotPool struct {
	pool sync.Pool
	size int
}

func NewSnapshotPool(dim int) *SnapshotPool {
	return &SnapshotPool{
		size: dim,
		pool: sync.Pool{
			New: func() interface{} {
				return make(dynamo.State, dim)
			},
		},
	}
}

// Snapshot returns a pooled copy of src.
func (p *SnapshotPool) Snapshot(src dynamo.State) dynamo.State {
	dst := p.pool.Get().(dynamo.State)
	copy(dst, src)
	return dst
}

func (p *SnapshotPool) Put(s dynamo.State) {
	if len(s) == p.size {
		p.pool.Put(s)
	}
}
