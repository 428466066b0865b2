package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/chemdyn/internal/compute"
	"github.com/san-kum/chemdyn/internal/dynamo"
	"github.com/san-kum/chemdyn/internal/integrators"
)

const (
	DefaultRTol  = 1e-5
	DefaultATol  = 1e-20
	DefaultFloor = 1e-40

	// denseLimit is the largest system solved densely under "auto".
	denseLimit = 32
)

// Session binds stiff engines to the systems of a batch and advances them
// interval by interval. Every system-interval starts from a freshly
// reinitialized engine at time zero, so the engine never carries state from
// one interval or system to the next.
//
// A Session is driven from one goroutine; the parallelism lives inside
// Solve.
type Session struct {
	net     dynamo.Network
	factory integrators.Factory
	jtv     dynamo.JacTimesFunc
	tempIdx int

	rtol, atol   float64
	floor        float64
	strategyName string
	strategy     integrators.Strategy
	feedback     bool
	backend      compute.Backend
	log          logrus.FieldLogger

	engines   []integrators.Engine
	n         int
	snapshots *SnapshotPool

	initialized bool
	finalized   bool

	clock     float64
	lastStart float64
	lastDt    float64

	mu    sync.Mutex
	stats integrators.Stats
}

type Option func(*Session)

func WithTolerances(rtol, atol float64) Option {
	return func(s *Session) { s.rtol, s.atol = rtol, atol }
}

// WithFloor sets the value entries are raised to after every successful
// advance. A non-positive floor disables clamping.
func WithFloor(floor float64) Option {
	return func(s *Session) { s.floor = floor }
}

// WithStrategy selects the linear strategy by name: auto, dense, sparse or
// krylov (spgmr).
func WithStrategy(name string) Option {
	return func(s *Session) { s.strategyName = name }
}

// WithTemperatureFeedback copies the evolved temperature into Params.Tgas
// before each system is advanced.
func WithTemperatureFeedback(on bool) Option {
	return func(s *Session) { s.feedback = on }
}

func WithBackend(b compute.Backend) Option {
	return func(s *Session) { s.backend = b }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) { s.log = l }
}

func NewSession(net dynamo.Network, factory integrators.Factory, opts ...Option) *Session {
	s := &Session{
		net:          net,
		factory:      factory,
		tempIdx:      dynamo.TemperatureIndex(net),
		rtol:         DefaultRTol,
		atol:         DefaultATol,
		floor:        DefaultFloor,
		strategyName: "auto",
		backend:      compute.GetBackend(),
		log:          logrus.StandardLogger(),
	}
	if jv, ok := net.(dynamo.JacobianVector); ok {
		s.jtv = jv.JacTimes
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init allocates the engine for a single system and applies the tolerances.
func (s *Session) Init() error {
	if s.finalized {
		return dynamo.ErrUseAfterFinalize
	}
	if !(s.rtol > 0) || !(s.atol > 0) || s.rtol >= 1 || math.IsInf(s.atol, 0) {
		return fmt.Errorf("%w: tolerances rtol=%g atol=%g", dynamo.ErrConfiguration, s.rtol, s.atol)
	}
	strategy, err := s.resolveStrategy()
	if err != nil {
		return err
	}
	if s.backend == nil {
		return fmt.Errorf("%w: no compute backend", dynamo.ErrConfiguration)
	}
	s.strategy = strategy

	if err := s.releaseEngines(0); err != nil {
		return err
	}
	if err := s.growEngines(1); err != nil {
		return err
	}
	s.n = 1
	s.snapshots = NewSnapshotPool(s.net.Dim())
	s.initialized = true

	s.log.WithFields(logrus.Fields{
		"network":  s.net.Name(),
		"dim":      s.net.Dim(),
		"rtol":     s.rtol,
		"atol":     s.atol,
		"strategy": s.strategy.String(),
		"backend":  s.backend.Name(),
	}).Debug("session initialized")
	return nil
}

func (s *Session) resolveStrategy() (integrators.Strategy, error) {
	if s.strategyName == "" || s.strategyName == "auto" {
		switch {
		case s.net.Dim() <= denseLimit:
			return integrators.Dense, nil
		case s.jtv != nil:
			return integrators.Krylov, nil
		default:
			return integrators.Sparse, nil
		}
	}
	st, err := integrators.ParseStrategy(s.strategyName)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", dynamo.ErrConfiguration, err)
	}
	return st, nil
}

func (s *Session) growEngines(want int) error {
	for len(s.engines) < want {
		eng, err := s.factory(s.net.Dim())
		if err != nil {
			return fmt.Errorf("%w: %v", dynamo.ErrEngineAllocation, err)
		}
		if err := eng.Configure(s.rtol, s.atol); err != nil {
			_ = eng.Release()
			return fmt.Errorf("%w: %v", dynamo.ErrConfiguration, err)
		}
		s.engines = append(s.engines, eng)
	}
	return nil
}

// ensureEngines makes sure every worker the backend may use for n items has
// its own engine.
func (s *Session) ensureEngines(n int) error {
	return s.growEngines(min(n, max(1, s.backend.Workers())))
}

func (s *Session) releaseEngines(keep int) error {
	var errs []error
	for i := keep; i < len(s.engines); i++ {
		errs = append(errs, s.engines[i].Release())
		s.engines[i] = nil
	}
	if keep < len(s.engines) {
		s.engines = s.engines[:keep]
	}
	return errors.Join(errs...)
}

func (s *Session) usable() error {
	if s.finalized {
		return dynamo.ErrUseAfterFinalize
	}
	if !s.initialized {
		return fmt.Errorf("%w: session not initialized", dynamo.ErrConfiguration)
	}
	return nil
}

// Reset resizes the session to n systems. It keeps one engine per
// concurrent worker.
func (s *Session) Reset(n int) error {
	if err := s.usable(); err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("%w: batch size %d", dynamo.ErrConfiguration, n)
	}
	want := min(n, max(1, s.backend.Workers()))
	if want > len(s.engines) {
		if err := s.growEngines(want); err != nil {
			return err
		}
	} else if err := s.releaseEngines(want); err != nil {
		return err
	}
	s.n = n
	s.log.WithFields(logrus.Fields{"systems": n, "engines": len(s.engines)}).Debug("session reset")
	return nil
}

// Solve advances every system of batch by dt seconds in place. Systems that
// fail are rolled back to their state before the call and reported together
// in a *dynamo.BatchError; the others keep their advanced state. A cancelled
// ctx stops the call between systems, leaving the interval unconsumed.
func (s *Session) Solve(ctx context.Context, batch *dynamo.Batch, dt float64) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.checkBatch(batch); err != nil {
		return err
	}
	if math.IsNaN(dt) || math.IsInf(dt, 0) || dt < 0 {
		return fmt.Errorf("%w: interval length %g", dynamo.ErrConfiguration, dt)
	}

	s.resetStats()
	if dt == 0 {
		return nil
	}

	if err := s.ensureEngines(batch.Len()); err != nil {
		return err
	}
	t0 := s.clock
	errs, err := s.backend.Run(ctx, batch.Len(), func(w, i int) error {
		return s.advance(s.engines[w], batch, i, dt)
	})
	if err != nil {
		return err
	}

	s.lastStart, s.lastDt = t0, dt
	s.clock = t0 + dt
	return s.collect(errs, nil, t0, s.clock)
}

// Subdivide re-integrates the listed systems across the interval consumed by
// the last Solve, in pieces equal sub-intervals. Callers use it to retry
// failed systems, whose state Solve rolled back. The clock does not move.
func (s *Session) Subdivide(ctx context.Context, batch *dynamo.Batch, systems []int, pieces int) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.checkBatch(batch); err != nil {
		return err
	}
	if pieces < 1 {
		return fmt.Errorf("%w: %d pieces", dynamo.ErrConfiguration, pieces)
	}
	if s.lastDt == 0 {
		return fmt.Errorf("%w: no interval to subdivide", dynamo.ErrConfiguration)
	}
	seen := make(map[int]bool, len(systems))
	for _, i := range systems {
		if i < 0 || i >= batch.Len() {
			return fmt.Errorf("%w: system %d out of range", dynamo.ErrConfiguration, i)
		}
		if seen[i] {
			return fmt.Errorf("%w: system %d listed twice", dynamo.ErrConfiguration, i)
		}
		seen[i] = true
	}
	if err := s.ensureEngines(len(systems)); err != nil {
		return err
	}

	s.resetStats()
	h := s.lastDt / float64(pieces)
	errs, err := s.backend.Run(ctx, len(systems), func(w, k int) error {
		return s.advancePieces(s.engines[w], batch, systems[k], h, pieces)
	})
	if err != nil {
		return err
	}
	return s.collect(errs, systems, s.lastStart, s.lastStart+s.lastDt)
}

func (s *Session) checkBatch(batch *dynamo.Batch) error {
	switch {
	case batch == nil:
		return fmt.Errorf("%w: nil batch", dynamo.ErrConfiguration)
	case batch.Len() != s.n:
		return fmt.Errorf("%w: batch has %d systems, session was reset to %d", dynamo.ErrConfiguration, batch.Len(), s.n)
	case batch.Dim() != s.net.Dim():
		return fmt.Errorf("%w: batch dimension %d, network %s needs %d", dynamo.ErrConfiguration, batch.Dim(), s.net.Name(), s.net.Dim())
	}
	return nil
}

func (s *Session) collect(errs []error, systems []int, t0, t1 float64) error {
	var failures []*dynamo.IntegrationFailure
	for k, err := range errs {
		if err == nil {
			continue
		}
		sys := k
		if systems != nil {
			sys = systems[k]
		}
		failures = append(failures, &dynamo.IntegrationFailure{System: sys, T0: t0, T1: t1, Err: err})
		s.log.WithFields(logrus.Fields{"system": sys, "t0": t0, "t1": t1}).WithError(err).Warn("integration failed")
	}
	if len(failures) > 0 {
		return &dynamo.BatchError{Failures: failures}
	}
	return nil
}

func (s *Session) advance(eng integrators.Engine, batch *dynamo.Batch, i int, dt float64) error {
	y := batch.State(i)
	p := batch.Params(i)
	if s.feedback && s.tempIdx >= 0 {
		p.Tgas = y[s.tempIdx]
	}
	snap := s.snapshots.Snapshot(y)
	defer s.snapshots.Put(snap)

	if err := s.step(eng, y, p, dt); err != nil {
		copy(y, snap)
		return err
	}
	return nil
}

func (s *Session) advancePieces(eng integrators.Engine, batch *dynamo.Batch, i int, h float64, pieces int) error {
	y := batch.State(i)
	p := batch.Params(i)
	snap := s.snapshots.Snapshot(y)
	defer s.snapshots.Put(snap)

	for k := 0; k < pieces; k++ {
		if s.feedback && s.tempIdx >= 0 {
			p.Tgas = y[s.tempIdx]
		}
		if err := s.step(eng, y, p, h); err != nil {
			copy(y, snap)
			return fmt.Errorf("piece %d of %d: %w", k+1, pieces, err)
		}
	}
	return nil
}

// step runs the reinitialize-then-advance protocol for one system over
// [0, dt] of engine time.
func (s *Session) step(eng integrators.Engine, y dynamo.State, p *dynamo.Params, dt float64) error {
	if err := eng.Bind(y); err != nil {
		return err
	}
	if err := eng.Reinit(0); err != nil {
		return err
	}
	eng.AttachParams(p)
	if err := eng.AttachRHS(s.net.RHS); err != nil {
		return err
	}
	if s.jtv != nil {
		if ja, ok := eng.(integrators.JacTimesAttacher); ok {
			if err := ja.AttachJacTimes(s.jtv); err != nil {
				return err
			}
		}
	}
	if err := eng.AttachLinearSolver(s.strategy); err != nil {
		return err
	}

	reached, err := eng.Advance(0, dt)
	s.addStats(eng.Stats())
	if err != nil {
		return err
	}
	if reached != dt {
		return fmt.Errorf("engine stopped at %g s of %g s", reached, dt)
	}
	if !y.IsValid() {
		return errors.New("non-finite abundance after advance")
	}
	if s.floor > 0 {
		y.ClampFloor(s.floor)
	}
	return nil
}

func (s *Session) resetStats() {
	s.mu.Lock()
	s.stats = integrators.Stats{}
	s.mu.Unlock()
}

func (s *Session) addStats(st integrators.Stats) {
	s.mu.Lock()
	s.stats.Add(st)
	s.mu.Unlock()
}

// LastStats aggregates the engine statistics of the last Solve or
// Subdivide call over all systems.
func (s *Session) LastStats() integrators.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Clock is the absolute model time, in seconds, at which the next interval
// starts.
func (s *Session) Clock() float64 { return s.clock }

// SetClock moves the origin of the next interval.
func (s *Session) SetClock(t float64) { s.clock = t }

// Size is the batch size set by the last Reset.
func (s *Session) Size() int { return s.n }

// Engines reports how many engines the session holds.
func (s *Session) Engines() int { return len(s.engines) }

func (s *Session) Strategy() integrators.Strategy { return s.strategy }

func (s *Session) Network() dynamo.Network { return s.net }

// Finalize releases every engine. Any later use of the session, including a
// second Finalize, fails with dynamo.ErrUseAfterFinalize.
func (s *Session) Finalize() error {
	if s.finalized {
		return dynamo.ErrUseAfterFinalize
	}
	err := s.releaseEngines(0)
	s.finalized = true
	s.initialized = false
	s.log.WithField("network", s.net.Name()).Debug("session finalized")
	return err
}

// Close finalizes the session unless that already happened.
func (s *Session) Close() error {
	if s.finalized {
		return nil
	}
	return s.Finalize()
}
