// Package schedule generates the output times of a run. Every grid is a
// finite, restartable sequence of strictly increasing times in seconds that
// starts at the run origin.
package schedule

import (
	"fmt"
	"iter"
	"math"

	"github.com/san-kum/chemdyn/internal/dynamo"
)

// Seconds per unit.
const (
	Second = 1.0
	Year   = 86400.0 * 365.0
)

// Grid is a restartable sequence of sample times. Each call to Times starts
// a fresh pass.
type Grid interface {
	Times() iter.Seq[float64]
}

// Interval is the span between two consecutive samples.
type Interval struct {
	T0, T1 float64
}

func (iv Interval) Len() float64 { return iv.T1 - iv.T0 }

// InvalidScheduleError names the offending sample, or Index -1 when the
// grid parameters themselves are wrong.
type InvalidScheduleError struct {
	Index  int
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	if e.Index < 0 {
		return "schedule: " + e.Reason
	}
	return fmt.Sprintf("schedule: sample %d: %s", e.Index, e.Reason)
}

func (e *InvalidScheduleError) Is(target error) bool { return target == dynamo.ErrInvalidSchedule }

func invalid(format string, args ...any) error {
	return &InvalidScheduleError{Index: -1, Reason: fmt.Sprintf(format, args...)}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Intervals pairs consecutive samples of g. A grid with fewer than two
// samples yields nothing.
func Intervals(g Grid) iter.Seq2[int, Interval] {
	return func(yield func(int, Interval) bool) {
		k := 0
		first := true
		var prev float64
		for t := range g.Times() {
			if first {
				prev, first = t, false
				continue
			}
			if !yield(k, Interval{T0: prev, T1: t}) {
				return
			}
			prev = t
			k++
		}
	}
}

// Collect materializes the samples of g.
func Collect(g Grid) []float64 {
	var ts []float64
	for t := range g.Times() {
		ts = append(ts, t)
	}
	return ts
}

// Log samples 0 and then 10^(start + k·step)·unit for every k whose sample
// stays below 10^end·unit.
type Log struct {
	start, end, step, unit float64
}

func NewLog(logStart, logEnd, step, unit float64) (*Log, error) {
	switch {
	case !finite(logStart, logEnd, step, unit):
		return nil, invalid("non-finite log grid parameter")
	case step <= 0:
		return nil, invalid("log step %g must be positive", step)
	case logStart >= logEnd:
		return nil, invalid("log start %g must be below end %g", logStart, logEnd)
	case unit <= 0:
		return nil, invalid("unit %g must be positive", unit)
	}
	return &Log{start: logStart, end: logEnd, step: step, unit: unit}, nil
}

func (l *Log) Times() iter.Seq[float64] {
	return func(yield func(float64) bool) {
		if !yield(0) {
			return
		}
		limit := math.Pow(10, l.end) * l.unit
		for k := 0; ; k++ {
			t := math.Pow(10, l.start+float64(k)*l.step) * l.unit
			if !(t < limit) {
				return
			}
			if !yield(t) {
				return
			}
		}
	}
}

// Ramp grows the step proportionally to the elapsed time until a crossover,
// then holds it constant until end. All arguments are in units.
type Ramp struct {
	floor, ramp, crossover, ceiling, end, unit float64
}

func NewRamp(dtFloor, ramp, crossover, dtCeiling, end, unit float64) (*Ramp, error) {
	switch {
	case !finite(dtFloor, ramp, crossover, dtCeiling, end, unit):
		return nil, invalid("non-finite ramp grid parameter")
	case dtFloor <= 0 || dtCeiling <= 0:
		return nil, invalid("ramp steps must be positive (floor %g, ceiling %g)", dtFloor, dtCeiling)
	case ramp < 0 || crossover < 0:
		return nil, invalid("negative ramp factor %g or crossover %g", ramp, crossover)
	case end <= 0:
		return nil, invalid("ramp end %g must be positive", end)
	case unit <= 0:
		return nil, invalid("unit %g must be positive", unit)
	}
	return &Ramp{floor: dtFloor, ramp: ramp, crossover: crossover, ceiling: dtCeiling, end: end, unit: unit}, nil
}

func (r *Ramp) Times() iter.Seq[float64] {
	return func(yield func(float64) bool) {
		t := 0.0
		if !yield(0) {
			return
		}
		for t < r.end {
			dt := r.ceiling
			if t < r.crossover {
				dt = math.Max(r.ramp*t, r.floor)
			}
			next := t + dt
			if next > r.end {
				next = r.end
			}
			if !(next > t) {
				return
			}
			t = next
			if !yield(t * r.unit) {
				return
			}
		}
	}
}

// External replays a fixed list of samples.
type External struct {
	times []float64
}

// NewExternal copies times, scaled by unit, and checks that they strictly
// increase.
func NewExternal(times []float64, unit float64) (*External, error) {
	if !(unit > 0) || !finite(unit) {
		return nil, invalid("unit %g must be positive", unit)
	}
	ts := make([]float64, len(times))
	for i, t := range times {
		if !finite(t) || t < 0 {
			return nil, &InvalidScheduleError{Index: i, Reason: fmt.Sprintf("invalid time %g", t)}
		}
		if i > 0 && t <= times[i-1] {
			return nil, &InvalidScheduleError{Index: i, Reason: fmt.Sprintf("time %g does not follow %g", t, times[i-1])}
		}
		ts[i] = t * unit
	}
	return &External{times: ts}, nil
}

func (e *External) Times() iter.Seq[float64] {
	return func(yield func(float64) bool) {
		for _, t := range e.times {
			if !yield(t) {
				return
			}
		}
	}
}

func (e *External) Len() int { return len(e.times) }
