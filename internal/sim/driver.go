package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/chemdyn/internal/dynamo"
	"github.com/san-kum/chemdyn/internal/schedule"
	"github.com/san-kum/chemdyn/internal/trajectory"
)

// FailurePolicy decides what the driver does with systems that failed an
// interval.
type FailurePolicy int

const (
	// PolicyAbort stops the run at the first failed interval.
	PolicyAbort FailurePolicy = iota
	// PolicyContinue keeps the last good state of failed systems and moves on.
	PolicyContinue
	// PolicySubdivide retries failed systems over shorter sub-intervals
	// before falling back to PolicyContinue.
	PolicySubdivide
)

func (p FailurePolicy) String() string {
	switch p {
	case PolicyAbort:
		return "abort"
	case PolicyContinue:
		return "continue"
	case PolicySubdivide:
		return "subdivide"
	}
	return fmt.Sprintf("FailurePolicy(%d)", int(p))
}

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return PolicyAbort, nil
	case "continue", "skip":
		return PolicyContinue, nil
	case "subdivide", "retry":
		return PolicySubdivide, nil
	}
	return 0, fmt.Errorf("%w: unknown failure policy %q", dynamo.ErrConfiguration, s)
}

const DefaultMaxSubdivisions = 4

// rater is implemented by networks that can report their rate coefficients.
type rater interface {
	Rates(p *dynamo.Params, dst []float64) []float64
}

// Driver walks a schedule, solving one interval at a time and recording
// every system at every sample.
type Driver struct {
	sess   *Session
	grid   schedule.Grid
	rec    *trajectory.Recorder
	timing *trajectory.TimingLog

	// TimeUnit divides recorded and logged times. Defaults to a year.
	TimeUnit        float64
	Policy          FailurePolicy
	MaxSubdivisions int
	Log             logrus.FieldLogger

	metrics   []Metric
	observers []Observer
}

// NewDriver wires a session to a grid and output streams. rec and timing may
// be nil.
func NewDriver(sess *Session, grid schedule.Grid, rec *trajectory.Recorder, timing *trajectory.TimingLog) *Driver {
	return &Driver{
		sess:            sess,
		grid:            grid,
		rec:             rec,
		timing:          timing,
		TimeUnit:        schedule.Year,
		Policy:          PolicyAbort,
		MaxSubdivisions: DefaultMaxSubdivisions,
		Log:             sess.log,
	}
}

func (d *Driver) AddMetric(m Metric) {
	d.metrics = append(d.metrics, m)
}

func (d *Driver) AddObserver(o Observer) {
	d.observers = append(d.observers, o)
}

// Run integrates batch across the whole grid. The session must be
// initialized; Run resizes it to the batch. On abort the returned Result
// covers the intervals finished so far and the records already written stay
// valid.
func (d *Driver) Run(ctx context.Context, batch *dynamo.Batch) (*Result, error) {
	start := time.Now()
	res := &Result{Metrics: make(map[string]float64)}

	if d.TimeUnit <= 0 {
		return res, &dynamo.StageError{Stage: "setup", System: -1,
			Err: fmt.Errorf("%w: time unit %g", dynamo.ErrConfiguration, d.TimeUnit)}
	}
	if err := d.sess.Reset(batch.Len()); err != nil {
		return res, &dynamo.StageError{Stage: "reset", System: -1, Err: err}
	}
	for _, m := range d.metrics {
		m.Reset()
	}

	t0, ok := d.origin()
	if !ok {
		return res, &dynamo.StageError{Stage: "schedule", System: -1,
			Err: &schedule.InvalidScheduleError{Index: -1, Reason: "grid has no samples"}}
	}
	d.sess.SetClock(t0)
	d.observe(t0, batch)

	last := t0
	for k, iv := range schedule.Intervals(d.grid) {
		if !(iv.T1 > iv.T0) || iv.T0 != last {
			return d.abort(res, start, &dynamo.StageError{Stage: "schedule", System: -1,
				Err: &schedule.InvalidScheduleError{Index: k + 1, Reason: fmt.Sprintf("sample %g does not follow %g", iv.T1, iv.T0)}})
		}
		if err := d.recordAll(iv.T0, batch, res); err != nil {
			return d.abort(res, start, err)
		}
		d.dumpRates(k, batch)

		began := time.Now()
		var remaining error
		if err := d.sess.Solve(ctx, batch, iv.Len()); err != nil {
			res.Stats.Add(d.sess.LastStats())
			var be *dynamo.BatchError
			if !errors.As(err, &be) {
				return d.abort(res, start, &dynamo.StageError{Stage: "solve", System: -1, Err: err})
			}
			left, abort := d.handleFailure(ctx, batch, be, res)
			if abort != nil {
				d.notify(k, iv, time.Since(began), abort)
				return d.abort(res, start, abort)
			}
			if left != nil {
				remaining = left
			}
		} else {
			res.Stats.Add(d.sess.LastStats())
		}
		elapsed := time.Since(began)

		if d.timing != nil {
			if werr := d.timing.Write(elapsed); werr != nil {
				return d.abort(res, start, &dynamo.StageError{Stage: "timing", System: -1, Err: werr})
			}
		}
		d.Log.WithFields(logrus.Fields{"interval": k, "dt": iv.Len()}).
			Infof("Time = %13.7e, elapsed: %8.5e sec", iv.T1/d.TimeUnit, elapsed.Seconds())

		res.Intervals++
		res.FinalTime = iv.T1
		last = iv.T1
		d.observe(iv.T1, batch)
		d.notify(k, iv, elapsed, remaining)
	}

	if err := d.recordAll(last, batch, res); err != nil {
		return d.abort(res, start, err)
	}
	res.FinalTime = last
	res = d.finish(res, start)
	if err := d.flush(); err != nil {
		return res, err
	}
	return res, nil
}

// handleFailure applies the failure policy. It returns the failures left
// after the policy ran, and a non-nil abort error when the run must stop.
func (d *Driver) handleFailure(ctx context.Context, batch *dynamo.Batch, be *dynamo.BatchError, res *Result) (*dynamo.BatchError, error) {
	switch d.Policy {
	case PolicyContinue:
		res.Failures = append(res.Failures, be.Failures...)
		return be, nil

	case PolicySubdivide:
		systems := dynamo.FailedSystems(be)
		for pieces := 2; pieces <= max(2, d.MaxSubdivisions); pieces *= 2 {
			d.Log.WithFields(logrus.Fields{"systems": systems, "pieces": pieces}).Info("subdividing failed interval")
			err := d.sess.Subdivide(ctx, batch, systems, pieces)
			res.Stats.Add(d.sess.LastStats())
			if err == nil {
				return nil, nil
			}
			if !errors.As(err, &be) {
				return nil, &dynamo.StageError{Stage: "subdivide", System: -1, Err: err}
			}
			systems = dynamo.FailedSystems(be)
		}
		res.Failures = append(res.Failures, be.Failures...)
		return be, nil
	}

	res.Failures = append(res.Failures, be.Failures...)
	return be, &dynamo.StageError{Stage: "solve", System: be.Failures[0].System, Err: be}
}

// origin returns the first sample of the grid.
func (d *Driver) origin() (float64, bool) {
	for t := range d.grid.Times() {
		return t, true
	}
	return 0, false
}

func (d *Driver) recordAll(t float64, batch *dynamo.Batch, res *Result) error {
	if d.rec == nil {
		return nil
	}
	for i := 0; i < batch.Len(); i++ {
		if err := d.rec.Record(i, t/d.TimeUnit, batch.State(i)); err != nil {
			return &dynamo.StageError{Stage: "record", System: i, Err: err}
		}
		res.Records++
	}
	return nil
}

func (d *Driver) dumpRates(k int, batch *dynamo.Batch) {
	r, ok := d.sess.Network().(rater)
	if !ok || !traceEnabled(d.Log) {
		return
	}
	var buf []float64
	for i := 0; i < batch.Len(); i++ {
		buf = r.Rates(batch.Params(i), buf[:0])
		d.Log.WithFields(logrus.Fields{"interval": k, "system": i}).Tracef("rates %v", buf)
	}
}

func traceEnabled(l logrus.FieldLogger) bool {
	switch v := l.(type) {
	case *logrus.Logger:
		return v.IsLevelEnabled(logrus.TraceLevel)
	case *logrus.Entry:
		return v.Logger.IsLevelEnabled(logrus.TraceLevel)
	}
	return false
}

func (d *Driver) observe(t float64, batch *dynamo.Batch) {
	for _, m := range d.metrics {
		m.Observe(t, batch)
	}
}

func (d *Driver) notify(k int, iv schedule.Interval, elapsed time.Duration, err error) {
	for _, o := range d.observers {
		o.OnInterval(k, iv, elapsed, err)
	}
}

func (d *Driver) flush() error {
	if d.rec != nil {
		if err := d.rec.Flush(); err != nil {
			return &dynamo.StageError{Stage: "record", System: -1, Err: err}
		}
	}
	if d.timing != nil {
		if err := d.timing.Flush(); err != nil {
			return &dynamo.StageError{Stage: "timing", System: -1, Err: err}
		}
	}
	return nil
}

// abort flushes what was written so far and closes out res.
func (d *Driver) abort(res *Result, start time.Time, err error) (*Result, error) {
	_ = d.flush()
	return d.finish(res, start), err
}

func (d *Driver) finish(res *Result, start time.Time) *Result {
	for _, m := range d.metrics {
		res.Metrics[m.Name()] = m.Value()
	}
	res.Elapsed = time.Since(start)
	return res
}
