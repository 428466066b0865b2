package experiment

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/chemdyn/internal/compute"
	"github.com/san-kum/chemdyn/internal/config"
	"github.com/san-kum/chemdyn/internal/dynamo"
	"github.com/san-kum/chemdyn/internal/schedule"
	"github.com/san-kum/chemdyn/internal/sim"
	"github.com/san-kum/chemdyn/internal/trajectory"
)

// initialer is implemented by networks that ship default abundances.
type initialer interface {
	Initial() map[string]float64
}

// Experiment assembles a batch, a session and a driver from one config.
type Experiment struct {
	cfg *config.Config
	reg *Registry
	log logrus.FieldLogger

	net    dynamo.Network
	batch  *dynamo.Batch
	grid   schedule.Grid
	sess   *sim.Session
	driver *sim.Driver
	files  *trajectory.Files
}

func New(cfg *config.Config, reg *Registry, log logrus.FieldLogger) *Experiment {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Experiment{cfg: cfg, reg: reg, log: log}
}

// Setup validates the config and builds everything Run needs. When outDir is
// not empty the trajectory files are created there.
func (e *Experiment) Setup(outDir string) error {
	cfg := e.cfg
	if err := cfg.Validate(); err != nil {
		return &dynamo.StageError{Stage: "config", System: -1, Err: err}
	}

	net, err := e.reg.GetNetwork(cfg.Network)
	if err != nil {
		return &dynamo.StageError{Stage: "config", System: -1, Err: err}
	}
	factory, err := e.reg.GetEngine(cfg.Engine, cfg.MaxSteps)
	if err != nil {
		return &dynamo.StageError{Stage: "config", System: -1, Err: err}
	}
	backend, _ := compute.ByName(cfg.Backend, cfg.Workers)
	unit, _ := cfg.TimeUnit()
	policy, _ := sim.ParseFailurePolicy(cfg.FailurePolicy)

	grid, err := cfg.BuildSchedule()
	if err != nil {
		return &dynamo.StageError{Stage: "schedule", System: -1, Err: err}
	}
	batch, err := BuildBatch(net, cfg)
	if err != nil {
		return &dynamo.StageError{Stage: "initial", System: -1, Err: err}
	}

	sess := sim.NewSession(net, factory,
		sim.WithTolerances(cfg.RTol, cfg.ATol),
		sim.WithFloor(cfg.Floor),
		sim.WithStrategy(cfg.Strategy),
		sim.WithTemperatureFeedback(cfg.TemperatureFeedback),
		sim.WithBackend(backend),
		sim.WithLogger(e.log),
	)
	if err := sess.Init(); err != nil {
		_ = sess.Close()
		return &dynamo.StageError{Stage: "init", System: -1, Err: err}
	}

	var rec *trajectory.Recorder
	var timing *trajectory.TimingLog
	if outDir != "" {
		var opts []trajectory.FileOption
		if !cfg.Output.Text {
			opts = append(opts, trajectory.WithoutText())
		}
		files, err := trajectory.Open(outDir, e.Tag(), net.Dim(), opts...)
		if err != nil {
			_ = sess.Close()
			return &dynamo.StageError{Stage: "output", System: -1, Err: err}
		}
		e.files = files
		rec, timing = files.Recorder, files.Timing
	}

	d := sim.NewDriver(sess, grid, rec, timing)
	d.TimeUnit = unit
	d.Policy = policy
	if cfg.MaxSubdivisions > 0 {
		d.MaxSubdivisions = cfg.MaxSubdivisions
	}
	d.Log = e.log
	for _, m := range e.reg.DefaultMetrics(net) {
		d.AddMetric(m)
	}

	e.net, e.batch, e.grid, e.sess, e.driver = net, batch, grid, sess, d
	e.log.WithFields(logrus.Fields{
		"network":  net.Name(),
		"systems":  batch.Len(),
		"layout":   batch.Layout(),
		"engine":   cfg.Engine,
		"strategy": sess.Strategy().String(),
	}).Info("experiment ready")
	return nil
}

// Tag names the output files. It defaults to the network name.
func (e *Experiment) Tag() string {
	if e.cfg.Output.Tag != "" {
		return e.cfg.Output.Tag
	}
	return e.cfg.Network
}

func (e *Experiment) Run(ctx context.Context) (*sim.Result, error) {
	if e.driver == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	return e.driver.Run(ctx, e.batch)
}

// Driver exposes the driver so callers can attach observers before Run.
func (e *Experiment) Driver() *sim.Driver { return e.driver }

func (e *Experiment) Network() dynamo.Network { return e.net }

func (e *Experiment) Batch() *dynamo.Batch { return e.batch }

func (e *Experiment) Session() *sim.Session { return e.sess }

// Samples counts the output times of the configured grid.
func (e *Experiment) Samples() int {
	if e.grid == nil {
		return 0
	}
	return len(schedule.Collect(e.grid))
}

// Close finalizes the session and closes the output files.
func (e *Experiment) Close() error {
	var errs []error
	if e.sess != nil {
		errs = append(errs, e.sess.Close())
	}
	if e.files != nil {
		errs = append(errs, e.files.Close())
	}
	return errors.Join(errs...)
}

// BuildBatch allocates the batch described by cfg and fills every system's
// parameters and initial state.
func BuildBatch(net dynamo.Network, cfg *config.Config) (*dynamo.Batch, error) {
	layout, err := dynamo.ParseLayout(cfg.Layout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrConfiguration, err)
	}
	for name := range cfg.Initial {
		if name != "T" && dynamo.SpeciesIndex(net, name) < 0 {
			return nil, fmt.Errorf("%w: network %s has no species %s", dynamo.ErrConfiguration, net.Name(), name)
		}
	}

	b, err := dynamo.NewBatch(cfg.Systems, net.Dim(), layout)
	if err != nil {
		return nil, err
	}
	for i := 0; i < cfg.Systems; i++ {
		p := cfg.SystemParams(i, cfg.Systems)
		b.SetParams(i, p)
		if err := b.Fill(i, InitialState(net, cfg, &p)); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// InitialState returns the starting vector of one system. Species named by
// the network or the config start at their fraction times nH; all others
// start at cfg.InitialDefault. A temperature slot starts at the "T" entry of
// cfg.Initial, or at p.Tgas.
func InitialState(net dynamo.Network, cfg *config.Config, p *dynamo.Params) []float64 {
	fractions := map[string]float64{}
	if in, ok := net.(initialer); ok {
		for k, v := range in.Initial() {
			fractions[k] = v
		}
	}
	for k, v := range cfg.Initial {
		fractions[k] = v
	}

	y := make([]float64, net.Dim())
	for i, s := range net.Species() {
		y[i] = cfg.InitialDefault
		if f, ok := fractions[s]; ok {
			y[i] = f * p.NH
		}
	}
	if ti := dynamo.TemperatureIndex(net); ti >= 0 {
		y[ti] = p.Tgas
		if T, ok := cfg.Initial["T"]; ok {
			y[ti] = T
		}
	}
	return y
}
