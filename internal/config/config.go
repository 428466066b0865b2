package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/chemdyn/internal/compute"
	"github.com/san-kum/chemdyn/internal/dynamo"
	"github.com/san-kum/chemdyn/internal/integrators"
	"github.com/san-kum/chemdyn/internal/schedule"
	"github.com/san-kum/chemdyn/internal/sim"
)

// Tolerances and the floor default to the session's own values.
const (
	DefaultInitial  = sim.DefaultFloor
	DefaultSystems  = 1
	DefaultLogStart = 3.0
	DefaultLogEnd   = 8.0
	DefaultLogStep  = 0.1
)

type Config struct {
	Network             string  `yaml:"network" toml:"network"`
	Engine              string  `yaml:"engine" toml:"engine"`
	Strategy            string  `yaml:"strategy" toml:"strategy"`
	RTol                float64 `yaml:"rtol" toml:"rtol"`
	ATol                float64 `yaml:"atol" toml:"atol"`
	Floor               float64 `yaml:"floor" toml:"floor"`
	TemperatureFeedback bool    `yaml:"temperature_feedback" toml:"temperature_feedback"`
	MaxSteps            int     `yaml:"max_steps,omitempty" toml:"max_steps,omitempty"`

	Systems int    `yaml:"systems" toml:"systems"`
	Layout  string `yaml:"layout" toml:"layout"`
	Backend string `yaml:"backend" toml:"backend"`
	Workers int    `yaml:"workers" toml:"workers"`

	Params dynamo.Params `yaml:"params" toml:"params"`
	Sweep  *SweepConfig  `yaml:"sweep,omitempty" toml:"sweep,omitempty"`

	// Initial overrides the network's initial abundances, as fractions of
	// nH. Species named nowhere start at InitialDefault.
	Initial        map[string]float64 `yaml:"initial,omitempty" toml:"initial,omitempty"`
	InitialDefault float64            `yaml:"initial_default" toml:"initial_default"`

	Schedule ScheduleConfig `yaml:"schedule" toml:"schedule"`
	Output   OutputConfig   `yaml:"output" toml:"output"`

	FailurePolicy   string `yaml:"failure_policy" toml:"failure_policy"`
	MaxSubdivisions int    `yaml:"max_subdivisions" toml:"max_subdivisions"`
	LogLevel        string `yaml:"log_level" toml:"log_level"`
}

// SweepConfig spreads one parameter across the systems of a batch, from
// From at system 0 to To at the last system.
type SweepConfig struct {
	Param string  `yaml:"param" toml:"param"`
	From  float64 `yaml:"from" toml:"from"`
	To    float64 `yaml:"to" toml:"to"`
	Scale string  `yaml:"scale" toml:"scale"`
}

type ScheduleConfig struct {
	Kind string `yaml:"kind" toml:"kind"`
	Unit string `yaml:"unit" toml:"unit"`

	LogStart float64 `yaml:"log_start,omitempty" toml:"log_start,omitempty"`
	LogEnd   float64 `yaml:"log_end,omitempty" toml:"log_end,omitempty"`
	Step     float64 `yaml:"step,omitempty" toml:"step,omitempty"`

	DtFloor   float64 `yaml:"dt_floor,omitempty" toml:"dt_floor,omitempty"`
	Ramp      float64 `yaml:"ramp,omitempty" toml:"ramp,omitempty"`
	Crossover float64 `yaml:"crossover,omitempty" toml:"crossover,omitempty"`
	DtCeiling float64 `yaml:"dt_ceiling,omitempty" toml:"dt_ceiling,omitempty"`
	End       float64 `yaml:"end,omitempty" toml:"end,omitempty"`

	File  string    `yaml:"file,omitempty" toml:"file,omitempty"`
	Times []float64 `yaml:"times,omitempty" toml:"times,omitempty"`
}

type OutputConfig struct {
	Dir  string `yaml:"dir" toml:"dir"`
	Tag  string `yaml:"tag" toml:"tag"`
	Text bool   `yaml:"text" toml:"text"`
}

func DefaultConfig() *Config {
	return &Config{
		Network:        "toy4",
		Engine:         "bdf",
		Strategy:       "auto",
		RTol:           sim.DefaultRTol,
		ATol:           sim.DefaultATol,
		Floor:          sim.DefaultFloor,
		Systems:        DefaultSystems,
		Layout:         "contiguous",
		Backend:        "auto",
		Params:         dynamo.DefaultParams(),
		InitialDefault: DefaultInitial,
		Schedule: ScheduleConfig{
			Kind:     "log",
			Unit:     "yr",
			LogStart: DefaultLogStart,
			LogEnd:   DefaultLogEnd,
			Step:     DefaultLogStep,
		},
		Output: OutputConfig{
			Dir:  "data",
			Text: true,
		},
		FailurePolicy:   "abort",
		MaxSubdivisions: sim.DefaultMaxSubdivisions,
		LogLevel:        "info",
	}
}

// Clone returns a copy that shares no maps or slices with c.
func (c *Config) Clone() *Config {
	out := *c
	out.Params = c.Params.Clone()
	if c.Sweep != nil {
		sw := *c.Sweep
		out.Sweep = &sw
	}
	if c.Initial != nil {
		out.Initial = make(map[string]float64, len(c.Initial))
		for k, v := range c.Initial {
			out.Initial[k] = v
		}
	}
	out.Schedule.Times = append([]float64(nil), c.Schedule.Times...)
	return &out
}

// Load reads a YAML or TOML file, chosen by extension, over DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", dynamo.ErrConfiguration, path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", dynamo.ErrConfiguration, path, err)
		}
	}
	return cfg, nil
}

// Save writes cfg as TOML when path ends in .toml and as YAML otherwise.
func Save(path string, cfg *Config) error {
	var data []byte
	if strings.ToLower(filepath.Ext(path)) == ".toml" {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks every setting that does not need the network itself.
func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{dynamo.ErrConfiguration}, args...)...)
	}
	if c.Network == "" {
		return bad("network is required")
	}
	switch c.Engine {
	case "bdf", "rk45":
	default:
		return bad("unknown engine %q", c.Engine)
	}
	if c.Strategy != "" && c.Strategy != "auto" {
		if _, err := integrators.ParseStrategy(c.Strategy); err != nil {
			return bad("%v", err)
		}
	}
	if !(c.RTol > 0) || c.RTol >= 1 || !(c.ATol > 0) || math.IsInf(c.ATol, 0) {
		return bad("tolerances rtol=%g atol=%g", c.RTol, c.ATol)
	}
	if math.IsNaN(c.Floor) || c.Floor < 0 {
		return bad("floor %g", c.Floor)
	}
	if c.Systems < 1 {
		return bad("systems %d", c.Systems)
	}
	if _, err := dynamo.ParseLayout(c.Layout); err != nil {
		return bad("%v", err)
	}
	if _, ok := compute.ByName(c.Backend, c.Workers); !ok {
		return bad("unknown backend %q", c.Backend)
	}
	if _, err := sim.ParseFailurePolicy(c.FailurePolicy); err != nil {
		return err
	}
	if c.MaxSubdivisions < 0 {
		return bad("max_subdivisions %d", c.MaxSubdivisions)
	}
	if d := c.InitialDefault; math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return bad("initial_default %g", d)
	}
	for name, v := range c.Initial {
		if math.IsNaN(v) || v < 0 {
			return bad("initial abundance of %s is %g", name, v)
		}
	}
	if s := c.Sweep; s != nil {
		if s.Param == "" {
			return bad("sweep needs a param")
		}
		switch s.Scale {
		case "", "linear":
		case "log":
			if !(s.From > 0) || !(s.To > 0) {
				return bad("log sweep of %s needs positive bounds", s.Param)
			}
		default:
			return bad("unknown sweep scale %q", s.Scale)
		}
	}
	if _, err := c.TimeUnit(); err != nil {
		return err
	}
	switch c.Schedule.Kind {
	case "log", "ramp", "external":
	default:
		return bad("unknown schedule kind %q", c.Schedule.Kind)
	}
	return nil
}

// TimeUnit returns the seconds per schedule unit.
func (c *Config) TimeUnit() (float64, error) {
	switch strings.ToLower(c.Schedule.Unit) {
	case "", "yr", "year", "years":
		return schedule.Year, nil
	case "s", "sec", "second", "seconds":
		return schedule.Second, nil
	}
	return 0, fmt.Errorf("%w: unknown time unit %q", dynamo.ErrConfiguration, c.Schedule.Unit)
}

// BuildSchedule constructs the configured time grid.
func (c *Config) BuildSchedule() (schedule.Grid, error) {
	unit, err := c.TimeUnit()
	if err != nil {
		return nil, err
	}
	s := c.Schedule
	switch s.Kind {
	case "log":
		return schedule.NewLog(s.LogStart, s.LogEnd, s.Step, unit)
	case "ramp":
		return schedule.NewRamp(s.DtFloor, s.Ramp, s.Crossover, s.DtCeiling, s.End, unit)
	case "external":
		if s.File != "" {
			return schedule.ReadFile(s.File, unit)
		}
		return schedule.NewExternal(s.Times, unit)
	}
	return nil, fmt.Errorf("%w: unknown schedule kind %q", dynamo.ErrConfiguration, s.Kind)
}

// SystemParams returns the parameters of system i out of n, with the sweep
// applied.
func (c *Config) SystemParams(i, n int) dynamo.Params {
	p := c.Params.Clone()
	s := c.Sweep
	if s == nil {
		return p
	}
	frac := 0.0
	if n > 1 {
		frac = float64(i) / float64(n-1)
	}
	v := s.From + frac*(s.To-s.From)
	if s.Scale == "log" {
		v = math.Exp(math.Log(s.From) + frac*(math.Log(s.To)-math.Log(s.From)))
	}
	p.Set(s.Param, v)
	return p
}
