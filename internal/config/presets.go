package config

import (
	"sort"

	"github.com/san-kum/chemdyn/internal/dynamo"
)

func withParams(mod func(*dynamo.Params)) dynamo.Params {
	p := dynamo.DefaultParams()
	mod(&p)
	return p
}

func preset(network string, fn func(*Config)) *Config {
	c := DefaultConfig()
	c.Network = network
	fn(c)
	return c
}

var Presets = map[string]map[string]*Config{
	"toy4": {
		"single": preset("toy4", func(c *Config) {
			c.Params = withParams(func(p *dynamo.Params) { p.NH = 1 })
			c.Schedule = ScheduleConfig{Kind: "external", Unit: "yr", Times: []float64{0, 10, 20, 40, 80, 160}}
		}),
		"batch": preset("toy4", func(c *Config) {
			c.Systems = 64
			c.Params = withParams(func(p *dynamo.Params) { p.NH = 1 })
			c.Sweep = &SweepConfig{Param: "tgas", From: 10, To: 300}
			c.Schedule = ScheduleConfig{Kind: "external", Unit: "yr", Times: []float64{0, 1, 3, 6, 10, 15, 21, 28, 36, 45, 55}}
		}),
	},
	"ism": {
		"dark_cloud": preset("ism", func(c *Config) {
			c.Params = withParams(func(p *dynamo.Params) { p.NH = 2e4; p.Av = 10 })
		}),
		"translucent": preset("ism", func(c *Config) {
			c.Params = withParams(func(p *dynamo.Params) { p.NH = 1e3; p.Av = 1; p.Tgas = 50 })
			c.Schedule.LogEnd = 7
		}),
		"density_sweep": preset("ism", func(c *Config) {
			c.Systems = 32
			c.Layout = "independent"
			c.Sweep = &SweepConfig{Param: "nh", From: 1e2, To: 1e6, Scale: "log"}
			c.FailurePolicy = "subdivide"
		}),
	},
	"primordial": {
		"cooling": preset("primordial", func(c *Config) {
			c.Params = withParams(func(p *dynamo.Params) { p.NH = 1e-2; p.Tgas = 1e5; p.Tdust = 10 })
			c.TemperatureFeedback = true
			c.Schedule = ScheduleConfig{Kind: "ramp", Unit: "yr", DtFloor: 1, Ramp: 9, Crossover: 1e5, DtCeiling: 1e5, End: 1e8}
		}),
		"warm": preset("primordial", func(c *Config) {
			c.Params = withParams(func(p *dynamo.Params) { p.NH = 1; p.Tgas = 8000; p.Tdust = 10 })
			c.TemperatureFeedback = true
			c.Strategy = "krylov"
		}),
	},
}

func GetPreset(network, name string) *Config {
	networkPresets, ok := Presets[network]
	if !ok {
		return nil
	}
	cfg, ok := networkPresets[name]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets(network string) []string {
	networkPresets, ok := Presets[network]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(networkPresets))
	for name := range networkPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
