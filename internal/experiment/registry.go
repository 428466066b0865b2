package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/chemdyn/internal/dynamo"
	"github.com/san-kum/chemdyn/internal/integrators"
	"github.com/san-kum/chemdyn/internal/metrics"
	"github.com/san-kum/chemdyn/internal/models"
	"github.com/san-kum/chemdyn/internal/sim"
)

type Registry struct {
	networks map[string]func() dynamo.Network
	engines  map[string]func(maxSteps int) integrators.Factory
}

func NewRegistry() *Registry {
	r := &Registry{
		networks: make(map[string]func() dynamo.Network),
		engines:  make(map[string]func(int) integrators.Factory),
	}

	for _, name := range models.Names() {
		r.networks[name] = func() dynamo.Network {
			m, _ := models.Lookup(name)
			return m
		}
	}

	r.engines["bdf"] = func(maxSteps int) integrators.Factory {
		return integrators.BDFFactory(integrators.WithMaxSteps(maxSteps))
	}
	r.engines["rk45"] = func(int) integrators.Factory {
		return integrators.RK45Factory()
	}

	return r
}

// RegisterNetwork adds or replaces a network constructor.
func (r *Registry) RegisterNetwork(name string, fn func() dynamo.Network) {
	r.networks[name] = fn
}

func (r *Registry) GetNetwork(name string) (dynamo.Network, error) {
	fn, ok := r.networks[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown network: %s", dynamo.ErrConfiguration, name)
	}
	return fn(), nil
}

// GetEngine returns a factory for the named engine. maxSteps < 1 keeps the
// engine's default step budget.
func (r *Registry) GetEngine(name string, maxSteps int) (integrators.Factory, error) {
	fn, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown engine: %s", dynamo.ErrConfiguration, name)
	}
	return fn(maxSteps), nil
}

func (r *Registry) ListNetworks() []string {
	return sortedKeys(r.networks)
}

func (r *Registry) ListEngines() []string {
	return sortedKeys(r.engines)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultMetrics tracks invariant drift, the smallest abundance and whether
// every state stayed finite and non-negative.
func (r *Registry) DefaultMetrics(net dynamo.Network) []sim.Metric {
	var ms []sim.Metric
	for _, c := range metrics.ForNetwork(net) {
		ms = append(ms, c)
	}
	ms = append(ms, metrics.NewMinAbundance(net), metrics.NewStability(0))
	return ms
}
