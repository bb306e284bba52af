package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/ilqgmpc/internal/cost"
	"github.com/san-kum/ilqgmpc/internal/dynamo"
	"github.com/san-kum/ilqgmpc/internal/integrators"
	"github.com/san-kum/ilqgmpc/internal/metrics"
	"github.com/san-kum/ilqgmpc/internal/physics"
)

// Parameterized plants expose named physical parameters.
type Parameterized interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}

type Registry struct {
	models map[string]func() dynamo.System
}

func NewRegistry() *Registry {
	r := &Registry{
		models: make(map[string]func() dynamo.System),
	}

	r.models["oscillator"] = func() dynamo.System { return physics.NewSecondOrderSystem(0.1, 5.0) }
	r.models["pendulum"] = func() dynamo.System { return physics.NewPendulum() }
	r.models["cartpole"] = func() dynamo.System { return physics.NewCartPole() }

	return r
}

// Register adds or replaces a model factory.
func (r *Registry) Register(name string, factory func() dynamo.System) {
	r.models[name] = factory
}

// GetModel builds a fresh plant and applies params in name order.
func (r *Registry) GetModel(name string, params map[string]float64) (dynamo.System, error) {
	fn, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", name)
	}
	sys := fn()
	if len(params) == 0 {
		return sys, nil
	}

	p, ok := sys.(Parameterized)
	if !ok {
		return nil, fmt.Errorf("model %s has no parameters", name)
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := p.SetParam(k, params[k]); err != nil {
			return nil, fmt.Errorf("model %s: %w", name, err)
		}
	}
	return sys, nil
}

func (r *Registry) GetIntegrator(name string) (dynamo.Integrator, error) {
	return integrators.ByName(name)
}

func (r *Registry) ListModels() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultMetrics are the closed-loop metrics for a plant and cost.
func (r *Registry) DefaultMetrics(sys dynamo.System, fn *cost.Function, dt float64) []dynamo.Metric {
	ms := []dynamo.Metric{
		metrics.NewControlEffort(),
		metrics.NewStability(10.0),
		metrics.NewTrackingCost(fn, dt),
	}
	if e, ok := sys.(metrics.Energetic); ok {
		ms = append(ms, metrics.NewEnergy(e))
	}
	return ms
}
