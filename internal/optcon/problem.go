// Package optcon defines the finite-horizon optimal control problem solved
// by the ilqg package and its discrete-time flow.
package optcon

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/ilqgmpc/internal/cost"
	"github.com/san-kum/ilqgmpc/internal/dynamo"
	"github.com/san-kum/ilqgmpc/internal/linearize"
)

// Problem bundles a plant, a cost function, an initial state and a time
// horizon. Exactly one of the continuous or discrete plant is set. The
// horizon starts at StartTime; plants and cost terms are evaluated at
// StartTime + k*dt.
type Problem struct {
	sys        dynamo.System
	discrete   dynamo.DiscreteSystem
	cost       *cost.Function
	linearizer linearize.Linearizer
	x0         dynamo.State
	horizon    float64
	start      float64
}

type Option func(*Problem)

// WithLinearizer overrides the default linearizer chosen by linearize.For.
func WithLinearizer(l linearize.Linearizer) Option {
	return func(p *Problem) { p.linearizer = l }
}

func WithInitialState(x0 dynamo.State) Option {
	return func(p *Problem) { p.x0 = x0.Clone() }
}

func WithTimeHorizon(t float64) Option {
	return func(p *Problem) { p.horizon = t }
}

func WithStartTime(t float64) Option {
	return func(p *Problem) { p.start = t }
}

// New builds a problem for a continuous-time plant. The initial state
// defaults to zero.
func New(sys dynamo.System, costFn *cost.Function, opts ...Option) (*Problem, error) {
	if sys == nil || costFn == nil {
		return nil, errors.New("optcon: system and cost function are required")
	}
	p := &Problem{sys: sys, cost: costFn}
	return p.init(sys.StateDim(), sys.ControlDim(), opts, func() linearize.Linearizer { return linearize.For(sys) })
}

// NewDiscrete builds a problem for a plant given as a successor map.
func NewDiscrete(sys dynamo.DiscreteSystem, costFn *cost.Function, opts ...Option) (*Problem, error) {
	if sys == nil || costFn == nil {
		return nil, errors.New("optcon: system and cost function are required")
	}
	p := &Problem{discrete: sys, cost: costFn}
	return p.init(sys.StateDim(), sys.ControlDim(), opts, func() linearize.Linearizer { return linearize.ForDiscrete(sys) })
}

func (p *Problem) init(n, m int, opts []Option, defaultLin func() linearize.Linearizer) (*Problem, error) {
	if p.cost.StateDim() != n || p.cost.ControlDim() != m {
		return nil, fmt.Errorf("%w: cost is %dx%d, system is %dx%d",
			dynamo.ErrDimensionMismatch, p.cost.StateDim(), p.cost.ControlDim(), n, m)
	}
	p.x0 = make(dynamo.State, n)
	for _, opt := range opts {
		opt(p)
	}
	if p.linearizer == nil {
		p.linearizer = defaultLin()
	}
	if err := dynamo.CheckDims(n, m, p.x0, nil); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Problem) IsDiscrete() bool { return p.discrete != nil }

// System returns the continuous plant, or nil for a discrete problem.
func (p *Problem) System() dynamo.System { return p.sys }

func (p *Problem) DiscreteSystem() dynamo.DiscreteSystem { return p.discrete }

func (p *Problem) Cost() *cost.Function { return p.cost }

func (p *Problem) Linearizer() linearize.Linearizer { return p.linearizer }

func (p *Problem) StateDim() int   { return p.cost.StateDim() }
func (p *Problem) ControlDim() int { return p.cost.ControlDim() }

// InitialState returns a copy of x0.
func (p *Problem) InitialState() dynamo.State { return p.x0.Clone() }

func (p *Problem) TimeHorizon() float64 { return p.horizon }

func (p *Problem) StartTime() float64 { return p.start }

// SetStartTime moves the time origin of the horizon.
func (p *Problem) SetStartTime(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("%w: start time %g", dynamo.ErrInvalidHorizon, t)
	}
	p.start = t
	return nil
}

func (p *Problem) SetInitialState(x0 dynamo.State) error {
	if err := dynamo.CheckDims(p.StateDim(), p.ControlDim(), x0, nil); err != nil {
		return err
	}
	p.x0 = x0.Clone()
	return nil
}

func (p *Problem) SetTimeHorizon(t float64) error {
	if t <= 0 {
		return fmt.Errorf("%w: time horizon %g", dynamo.ErrInvalidHorizon, t)
	}
	p.horizon = t
	return nil
}

func (p *Problem) Validate() error {
	if p.horizon <= 0 {
		return fmt.Errorf("%w: time horizon %g", dynamo.ErrInvalidHorizon, p.horizon)
	}
	if math.IsNaN(p.start) || math.IsInf(p.start, 0) {
		return fmt.Errorf("%w: start time %g", dynamo.ErrInvalidHorizon, p.start)
	}
	if !p.x0.IsValid() {
		return fmt.Errorf("%w: initial state %v", dynamo.ErrInvalidState, p.x0)
	}
	return dynamo.CheckDims(p.StateDim(), p.ControlDim(), p.x0, nil)
}
