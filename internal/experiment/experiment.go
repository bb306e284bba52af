// Package experiment drives the iLQG-MPC closed loop: an offline
// full-horizon solve from a zero guess, then an MPC loop that feeds noisy
// predictions of the state back into the controller until the horizon is
// used up or a cycle fails.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/san-kum/ilqgmpc/internal/config"
	"github.com/san-kum/ilqgmpc/internal/control"
	"github.com/san-kum/ilqgmpc/internal/cost"
	"github.com/san-kum/ilqgmpc/internal/dynamo"
	"github.com/san-kum/ilqgmpc/internal/ilqg"
	"github.com/san-kum/ilqgmpc/internal/mpc"
	"github.com/san-kum/ilqgmpc/internal/optcon"
)

// SolveResult is the outcome of the offline full-horizon solve.
type SolveResult struct {
	X0          dynamo.State
	Policy      *control.StateFeedback
	States      []dynamo.State
	Controls    []dynamo.Control
	Times       []float64
	Cost        float64
	CostHistory []float64
	Iterations  int
	Status      ilqg.Status
}

// Cycle records one MPC run.
type Cycle struct {
	Index      int
	Time       float64
	PolicyTime float64
	State      dynamo.State
	Iterations int
	Err        error
}

func (c Cycle) Success() bool { return c.Err == nil }

// Result is the outcome of a closed-loop MPC experiment.
type Result struct {
	Offline *SolveResult
	Cycles  []Cycle
	Summary mpc.Summary
	// Policy is the last successfully computed policy.
	Policy *control.StateFeedback
	// Failure is the error of the cycle that stopped the loop, if it was
	// neither a success nor an exhausted horizon.
	Failure error
	Elapsed time.Duration
}

type Experiment struct {
	cfg      *config.Config
	registry *Registry
	log      *zap.Logger
	reg      prometheus.Registerer
	clock    mpc.Clock
	rng      *rand.Rand

	sys dynamo.System
	fn  *cost.Function
	x0  dynamo.State
}

type Option func(*Experiment)

func WithLogger(l *zap.Logger) Option {
	return func(e *Experiment) { e.log = l }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Experiment) { e.reg = reg }
}

// WithClock replaces the wall clock for both the loop time and the MPC
// delay measurement.
func WithClock(c mpc.Clock) Option {
	return func(e *Experiment) { e.clock = c }
}

func WithRegistry(r *Registry) Option {
	return func(e *Experiment) { e.registry = r }
}

// New validates cfg, builds the plant and loads the cost. The initial state
// is drawn from the seeded generator when the configuration has none.
func New(cfg *config.Config, opts ...Option) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Experiment{
		cfg:      cfg,
		registry: NewRegistry(),
		log:      zap.NewNop(),
		clock:    mpc.WallClock{},
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}
	for _, opt := range opts {
		opt(e)
	}

	sys, err := e.registry.GetModel(cfg.Model, cfg.Params)
	if err != nil {
		return nil, err
	}
	fn, err := cost.LoadFunction(cfg.CostPath(), cfg.Cost.Intermediate, cfg.Cost.Final)
	if err != nil {
		return nil, fmt.Errorf("load cost: %w", err)
	}
	if fn.StateDim() != sys.StateDim() || fn.ControlDim() != sys.ControlDim() {
		return nil, fmt.Errorf("%w: cost is %dx%d, model %s is %dx%d", dynamo.ErrDimensionMismatch,
			fn.StateDim(), fn.ControlDim(), cfg.Model, sys.StateDim(), sys.ControlDim())
	}

	x0 := dynamo.State(cfg.InitState).Clone()
	if len(x0) == 0 {
		x0 = make(dynamo.State, sys.StateDim())
		for i := range x0 {
			x0[i] = 2*e.rng.Float64() - 1
		}
	}
	if err := dynamo.CheckDims(sys.StateDim(), sys.ControlDim(), x0, nil); err != nil {
		return nil, fmt.Errorf("init_state: %w", err)
	}

	e.sys, e.fn, e.x0 = sys, fn, x0
	return e, nil
}

func (e *Experiment) System() dynamo.System     { return e.sys }
func (e *Experiment) Cost() *cost.Function      { return e.fn }
func (e *Experiment) InitialState() dynamo.State { return e.x0.Clone() }

func (e *Experiment) problem() (*optcon.Problem, error) {
	return optcon.New(e.sys, e.fn,
		optcon.WithInitialState(e.x0),
		optcon.WithTimeHorizon(e.cfg.TimeHorizon),
	)
}

// Solve runs the offline full-horizon iLQG solve from a zero policy.
func (e *Experiment) Solve() (*SolveResult, error) {
	p, err := e.problem()
	if err != nil {
		return nil, err
	}
	settings := e.cfg.ILQG

	solver := ilqg.New(p, ilqg.WithLogger(e.log.Named("ilqg")))
	if err := solver.Configure(settings); err != nil {
		return nil, err
	}
	guess := control.Zero(settings.K(e.cfg.TimeHorizon), p.StateDim(), p.ControlDim(), settings.Dt)
	if err := solver.SetInitialGuess(guess); err != nil {
		return nil, err
	}

	ok, err := solver.Solve()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("offline solve %s: %w", solver.Status(), solver.Err())
	}
	policy, err := solver.Solution()
	if err != nil {
		return nil, err
	}

	e.log.Info("offline solve finished",
		zap.Stringer("status", solver.Status()),
		zap.Int("iterations", solver.Iterations()),
		zap.Float64("cost", solver.Cost()),
	)
	return &SolveResult{
		X0:          e.x0.Clone(),
		Policy:      policy,
		States:      solver.StateTrajectory(),
		Controls:    solver.ControlTrajectory(),
		Times:       solver.TimeArray(),
		Cost:        solver.Cost(),
		CostHistory: solver.CostHistory(),
		Iterations:  solver.Iterations(),
		Status:      solver.Status(),
	}, nil
}

func (e *Experiment) noise() float64 {
	if e.cfg.Loop.NoiseKind == config.NoiseGaussian {
		return e.cfg.Loop.Noise * e.rng.NormFloat64()
	}
	return e.cfg.Loop.Noise * (2*e.rng.Float64() - 1)
}

// RunMPC solves offline, seeds the MPC with the result and runs the closed
// loop. Each cycle after the first measures the front of the previous
// predicted trajectory plus noise.
func (e *Experiment) RunMPC(ctx context.Context) (*Result, error) {
	offline, err := e.Solve()
	if err != nil {
		return nil, err
	}

	p, err := e.problem()
	if err != nil {
		return nil, err
	}
	ctrl, err := mpc.New(p, e.cfg.ILQGMPC, e.cfg.MPC,
		mpc.WithLogger(e.log.Named("mpc")),
		mpc.WithClock(e.clock),
		mpc.WithRegisterer(e.reg),
	)
	if err != nil {
		return nil, err
	}
	if err := ctrl.SetInitialGuess(offline.Policy); err != nil {
		return nil, err
	}

	res := &Result{Offline: offline, Policy: offline.Policy}
	start := e.clock.Now()
	x := e.x0.Clone()
	var traj []dynamo.State

	for i := 0; i < e.cfg.Loop.MaxCycles; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if i > 0 && len(traj) > 0 {
			x = traj[0].Clone()
			for j := range x {
				x[j] += e.noise()
			}
		}

		t := float64(i) * e.cfg.Loop.CycleDt
		if !e.cfg.Loop.SimTime {
			t = e.clock.Now().Sub(start).Seconds()
		}

		policy, ts, err := ctrl.Run(x, t)
		res.Cycles = append(res.Cycles, Cycle{
			Index:      i,
			Time:       t,
			PolicyTime: ts,
			State:      x.Clone(),
			Iterations: ctrl.Solver().Iterations(),
			Err:        err,
		})
		if err == nil {
			res.Policy = policy
		}
		traj = ctrl.StateTrajectory()

		if ctrl.TimeHorizonReached() || err != nil {
			if err != nil && !errors.Is(err, dynamo.ErrHorizonExhausted) {
				res.Failure = err
				e.log.Warn("mpc loop stopped", zap.Int("cycle", i), zap.Error(err))
			}
			break
		}
	}

	res.Summary = ctrl.Summary()
	res.Elapsed = e.clock.Now().Sub(start)
	e.log.Info("mpc loop finished",
		zap.Int("cycles", len(res.Cycles)),
		zap.Int("successful", res.Summary.Successful),
		zap.Bool("horizon_reached", ctrl.TimeHorizonReached()),
	)
	return res, nil
}

// Simulate runs the plant under policy for the configured horizon with the
// default metrics attached.
func (e *Experiment) Simulate(ctx context.Context, policy *control.StateFeedback) (*dynamo.Result, error) {
	integ, err := e.registry.GetIntegrator(e.cfg.ILQG.Integrator)
	if err != nil {
		return nil, err
	}
	sim := dynamo.New(e.sys, integ, policy)
	for _, m := range e.registry.DefaultMetrics(e.sys, e.fn, e.cfg.ILQG.Dt) {
		sim.AddMetric(m)
	}
	return sim.Run(ctx, e.x0, dynamo.Config{
		Dt:            e.cfg.ILQG.Dt,
		Duration:      e.cfg.TimeHorizon,
		Seed:          e.cfg.Seed,
		ValidateState: true,
	})
}
