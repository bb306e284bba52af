package ilqg

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/san-kum/ilqgmpc/internal/control"
	"github.com/san-kum/ilqgmpc/internal/cost"
	"github.com/san-kum/ilqgmpc/internal/dynamo"
	"github.com/san-kum/ilqgmpc/internal/integrators"
	"github.com/san-kum/ilqgmpc/internal/linearize"
	"github.com/san-kum/ilqgmpc/internal/optcon"
)

// ErrNoSolution is returned by Solution before a successful Solve.
var ErrNoSolution = errors.New("ilqg: no solution available")

// minParallelSteps is the smallest chunk of steps linearized per worker.
const minParallelSteps = 64

type Solver struct {
	problem    *optcon.Problem
	settings   Settings
	configured bool
	guess      *control.StateFeedback
	log        *zap.Logger

	nominal     trajectory
	policy      *control.StateFeedback
	status      Status
	iterations  int
	costHistory []float64
	err         error
}

type Option func(*Solver)

func WithLogger(l *zap.Logger) Option {
	return func(s *Solver) { s.log = l }
}

func New(problem *optcon.Problem, opts ...Option) *Solver {
	s := &Solver{
		problem: problem,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configure replaces the settings. Results of a previous solve are kept.
func (s *Solver) Configure(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("ilqg settings: %w", err)
	}
	s.settings = settings
	s.configured = true
	return nil
}

func (s *Solver) Settings() Settings { return s.settings }

func (s *Solver) Problem() *optcon.Problem { return s.problem }

// SetInitialGuess stores a copy of the policy used for the first rollout.
// Its length must match the horizon when Solve is called.
func (s *Solver) SetInitialGuess(p *control.StateFeedback) error {
	if p == nil {
		return fmt.Errorf("%w: nil initial guess", dynamo.ErrNotConfigured)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("initial guess: %w", err)
	}
	if p.Len() > 0 {
		n, m := p.Dims()
		if (n != 0 && n != s.problem.StateDim()) || m != s.problem.ControlDim() {
			return fmt.Errorf("%w: initial guess is %dx%d, problem is %dx%d",
				dynamo.ErrDimensionMismatch, n, m, s.problem.StateDim(), s.problem.ControlDim())
		}
	}
	s.guess = p.Clone()
	return nil
}

func (s *Solver) ChangeInitialState(x0 dynamo.State) error { return s.problem.SetInitialState(x0) }

func (s *Solver) ChangeTimeHorizon(t float64) error { return s.problem.SetTimeHorizon(t) }

// ChangeStartTime moves the time at which the next solve's horizon begins.
func (s *Solver) ChangeStartTime(t float64) error { return s.problem.SetStartTime(t) }

// Solve iterates until convergence, the iteration limit or a numerical
// failure. The error is reserved for misuse (missing settings or guess,
// inconsistent dimensions); numerical failures return false and are
// available through Err.
func (s *Solver) Solve() (bool, error) {
	if err := s.checkReady(); err != nil {
		return false, err
	}
	s.reset()

	integ, _ := integrators.ByName(s.settings.Integrator)
	disc, _ := linearize.ParseDiscretization(s.settings.Discretization)
	dt := s.settings.Dt
	flow := optcon.NewFlow(s.problem, integ, dt, s.settings.DtSim, disc)
	fn := s.problem.Cost()
	x0 := s.problem.InitialState()

	nominal, err := rollout(flow, fn, s.guess, x0)
	if err != nil {
		return s.fail(fmt.Errorf("initial rollout: %w", err)), nil
	}
	s.costHistory = append(s.costHistory, nominal.cost)

	var (
		g      gains
		mu     = s.settings.Regularization.Initial
		alphas = s.settings.alphas()
		reg    = s.settings.Regularization
	)
	s.status = MaxIterationsReached
	for s.iterations < s.settings.MaxIterations {
		s.iterations++

		exp, final := s.expand(flow, fn, nominal)
		g, mu, err = regularizedBackwardPass(exp, final, dt, mu, reg)
		if err != nil {
			return s.fail(err), nil
		}

		res := lineSearch(flow, fn, nominal, g, x0, alphas)
		if !res.valid {
			return s.fail(res.lastErr), nil
		}
		if !res.accepted {
			s.log.Debug("ilqg line search found no improvement",
				zap.Int("iteration", s.iterations),
				zap.Float64("cost", nominal.cost),
				zap.Float64("mu", mu))
			s.status = Converged
			break
		}

		improvement := nominal.cost - res.traj.cost
		relative := improvement / math.Max(math.Abs(nominal.cost), 1e-12)
		nominal = res.traj
		s.costHistory = append(s.costHistory, nominal.cost)

		s.log.Debug("ilqg iteration",
			zap.Int("iteration", s.iterations),
			zap.Float64("cost", nominal.cost),
			zap.Float64("alpha", res.alpha),
			zap.Float64("mu", mu))

		mu /= reg.Factor
		if mu < reg.Min {
			mu = 0
		}

		if relative < s.settings.MinCostImprovement || improvement < s.settings.MinAbsCostImprovement {
			s.status = Converged
			break
		}
	}

	s.nominal = nominal
	s.policy = policyFrom(nominal, g.K, dt)
	s.log.Debug("ilqg solve finished",
		zap.Stringer("status", s.status),
		zap.Int("iterations", s.iterations),
		zap.Float64("cost", nominal.cost))
	return true, nil
}

func (s *Solver) checkReady() error {
	if !s.configured {
		return fmt.Errorf("%w: settings not set", dynamo.ErrNotConfigured)
	}
	if s.guess == nil {
		return fmt.Errorf("%w: initial guess not set", dynamo.ErrNotConfigured)
	}
	if err := s.problem.Validate(); err != nil {
		return err
	}
	if s.problem.ControlDim() == 0 {
		return fmt.Errorf("%w: problem has no control inputs", dynamo.ErrDimensionMismatch)
	}

	steps := s.settings.K(s.problem.TimeHorizon())
	if steps < 1 {
		return fmt.Errorf("%w: horizon %g is shorter than one step of %g",
			dynamo.ErrInvalidHorizon, s.problem.TimeHorizon(), s.settings.Dt)
	}
	if s.guess.Len() != steps {
		return fmt.Errorf("%w: initial guess has %d steps, horizon needs %d",
			dynamo.ErrDimensionMismatch, s.guess.Len(), steps)
	}
	if math.Abs(s.guess.Dt-s.settings.Dt) > 1e-12 {
		return fmt.Errorf("%w: initial guess dt %g, settings dt %g",
			dynamo.ErrDimensionMismatch, s.guess.Dt, s.settings.Dt)
	}
	return nil
}

func (s *Solver) reset() {
	s.nominal = trajectory{}
	s.policy = nil
	s.status = NotSolved
	s.iterations = 0
	s.costHistory = nil
	s.err = nil
}

func (s *Solver) fail(err error) bool {
	s.status = DivergedOrFailed
	s.err = err
	s.policy = nil
	s.nominal = trajectory{}
	s.log.Warn("ilqg solve failed",
		zap.Int("iteration", s.iterations),
		zap.Error(err))
	return false
}

// expand linearizes the dynamics and expands the cost at every step of the
// nominal trajectory.
func (s *Solver) expand(flow *optcon.Flow, fn *cost.Function, tr trajectory) ([]expansion, cost.Derivatives) {
	steps := len(tr.us)
	exp := make([]expansion, steps)
	dynamo.ParallelFor(steps, minParallelSteps, s.settings.NThreads, func(start, end int) {
		for k := start; k < end; k++ {
			t := flow.Time(k)
			a, b := flow.Jacobians(tr.xs[k], tr.us[k], k)
			exp[k] = expansion{
				A:           a,
				B:           b,
				Derivatives: fn.IntermediateDerivatives(tr.xs[k], tr.us[k], t),
			}
		}
	})
	final := fn.FinalDerivatives(tr.xs[steps], flow.Time(steps))
	return exp, final
}

// Solution returns a copy of the latest policy. Repeated calls return equal
// policies.
func (s *Solver) Solution() (*control.StateFeedback, error) {
	if s.policy == nil {
		return nil, ErrNoSolution
	}
	return s.policy.Clone(), nil
}

// StateTrajectory returns the states of the latest accepted rollout,
// K+1 entries, or nil before a successful solve.
func (s *Solver) StateTrajectory() []dynamo.State {
	if s.nominal.xs == nil {
		return nil
	}
	out := make([]dynamo.State, len(s.nominal.xs))
	for i, x := range s.nominal.xs {
		out[i] = x.Clone()
	}
	return out
}

func (s *Solver) ControlTrajectory() []dynamo.Control {
	if s.nominal.us == nil {
		return nil
	}
	out := make([]dynamo.Control, len(s.nominal.us))
	for i, u := range s.nominal.us {
		out[i] = u.Clone()
	}
	return out
}

// TimeArray returns the time of each state in StateTrajectory.
func (s *Solver) TimeArray() []float64 {
	if s.nominal.xs == nil {
		return nil
	}
	out := make([]float64, len(s.nominal.xs))
	start := s.problem.StartTime()
	for i := range out {
		out[i] = start + float64(i)*s.settings.Dt
	}
	return out
}

func (s *Solver) Status() Status  { return s.status }
func (s *Solver) Iterations() int { return s.iterations }
func (s *Solver) Err() error      { return s.err }

// Cost is the total cost of the latest accepted rollout.
func (s *Solver) Cost() float64 {
	if s.nominal.xs == nil {
		return math.Inf(1)
	}
	return s.nominal.cost
}

// CostHistory lists the initial rollout cost followed by every accepted
// iteration's cost.
func (s *Solver) CostHistory() []float64 {
	return append([]float64(nil), s.costHistory...)
}
