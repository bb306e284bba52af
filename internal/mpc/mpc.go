package mpc

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/san-kum/ilqgmpc/internal/control"
	"github.com/san-kum/ilqgmpc/internal/dynamo"
	"github.com/san-kum/ilqgmpc/internal/ilqg"
	"github.com/san-kum/ilqgmpc/internal/integrators"
	"github.com/san-kum/ilqgmpc/internal/optcon"
)

// MPC wraps an iLQG solver as a receding-horizon controller. It takes
// ownership of the problem: initial state and horizon are rewritten on
// every cycle.
type MPC struct {
	mu sync.Mutex

	problem      *optcon.Problem
	solver       *ilqg.Solver
	settings     Settings
	ilqgSettings ilqg.Settings
	log          *zap.Logger
	clock        Clock
	reg          prometheus.Registerer
	metrics      *collectors
	keeper       timeKeeper
	handler      policyHandler
	forward      dynamo.Integrator

	initialHorizon float64
	initialStart   float64
	initialGuess   *control.StateFeedback
	policy         *control.StateFeedback
	// policyStart is the start of policy, measured from the first Run.
	policyStart float64
	traj        []dynamo.State
	summary     Summary
}

type Option func(*MPC)

func WithLogger(l *zap.Logger) Option {
	return func(m *MPC) { m.log = l }
}

// WithClock replaces the wall clock used to measure solve latency.
func WithClock(c Clock) Option {
	return func(m *MPC) { m.clock = c }
}

// WithRegisterer registers the MPC metrics. A registerer accepts one MPC
// instance.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *MPC) { m.reg = reg }
}

func New(problem *optcon.Problem, ilqgSettings ilqg.Settings, settings Settings, opts ...Option) (*MPC, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("mpc settings: %w", err)
	}
	if err := problem.Validate(); err != nil {
		return nil, fmt.Errorf("mpc problem: %w", err)
	}

	m := &MPC{
		problem:        problem,
		settings:       settings,
		ilqgSettings:   ilqgSettings,
		log:            zap.NewNop(),
		clock:          WallClock{},
		initialHorizon: problem.TimeHorizon(),
		initialStart:   problem.StartTime(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.solver = ilqg.New(problem, ilqg.WithLogger(m.log))
	if err := m.solver.Configure(ilqgSettings); err != nil {
		return nil, err
	}
	m.forward, _ = integrators.ByName(settings.StateForwardIntegrator)
	m.metrics = newCollectors(m.reg)
	m.keeper = newTimeKeeper(settings, m.clock, m.initialHorizon, ilqgSettings.Dt)
	m.handler = policyHandler{
		stateDim:   problem.StateDim(),
		controlDim: problem.ControlDim(),
		dt:         ilqgSettings.Dt,
		coldStart:  settings.ColdStart,
	}
	return m, nil
}

// SetInitialGuess seeds the first cycle, typically with the solution of
// the full-horizon problem. The policy is taken to start at the first Run.
func (m *MPC) SetInitialGuess(p *control.StateFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p == nil {
		return fmt.Errorf("%w: nil initial guess", dynamo.ErrNotConfigured)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("initial guess: %w", err)
	}
	if math.Abs(p.Dt-m.ilqgSettings.Dt) > 1e-12 {
		return fmt.Errorf("%w: initial guess dt %g, solver dt %g", dynamo.ErrDimensionMismatch, p.Dt, m.ilqgSettings.Dt)
	}
	if n, c := p.Dims(); p.Len() > 0 && (n != m.problem.StateDim() || c != m.problem.ControlDim()) {
		return fmt.Errorf("%w: initial guess is %dx%d, problem is %dx%d",
			dynamo.ErrDimensionMismatch, n, c, m.problem.StateDim(), m.problem.ControlDim())
	}
	m.initialGuess = p.Clone()
	m.policy = p.Clone()
	m.policyStart = 0
	return nil
}

// Run executes one MPC cycle for the state x measured at time t. On
// success it returns the new policy and its start time in the time base of
// t. A nil error means success; exhausted horizons wrap
// dynamo.ErrHorizonExhausted. Timestamps must not decrease between calls.
// Failed cycles leave the stored policy and trajectory untouched.
func (m *MPC) Run(x dynamo.State, t float64) (*control.StateFeedback, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.summary.Cycles++
	if err := dynamo.CheckDims(m.problem.StateDim(), m.problem.ControlDim(), x, nil); err != nil {
		return m.fail(err)
	}
	if m.keeper.reached && m.settings.Mode.shrinks() {
		return m.exhausted(t)
	}

	elapsed, err := m.keeper.elapsed(t)
	if err != nil {
		return m.fail(err)
	}
	delay := m.keeper.expectedDelay()
	m.summary.recordDelay(delay)

	horizon, reached, exhausted := m.keeper.horizon(elapsed, delay)
	if reached {
		m.keeper.reached = true
	}
	if exhausted {
		return m.exhausted(t)
	}

	start := elapsed + delay
	x0 := x.Clone()
	if m.settings.StateForwardIntegration && delay > 0 {
		if x0, err = m.forwardIntegrate(x, t, elapsed, delay); err != nil {
			return m.fail(fmt.Errorf("mpc: forward integration: %w", err))
		}
	}

	steps := m.keeper.steps(horizon)
	guess := m.handler.warmStart(m.policy, m.policyStart, start, steps)
	if err := m.solver.ChangeInitialState(x0); err != nil {
		return m.fail(err)
	}
	if err := m.solver.ChangeTimeHorizon(horizon); err != nil {
		return m.fail(err)
	}
	if err := m.solver.ChangeStartTime(t + delay); err != nil {
		return m.fail(err)
	}
	if err := m.solver.SetInitialGuess(guess); err != nil {
		return m.fail(err)
	}

	solveStart := m.keeper.startSolve()
	ok, err := m.solver.Solve()
	solveTime := m.keeper.stopSolve(solveStart)
	m.summary.recordSolve(solveTime, m.solver.Iterations())
	m.metrics.solveDuration.Observe(solveTime.Seconds())
	if err != nil {
		return m.fail(err)
	}
	if !ok {
		return m.fail(fmt.Errorf("mpc: solve failed: %w", m.solver.Err()))
	}

	policy, err := m.solver.Solution()
	if err != nil {
		return m.fail(err)
	}
	traj := m.solver.StateTrajectory()

	truncated := 0
	if m.settings.PostTruncation {
		truncated = m.handler.truncation(delay, m.keeper.actualDelay(solveTime))
		if truncated >= policy.Len() {
			if !m.settings.Mode.shrinks() {
				return m.fail(fmt.Errorf("mpc: post truncation of %d steps leaves no policy of %d steps", truncated, policy.Len()))
			}
			m.keeper.reached = true
			return m.exhausted(t)
		}
		policy.ShiftFront(truncated)
		traj = traj[truncated:]
	}

	m.summary.recordTruncation(truncated)
	m.metrics.truncated.Add(float64(truncated))
	m.metrics.horizon.Set(horizon)
	m.metrics.cycles.WithLabelValues(outcomeSuccess).Inc()
	m.summary.Successful++

	shift := float64(truncated) * m.ilqgSettings.Dt
	m.policy = policy
	m.policyStart = start + shift
	m.traj = traj

	m.log.Debug("mpc cycle",
		zap.Float64("t", t),
		zap.Float64("horizon", horizon),
		zap.Float64("delay", delay),
		zap.Duration("solve", solveTime),
		zap.Int("iterations", m.solver.Iterations()),
		zap.Int("truncated", truncated))

	return policy.Clone(), t + delay + shift, nil
}

func (m *MPC) fail(err error) (*control.StateFeedback, float64, error) {
	m.summary.Failed++
	m.metrics.cycles.WithLabelValues(outcomeFailure).Inc()
	m.log.Warn("mpc cycle failed", zap.Error(err))
	return nil, 0, err
}

func (m *MPC) exhausted(t float64) (*control.StateFeedback, float64, error) {
	m.summary.Exhausted++
	m.metrics.cycles.WithLabelValues(outcomeExhausted).Inc()
	m.log.Debug("mpc time horizon reached", zap.Float64("t", t))
	return nil, 0, fmt.Errorf("%w: t=%g", dynamo.ErrHorizonExhausted, t)
}

// forwardIntegrate predicts the state delta seconds after t, applying the
// stored policy, or zero control when there is none. elapsed is t on the
// policy time base.
func (m *MPC) forwardIntegrate(x dynamo.State, t, elapsed, delta float64) (dynamo.State, error) {
	var ctrl dynamo.Controller = control.NewNone(m.problem.ControlDim())
	offset := t - elapsed
	if m.policy != nil && m.policy.Len() > 0 {
		ctrl = m.policy
		offset += m.policyStart
	}

	dt := m.ilqgSettings.Dt
	cur := x.Clone()
	if m.problem.IsDiscrete() {
		sys := m.problem.DiscreteSystem()
		steps := int(math.Round(delta / dt))
		first := int(math.Round(t / dt))
		for i := 0; i < steps; i++ {
			local := t + float64(i)*dt
			cur = sys.Propagate(cur, ctrl.Compute(cur, local-offset), first+i)
			if !cur.IsValid() {
				return nil, dynamo.DomainViolation(i, local+dt, cur, "non-finite state")
			}
		}
		return cur, nil
	}

	h := m.settings.StateForwardIntegrationDt
	if h <= 0 {
		h = dt
	}
	steps := int(math.Ceil(delta/h - 1e-9))
	if steps < 1 {
		steps = 1
	}
	h = delta / float64(steps)

	var err error
	for i := 0; i < steps; i++ {
		local := t + float64(i)*h
		u := ctrl.Compute(cur, local-offset)
		if cur, err = integrators.Integrate(m.forward, m.problem.System(), cur, u, local, h, h); err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// TimeHorizonReached reports whether the final time has been consumed.
// Always false for ConstantRecedingHorizon.
func (m *MPC) TimeHorizonReached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keeper.reached
}

// StateTrajectory returns the predicted states of the latest accepted
// policy, starting at its start time.
func (m *MPC) StateTrajectory() []dynamo.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dynamo.State, len(m.traj))
	for i, x := range m.traj {
		out[i] = x.Clone()
	}
	return out
}

// CurrentPolicy returns a copy of the stored policy, or nil.
func (m *MPC) CurrentPolicy() *control.StateFeedback {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy == nil {
		return nil
	}
	return m.policy.Clone()
}

func (m *MPC) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

func (m *MPC) PrintSummary(w io.Writer) error {
	return m.Summary().Print(w)
}

// Solver exposes the wrapped solver for inspection.
func (m *MPC) Solver() *ilqg.Solver { return m.solver }

// Reset returns the controller to its state before the first Run: the
// start time is forgotten, the initial guess and horizon are restored and
// the summary is cleared. Prometheus counters keep counting.
func (m *MPC) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.keeper.reset()
	m.policy = nil
	if m.initialGuess != nil {
		m.policy = m.initialGuess.Clone()
	}
	m.policyStart = 0
	m.traj = nil
	m.summary = Summary{}
	if err := m.solver.ChangeTimeHorizon(m.initialHorizon); err != nil {
		return fmt.Errorf("mpc: restore horizon: %w", err)
	}
	if err := m.solver.ChangeStartTime(m.initialStart); err != nil {
		return fmt.Errorf("mpc: restore start time: %w", err)
	}
	return nil
}
